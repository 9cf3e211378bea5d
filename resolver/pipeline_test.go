package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zannhost/skiplink/decoder"
	"github.com/zannhost/skiplink/fingerprint"
	"github.com/zannhost/skiplink/internal/fakesite"
	"github.com/zannhost/skiplink/transport"
)

func endpointsOf(site *fakesite.Site) Endpoints {
	return Endpoints{Site: site.URL(), Bypass: site.BypassURL()}
}

func newPipeline(t *testing.T, site *fakesite.Site, opts ...Option) *Pipeline {
	t.Helper()
	tr := transport.New(fingerprint.DefaultPreset)
	t.Cleanup(tr.Close)
	base := []Option{
		WithEndpoints(endpointsOf(site)),
		WithLogger(zaptest.NewLogger(t)),
		WithRandom(func(int) int { return 7 }),
	}
	return New(tr, fingerprint.Get(fingerprint.DefaultPreset), append(base, opts...)...)
}

func TestResolveSuccess(t *testing.T) {
	site := fakesite.Start(t)

	var mu sync.Mutex
	var started, done []StepEvent
	p := newPipeline(t, site, WithHooks(Hooks{
		OnStepStart: func(e StepEvent) { mu.Lock(); started = append(started, e); mu.Unlock() },
		OnStepDone:  func(e StepEvent) { mu.Lock(); done = append(done, e); mu.Unlock() },
	}))

	link, err := p.Resolve(context.Background(), site.ShortLink(), "")
	require.NoError(t, err)
	assert.Equal(t, fakesite.Destination, link.LinkGo)
	assert.Equal(t, "success", link.Fields["status"])
	assert.Equal(t, "u-param", link.Strategy)

	origin := site.URL() + "/"

	// step 2 forwards the scraped values verbatim
	redirect := site.Calls(fakesite.Redirect)
	require.Len(t, redirect, 1)
	assert.Equal(t, "abc", redirect[0].Query["ray_id"])
	assert.Equal(t, "xyz", redirect[0].Query["alias"])
	assert.Equal(t, "a=1", redirect[0].Header.Get("Cookie"))
	assert.Equal(t, origin, redirect[0].Header.Get("Referer"))

	bypass := site.Calls(fakesite.Bypass)
	require.Len(t, bypass, 1)
	assert.Equal(t, origin, bypass[0].Query["url"])
	assert.Equal(t, DefaultSiteKey, bypass[0].Query["sitekey"])
	assert.Equal(t, "application/json", bypass[0].Header.Get("Accept"))

	verify := site.Calls(fakesite.Verify)
	require.Len(t, verify, 1)
	assert.JSONEq(t, `{"_a":0,"cf-turnstile-response":"tok123"}`, string(verify[0].Body))
	assert.Equal(t, "a=1; b=2", verify[0].Header.Get("Cookie"))
	assert.Equal(t, site.URL(), verify[0].Header.Get("Origin"))
	assert.Equal(t, fakesite.VerifyPage, verify[0].Header.Get("Referer"))
	assert.Equal(t, "cors", verify[0].Header.Get("Sec-Fetch-Mode"))

	goCalls := site.Calls(fakesite.Go)
	require.Len(t, goCalls, 1)
	assert.JSONEq(t, `{"key":7,"size":"2278.3408","_dvc":"Nw=="}`, string(goCalls[0].Body))
	assert.Equal(t, "a=1; b=2", goCalls[0].Header.Get("Cookie"))
	assert.Equal(t, fakesite.VerifyPage, goCalls[0].Header.Get("Referer"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, started, 5)
	require.Len(t, done, 5)
	for i, e := range done {
		assert.Equal(t, Step(i+1), e.Step)
		assert.Equal(t, started[0].Attempt, e.Attempt)
		assert.NoError(t, e.Err)
	}
	assert.NotEmpty(t, started[0].Attempt)
}

func TestResolvedLinkMarshalsFlat(t *testing.T) {
	site := fakesite.Start(t)

	link, err := newPipeline(t, site).Resolve(context.Background(), site.ShortLink(), "")
	require.NoError(t, err)

	raw, err := json.Marshal(link)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, fakesite.Destination, flat["linkGo"])
	assert.Equal(t, "success", flat["status"])
	assert.Contains(t, flat["url"], "u=")
}

func TestCookiesAccumulateAcrossSteps(t *testing.T) {
	site := fakesite.Start(t)
	site.Handle(fakesite.Bypass, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "solver", Value: "s"})
		io.WriteString(w, `{"status":"ok","token":"tok123"}`)
	})
	site.Handle(fakesite.Verify, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "c", Value: "3"})
		io.WriteString(w, `{}`)
	})

	_, err := newPipeline(t, site).Resolve(context.Background(), site.ShortLink(), "")
	require.NoError(t, err)

	assert.Empty(t, site.Calls(fakesite.Landing)[0].Header.Get("Cookie"))
	assert.Equal(t, "a=1", site.Calls(fakesite.Redirect)[0].Header.Get("Cookie"))
	// the solver is a third party: it gets no site cookies and its own are dropped
	assert.Empty(t, site.Calls(fakesite.Bypass)[0].Header.Get("Cookie"))
	assert.Equal(t, "a=1; b=2", site.Calls(fakesite.Verify)[0].Header.Get("Cookie"))
	assert.Equal(t, "a=1; b=2; c=3", site.Calls(fakesite.Go)[0].Header.Get("Cookie"))
}

func TestConcurrentResolvesAreIsolated(t *testing.T) {
	site := fakesite.Start(t)
	site.Handle(fakesite.Landing, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "k" + r.URL.Query().Get("n"), Value: "v"})
		io.WriteString(w, fakesite.LandingHTML)
	})
	// echo the cookies step 5 carried back through the destination
	site.Handle(fakesite.Go, func(w http.ResponseWriter, r *http.Request) {
		fakesite.WriteGo(w, fakesite.Destination+"?cookie="+url.QueryEscape(r.Header.Get("Cookie")))
	})
	p := newPipeline(t, site)

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			link, err := p.Resolve(context.Background(), fmt.Sprintf("%s?n=%d", site.ShortLink(), i), "")
			if !assert.NoError(t, err) {
				return
			}
			dest, err := url.Parse(link.LinkGo)
			if !assert.NoError(t, err) {
				return
			}
			cookie := dest.Query().Get("cookie")
			assert.Equal(t, 1, strings.Count(cookie, "k"), cookie)
			assert.Equal(t, fmt.Sprintf("k%d=v; b=2", i), cookie)
		}()
	}
	wg.Wait()

	assert.Len(t, site.Calls(fakesite.Landing), n)
	assert.Len(t, site.Calls(fakesite.Go), n)
}

func TestCustomSiteKey(t *testing.T) {
	site := fakesite.Start(t)

	_, err := newPipeline(t, site, WithSiteKey("0xCONFIGURED")).Resolve(context.Background(), site.ShortLink(), "")
	require.NoError(t, err)
	assert.Equal(t, "0xCONFIGURED", site.Calls(fakesite.Bypass)[0].Query["sitekey"])

	_, err = newPipeline(t, site).Resolve(context.Background(), site.ShortLink(), "0xPERCALL")
	require.NoError(t, err)
	assert.Equal(t, "0xPERCALL", site.Calls(fakesite.Bypass)[1].Query["sitekey"])
}

func TestRelativeLocationReferer(t *testing.T) {
	site := fakesite.Start(t)
	site.Handle(fakesite.Redirect, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "verify-page?id=9")
		w.WriteHeader(http.StatusFound)
	})

	_, err := newPipeline(t, site).Resolve(context.Background(), site.ShortLink(), "")
	require.NoError(t, err)
	assert.Equal(t, site.URL()+"/verify-page?id=9", site.Calls(fakesite.Verify)[0].Header.Get("Referer"))
}

func TestBypassFailureStopsPipeline(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"upstream message", http.StatusOK, `{"status":"error","message":"captcha unsolved"}`, "captcha unsolved"},
		{"no message", http.StatusOK, `{"status":"error"}`, `bypass failed: {"status":"error"}`},
		{"ok without token", http.StatusOK, `{"status":"ok","token":""}`, `bypass failed: {"status":"ok","token":""}`},
		{"empty body", http.StatusOK, ``, "empty response from bypass endpoint"},
		{"null body", http.StatusOK, `null`, "empty response from bypass endpoint"},
		{"forbidden with message", http.StatusForbidden, `{"status":"error","message":"captcha failed"}`, "captcha failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			site := fakesite.Start(t)
			site.Handle(fakesite.Bypass, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			})

			_, err := newPipeline(t, site).Resolve(context.Background(), site.ShortLink(), "")
			require.Error(t, err)

			var be *BypassError
			require.True(t, errors.As(err, &be), "got %T: %v", err, err)
			assert.Equal(t, tc.message, be.Message)
			assert.Equal(t, StepBypass, StepOf(err))
			if tc.status != http.StatusOK {
				assert.Equal(t, tc.status, be.StatusCode)
			}

			assert.Empty(t, site.Calls(fakesite.Verify))
			assert.Empty(t, site.Calls(fakesite.Go))
		})
	}
}

func TestMissingTokens(t *testing.T) {
	site := fakesite.Start(t)
	site.Handle(fakesite.Landing, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body><input name="alias" value="xyz"></body></html>`)
	})

	_, err := newPipeline(t, site).Resolve(context.Background(), site.ShortLink(), "")
	var me *MissingTokenError
	require.True(t, errors.As(err, &me), "got %v", err)
	assert.Equal(t, []string{"ray_id"}, me.Missing)
	assert.Equal(t, StepLanding, StepOf(err))
	assert.Empty(t, site.Calls(fakesite.Redirect))
}

func TestLenientProceedsWithoutTokens(t *testing.T) {
	site := fakesite.Start(t)
	site.Handle(fakesite.Landing, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body>maintenance</body></html>`)
	})
	site.Handle(fakesite.Redirect, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	link, err := newPipeline(t, site, WithLenient(true)).Resolve(context.Background(), site.ShortLink(), "")
	require.NoError(t, err)
	assert.Equal(t, fakesite.Destination, link.LinkGo)

	redirect := site.Calls(fakesite.Redirect)
	require.Len(t, redirect, 1)
	assert.Equal(t, "", redirect[0].Query["ray_id"])
	assert.Equal(t, site.URL()+"/", site.Calls(fakesite.Verify)[0].Header.Get("Referer"))
}

func TestMissingLocation(t *testing.T) {
	site := fakesite.Start(t)
	site.Handle(fakesite.Redirect, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := newPipeline(t, site).Resolve(context.Background(), site.ShortLink(), "")
	var re *RedirectHandshakeError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.Equal(t, http.StatusOK, re.StatusCode)
	assert.Equal(t, StepRedirect, StepOf(err))
	assert.Empty(t, site.Calls(fakesite.Bypass))
}

func TestRedirectAcceptsAnyStatus(t *testing.T) {
	site := fakesite.Start(t)
	site.Handle(fakesite.Redirect, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/verify-page")
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := newPipeline(t, site).Resolve(context.Background(), site.ShortLink(), "")
	require.NoError(t, err)
}

func TestResolutionError(t *testing.T) {
	site := fakesite.Start(t)
	site.Handle(fakesite.Go, fakesite.JSON(`{"status":"success","message":"no link here"}`))

	_, err := newPipeline(t, site).Resolve(context.Background(), site.ShortLink(), "")
	var re *ResolutionError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.JSONEq(t, `{"status":"success","message":"no link here"}`, string(re.Payload))
	assert.Equal(t, StepGo, StepOf(err))

	var de *decoder.DecodeError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, err.Error(), "no link here")
}

func TestGoNonJSONIsResolutionError(t *testing.T) {
	site := fakesite.Start(t)
	site.Handle(fakesite.Go, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>try again later</html>`)
	})

	_, err := newPipeline(t, site).Resolve(context.Background(), site.ShortLink(), "")
	var re *ResolutionError
	require.True(t, errors.As(err, &re), "got %T: %v", err, err)
	assert.Equal(t, `<html>try again later</html>`, string(re.Payload))
	assert.Contains(t, err.Error(), "not JSON")
	assert.Equal(t, StepGo, StepOf(err))

	var te *TransportError
	assert.False(t, errors.As(err, &te))
}

func TestNon2xxIsTransportError(t *testing.T) {
	cases := []struct {
		name  string
		step  Step
		route fakesite.Route
		body  string
	}{
		{"landing", StepLanding, fakesite.Landing, "nope"},
		{"bypass", StepBypass, fakesite.Bypass, "nope"},
		{"bypass json without message", StepBypass, fakesite.Bypass, `{"status":"error"}`},
		{"verify", StepVerify, fakesite.Verify, "nope"},
		{"go", StepGo, fakesite.Go, "nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			site := fakesite.Start(t)
			site.Handle(tc.route, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				io.WriteString(w, tc.body)
			})

			_, err := newPipeline(t, site).Resolve(context.Background(), site.ShortLink(), "")
			var te *TransportError
			require.True(t, errors.As(err, &te), "got %v", err)
			assert.Equal(t, tc.step, te.Step)
			assert.Equal(t, http.StatusBadGateway, te.StatusCode)
			assert.ErrorIs(t, err, ErrUnexpectedStatus)
		})
	}
}

func TestMalformedJSON(t *testing.T) {
	site := fakesite.Start(t)
	site.Handle(fakesite.Verify, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>not json</html>`)
	})

	_, err := newPipeline(t, site).Resolve(context.Background(), site.ShortLink(), "")
	var te *TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, StepVerify, te.Step)
	assert.Equal(t, "decode_json", te.Op)
	assert.Empty(t, site.Calls(fakesite.Go))
}

func TestInvalidShortLink(t *testing.T) {
	p := New(transport.New(fingerprint.DefaultPreset), nil)
	for _, link := range []string{"", "tutwuri.id/abc", "://bad"} {
		_, err := p.Resolve(context.Background(), link, "")
		assert.ErrorIs(t, err, ErrInvalidShortLink, link)
		assert.Equal(t, Step(0), StepOf(err))
	}
}

func TestCanceledContext(t *testing.T) {
	site := fakesite.Start(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(t, site).Resolve(ctx, site.ShortLink(), "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StepLanding, StepOf(err))
	assert.Empty(t, site.Calls(fakesite.Landing))
}

func TestStepOf(t *testing.T) {
	cases := []struct {
		err  error
		step Step
	}{
		{&MissingTokenError{Step: StepLanding}, StepLanding},
		{&RedirectHandshakeError{}, StepRedirect},
		{&BypassError{Message: "x"}, StepBypass},
		{&TransportError{Step: StepVerify, Op: "status"}, StepVerify},
		{&ResolutionError{}, StepGo},
		{fmt.Errorf("wrapped: %w", &BypassError{}), StepBypass},
		{errors.New("plain"), 0},
		{nil, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.step, StepOf(tc.err), "%v", tc.err)
	}
}

func TestStepString(t *testing.T) {
	assert.Equal(t, "landing", StepLanding.String())
	assert.Equal(t, "go", StepGo.String())
	assert.Equal(t, "step(9)", Step(9).String())
}

func TestEndpointDefaults(t *testing.T) {
	e := DefaultEndpoints()
	assert.Equal(t, "https://tutwuri.id/redirect.php", e.Redirect)
	assert.Equal(t, "https://tutwuri.id/api/v1/verify", e.Verify)
	assert.Equal(t, "https://tutwuri.id/api/v1/go", e.Go)
	assert.Equal(t, "https://tursite.vercel.app/bypass", e.Bypass)

	e = Endpoints{Site: "http://127.0.0.1:9/"}.withDefaults()
	assert.Equal(t, "http://127.0.0.1:9", e.Site)
	assert.Equal(t, "http://127.0.0.1:9/api/v1/go", e.Go)
}

func TestAppendQuery(t *testing.T) {
	assert.Equal(t, "https://x/r.php?ray_id=a+b&alias=%26", appendQuery("https://x/r.php", "ray_id", "a b", "alias", "&"))
	assert.Equal(t, "https://x/b?v=1&url=https%3A%2F%2Fs%2F", appendQuery("https://x/b?v=1", "url", "https://s/"))
}

func TestResolvedLinkUnmarshal(t *testing.T) {
	var link ResolvedLink
	require.NoError(t, json.Unmarshal([]byte(`{"status":"success","linkGo":"https://d.example/"}`), &link))
	assert.Equal(t, "https://d.example/", link.LinkGo)
	assert.Equal(t, map[string]any{"status": "success"}, link.Fields)

	// linkGo always wins over an upstream field of the same name
	out, err := json.Marshal(&ResolvedLink{LinkGo: "https://mine/", Fields: map[string]any{"linkGo": "theirs"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"linkGo":"https://mine/"}`, string(out))
}
