package resolver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/zannhost/skiplink/decoder"
	"github.com/zannhost/skiplink/session"
	"github.com/zannhost/skiplink/transport"
)

// goSize is the fixed "size" value the page script posts
const goSize = "2278.3408"

type verifyRequest struct {
	A     int    `json:"_a"`
	Token string `json:"cf-turnstile-response"`
}

type goRequest struct {
	Key  int    `json:"key"`
	Size string `json:"size"`
	DVC  string `json:"_dvc"`
}

// send runs one exchange and attributes transport failures to step
func (p *Pipeline) send(ctx context.Context, step Step, req *transport.Request) (*transport.Response, error) {
	resp, err := p.doer.Do(ctx, req)
	if err != nil {
		return nil, &TransportError{Step: step, Op: "request", Err: err}
	}
	return resp, nil
}

func require2xx(step Step, resp *transport.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Step: step, Op: "status", StatusCode: resp.StatusCode, Err: ErrUnexpectedStatus}
	}
	return nil
}

func withCookies(headers map[string]string, st session.State) map[string]string {
	if cookie := st.CookieHeader(); cookie != "" {
		headers["Cookie"] = cookie
	}
	return headers
}

// apiHeaders are the fetch() headers of steps 4 and 5
func (p *Pipeline) apiHeaders(st session.State) map[string]string {
	site := p.opts.Endpoints.Site
	h := withCookies(p.preset.APIHeaders(), st)
	h["Content-Type"] = "application/json"
	h["Origin"] = site
	h["Referer"] = st.Referer(site)
	return h
}

func appendQuery(endpoint string, pairs ...string) string {
	var b strings.Builder
	b.WriteString(endpoint)
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		b.WriteString(sep)
		b.WriteString(url.QueryEscape(pairs[i]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pairs[i+1]))
		sep = "&"
	}
	return b.String()
}

// fetchLanding loads the short link like a typed-in navigation and scrapes
// the ray_id and alias hidden inputs
func (p *Pipeline) fetchLanding(ctx context.Context, st session.State, shortLink string) (session.State, error) {
	resp, err := p.send(ctx, StepLanding, &transport.Request{
		Method:  http.MethodGet,
		URL:     shortLink,
		Headers: p.preset.DocumentHeaders(),
	})
	if err != nil {
		return st, err
	}
	st = st.WithCookies(resp.GetHeaders("set-cookie")...)
	if err := require2xx(StepLanding, resp); err != nil {
		return st, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return st, &TransportError{Step: StepLanding, Op: "parse_html", Err: err}
	}
	rayID := doc.Find(`input[name="ray_id"]`).First().AttrOr("value", "")
	alias := doc.Find(`input[name="alias"]`).First().AttrOr("value", "")
	st = st.WithTokens(rayID, alias)

	if err := st.RequireTokens(); err != nil && !p.opts.Lenient {
		var missing []string
		if rayID == "" {
			missing = append(missing, "ray_id")
		}
		if alias == "" {
			missing = append(missing, "alias")
		}
		return st, &MissingTokenError{Step: StepLanding, Missing: missing, Err: err}
	}
	return st, nil
}

// redirectHandshake calls redirect.php without following the redirect and
// keeps its Location
func (p *Pipeline) redirectHandshake(ctx context.Context, st session.State) (session.State, error) {
	headers := withCookies(p.preset.DocumentHeaders(), st)
	headers["Referer"] = st.Origin

	follow := false
	resp, err := p.send(ctx, StepRedirect, &transport.Request{
		Method:          http.MethodGet,
		URL:             appendQuery(p.opts.Endpoints.Redirect, "ray_id", st.RayID, "alias", st.Alias),
		Headers:         headers,
		FollowRedirects: &follow,
	})
	if err != nil {
		return st, err
	}

	st = st.WithCookies(resp.GetHeaders("set-cookie")...).WithRedirect(resp.GetHeader("location"))
	if err := st.RequireRedirect(); err != nil && !p.opts.Lenient {
		return st, &RedirectHandshakeError{StatusCode: resp.StatusCode, Err: err}
	}
	return st, nil
}

// bypassChallenge asks the solver for a Turnstile token for the short
// link's origin
func (p *Pipeline) bypassChallenge(ctx context.Context, st session.State, siteKey string) (session.State, error) {
	if st.Origin == "" {
		return st, &BypassError{Message: "target url is required for bypass"}
	}
	if siteKey == "" {
		return st, &BypassError{Message: "sitekey is required for bypass"}
	}

	resp, err := p.send(ctx, StepBypass, &transport.Request{
		Method:  http.MethodGet,
		URL:     appendQuery(p.opts.Endpoints.Bypass, "url", st.Origin, "sitekey", siteKey),
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return st, err
	}
	if err := require2xx(StepBypass, resp); err != nil {
		// the solver may reject with a non-2xx status and a message
		if msg := upstreamMessage(resp.Body); msg != "" {
			return st, &BypassError{Message: msg, StatusCode: resp.StatusCode}
		}
		return st, err
	}

	raw := bytes.TrimSpace(resp.Body)
	if len(raw) == 0 {
		return st, &BypassError{Message: "empty response from bypass endpoint"}
	}
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return st, &TransportError{Step: StepBypass, Op: "decode_json", StatusCode: resp.StatusCode, Err: err}
	}
	if body == nil {
		return st, &BypassError{Message: "empty response from bypass endpoint"}
	}

	obj, _ := body.(map[string]any)
	status, _ := obj["status"].(string)
	token, _ := obj["token"].(string)
	if status != "ok" || token == "" {
		if msg, _ := obj["message"].(string); msg != "" {
			return st, &BypassError{Message: msg}
		}
		return st, &BypassError{Message: "bypass failed: " + string(raw)}
	}
	return st.WithBypassToken(token), nil
}

// upstreamMessage returns the "message" field of a JSON object body
func upstreamMessage(body []byte) string {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}
	return obj.Message
}

// verify submits the Turnstile token. The response is only required to be
// JSON.
func (p *Pipeline) verify(ctx context.Context, st session.State) (session.State, error) {
	if err := st.RequireBypassToken(); err != nil {
		return st, &MissingTokenError{Step: StepVerify, Missing: []string{"cf-turnstile-response"}, Err: err}
	}

	body, err := json.Marshal(verifyRequest{A: 0, Token: st.BypassToken})
	if err != nil {
		return st, &TransportError{Step: StepVerify, Op: "encode_json", Err: err}
	}
	resp, err := p.send(ctx, StepVerify, &transport.Request{
		Method:  http.MethodPost,
		URL:     p.opts.Endpoints.Verify,
		Headers: p.apiHeaders(st),
		Body:    body,
	})
	if err != nil {
		return st, err
	}
	st = st.WithCookies(resp.GetHeaders("set-cookie")...)
	if err := require2xx(StepVerify, resp); err != nil {
		return st, err
	}
	if !json.Valid(resp.Body) {
		return st, &TransportError{Step: StepVerify, Op: "decode_json", StatusCode: resp.StatusCode, Err: errors.New("response is not JSON")}
	}
	return st, nil
}

// resolveGo posts the go request and decodes its response into the
// destination
func (p *Pipeline) resolveGo(ctx context.Context, st session.State) (*ResolvedLink, error) {
	key := p.opts.IntN(1000)
	dvc := base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(p.opts.IntN(1000))))
	body, err := json.Marshal(goRequest{Key: key, Size: goSize, DVC: dvc})
	if err != nil {
		return nil, &TransportError{Step: StepGo, Op: "encode_json", Err: err}
	}
	resp, err := p.send(ctx, StepGo, &transport.Request{
		Method:  http.MethodPost,
		URL:     p.opts.Endpoints.Go,
		Headers: p.apiHeaders(st),
		Body:    body,
	})
	if err != nil {
		return nil, err
	}
	if err := require2xx(StepGo, resp); err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, &ResolutionError{Payload: resp.Body, Err: fmt.Errorf("response is not JSON: %w", err)}
	}
	dest, strategy, err := decoder.DecodeWith(payload)
	if err != nil {
		return nil, &ResolutionError{Payload: resp.Body, Err: err}
	}

	fields, _ := payload.(map[string]any)
	return &ResolvedLink{LinkGo: dest, Fields: fields, Strategy: strategy}, nil
}
