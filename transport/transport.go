// Package transport is the HTTP capability the resolver runs on.
//
// It dials with a uTLS ClientHello copied from a browser preset, offering
// the preset's ALPN. Servers that select h2 are spoken to over HTTP/2 with
// the preset's SETTINGS, WINDOW_UPDATE, stream priority and header order;
// the rest get HTTP/1.1. Around that: DNS through dns.Cache, HTTP and SOCKS5
// proxies, manual response decompression (gzip, deflate, br, zstd) and
// per-request control over redirect following. It keeps no cookies:
// callers own session state.
//
// Basic usage:
//
//	t := transport.New("chrome-132-android", transport.WithTimeout(20*time.Second))
//	defer t.Close()
//
//	follow := false
//	resp, err := t.Do(ctx, &transport.Request{
//	    Method:          "GET",
//	    URL:             "https://example.com/redirect",
//	    FollowRedirects: &follow,
//	})
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	http "github.com/sardanioss/http"
	"golang.org/x/net/proxy"

	"github.com/zannhost/skiplink/dns"
	"github.com/zannhost/skiplink/fingerprint"
)

// Doer executes a single HTTP exchange
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Request represents an HTTP request
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration

	// Per-request redirect override (nil = follow)
	FollowRedirects *bool
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Headers    map[string][]string // lower-cased keys
	Body       []byte
	FinalURL   string
	Proto      string // "HTTP/1.1" or "HTTP/2.0"
}

// GetHeader returns the first value for the given header key (case-insensitive).
func (r *Response) GetHeader(key string) string {
	if values := r.Headers[strings.ToLower(key)]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// GetHeaders returns all values for the given header key (case-insensitive).
func (r *Response) GetHeaders(key string) []string {
	return r.Headers[strings.ToLower(key)]
}

// IsSuccess returns true if the status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRedirect returns true if the status code is 3xx
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// Transport is a fingerprinted HTTP/1.1 and HTTP/2 client. Safe for
// concurrent use.
type Transport struct {
	preset   *fingerprint.Preset
	dnsCache *dns.Cache
	config   *Config

	h2Settings  fingerprint.HTTP2Settings
	pseudoOrder []string
	akamaiErr   error

	socks    proxy.ContextDialer
	socksErr error
	sessions *sessionCache // nil when resumption is disabled

	rt       *roundTripper
	follow   *http.Client
	noFollow *http.Client
}

// New creates a transport using the named fingerprint preset
func New(presetName string, opts ...Option) *Transport {
	config := DefaultConfig()
	config.Preset = presetName
	for _, opt := range opts {
		opt(config)
	}

	t := &Transport{
		preset: fingerprint.Get(config.Preset),
		config: config,
	}
	t.h2Settings = t.preset.HTTP2
	t.pseudoOrder = t.preset.PseudoHeaderOrder
	if config.Akamai != "" {
		settings, order, err := fingerprint.ParseAkamai(config.Akamai)
		if err != nil {
			t.akamaiErr = err
		} else {
			t.h2Settings = *settings
			if len(order) > 0 {
				t.pseudoOrder = order
			}
		}
	}
	switch {
	case config.DNSCache != nil:
		t.dnsCache = config.DNSCache
	case config.Nameserver != "":
		t.dnsCache = dns.New(dns.WithNameserver(config.Nameserver), dnsPreference(config.PreferIPv4))
	default:
		t.dnsCache = dns.New(dnsPreference(config.PreferIPv4))
	}
	if isSOCKS(config.Proxy) {
		t.socks, t.socksErr = t.newSOCKSDialer(config.Proxy)
	}
	if !config.DisableSessionResumption {
		t.sessions = newSessionCache()
	}

	h1 := &http.Transport{
		Proxy:                 t.plainProxy,
		DialContext:           t.dialContext,
		DialTLSContext:        t.dialTLSContext,
		ForceAttemptHTTP2:     false,
		DisableCompression:    true,
		DisableKeepAlives:     config.DisableKeepAlives,
		MaxIdleConnsPerHost:   6, // Browser-like limit
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: config.Timeout,
	}
	t.rt = newRoundTripper(t, h1)

	t.follow = &http.Client{
		Transport: t.rt,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", config.MaxRedirects)
			}
			return nil
		},
	}
	t.noFollow = &http.Client{
		Transport: t.rt,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return t
}

func dnsPreference(preferIPv4 bool) dns.Option {
	if preferIPv4 {
		return dns.WithPreferIPv4()
	}
	return func(*dns.Cache) {}
}

// Preset returns the fingerprint preset in use
func (t *Transport) Preset() *fingerprint.Preset {
	return t.preset
}

// DNSCache returns the DNS cache used by the dialer
func (t *Transport) DNSCache() *dns.Cache {
	return t.dnsCache
}

// Do executes an HTTP request. Non-2xx statuses are not errors; callers
// inspect StatusCode.
func (t *Transport) Do(ctx context.Context, req *Request) (*Response, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return nil, &Error{Op: "parse_url", Err: err}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &Error{Op: "parse_url", Host: parsed.Host, Err: fmt.Errorf("unsupported scheme %q", parsed.Scheme)}
	}
	host := parsed.Hostname()
	if t.akamaiErr != nil {
		return nil, &Error{Op: "http2_settings", Host: host, Err: t.akamaiErr}
	}

	timeout := t.config.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, &Error{Op: "create_request", Host: host, Err: err}
	}

	httpReq.Header.Set("User-Agent", t.preset.UserAgent)
	for key, value := range req.Headers {
		if strings.EqualFold(key, "host") {
			httpReq.Host = value
			continue
		}
		httpReq.Header.Set(key, value)
	}
	httpReq.Header[http.HeaderOrderKey] = t.preset.HeaderOrder
	httpReq.Header[http.PHeaderOrderKey] = t.pseudoOrder
	httpReq.Close = t.config.DisableKeepAlives

	client := t.follow
	if req.FollowRedirects != nil && !*req.FollowRedirects {
		client = t.noFollow
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, WrapError("roundtrip", host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.config.MaxBodySize+1))
	if err != nil {
		return nil, WrapError("read_body", host, err)
	}
	if int64(len(body)) > t.config.MaxBodySize {
		return nil, &Error{Op: "read_body", Host: host, Err: ErrBodyTooLarge}
	}

	body, err = decompress(body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, &Error{Op: "decompress", Host: host, Err: err}
	}

	headers := make(map[string][]string, len(resp.Header))
	for key, values := range resp.Header {
		headers[strings.ToLower(key)] = values
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
		FinalURL:   finalURL,
		Proto:      resp.Proto,
	}, nil
}

// TLSSessions returns the number of cached TLS sessions
func (t *Transport) TLSSessions() int {
	if t.sessions == nil {
		return 0
	}
	return t.sessions.Len()
}

// Close shuts down pooled connections
func (t *Transport) Close() {
	t.rt.closeIdle()
}

// IsTimeout reports whether err is a deadline or timeout error
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
