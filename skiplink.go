// Package skiplink resolves tutwuri.id short links to their final
// destination URL.
//
// Basic usage:
//
//	client := skiplink.New()
//	defer client.Close()
//
//	link, err := client.Resolve(ctx, "https://tutwuri.id/abc123", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(link.LinkGo)
//
// With options:
//
//	client := skiplink.New(
//	    skiplink.WithTimeout(20*time.Second),
//	    skiplink.WithProxy("socks5h://127.0.0.1:1080"),
//	    skiplink.WithLogger(logger),
//	)
package skiplink

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/zannhost/skiplink/config"
	"github.com/zannhost/skiplink/fingerprint"
	"github.com/zannhost/skiplink/keylog"
	"github.com/zannhost/skiplink/resolver"
	"github.com/zannhost/skiplink/transport"
)

// ResolvedLink is the outcome of a successful resolution
type ResolvedLink = resolver.ResolvedLink

// Client resolves short links with a browser-fingerprinted transport
type Client struct {
	transport *transport.Transport
	pipeline  *resolver.Pipeline
	closers   []io.Closer
}

// Option configures the Client
type Option func(*clientConfig)

type clientConfig struct {
	preset        string
	transportOpts []transport.Option
	resolverOpts  []resolver.Option
	logger        *zap.Logger
}

// WithPreset selects the fingerprint preset (see Presets)
func WithPreset(name string) Option {
	return func(c *clientConfig) {
		c.preset = name
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.transportOpts = append(c.transportOpts, transport.WithTimeout(d))
	}
}

// WithProxy sets an HTTP/HTTPS/SOCKS5 proxy
func WithProxy(proxyURL string) Option {
	return func(c *clientConfig) {
		c.transportOpts = append(c.transportOpts, transport.WithProxy(proxyURL))
	}
}

// WithJA3 replaces the preset ClientHello with a JA3 fingerprint
func WithJA3(ja3 string) Option {
	return func(c *clientConfig) {
		c.transportOpts = append(c.transportOpts, transport.WithJA3(ja3))
	}
}

// WithAkamai replaces the preset HTTP/2 settings with an Akamai fingerprint
func WithAkamai(akamai string) Option {
	return func(c *clientConfig) {
		c.transportOpts = append(c.transportOpts, transport.WithAkamai(akamai))
	}
}

// WithNameserver resolves hosts through the given DNS server
func WithNameserver(addr string) Option {
	return func(c *clientConfig) {
		c.transportOpts = append(c.transportOpts, transport.WithNameserver(addr))
	}
}

// WithInsecureSkipVerify disables certificate verification
func WithInsecureSkipVerify() Option {
	return func(c *clientConfig) {
		c.transportOpts = append(c.transportOpts, transport.WithInsecureSkipVerify())
	}
}

// WithKeyLogWriter writes TLS secrets in SSLKEYLOGFILE format to w
func WithKeyLogWriter(w io.Writer) Option {
	return func(c *clientConfig) {
		c.transportOpts = append(c.transportOpts, transport.WithKeyLogWriter(w))
	}
}

// WithTransportOptions passes raw transport options through
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *clientConfig) {
		c.transportOpts = append(c.transportOpts, opts...)
	}
}

// WithEndpoints overrides the upstream URLs
func WithEndpoints(e resolver.Endpoints) Option {
	return func(c *clientConfig) {
		c.resolverOpts = append(c.resolverOpts, resolver.WithEndpoints(e))
	}
}

// WithSiteKey sets the default Turnstile site key
func WithSiteKey(key string) Option {
	return func(c *clientConfig) {
		c.resolverOpts = append(c.resolverOpts, resolver.WithSiteKey(key))
	}
}

// WithLenient continues past missing intermediate tokens
func WithLenient(lenient bool) Option {
	return func(c *clientConfig) {
		c.resolverOpts = append(c.resolverOpts, resolver.WithLenient(lenient))
	}
}

// WithHooks adds step observers
func WithHooks(h resolver.Hooks) Option {
	return func(c *clientConfig) {
		c.resolverOpts = append(c.resolverOpts, resolver.WithHooks(h))
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// New creates a client. Without options it uses the default preset and the
// production endpoints.
func New(opts ...Option) *Client {
	cfg := &clientConfig{preset: fingerprint.DefaultPreset}
	for _, opt := range opts {
		opt(cfg)
	}

	t := transport.New(cfg.preset, cfg.transportOpts...)
	ropts := cfg.resolverOpts
	if cfg.logger != nil {
		ropts = append([]resolver.Option{resolver.WithLogger(cfg.logger)}, ropts...)
	}
	return &Client{
		transport: t,
		pipeline:  resolver.New(t, t.Preset(), ropts...),
	}
}

// NewFromConfig builds a client from loaded configuration. Extra options
// apply after the configured ones. TLS secrets go to transport.key_log_file,
// or $SSLKEYLOGFILE when that is unset.
func NewFromConfig(cfg *config.Config, logger *zap.Logger, extra ...Option) (*Client, error) {
	tc, rc := cfg.Transport, cfg.Resolver
	opts := []Option{
		WithPreset(tc.Preset),
		WithLogger(logger),
		WithTransportOptions(transport.WithMaxRedirects(tc.MaxRedirects)),
		WithEndpoints(resolver.Endpoints{
			Site:     rc.Site,
			Redirect: rc.RedirectURL,
			Bypass:   rc.BypassURL,
			Verify:   rc.VerifyURL,
			Go:       rc.GoURL,
		}),
		WithSiteKey(rc.SiteKey),
		WithLenient(rc.Lenient),
	}
	if tc.Timeout > 0 {
		opts = append(opts, WithTimeout(tc.Timeout))
	}
	if tc.Proxy != "" {
		opts = append(opts, WithProxy(tc.Proxy))
	}
	if tc.JA3 != "" {
		opts = append(opts, WithJA3(tc.JA3))
	}
	if tc.Akamai != "" {
		opts = append(opts, WithAkamai(tc.Akamai))
	}
	if tc.DisableHTTP2 {
		opts = append(opts, WithTransportOptions(transport.WithDisableHTTP2()))
	}
	if tc.Nameserver != "" {
		opts = append(opts, WithNameserver(tc.Nameserver))
	}
	if tc.InsecureSkipVerify {
		opts = append(opts, WithInsecureSkipVerify())
	}
	if tc.PreferIPv4 {
		opts = append(opts, WithTransportOptions(transport.WithPreferIPv4()))
	}
	if tc.DisableSessionResumption {
		opts = append(opts, WithTransportOptions(transport.WithDisableSessionResumption()))
	}

	keyLog, err := keylog.Open(tc.KeyLogFile)
	if err != nil {
		return nil, fmt.Errorf("open key log file: %w", err)
	}
	if keyLog != nil {
		opts = append(opts, WithKeyLogWriter(keyLog))
	}

	c := New(append(opts, extra...)...)
	if keyLog != nil {
		c.closers = append(c.closers, keyLog)
	}
	return c, nil
}

// Resolve walks the five-step flow for shortLink. An empty siteKey selects
// the configured default.
func (c *Client) Resolve(ctx context.Context, shortLink, siteKey string) (*ResolvedLink, error) {
	return c.pipeline.Resolve(ctx, shortLink, siteKey)
}

// Endpoints returns the upstream URLs in use
func (c *Client) Endpoints() resolver.Endpoints {
	return c.pipeline.Endpoints()
}

// Preset returns the name of the fingerprint preset in use
func (c *Client) Preset() string {
	return c.transport.Preset().Name
}

// Close releases idle connections and any opened files
func (c *Client) Close() {
	c.transport.Close()
	for _, cl := range c.closers {
		_ = cl.Close()
	}
}

// Presets returns the available fingerprint preset names
func Presets() []string {
	return fingerprint.Available()
}
