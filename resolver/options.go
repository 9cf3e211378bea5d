package resolver

import (
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultSiteKey is the Cloudflare Turnstile site key tutwuri.id serves
const DefaultSiteKey = "0x4AAAAAAAfjzEk6sEUVcFw1"

// Endpoints are the upstream URLs the flow talks to
type Endpoints struct {
	// Site is the origin of the redirect service; Origin and Referer of
	// steps 4 and 5 derive from it.
	Site     string
	Redirect string
	Bypass   string
	Verify   string
	Go       string
}

// DefaultEndpoints returns the production endpoints
func DefaultEndpoints() Endpoints {
	return Endpoints{}.withDefaults()
}

// withDefaults fills unset site-relative endpoints from Site
func (e Endpoints) withDefaults() Endpoints {
	if e.Site == "" {
		e.Site = "https://tutwuri.id"
	}
	e.Site = strings.TrimSuffix(e.Site, "/")
	if e.Redirect == "" {
		e.Redirect = e.Site + "/redirect.php"
	}
	if e.Verify == "" {
		e.Verify = e.Site + "/api/v1/verify"
	}
	if e.Go == "" {
		e.Go = e.Site + "/api/v1/go"
	}
	if e.Bypass == "" {
		e.Bypass = "https://tursite.vercel.app/bypass"
	}
	return e
}

// StepEvent describes one step boundary
type StepEvent struct {
	Step     Step
	Attempt  string
	Duration time.Duration // zero on start
	Err      error
}

// Hooks observe step progress. Either callback may be nil.
type Hooks struct {
	OnStepStart func(StepEvent)
	OnStepDone  func(StepEvent)
}

// Options configure a Pipeline
type Options struct {
	Endpoints Endpoints
	SiteKey   string

	// Lenient continues past missing ray_id/alias or Location instead of
	// failing the attempt.
	Lenient bool

	Logger *zap.Logger
	Hooks  []Hooks

	// IntN returns a random int in [0,n); used for the go request's key
	// and _dvc fields.
	IntN func(n int) int
}

func defaultOptions() Options {
	return Options{
		Endpoints: DefaultEndpoints(),
		SiteKey:   DefaultSiteKey,
		Logger:    zap.NewNop(),
		IntN:      rand.IntN,
	}
}

// Option is a function that modifies Options
type Option func(*Options)

// WithEndpoints overrides upstream URLs; empty fields keep derived defaults
func WithEndpoints(e Endpoints) Option {
	return func(o *Options) {
		o.Endpoints = e.withDefaults()
	}
}

// WithSiteKey sets the site key used when Resolve gets none
func WithSiteKey(key string) Option {
	return func(o *Options) {
		if key != "" {
			o.SiteKey = key
		}
	}
}

// WithLenient tolerates missing intermediate tokens
func WithLenient(lenient bool) Option {
	return func(o *Options) {
		o.Lenient = lenient
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithHooks adds step observers
func WithHooks(h Hooks) Option {
	return func(o *Options) {
		o.Hooks = append(o.Hooks, h)
	}
}

// WithRandom replaces the random source
func WithRandom(intN func(n int) int) Option {
	return func(o *Options) {
		if intN != nil {
			o.IntN = intN
		}
	}
}
