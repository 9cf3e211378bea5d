// Package resolver walks the tutwuri.id short-link flow: landing page,
// redirect handshake, Turnstile bypass, verification and the final go call
// whose response hides the destination URL.
//
// Each step takes the session.State produced by the previous one and
// returns a new State; cookies set anywhere are sent on every later step.
// Steps run strictly in order, once, with no retries.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zannhost/skiplink/fingerprint"
	"github.com/zannhost/skiplink/session"
	"github.com/zannhost/skiplink/transport"
)

// Pipeline resolves short links. Safe for concurrent use; every Resolve
// call owns its own session state.
type Pipeline struct {
	doer   transport.Doer
	preset *fingerprint.Preset
	opts   Options
	log    *zap.Logger
}

// New creates a pipeline sending requests through doer with the header
// sets of preset
func New(doer transport.Doer, preset *fingerprint.Preset, opts ...Option) *Pipeline {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if preset == nil {
		preset = fingerprint.Get(fingerprint.DefaultPreset)
	}
	return &Pipeline{
		doer:   doer,
		preset: preset,
		opts:   o,
		log:    o.Logger.Named("resolver"),
	}
}

// Endpoints returns the upstream URLs in use
func (p *Pipeline) Endpoints() Endpoints {
	return p.opts.Endpoints
}

// attempt is one Resolve call
type attempt struct {
	id  string
	log *zap.Logger
}

// Resolve runs the five steps for shortLink. An empty siteKey selects the
// configured default.
func (p *Pipeline) Resolve(ctx context.Context, shortLink, siteKey string) (*ResolvedLink, error) {
	st, err := session.New(shortLink)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShortLink, err)
	}
	if siteKey == "" {
		siteKey = p.opts.SiteKey
	}

	id := uuid.NewString()
	a := &attempt{id: id, log: p.log.With(zap.String("attempt", id))}
	a.log.Debug("Resolving short link", zap.String("short_link", shortLink))

	st, err = runStep(ctx, p, a, StepLanding, func() (session.State, error) {
		return p.fetchLanding(ctx, st, shortLink)
	})
	if err != nil {
		return nil, err
	}
	st, err = runStep(ctx, p, a, StepRedirect, func() (session.State, error) {
		return p.redirectHandshake(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	st, err = runStep(ctx, p, a, StepBypass, func() (session.State, error) {
		return p.bypassChallenge(ctx, st, siteKey)
	})
	if err != nil {
		return nil, err
	}
	st, err = runStep(ctx, p, a, StepVerify, func() (session.State, error) {
		return p.verify(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	link, err := runStep(ctx, p, a, StepGo, func() (*ResolvedLink, error) {
		return p.resolveGo(ctx, st)
	})
	if err != nil {
		return nil, err
	}

	a.log.Info("Short link resolved",
		zap.String("link_go", link.LinkGo),
		zap.String("strategy", link.Strategy),
		zap.Int("cookies", len(st.Cookies)))
	return link, nil
}

// runStep wraps one step with context checks, hooks and logging
func runStep[T any](ctx context.Context, p *Pipeline, a *attempt, step Step, fn func() (T, error)) (T, error) {
	var zero T
	log := a.log.With(zap.Int("step", int(step)), zap.Stringer("step_name", step))
	for _, h := range p.opts.Hooks {
		if h.OnStepStart != nil {
			h.OnStepStart(StepEvent{Step: step, Attempt: a.id})
		}
	}
	log.Debug("Step started")

	start := time.Now()
	var out T
	var err error
	if cerr := ctx.Err(); cerr != nil {
		err = &TransportError{Step: step, Op: "context", Err: cerr}
	} else {
		out, err = fn()
	}
	elapsed := time.Since(start)

	for _, h := range p.opts.Hooks {
		if h.OnStepDone != nil {
			h.OnStepDone(StepEvent{Step: step, Attempt: a.id, Duration: elapsed, Err: err})
		}
	}
	if err != nil {
		log.Warn("Step failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return zero, err
	}
	log.Debug("Step finished", zap.Duration("elapsed", elapsed))
	return out, nil
}
