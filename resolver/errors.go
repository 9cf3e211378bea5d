package resolver

import (
	"errors"
	"fmt"
	"strings"
)

// Step identifies one stage of the bypass flow
type Step int

const (
	StepLanding  Step = 1 // fetch the short link and scrape hidden inputs
	StepRedirect Step = 2 // redirect.php handshake, Location captured
	StepBypass   Step = 3 // turnstile solver
	StepVerify   Step = 4 // api/v1/verify
	StepGo       Step = 5 // api/v1/go and decode
)

func (s Step) String() string {
	switch s {
	case StepLanding:
		return "landing"
	case StepRedirect:
		return "redirect"
	case StepBypass:
		return "bypass"
	case StepVerify:
		return "verify"
	case StepGo:
		return "go"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// ErrInvalidShortLink is returned before any step runs when the short link
// is not an absolute URL
var ErrInvalidShortLink = errors.New("invalid short link")

// MissingTokenError reports state a step needed but an earlier step did not
// produce
type MissingTokenError struct {
	Step    Step
	Missing []string
	Err     error
}

func (e *MissingTokenError) Error() string {
	return fmt.Sprintf("step %d (%s): missing %s: %v", e.Step, e.Step, strings.Join(e.Missing, ", "), e.Err)
}

func (e *MissingTokenError) Unwrap() error    { return e.Err }
func (e *MissingTokenError) StepNumber() Step { return e.Step }

// RedirectHandshakeError means redirect.php answered without a Location
type RedirectHandshakeError struct {
	StatusCode int
	Err        error
}

func (e *RedirectHandshakeError) Error() string {
	return fmt.Sprintf("step %d (%s): no Location header (status %d): %v", StepRedirect, StepRedirect, e.StatusCode, e.Err)
}

func (e *RedirectHandshakeError) Unwrap() error  { return e.Err }
func (*RedirectHandshakeError) StepNumber() Step { return StepRedirect }

// BypassError carries the solver's rejection. Message is the upstream
// "message" field, or "bypass failed: <raw json>" if it sent none.
// StatusCode is set when the rejection came with a non-2xx status.
type BypassError struct {
	Message    string
	StatusCode int
}

func (e *BypassError) Error() string {
	return fmt.Sprintf("step %d (%s): %s", StepBypass, StepBypass, e.Message)
}

func (*BypassError) StepNumber() Step { return StepBypass }

// ResolutionError means the go response yielded no destination: it was not
// JSON, or no decoder strategy recovered one. Payload is the raw upstream
// body.
type ResolutionError struct {
	Payload []byte
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", StepGo, StepGo, e.Err)
}

func (e *ResolutionError) Unwrap() error  { return e.Err }
func (*ResolutionError) StepNumber() Step { return StepGo }

// TransportError is a failed exchange, an unexpected status or an
// unparseable body in a given step
type TransportError struct {
	Step       Step
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("step %d (%s): %s: status %d: %v", e.Step, e.Step, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("step %d (%s): %s: %v", e.Step, e.Step, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error    { return e.Err }
func (e *TransportError) StepNumber() Step { return e.Step }

// ErrUnexpectedStatus is wrapped by TransportError for non-2xx responses
var ErrUnexpectedStatus = errors.New("unexpected status")

// StepOf returns the step err was raised in, or 0 when err did not come
// from a step
func StepOf(err error) Step {
	var se interface{ StepNumber() Step }
	if errors.As(err, &se) {
		return se.StepNumber()
	}
	return 0
}
