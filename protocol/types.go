// Package protocol defines the JSON documents returned by the HTTP
// endpoint and printed by the CLI.
package protocol

import (
	"errors"

	"github.com/zannhost/skiplink/resolver"
	"github.com/zannhost/skiplink/transport"
)

// Version is reported by /healthz and the CLI
const Version = "0.3.0"

// Response is the reply to a resolve request
type Response struct {
	Status bool                   `json:"status"`
	Result *resolver.ResolvedLink `json:"result,omitempty"`
	Error  *ErrorInfo             `json:"error,omitempty"`
}

// ErrorInfo describes a failure
type ErrorInfo struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Step     int    `json:"step,omitempty"`
	StepName string `json:"stepName,omitempty"`
}

// PresetList lists available presets
type PresetList struct {
	Default string   `json:"default"`
	Presets []string `json:"presets"`
}

// Health is the liveness report
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Error codes
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeInvalidURL     = "INVALID_URL"
	ErrCodeMissingToken   = "MISSING_TOKEN"
	ErrCodeRedirect       = "REDIRECT_FAILED"
	ErrCodeBypass         = "BYPASS_FAILED"
	ErrCodeResolution     = "RESOLUTION_FAILED"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeCanceled       = "CANCELED"
	ErrCodeUpstream       = "UPSTREAM_ERROR"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewErrorInfo classifies a resolution error
func NewErrorInfo(err error) *ErrorInfo {
	info := &ErrorInfo{Code: ErrorCode(err), Message: err.Error()}
	var be *resolver.BypassError
	if errors.As(err, &be) {
		// upstream wording, without the step prefix
		info.Message = be.Message
	}
	if step := resolver.StepOf(err); step != 0 {
		info.Step = int(step)
		info.StepName = step.String()
	}
	return info
}

// ErrorCode maps a resolution error onto an error code
func ErrorCode(err error) string {
	var (
		mte *resolver.MissingTokenError
		rhe *resolver.RedirectHandshakeError
		be  *resolver.BypassError
		re  *resolver.ResolutionError
		te  *resolver.TransportError
	)
	switch {
	case errors.Is(err, resolver.ErrInvalidShortLink):
		return ErrCodeInvalidURL
	case errors.As(err, &mte):
		return ErrCodeMissingToken
	case errors.As(err, &rhe):
		return ErrCodeRedirect
	case errors.As(err, &be):
		return ErrCodeBypass
	case errors.As(err, &re):
		return ErrCodeResolution
	case transport.IsTimeout(err):
		return ErrCodeTimeout
	case errors.As(err, &te) && te.Op == "context":
		return ErrCodeCanceled
	case errors.As(err, &te):
		return ErrCodeUpstream
	default:
		return ErrCodeInternal
	}
}

// IsClientError reports whether err stems from the caller's input
func IsClientError(err error) bool {
	return errors.Is(err, resolver.ErrInvalidShortLink)
}
