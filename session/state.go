// Package session holds the per-attempt state threaded through the
// resolver's steps.
//
// A State is a plain value. Every mutation returns a new State, so a step
// receives the state produced by the previous step and hands its own result
// to the next one. Nothing here is shared between resolution attempts.
package session

import (
	"errors"
	"net/url"
	"strings"
)

var (
	ErrMissingTokens      = errors.New("ray_id/alias not scraped")
	ErrMissingRedirect    = errors.New("redirect location not captured")
	ErrMissingBypassToken = errors.New("bypass token not obtained")
)

// State represents everything one resolution attempt has learned so far
type State struct {
	// Cookies are raw "name=value" pairs in the order they were received.
	Cookies []string

	// Origin is scheme://host/ of the short link.
	Origin string

	// RedirectLocation is the Location header of the redirect handshake.
	RedirectLocation string

	RayID string
	Alias string

	BypassToken string
}

// New returns the initial state for a short link
func New(shortLink string) (State, error) {
	u, err := url.Parse(shortLink)
	if err != nil {
		return State{}, err
	}
	if u.Scheme == "" || u.Host == "" {
		return State{}, errors.New("short link must be an absolute URL")
	}
	return State{Origin: u.Scheme + "://" + u.Host + "/"}, nil
}

// WithCookies returns a copy of s with the name=value part of each
// Set-Cookie line appended. The receiver is left untouched.
func (s State) WithCookies(setCookie ...string) State {
	parsed := make([]string, 0, len(setCookie))
	for _, line := range setCookie {
		// Some transports fold multiple Set-Cookie values with newlines
		for _, c := range strings.Split(line, "\n") {
			c = strings.TrimSpace(c)
			if idx := strings.Index(c, ";"); idx != -1 {
				c = c[:idx]
			}
			if c == "" {
				continue
			}
			parsed = append(parsed, c)
		}
	}
	if len(parsed) == 0 {
		return s
	}

	cookies := make([]string, 0, len(s.Cookies)+len(parsed))
	cookies = append(cookies, s.Cookies...)
	cookies = append(cookies, parsed...)
	s.Cookies = cookies
	return s
}

// WithTokens returns a copy of s carrying the scraped form tokens
func (s State) WithTokens(rayID, alias string) State {
	s.RayID = rayID
	s.Alias = alias
	return s
}

// WithRedirect returns a copy of s carrying the handshake Location
func (s State) WithRedirect(location string) State {
	s.RedirectLocation = location
	return s
}

// WithBypassToken returns a copy of s carrying the challenge token
func (s State) WithBypassToken(token string) State {
	s.BypassToken = token
	return s
}

// CookieHeader returns the Cookie header value for the next request.
// The joined cookies are percent-decoded; text that is not valid
// percent-encoding is sent as-is.
func (s State) CookieHeader() string {
	joined := strings.Join(s.Cookies, "; ")
	if decoded, err := url.PathUnescape(joined); err == nil {
		return decoded
	}
	return joined
}

// RequireTokens reports whether the landing page tokens are present
func (s State) RequireTokens() error {
	if s.RayID == "" || s.Alias == "" {
		return ErrMissingTokens
	}
	return nil
}

// RequireRedirect reports whether the handshake Location is present
func (s State) RequireRedirect() error {
	if s.RedirectLocation == "" {
		return ErrMissingRedirect
	}
	return nil
}

// RequireBypassToken reports whether the challenge token is present
func (s State) RequireBypassToken() error {
	if s.BypassToken == "" {
		return ErrMissingBypassToken
	}
	return nil
}

// Referer builds the Referer for requests made after the handshake.
// A relative Location is joined to site; an absolute one is used as-is.
func (s State) Referer(site string) string {
	loc := s.RedirectLocation
	if u, err := url.Parse(loc); err == nil && u.Scheme != "" && u.Host != "" {
		return loc
	}
	return strings.TrimSuffix(site, "/") + "/" + strings.TrimPrefix(loc, "/")
}
