package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		link     string
		expected string
		wantErr  bool
	}{
		{name: "path and query dropped", link: "https://tutwuri.id/abc?x=1", expected: "https://tutwuri.id/"},
		{name: "port kept", link: "http://127.0.0.1:8080/s/xyz", expected: "http://127.0.0.1:8080/"},
		{name: "relative rejected", link: "/abc", wantErr: true},
		{name: "garbage rejected", link: "://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := New(tt.link)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, st.Origin)
			assert.Empty(t, st.Cookies)
		})
	}
}

func TestWithCookiesAccumulates(t *testing.T) {
	s0 := State{}
	s1 := s0.WithCookies("PHPSESSID=abc; Path=/; HttpOnly")
	s2 := s1.WithCookies("cf_clearance=zzz; Secure", "lang=id")
	s3 := s2.WithCookies("a=1\nb=2; Path=/", "", "   ")

	assert.Empty(t, s0.Cookies)
	assert.Equal(t, []string{"PHPSESSID=abc"}, s1.Cookies)
	assert.Equal(t, []string{"PHPSESSID=abc", "cf_clearance=zzz", "lang=id"}, s2.Cookies)
	assert.Equal(t, []string{"PHPSESSID=abc", "cf_clearance=zzz", "lang=id", "a=1", "b=2"}, s3.Cookies)
}

func TestWithCookiesDoesNotAlias(t *testing.T) {
	base := State{Cookies: make([]string, 1, 8)}
	base.Cookies[0] = "x=1"

	left := base.WithCookies("l=1")
	right := base.WithCookies("r=1")

	assert.Equal(t, []string{"x=1", "l=1"}, left.Cookies)
	assert.Equal(t, []string{"x=1", "r=1"}, right.Cookies)
	assert.Equal(t, []string{"x=1"}, base.Cookies)
}

func TestCookieHeader(t *testing.T) {
	st := State{Cookies: []string{"a=1", "b=hello%20world"}}
	assert.Equal(t, "a=1; b=hello world", st.CookieHeader())

	bad := State{Cookies: []string{"a=%zz"}}
	assert.Equal(t, "a=%zz", bad.CookieHeader())

	assert.Equal(t, "", State{}.CookieHeader())
}

func TestRequire(t *testing.T) {
	var st State
	assert.ErrorIs(t, st.RequireTokens(), ErrMissingTokens)
	assert.ErrorIs(t, st.WithTokens("ray", "").RequireTokens(), ErrMissingTokens)
	assert.NoError(t, st.WithTokens("ray", "alias").RequireTokens())

	assert.ErrorIs(t, st.RequireRedirect(), ErrMissingRedirect)
	assert.NoError(t, st.WithRedirect("go/abc").RequireRedirect())

	assert.ErrorIs(t, st.RequireBypassToken(), ErrMissingBypassToken)
	assert.NoError(t, st.WithBypassToken("tok").RequireBypassToken())
}

func TestReferer(t *testing.T) {
	tests := []struct {
		location string
		expected string
	}{
		{"verify-page", "https://tutwuri.id/verify-page"},
		{"/verify-page?x=1", "https://tutwuri.id/verify-page?x=1"},
		{"https://tutwuri.id/verify-page", "https://tutwuri.id/verify-page"},
		{"", "https://tutwuri.id/"},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			st := State{}.WithRedirect(tt.location)
			assert.Equal(t, tt.expected, st.Referer("https://tutwuri.id"))
		})
	}
}
