// Package fakesite runs an in-process imitation of tutwuri.id and its
// Turnstile solver for tests.
package fakesite

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// Destination is the URL every successful resolution yields
const Destination = "https://final-destination.example/x"

// VerifyPage is the Location the redirect handshake answers with
const VerifyPage = "https://tutwuri.id/verify-page"

// Route names one upstream endpoint
type Route string

const (
	Landing  Route = "landing"
	Redirect Route = "redirect"
	Bypass   Route = "bypass"
	Verify   Route = "verify"
	Go       Route = "go"
)

// Call is one request a route received
type Call struct {
	Query  map[string]string
	Header http.Header
	Body   []byte
}

// Site is a running fake upstream. Every route answers the happy path
// until Handle replaces it.
type Site struct {
	mu       sync.Mutex
	handlers map[Route]http.HandlerFunc
	calls    map[Route][]Call

	site   *httptest.Server
	solver *httptest.Server
}

// Start launches the fake upstream; it stops when the test ends
func Start(t testing.TB) *Site {
	t.Helper()
	s := &Site{
		handlers: map[Route]http.HandlerFunc{
			Landing:  landing,
			Redirect: redirect,
			Bypass:   JSON(`{"status":"ok","token":"tok123"}`),
			Verify:   JSON(`{"status":"verified"}`),
			Go:       func(w http.ResponseWriter, r *http.Request) { WriteGo(w, Destination) },
		},
		calls: make(map[Route][]Call),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/abc123", s.serve(Landing))
	mux.HandleFunc("/redirect.php", s.serve(Redirect))
	mux.HandleFunc("/api/v1/verify", s.serve(Verify))
	mux.HandleFunc("/api/v1/go", s.serve(Go))
	s.site = httptest.NewServer(mux)
	s.solver = httptest.NewServer(s.serve(Bypass))
	t.Cleanup(func() {
		s.site.Close()
		s.solver.Close()
	})
	return s
}

// LandingHTML is the default short-link page
const LandingHTML = `<!doctype html><html><body>
<form action="/redirect.php" method="get">
  <input type="hidden" name="ray_id" value="abc">
  <input type="hidden" name="alias" value="xyz">
</form></body></html>`

func landing(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "a", Value: "1", Path: "/"})
	io.WriteString(w, LandingHTML)
}

func redirect(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "b", Value: "2"})
	w.Header().Set("Location", VerifyPage)
	w.WriteHeader(http.StatusFound)
}

// JSON answers every request with body
func JSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}
}

// WriteGo writes a go response carrying dest in the "u" parameter
func WriteGo(w http.ResponseWriter, dest string) {
	u := url.QueryEscape(base64.StdEncoding.EncodeToString([]byte(dest)))
	json.NewEncoder(w).Encode(map[string]any{
		"status": "success",
		"url":    "https://tutwuri.id/out?u=" + u,
	})
}

func (s *Site) serve(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		q := make(map[string]string)
		for k := range r.URL.Query() {
			q[k] = r.URL.Query().Get(k)
		}
		s.mu.Lock()
		s.calls[route] = append(s.calls[route], Call{Query: q, Header: r.Header.Clone(), Body: body})
		h := s.handlers[route]
		s.mu.Unlock()
		h(w, r)
	}
}

// Handle replaces the handler of route
func (s *Site) Handle(route Route, h http.HandlerFunc) {
	s.mu.Lock()
	s.handlers[route] = h
	s.mu.Unlock()
}

// SetBypassBody makes the solver answer with body
func (s *Site) SetBypassBody(body string) {
	s.Handle(Bypass, JSON(body))
}

// Calls returns the requests route received so far
func (s *Site) Calls(route Route) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls[route]...)
}

// URL is the site origin
func (s *Site) URL() string { return s.site.URL }

// BypassURL is the solver endpoint
func (s *Site) BypassURL() string { return s.solver.URL + "/bypass" }

// ShortLink is a short link served by the site
func (s *Site) ShortLink() string { return s.site.URL + "/abc123" }
