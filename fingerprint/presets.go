// Package fingerprint defines the browser identities the transport presents:
// a TLS ClientHello, the HTTP/2 connection preface, header order and the
// header sets a real browser sends for page navigations and for fetch()
// calls.
package fingerprint

import (
	"runtime"
	"slices"
	"sort"

	tls "github.com/sardanioss/utls"
)

// DefaultPreset is the identity used when none is configured. It matches
// the Android Chrome the tutwuri.id flow was captured from.
const DefaultPreset = "chrome-132-android"

// PlatformInfo contains platform-specific header values
type PlatformInfo struct {
	UserAgentOS string // e.g., "(Windows NT 10.0; Win64; x64)" or "(X11; Linux x86_64)"
	Platform    string // e.g., "Windows", "Linux", "macOS"
}

// GetPlatformInfo returns platform-specific info based on runtime OS
func GetPlatformInfo() PlatformInfo {
	switch runtime.GOOS {
	case "windows":
		return PlatformInfo{UserAgentOS: "(Windows NT 10.0; Win64; x64)", Platform: "Windows"}
	case "darwin":
		return PlatformInfo{UserAgentOS: "(Macintosh; Intel Mac OS X 10_15_7)", Platform: "macOS"}
	default: // linux and others
		return PlatformInfo{UserAgentOS: "(X11; Linux x86_64)", Platform: "Linux"}
	}
}

// Preset represents a browser fingerprint configuration
type Preset struct {
	Name          string
	ClientHelloID tls.ClientHelloID
	UserAgent     string

	// Document holds headers of a top-level navigation (human typed the URL).
	Document map[string]string
	// API holds headers of an XHR/fetch() call made by the page's script.
	API map[string]string

	// HTTP2 is what the browser sends when it opens an HTTP/2 connection.
	HTTP2 HTTP2Settings
	// PseudoHeaderOrder and HeaderOrder are the on-the-wire header order,
	// lower-case.
	PseudoHeaderOrder []string
	HeaderOrder       []string
}

// HTTP2Settings contains HTTP/2 connection settings
type HTTP2Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32 // 0 = not sent
	InitialWindowSize    uint32
	MaxFrameSize         uint32 // 0 = not sent
	MaxHeaderListSize    uint32 // 0 = not sent
	NoRFC7540Priorities  bool

	// Connection-level WINDOW_UPDATE sent after SETTINGS
	ConnectionWindowUpdate uint32
	// Priority carried on every HEADERS frame; weight 0 sends none
	StreamWeight    uint16
	StreamExclusive bool
}

// Setting is one SETTINGS frame parameter
type Setting struct {
	ID  uint16
	Val uint32
}

// Settings returns the SETTINGS frame parameters in the order browsers
// send them
func (s HTTP2Settings) Settings() []Setting {
	var out []Setting
	if s.HeaderTableSize > 0 {
		out = append(out, Setting{1, s.HeaderTableSize})
	}
	push := uint32(0)
	if s.EnablePush {
		push = 1
	}
	out = append(out, Setting{2, push})
	if s.MaxConcurrentStreams > 0 {
		out = append(out, Setting{3, s.MaxConcurrentStreams})
	}
	if s.InitialWindowSize > 0 {
		out = append(out, Setting{4, s.InitialWindowSize})
	}
	if s.MaxFrameSize > 0 {
		out = append(out, Setting{5, s.MaxFrameSize})
	}
	if s.MaxHeaderListSize > 0 {
		out = append(out, Setting{6, s.MaxHeaderListSize})
	}
	if s.NoRFC7540Priorities {
		out = append(out, Setting{9, 1})
	}
	return out
}

// chromeHTTP2 is Chrome's connection preface:
// 1:65536;2:0;4:6291456;6:262144|15663105|256|m,a,s,p
var chromeHTTP2 = HTTP2Settings{
	HeaderTableSize:        65536,
	InitialWindowSize:      6291456,
	MaxHeaderListSize:      262144,
	ConnectionWindowUpdate: 15663105,
	StreamWeight:           256,
	StreamExclusive:        true,
}

var chromePseudoOrder = []string{":method", ":authority", ":scheme", ":path"}

var chromeHeaderOrder = []string{
	"content-length", "sec-ch-ua-platform", "user-agent", "sec-ch-ua",
	"content-type", "sec-ch-ua-mobile", "accept", "origin",
	"sec-fetch-site", "sec-fetch-mode", "sec-fetch-user", "sec-fetch-dest",
	"referer", "accept-encoding", "accept-language", "priority",
	"upgrade-insecure-requests", "cookie",
}

var firefoxHTTP2 = HTTP2Settings{
	HeaderTableSize:        65536,
	InitialWindowSize:      131072,
	MaxFrameSize:           16384,
	ConnectionWindowUpdate: 12517377,
	StreamWeight:           42,
}

var firefoxPseudoOrder = []string{":method", ":path", ":authority", ":scheme"}

var firefoxHeaderOrder = []string{
	"user-agent", "accept", "accept-language", "accept-encoding",
	"content-type", "content-length", "origin", "referer", "cookie",
	"upgrade-insecure-requests", "sec-fetch-dest", "sec-fetch-mode",
	"sec-fetch-site", "sec-fetch-user", "priority", "te",
}

// DocumentHeaders returns a fresh copy of the navigation headers
func (p *Preset) DocumentHeaders() map[string]string {
	return p.with(p.Document)
}

// APIHeaders returns a fresh copy of the fetch() headers
func (p *Preset) APIHeaders() map[string]string {
	return p.with(p.API)
}

func (p *Preset) with(src map[string]string) map[string]string {
	out := make(map[string]string, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	out["User-Agent"] = p.UserAgent
	return out
}

// Chrome132Android returns the Android Chrome 132 preset
func Chrome132Android() *Preset {
	clientHints := map[string]string{
		"sec-ch-ua":          `"Not A(Brand";v="8", "Chromium";v="132"`,
		"sec-ch-ua-mobile":   "?1",
		"sec-ch-ua-platform": `"Android"`,
		"Accept-Language":    "ms-MY,ms;q=0.9,en-US;q=0.8,en;q=0.7",
	}
	return &Preset{
		Name:          "chrome-132-android",
		ClientHelloID: tls.HelloChrome_131,
		UserAgent:     "Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Mobile Safari/537.36",
		Document: merge(clientHints, map[string]string{
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
			"Accept-Encoding":           "gzip, deflate, br, zstd",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-User":            "?1",
			"Upgrade-Insecure-Requests": "1",
		}),
		API: merge(clientHints, map[string]string{
			"Accept":          "application/json, text/plain, */*",
			"Accept-Encoding": "gzip, deflate, br, zstd",
			"Sec-Fetch-Dest":  "empty",
			"Sec-Fetch-Mode":  "cors",
			"Sec-Fetch-Site":  "same-origin",
		}),
		HTTP2:             chromeHTTP2,
		PseudoHeaderOrder: slices.Clone(chromePseudoOrder),
		HeaderOrder:       slices.Clone(chromeHeaderOrder),
	}
}

// Chrome131 returns the desktop Chrome 131 preset for the host platform
func Chrome131() *Preset {
	p := GetPlatformInfo()
	clientHints := map[string]string{
		"sec-ch-ua":          `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		"sec-ch-ua-mobile":   "?0",
		"sec-ch-ua-platform": `"` + p.Platform + `"`,
		"Accept-Language":    "en-US,en;q=0.9",
	}
	return &Preset{
		Name:          "chrome-131",
		ClientHelloID: tls.HelloChrome_131,
		UserAgent:     "Mozilla/5.0 " + p.UserAgentOS + " AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Document: merge(clientHints, map[string]string{
			"Cache-Control":             "max-age=0",
			"Upgrade-Insecure-Requests": "1",
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
			"Accept-Encoding":           "gzip, deflate, br, zstd",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-User":            "?1",
			"Sec-Fetch-Dest":            "document",
			"Priority":                  "u=0, i",
		}),
		API: merge(clientHints, map[string]string{
			"Accept":          "application/json, text/plain, */*",
			"Accept-Encoding": "gzip, deflate, br, zstd",
			"Sec-Fetch-Dest":  "empty",
			"Sec-Fetch-Mode":  "cors",
			"Sec-Fetch-Site":  "same-origin",
			"Priority":        "u=1, i",
		}),
		HTTP2:             chromeHTTP2,
		PseudoHeaderOrder: slices.Clone(chromePseudoOrder),
		HeaderOrder:       slices.Clone(chromeHeaderOrder),
	}
}

// Firefox120 returns the desktop Firefox preset for the host platform
func Firefox120() *Preset {
	p := GetPlatformInfo()
	ua := "Mozilla/5.0 " + p.UserAgentOS + " Gecko/20100101 Firefox/120.0"
	return &Preset{
		Name:          "firefox-120",
		ClientHelloID: tls.HelloFirefox_120,
		UserAgent:     ua,
		Document: map[string]string{
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.5",
			"Accept-Encoding":           "gzip, deflate, br",
			"Upgrade-Insecure-Requests": "1",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-User":            "?1",
		},
		API: map[string]string{
			"Accept":          "application/json, text/plain, */*",
			"Accept-Language": "en-US,en;q=0.5",
			"Accept-Encoding": "gzip, deflate, br",
			"Sec-Fetch-Dest":  "empty",
			"Sec-Fetch-Mode":  "cors",
			"Sec-Fetch-Site":  "same-origin",
		},
		HTTP2:             firefoxHTTP2,
		PseudoHeaderOrder: slices.Clone(firefoxPseudoOrder),
		HeaderOrder:       slices.Clone(firefoxHeaderOrder),
	}
}

func merge(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

var presets = map[string]func() *Preset{
	"chrome-132-android": Chrome132Android,
	"chrome-131":         Chrome131,
	"firefox-120":        Firefox120,
}

// Get returns a preset by name, or the default preset for unknown names
func Get(name string) *Preset {
	if fn, ok := presets[name]; ok {
		return fn()
	}
	return presets[DefaultPreset]()
}

// Has reports whether name is a known preset
func Has(name string) bool {
	_, ok := presets[name]
	return ok
}

// Available returns the sorted list of preset names
func Available() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
