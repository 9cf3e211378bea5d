package decoder

import (
	"encoding/base64"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// MinSniffLength is the length a string must exceed before it is treated as
// a possible base64 blob.
const MinSniffLength = 16

var (
	base64Alphabet = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

	errNotBase64 = errors.New("not base64")
)

// IsProbablyURL reports whether s parses as an absolute http or https URL
func IsProbablyURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// LooksLikeBase64 reports whether s, with whitespace removed, is longer than
// MinSniffLength and made only of standard base64 characters
func LooksLikeBase64(s string) bool {
	trimmed := stripSpace(s)
	return len(trimmed) > MinSniffLength && base64Alphabet.MatchString(trimmed)
}

// SniffBase64URL decodes s when it looks like base64 and the result is a
// valid absolute URL
func SniffBase64URL(s string) (string, bool) {
	if !LooksLikeBase64(s) {
		return "", false
	}
	decoded, err := decodeBase64(stripSpace(s))
	if err != nil || !IsProbablyURL(decoded) {
		return "", false
	}
	return decoded, true
}

// decodeBase64 accepts padded and unpadded input in either the standard or
// URL-safe alphabet. Spaces are read as '+', which is what a '+' becomes
// after a round through form decoding.
func decodeBase64(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "+")
	s = stripSpace(s)
	if s == "" {
		return "", errNotBase64
	}

	unpadded := strings.TrimRight(s, "=")
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
	} {
		if out, err := enc.DecodeString(s); err == nil {
			return string(out), nil
		}
	}
	for _, enc := range []*base64.Encoding{
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if out, err := enc.DecodeString(unpadded); err == nil {
			return string(out), nil
		}
	}
	return "", errNotBase64
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
