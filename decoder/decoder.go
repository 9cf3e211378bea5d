// Package decoder recovers the destination URL hidden in the "go" response
// of a bypass service.
//
// The upstream wraps the destination in one of several shapes: a base64
// blob in the "u" query parameter of a "url" field, the same blob under
// "param" or "data", a plain URL, or a base64 string in some other field.
// Decode walks an ordered strategy table and returns the first hit.
package decoder

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
)

// Strategy tries to recover a destination from an already parsed payload.
// ok is false when the strategy does not apply.
type Strategy struct {
	Name string
	Try  func(payload map[string]any) (dest string, ok bool)
}

// candidateFields are the alternate top-level fields scanned when the "url"
// field yields nothing
var candidateFields = []string{"redirect", "link", "target", "go", "data"}

// strategies is the priority-ordered fallback chain used by Decode
var strategies = []Strategy{
	{Name: "u-param", Try: fieldURL(fromUParam)},
	{Name: "param-data", Try: fieldURL(fromParamOrData)},
	{Name: "plain-url", Try: fieldURL(fromPlainURL)},
	{Name: "candidates", Try: fromCandidates},
	{Name: "bare-u", Try: fromBareU},
}

// StrategyNames lists the strategies in the order Decode tries them
func StrategyNames() []string {
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.Name
	}
	return names
}

// CandidateFields returns the fallback fields scanned after "url"
func CandidateFields() []string {
	return slices.Clone(candidateFields)
}

// DecodeError is returned when no strategy recovers a destination
type DecodeError struct {
	Payload string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf(`parameter "u" not found or not decodable, response: %s`, e.Payload)
}

// Decode returns the destination URL carried by payload.
// payload is a decoded JSON value; only objects can carry a destination.
func Decode(payload any) (string, error) {
	dest, _, err := DecodeWith(payload)
	return dest, err
}

// DecodeWith is Decode that also reports which strategy matched
func DecodeWith(payload any) (dest string, strategy string, err error) {
	if obj, ok := payload.(map[string]any); ok {
		for _, s := range strategies {
			if dest, ok := s.Try(obj); ok {
				return dest, s.Name, nil
			}
		}
	}
	raw, mErr := json.Marshal(payload)
	if mErr != nil {
		raw = []byte(fmt.Sprint(payload))
	}
	return "", "", &DecodeError{Payload: string(raw)}
}

// DecodeJSON parses body and decodes it
func DecodeJSON(body []byte) (string, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &DecodeError{Payload: string(body)}
	}
	return Decode(payload)
}

// fieldURL adapts a strategy over a raw "url" value into one over the payload
func fieldURL(fn func(raw string) (string, bool)) func(map[string]any) (string, bool) {
	return func(payload map[string]any) (string, bool) {
		raw, ok := stringField(payload, "url")
		if !ok {
			return "", false
		}
		return fn(raw)
	}
}

// fromUParam decodes the "u" parameter of an absolute URL. The decoded text
// is returned even when it is not itself a URL.
func fromUParam(raw string) (string, bool) {
	u, ok := parseAbsolute(raw)
	if !ok {
		return "", false
	}
	encoded := u.Query().Get("u")
	if encoded == "" {
		return "", false
	}
	unescaped := percentDecode(encoded)
	if decoded, err := decodeBase64(unescaped); err == nil && decoded != "" {
		return decoded, true
	}
	if unescaped != "" {
		return unescaped, true
	}
	return "", false
}

// fromParamOrData handles URLs that carry the blob under "param" or "data"
func fromParamOrData(raw string) (string, bool) {
	u, ok := parseAbsolute(raw)
	if !ok {
		return "", false
	}
	q := u.Query()
	if q.Get("u") != "" {
		return "", false
	}
	encoded := q.Get("param")
	if encoded == "" {
		encoded = q.Get("data")
	}
	if encoded == "" {
		return "", false
	}
	decoded, err := decodeBase64(percentDecode(encoded))
	if err != nil || decoded == "" {
		return "", false
	}
	return decoded, true
}

// fromPlainURL accepts a value that already is the destination, or a
// base64 blob of one
func fromPlainURL(raw string) (string, bool) {
	if IsProbablyURL(raw) {
		return raw, true
	}
	return SniffBase64URL(raw)
}

// fromValue applies the url-field chain to an arbitrary value
func fromValue(raw string) (string, bool) {
	for _, fn := range []func(string) (string, bool){fromUParam, fromParamOrData, fromPlainURL} {
		if dest, ok := fn(raw); ok {
			return dest, true
		}
	}
	return "", false
}

func fromCandidates(payload map[string]any) (string, bool) {
	for _, key := range candidateFields {
		raw, ok := stringField(payload, key)
		if !ok {
			continue
		}
		if dest, ok := fromValue(raw); ok {
			return dest, true
		}
	}
	return "", false
}

func fromBareU(payload map[string]any) (string, bool) {
	raw, ok := stringField(payload, "u")
	if !ok {
		return "", false
	}
	decoded, err := decodeBase64(percentDecode(raw))
	if err != nil || !IsProbablyURL(decoded) {
		return "", false
	}
	return decoded, true
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// parseAbsolute parses s and requires a scheme
func parseAbsolute(s string) (*url.URL, bool) {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return nil, false
	}
	return u, true
}

// percentDecode undoes one level of percent-encoding, leaving s unchanged
// when it is malformed
func percentDecode(s string) string {
	if out, err := url.PathUnescape(s); err == nil {
		return out
	}
	return s
}
