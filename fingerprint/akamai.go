package fingerprint

import (
	"fmt"
	"strconv"
	"strings"
)

var pseudoIDs = map[string]string{
	"m": ":method",
	"a": ":authority",
	"s": ":scheme",
	"p": ":path",
}

// ParseAkamai parses an Akamai HTTP/2 fingerprint into connection settings
// and a pseudo-header order.
//
// Format: SETTINGS|WINDOW_UPDATE|PRIORITY|PSEUDO_HEADER_ORDER
//
//	SETTINGS             "id:value" pairs separated by ';'
//	WINDOW_UPDATE        connection-level increment, 0 for the default
//	PRIORITY             HEADERS frame weight, 0 for none
//	PSEUDO_HEADER_ORDER  m, a, s, p separated by ','
//
// Chrome: "1:65536;2:0;4:6291456;6:262144|15663105|0|m,a,s,p"
func ParseAkamai(akamai string) (*HTTP2Settings, []string, error) {
	parts := strings.Split(akamai, "|")
	if len(parts) != 4 {
		return nil, nil, fmt.Errorf("akamai: expected 4 pipe-separated fields, got %d", len(parts))
	}

	settings := &HTTP2Settings{}
	for _, pair := range strings.Split(parts[0], ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			return nil, nil, fmt.Errorf("akamai: invalid settings pair %q", pair)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(kv[0]), 10, 16)
		if err != nil {
			return nil, nil, fmt.Errorf("akamai: invalid settings id %q: %w", kv[0], err)
		}
		val, err := strconv.ParseUint(strings.TrimSpace(kv[1]), 10, 32)
		if err != nil {
			return nil, nil, fmt.Errorf("akamai: invalid settings value %q: %w", kv[1], err)
		}

		switch id {
		case 1:
			settings.HeaderTableSize = uint32(val)
		case 2:
			settings.EnablePush = val != 0
		case 3:
			settings.MaxConcurrentStreams = uint32(val)
		case 4:
			settings.InitialWindowSize = uint32(val)
		case 5:
			settings.MaxFrameSize = uint32(val)
		case 6:
			settings.MaxHeaderListSize = uint32(val)
		case 9:
			settings.NoRFC7540Priorities = val != 0
		}
	}

	if p := strings.TrimSpace(parts[1]); p != "" {
		n, err := strconv.ParseUint(p, 10, 31)
		if err != nil {
			return nil, nil, fmt.Errorf("akamai: invalid window update %q: %w", parts[1], err)
		}
		settings.ConnectionWindowUpdate = uint32(n)
	}

	if p := strings.TrimSpace(parts[2]); p != "" {
		weight, err := strconv.ParseUint(p, 10, 16)
		if err != nil || weight > 256 {
			return nil, nil, fmt.Errorf("akamai: invalid priority weight %q", parts[2])
		}
		if weight > 0 {
			settings.StreamWeight = uint16(weight)
			settings.StreamExclusive = true
		}
	}

	var order []string
	if p := strings.TrimSpace(parts[3]); p != "" {
		seen := make(map[string]bool, 4)
		for _, id := range strings.Split(p, ",") {
			name, ok := pseudoIDs[strings.TrimSpace(id)]
			if !ok {
				return nil, nil, fmt.Errorf("akamai: unknown pseudo-header identifier %q", id)
			}
			if seen[name] {
				return nil, nil, fmt.Errorf("akamai: pseudo-header %q repeated", id)
			}
			seen[name] = true
			order = append(order, name)
		}
	}

	return settings, order, nil
}

// Akamai formats the preset's HTTP/2 fingerprint in the form ParseAkamai
// reads
func (p *Preset) Akamai() string {
	var settings []string
	for _, s := range p.HTTP2.Settings() {
		settings = append(settings, fmt.Sprintf("%d:%d", s.ID, s.Val))
	}
	var order []string
	for _, name := range p.PseudoHeaderOrder {
		order = append(order, name[1:2])
	}
	return fmt.Sprintf("%s|%d|%d|%s",
		strings.Join(settings, ";"),
		p.HTTP2.ConnectionWindowUpdate,
		p.HTTP2.StreamWeight,
		strings.Join(order, ","))
}
