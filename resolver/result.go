package resolver

import (
	"encoding/json"
	"maps"
)

// ResolvedLink is the go response with the recovered destination attached.
// It marshals as one flat object: every upstream field plus "linkGo".
type ResolvedLink struct {
	LinkGo string
	Fields map[string]any

	// Strategy names the decoder strategy that produced LinkGo
	Strategy string
}

func (r *ResolvedLink) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	maps.Copy(out, r.Fields)
	out["linkGo"] = r.LinkGo
	return json.Marshal(out)
}

func (r *ResolvedLink) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if link, ok := fields["linkGo"].(string); ok {
		r.LinkGo = link
	}
	delete(fields, "linkGo")
	r.Fields = fields
	return nil
}
