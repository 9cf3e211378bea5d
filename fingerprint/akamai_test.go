package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAkamaiChrome(t *testing.T) {
	s, order, err := ParseAkamai("1:65536;2:0;4:6291456;6:262144|15663105|0|m,a,s,p")
	require.NoError(t, err)

	assert.Equal(t, uint32(65536), s.HeaderTableSize)
	assert.False(t, s.EnablePush)
	assert.Equal(t, uint32(6291456), s.InitialWindowSize)
	assert.Equal(t, uint32(262144), s.MaxHeaderListSize)
	assert.Zero(t, s.MaxFrameSize)
	assert.Equal(t, uint32(15663105), s.ConnectionWindowUpdate)
	assert.Zero(t, s.StreamWeight)
	assert.Equal(t, []string{":method", ":authority", ":scheme", ":path"}, order)
}

func TestParseAkamaiPriority(t *testing.T) {
	s, _, err := ParseAkamai("1:65536;5:16384;9:1|12517377|42|m,p,a,s")
	require.NoError(t, err)
	assert.Equal(t, uint32(16384), s.MaxFrameSize)
	assert.True(t, s.NoRFC7540Priorities)
	assert.Equal(t, uint16(42), s.StreamWeight)
	assert.True(t, s.StreamExclusive)
}

func TestParseAkamaiErrors(t *testing.T) {
	tests := []struct {
		name   string
		akamai string
	}{
		{"too few fields", "1:65536|0|m,a,s,p"},
		{"bad pair", "1=65536|0|0|m,a,s,p"},
		{"bad id", "x:1|0|0|m"},
		{"value overflow", "4:99999999999|0|0|m"},
		{"bad window", "1:1|big|0|m"},
		{"weight too large", "1:1|0|300|m"},
		{"unknown pseudo", "1:1|0|0|m,x"},
		{"repeated pseudo", "1:1|0|0|m,m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseAkamai(tt.akamai)
			assert.Error(t, err)
		})
	}
}

func TestPresetAkamaiRoundTrip(t *testing.T) {
	for _, name := range Available() {
		t.Run(name, func(t *testing.T) {
			p := Get(name)
			s, order, err := ParseAkamai(p.Akamai())
			require.NoError(t, err)
			assert.Equal(t, p.HTTP2.Settings(), s.Settings())
			assert.Equal(t, p.HTTP2.ConnectionWindowUpdate, s.ConnectionWindowUpdate)
			assert.Equal(t, p.HTTP2.StreamWeight, s.StreamWeight)
			assert.Equal(t, p.PseudoHeaderOrder, order)
		})
	}
}

func TestChromeAkamai(t *testing.T) {
	assert.Equal(t, "1:65536;2:0;4:6291456;6:262144|15663105|256|m,a,s,p", Chrome131().Akamai())
	assert.Equal(t, "1:65536;2:0;4:131072;5:16384|12517377|42|m,p,a,s", Firefox120().Akamai())
}

func TestPresetOrdersAreCopies(t *testing.T) {
	p := Get(DefaultPreset)
	p.HeaderOrder[0] = "changed"
	p.PseudoHeaderOrder[0] = "changed"
	q := Get(DefaultPreset)
	assert.NotEqual(t, "changed", q.HeaderOrder[0])
	assert.NotEqual(t, "changed", q.PseudoHeaderOrder[0])
}
