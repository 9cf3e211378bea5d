package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailable(t *testing.T) {
	names := Available()
	assert.Equal(t, []string{"chrome-131", "chrome-132-android", "firefox-120"}, names)
	for _, name := range names {
		assert.True(t, Has(name), name)
	}
	assert.False(t, Has("netscape-4"))
}

func TestGetFallsBackToDefault(t *testing.T) {
	p := Get("netscape-4")
	require.NotNil(t, p)
	assert.Equal(t, DefaultPreset, p.Name)
}

func TestPresetsAreComplete(t *testing.T) {
	for _, name := range Available() {
		t.Run(name, func(t *testing.T) {
			p := Get(name)
			assert.Equal(t, name, p.Name)
			assert.NotEmpty(t, p.UserAgent)
			assert.NotEmpty(t, p.ClientHelloID.Client)

			doc := p.DocumentHeaders()
			assert.Equal(t, "navigate", doc["Sec-Fetch-Mode"])
			assert.Equal(t, p.UserAgent, doc["User-Agent"])

			api := p.APIHeaders()
			assert.Equal(t, "cors", api["Sec-Fetch-Mode"])
			assert.Contains(t, api["Accept"], "application/json")
		})
	}
}

func TestHeadersAreCopies(t *testing.T) {
	p := Get(DefaultPreset)
	h := p.DocumentHeaders()
	h["Accept"] = "changed"
	assert.NotEqual(t, "changed", p.DocumentHeaders()["Accept"])
}

func TestAndroidPresetMatchesCapturedFlow(t *testing.T) {
	p := Chrome132Android()
	doc := p.DocumentHeaders()
	assert.Equal(t, "?1", doc["sec-ch-ua-mobile"])
	assert.Equal(t, `"Android"`, doc["sec-ch-ua-platform"])
	assert.Equal(t, "ms-MY,ms;q=0.9,en-US;q=0.8,en;q=0.7", doc["Accept-Language"])
	assert.Contains(t, p.UserAgent, "Android 10")
}
