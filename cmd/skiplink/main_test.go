package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zannhost/skiplink/fingerprint"
	"github.com/zannhost/skiplink/internal/fakesite"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func pointAt(t *testing.T, site *fakesite.Site) {
	t.Chdir(t.TempDir())
	t.Setenv("SKIPLINK_LOGGER_LEVEL", "error")
	t.Setenv("SKIPLINK_RESOLVER_SITE", site.URL())
	t.Setenv("SKIPLINK_RESOLVER_BYPASS_URL", site.BypassURL())
}

func TestResolveCommand(t *testing.T) {
	site := fakesite.Start(t)
	pointAt(t, site)

	out, err := execute(t, "resolve", site.ShortLink(), "--timeout", "5s")
	require.NoError(t, err, out)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, true, doc["status"])
	assert.Equal(t, fakesite.Destination, doc["result"].(map[string]any)["linkGo"])
}

func TestResolveCommandFailure(t *testing.T) {
	site := fakesite.Start(t)
	site.SetBypassBody(`{"status":"error","message":"captcha expired"}`)
	pointAt(t, site)

	out, err := execute(t, "resolve", site.ShortLink())
	assert.ErrorIs(t, err, errResolveFailed)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, false, doc["status"])
	errInfo := doc["error"].(map[string]any)
	assert.Equal(t, "BYPASS_FAILED", errInfo["code"])
	assert.Equal(t, "captcha expired", errInfo["message"])
}

func TestResolveCommandArgs(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := execute(t, "resolve")
	assert.Error(t, err)
}

func TestPresetsCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	out, err := execute(t, "presets")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, len(fingerprint.Available()))
	assert.Contains(t, out, "* "+fingerprint.DefaultPreset)
}

func TestPresetsHTTP2Fingerprints(t *testing.T) {
	t.Chdir(t.TempDir())
	out, err := execute(t, "presets", "--http2")
	require.NoError(t, err)
	assert.Contains(t, out, fingerprint.Get(fingerprint.DefaultPreset).Akamai())
}

func TestConfigFileFlag(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  preset: nope\n"), 0o600))

	_, err := execute(t, "--config", path, "presets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport.preset")
}

func TestFlagOverridesConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := execute(t, "--preset", "nope", "presets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nope"`)
}
