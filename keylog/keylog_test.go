package keylog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenExplicitPath(t *testing.T) {
	t.Setenv(EnvVar, "")
	path := filepath.Join(t.TempDir(), "keys.log")

	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := w.Write([]byte("CLIENT_RANDOM aa bb\n")); err != nil {
		t.Fatal(err)
	}
	w.Close()

	// appends on reopen
	w, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("CLIENT_RANDOM cc dd\n"))
	w.Close()

	data, _ := os.ReadFile(path)
	if got := string(data); got != "CLIENT_RANDOM aa bb\nCLIENT_RANDOM cc dd\n" {
		t.Errorf("file = %q", got)
	}
}

func TestOpenFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.log")
	t.Setenv(EnvVar, path)

	w, err := Open("")
	if err != nil || w == nil {
		t.Fatalf("Open() = %v, %v", w, err)
	}
	w.Close()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("env file not created: %v", err)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Setenv(EnvVar, "")
	w, err := Open("")
	if w != nil || err != nil {
		t.Errorf("Open() = %v, %v; want nil, nil", w, err)
	}
}
