// Package keylog opens TLS key log files in the SSLKEYLOGFILE format read by
// Wireshark.
package keylog

import (
	"io"
	"os"
)

// EnvVar names the conventional key log environment variable
const EnvVar = "SSLKEYLOGFILE"

// Open opens path for appending key log lines. An empty path falls back to
// $SSLKEYLOGFILE; when both are empty Open returns nil and no error.
// The caller closes the returned writer.
func Open(path string) (io.WriteCloser, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return nil, nil
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
}
