package transport

import (
	"bytes"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decompress decodes data according to a Content-Encoding header value.
// Stacked encodings ("gzip, br") are undone in reverse order.
func decompress(data []byte, encoding string) ([]byte, error) {
	if encoding == "" || len(data) == 0 {
		return data, nil
	}
	codings := strings.Split(encoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		var err error
		data, err = decodeOne(data, strings.TrimSpace(codings[i]))
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

func decodeOne(data []byte, coding string) ([]byte, error) {
	switch strings.ToLower(coding) {
	case "gzip", "x-gzip":
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)

	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))

	case "zstd":
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer decoder.Close()
		return decoder.DecodeAll(data, nil)

	case "deflate":
		// "deflate" is zlib-wrapped per RFC 9110, though some servers send raw
		if reader, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
			defer reader.Close()
			return io.ReadAll(reader)
		}
		reader := flate.NewReader(bytes.NewReader(data))
		defer reader.Close()
		return io.ReadAll(reader)

	default: // "", "identity" and unknown codings pass through
		return data, nil
	}
}
