package client

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const acceptEncoding = "gzip, deflate, br, zstd"

// maxBodySize bounds how much of a response is read.
const maxBodySize = 16 << 20

// decodeBody reverses the Content-Encoding of a response body.
func decodeBody(encoding string, data []byte) ([]byte, error) {
	var reader io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return data, nil
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("client: create gzip reader: %w", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	case "deflate":
		fl := flate.NewReader(bytes.NewReader(data))
		defer func() { _ = fl.Close() }()
		reader = fl
	case "br":
		reader = brotli.NewReader(bytes.NewReader(data))
	case "zstd":
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("client: create zstd reader: %w", err)
		}
		defer dec.Close()
		reader = dec
	default:
		return nil, fmt.Errorf("client: unsupported content encoding %q", encoding)
	}
	out, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("client: decompress %s body: %w", encoding, err)
	}
	return out, nil
}
