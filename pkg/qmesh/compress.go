package qmesh

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Decompress returns the raw tile bytes of a payload that may be gzip or zstd compressed.
// Uncompressed payloads are returned unchanged.
func Decompress(payload []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(payload, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("opening gzip payload: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("reading gzip payload: %w", err)
		}
		return out, nil

	case bytes.HasPrefix(payload, zstdMagic):
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer zr.Close()
		out, err := zr.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("reading zstd payload: %w", err)
		}
		return out, nil

	default:
		return payload, nil
	}
}

// CompressZstd compresses raw tile bytes with zstd.
func CompressZstd(raw []byte) ([]byte, error) {
	zw, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer zw.Close()
	return zw.EncodeAll(raw, nil), nil
}

// CompressGzip compresses raw tile bytes with gzip, as static terrain servers usually store them.
func CompressGzip(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("writing gzip payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip payload: %w", err)
	}
	return buf.Bytes(), nil
}
