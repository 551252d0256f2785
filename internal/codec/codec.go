// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

// Package codec compresses and decompresses message payload bytes
// before they reach the wire, using the pgzip/zstd pair for bulk
// payload compression.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Mode names a compression codec. The zero value is Mode("") which
// Compress/Decompress treat as a pass-through (no compression).
type Mode string

const (
	None Mode = ""
	Gzip Mode = "gzip"
	Zstd Mode = "zstd"
)

// ParseMode validates a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case None, Gzip, Zstd:
		return Mode(s), nil
	case "none":
		return None, nil
	default:
		return "", fmt.Errorf("codec: unknown compression mode %q", s)
	}
}

// Compress returns plaintext compressed under mode. None returns
// plaintext unchanged.
func Compress(mode Mode, plaintext []byte) ([]byte, error) {
	switch mode {
	case None:
		return plaintext, nil
	case Gzip:
		var buf bytes.Buffer
		w := pgzip.NewWriter(&buf)
		if _, err := w.Write(plaintext); err != nil {
			w.Close()
			return nil, fmt.Errorf("codec: gzip compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("codec: gzip flush: %w", err)
		}
		return buf.Bytes(), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("codec: zstd writer init: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(plaintext, nil), nil
	default:
		return nil, fmt.Errorf("codec: unknown compression mode %q", mode)
	}
}

// Decompress reverses Compress. None returns compressed unchanged.
func Decompress(mode Mode, compressed []byte) ([]byte, error) {
	switch mode {
	case None:
		return compressed, nil
	case Gzip:
		r, err := pgzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("codec: gzip reader init: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("codec: gzip decompress: %w", err)
		}
		return out, nil
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("codec: zstd reader init: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("codec: zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unknown compression mode %q", mode)
	}
}
