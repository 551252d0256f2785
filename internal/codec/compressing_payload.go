// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
)

// CompressionMode is Mode under the name SPEC_FULL.md's codec section
// uses; both refer to the same gzip/zstd/none selector.
type CompressionMode = Mode

// flusher is satisfied by both *pgzip.Writer and *zstd.Encoder: a
// WriteCloser that can also push pending compressed bytes out without
// finalizing the stream.
type flusher interface {
	io.WriteCloser
	Flush() error
}

// compressingPayload wraps an inner rpcmsg.Encoder so its plaintext is
// pulled incrementally, one Encode call at a time, and pushed through a
// streaming compressor instead of requiring the whole plaintext already
// sitting in memory. Nothing is compressed until the first Encode call.
type compressingPayload struct {
	inner rpcmsg.Encoder
	mode  Mode

	started    bool
	innerIdle  bool
	compressed bytes.Buffer
	pullBuf    []byte
	cw         flusher
	err        error
}

// NewCompressingPayload wraps inner so encode pulls from a pgzip or
// zstd writer instead of inner directly, never materializing the full
// plaintext or the full compressed output up front. mode == None
// returns inner unchanged since there is nothing to wrap.
func NewCompressingPayload(inner rpcmsg.Encoder, mode CompressionMode) rpcmsg.Encoder {
	if mode == None {
		return inner
	}
	return &compressingPayload{inner: inner, mode: mode, pullBuf: make([]byte, 32*1024)}
}

func (c *compressingPayload) start() {
	c.started = true
	switch c.mode {
	case Gzip:
		c.cw = pgzip.NewWriter(&c.compressed)
	case Zstd:
		w, err := zstd.NewWriter(&c.compressed)
		if err != nil {
			c.err = fmt.Errorf("codec: zstd writer init: %w", err)
			return
		}
		c.cw = w
	default:
		c.err = fmt.Errorf("codec: unknown compression mode %q", c.mode)
	}
}

// Encode pulls one chunk of plaintext from inner, feeds it through the
// compressor, and drains whatever compressed bytes are now available
// into buf. A single call may pull from inner, write to the
// compressor, and still return 0 bytes if the compressor is still
// buffering internally — the caller's drive loop simply calls again.
func (c *compressingPayload) Encode(buf []byte, atEOS bool) (int, error) {
	if !c.started {
		c.start()
	}
	if c.err != nil {
		return 0, c.err
	}

	if n := c.drain(buf); n > 0 {
		return n, nil
	}
	if c.innerIdle {
		return 0, nil
	}

	n, err := c.inner.Encode(c.pullBuf, atEOS)
	if err != nil {
		c.err = err
		return 0, err
	}
	if n > 0 {
		if _, werr := c.cw.Write(c.pullBuf[:n]); werr != nil {
			c.err = fmt.Errorf("codec: compress write: %w", werr)
			return 0, c.err
		}
	}

	if c.inner.IsIdle() {
		c.innerIdle = true
		if err := c.cw.Close(); err != nil {
			c.err = fmt.Errorf("codec: compress close: %w", err)
			return 0, c.err
		}
	} else if atEOS {
		if err := c.cw.Flush(); err != nil {
			c.err = fmt.Errorf("codec: compress flush: %w", err)
			return 0, c.err
		}
	}

	return c.drain(buf), nil
}

func (c *compressingPayload) drain(buf []byte) int {
	if c.compressed.Len() == 0 {
		return 0
	}
	n, _ := c.compressed.Read(buf)
	return n
}

func (c *compressingPayload) IsIdle() bool {
	return c.started && c.err == nil && c.innerIdle && c.compressed.Len() == 0
}

func (c *compressingPayload) RequiringBytes() rpcmsg.RequiredBytes {
	return rpcmsg.Unknown
}
