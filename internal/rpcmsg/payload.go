// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package rpcmsg

import "io"

// RequiredBytes describes how many more bytes an Encoder expects to
// emit. A negative value means "unknown remainder".
type RequiredBytes int64

// Unknown is the RequiredBytes sentinel for "the remainder is not yet
// known" (e.g. a lazy encoder whose item hasn't started yet).
const Unknown RequiredBytes = -1

// Encoder is a streaming, resumable payload producer. Encode is called
// repeatedly by the owning MessageStream's drive step, each time with a
// fresh buffer to fill; the encoder must not block.
type Encoder interface {
	// Encode writes as many bytes as it can into buf and returns the
	// count written. atEOS signals the caller will not provide any more
	// buffer after this call in the current drive step; encoders that
	// need to flush trailing state (e.g. a compressor) should do so when
	// atEOS is true. Encode may return 0 when idle.
	Encode(buf []byte, atEOS bool) (int, error)
	// IsIdle reports whether the encoder has emitted its entire output.
	IsIdle() bool
	// RequiringBytes hints at the remaining output size, or Unknown.
	RequiringBytes() RequiredBytes
}

// OutgoingMessage pairs a header with its streaming payload encoder.
type OutgoingMessage struct {
	Header  MessageHeader
	Payload Encoder
}

// lazyEncoder wraps an inner Encoder plus a one-shot start function; on
// first Encode call it runs start(inner) before delegating. This models
// the "lazy" OutgoingPayload variant: a payload constructed with a
// pending item that is only bound to its encoder on first use.
type lazyEncoder struct {
	inner   Encoder
	start   func(Encoder) error
	started bool
	err     error
}

// NewLazyEncoder returns an Encoder that defers start(inner) until the
// first Encode call. RequiringBytes reports Unknown until then.
func NewLazyEncoder(inner Encoder, start func(Encoder) error) Encoder {
	return &lazyEncoder{inner: inner, start: start}
}

func (l *lazyEncoder) Encode(buf []byte, atEOS bool) (int, error) {
	if !l.started {
		l.started = true
		if err := l.start(l.inner); err != nil {
			l.err = err
			return 0, err
		}
	}
	if l.err != nil {
		return 0, l.err
	}
	return l.inner.Encode(buf, atEOS)
}

func (l *lazyEncoder) IsIdle() bool {
	return l.started && l.err == nil && l.inner.IsIdle()
}

func (l *lazyEncoder) RequiringBytes() RequiredBytes {
	if !l.started {
		return Unknown
	}
	return l.inner.RequiringBytes()
}

// readerEncoder adapts an io.Reader (e.g. a bytes.Reader or the read
// side of a compressing pipe) into an Encoder whose RequiringBytes is
// Unknown unless the reader also exposes a Len() int method.
type readerEncoder struct {
	r    io.Reader
	done bool
}

// NewReaderEncoder wraps r as an Encoder that is idle once r returns
// io.EOF.
func NewReaderEncoder(r io.Reader) Encoder {
	return &readerEncoder{r: r}
}

func (e *readerEncoder) Encode(buf []byte, atEOS bool) (int, error) {
	if e.done {
		return 0, nil
	}
	n, err := e.r.Read(buf)
	if err == io.EOF {
		e.done = true
		return n, nil
	}
	if err != nil {
		return n, err
	}
	return n, nil
}

func (e *readerEncoder) IsIdle() bool { return e.done }

func (e *readerEncoder) RequiringBytes() RequiredBytes {
	if e.done {
		return 0
	}
	if lr, ok := e.r.(interface{ Len() int }); ok {
		return RequiredBytes(lr.Len())
	}
	return Unknown
}
