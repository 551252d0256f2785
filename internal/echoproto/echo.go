// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

// Package echoproto is a minimal demo request/response body used by
// cmd/rpc-client and cmd/rpc-server: a single UTF-8 text payload,
// optionally compressed by internal/codec before it reaches the wire.
package echoproto

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kadirov-dev/fiberchan/internal/codec"
	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
	"github.com/kadirov-dev/fiberchan/internal/wire"
)

// ProcedureEcho is the only procedure this demo protocol defines: the
// server echoes Text back to the caller, uppercased.
const ProcedureEcho rpcmsg.ProcedureId = 1

// Message is the decoded form of every frame this protocol exchanges.
type Message struct {
	Header rpcmsg.MessageHeader
	Text   string
}

// NewOutgoing builds an OutgoingMessage carrying text. The wire body is
// the uncompressed 13-byte header followed by text compressed under
// mode; text is pulled from a rpcmsg.Encoder and pushed through
// codec.NewCompressingPayload a chunk at a time rather than compressed
// up front, so a Decoder can read the header straight off the first
// frame without waiting on the whole body to be ready.
func NewOutgoing(header rpcmsg.MessageHeader, mode codec.Mode, text string) (rpcmsg.OutgoingMessage, error) {
	headerBuf := make([]byte, rpcmsg.HeaderSize)
	header.Write(headerBuf)

	body := codec.NewCompressingPayload(rpcmsg.NewReaderEncoder(strings.NewReader(text)), mode)

	return rpcmsg.OutgoingMessage{
		Header:  header,
		Payload: newHeaderPrefixedEncoder(headerBuf, body),
	}, nil
}

// headerPrefixedEncoder emits header in full before delegating to body,
// so a single Encoder can produce "header followed by (possibly lazy)
// body" without the header ever passing through compression.
type headerPrefixedEncoder struct {
	header []byte
	sent   int
	body   rpcmsg.Encoder
}

func newHeaderPrefixedEncoder(header []byte, body rpcmsg.Encoder) rpcmsg.Encoder {
	return &headerPrefixedEncoder{header: header, body: body}
}

func (e *headerPrefixedEncoder) Encode(buf []byte, atEOS bool) (int, error) {
	if e.sent < len(e.header) {
		n := copy(buf, e.header[e.sent:])
		e.sent += n
		return n, nil
	}
	return e.body.Encode(buf, atEOS)
}

func (e *headerPrefixedEncoder) IsIdle() bool {
	return e.sent >= len(e.header) && e.body.IsIdle()
}

func (e *headerPrefixedEncoder) RequiringBytes() rpcmsg.RequiredBytes {
	if e.sent < len(e.header) {
		return rpcmsg.Unknown
	}
	return e.body.RequiringBytes()
}

// assembly accumulates one in-flight incoming message's raw (still
// compressed) bytes until its final frame arrives.
type assembly struct {
	header rpcmsg.MessageHeader
	buf    []byte
}

// Decoder reassembles per-seqno frame fragments into a Message,
// decompressing the completed body under mode. Decode holds the
// Decoder's mutex for the whole call, so concurrent calls are
// serialized.
type Decoder struct {
	mode codec.Mode

	mu      sync.Mutex
	pending map[rpcmsg.MessageSeqNo]*assembly
}

// NewDecoder builds a Decoder expecting bodies compressed under mode.
func NewDecoder(mode codec.Mode) *Decoder {
	return &Decoder{mode: mode, pending: make(map[rpcmsg.MessageSeqNo]*assembly)}
}

// Decode implements rpcchannel.Decoder[Message].
func (d *Decoder) Decode(frame wire.Frame) (Message, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.pending[frame.SeqNo]
	if !ok {
		if len(frame.Data) < rpcmsg.HeaderSize {
			return Message{}, false, fmt.Errorf("echoproto: frame shorter than header (%d bytes)", len(frame.Data))
		}
		a = &assembly{header: rpcmsg.ReadHeader(frame.Data)}
		a.buf = append(a.buf, frame.Data[rpcmsg.HeaderSize:]...)
		d.pending[frame.SeqNo] = a
	} else {
		a.buf = append(a.buf, frame.Data...)
	}

	if !frame.EndOfMessage {
		return Message{}, false, nil
	}

	delete(d.pending, frame.SeqNo)
	plaintext, err := codec.Decompress(d.mode, a.buf)
	if err != nil {
		return Message{}, false, fmt.Errorf("echoproto: decompressing message: %w", err)
	}
	return Message{Header: a.header, Text: string(plaintext)}, true, nil
}
