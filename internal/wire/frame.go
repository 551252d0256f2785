// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

// Package wire implements the frame transport MessageStream is
// parameterized over: a length-prefixed frame codec plus a concrete
// TCP-backed FrameStream with backpressure, and the priority-to-DSCP
// marking applied at the socket boundary.
//
// The frame layer's own chunking is deliberately simple: each frame is
// [seqno u64 BE][flags u8][length u32 BE][payload]. flags bit 0 is
// end-of-message, bit 1 is error.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
)

const (
	flagEndOfMessage byte = 1 << 0
	flagError        byte = 1 << 1
)

// frameHeaderSize is the fixed size of a frame's prefix: 8 (seqno) + 1
// (flags) + 4 (length).
const frameHeaderSize = 8 + 1 + 4

// DefaultMaxFramePayload bounds how many payload bytes a single frame
// carries before a message's encoder output must be split across
// multiple frames.
const DefaultMaxFramePayload = 16 * 1024

// Frame is one transport-level unit: a slice of one message's bytes,
// tagged with the seqno it belongs to and the end-of-message/error
// flags.
type Frame struct {
	SeqNo        rpcmsg.MessageSeqNo
	EndOfMessage bool
	IsError      bool
	Data         []byte
}

func (f Frame) encodedLen() int { return frameHeaderSize + len(f.Data) }

func (f Frame) encode(buf []byte) {
	binary.BigEndian.PutUint64(buf, uint64(f.SeqNo))
	var flags byte
	if f.EndOfMessage {
		flags |= flagEndOfMessage
	}
	if f.IsError {
		flags |= flagError
	}
	buf[8] = flags
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(f.Data)))
	copy(buf[frameHeaderSize:], f.Data)
}

// readFrame reads one frame from r. It returns io.EOF (unwrapped) only
// when zero bytes could be read at a frame boundary; any other error
// reading a partial frame is wrapped.
func readFrame(r io.Reader) (Frame, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("reading frame header: %w", err)
	}
	seqno := rpcmsg.MessageSeqNo(binary.BigEndian.Uint64(hdr[0:8]))
	flags := hdr[8]
	length := binary.BigEndian.Uint32(hdr[9:13])

	data := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return Frame{}, fmt.Errorf("reading frame payload: %w", err)
		}
	}
	return Frame{
		SeqNo:        seqno,
		EndOfMessage: flags&flagEndOfMessage != 0,
		IsError:      flags&flagError != 0,
		Data:         data,
	}, nil
}

// SendOutcome is the tri-state result of attempting to hand one
// message's next frame to the transport.
type SendOutcome int

const (
	// SendNoRoom means the transport's outgoing queue has no room right
	// now; the caller should re-queue the message at the front and stop
	// sending for this drive step.
	SendNoRoom SendOutcome = iota
	// SendProgress means a frame was queued but the message is not yet
	// fully sent; the caller should re-queue at the back for fairness.
	SendProgress
	// SendComplete means the message's final frame was queued.
	SendComplete
)

// FillFunc produces the bytes of the next frame for a message. It
// returns the number of bytes written into data (capacity bounded by
// the frame stream's max payload) and whether the encoder is idle
// after this call (i.e. this is the last frame of the message).
type FillFunc func(data []byte) (n int, idle bool, err error)

// FrameStream is the external collaborator MessageStream is
// parameterized over. It accepts outgoing frame writes with
// backpressure and surfaces inbound frames for draining, as a
// swappable transport boundary independent of the core state machine.
type FrameStream interface {
	// SendFrame asks the transport to accept the next frame of the
	// message at seqno, with priority used only for best-effort DSCP
	// marking (never for core reordering). fill is called at most once.
	SendFrame(seqno rpcmsg.MessageSeqNo, priority byte, fill FillFunc) (SendOutcome, error)
	// RecvFrames drains all frames currently buffered from the peer,
	// without blocking.
	RecvFrames() []Frame
	// Done is closed when the stream has reached end-of-stream (peer
	// closed cleanly) or failed (see Err).
	Done() <-chan struct{}
	// Readable signals that RecvFrames may have new frames, or that
	// outgoing queue room may have freed up since the last SendNoRoom.
	// It is a best-effort wake-up, not a precise edge count: a caller
	// should drain fully (RecvFrames/SendFrame until nothing changes)
	// on every signal rather than assume one signal means one frame.
	Readable() <-chan struct{}
	// Err returns the terminal error, if any, once Done is closed. A nil
	// Err with Done closed means clean end-of-stream.
	Err() error
	// Close releases the underlying transport.
	Close() error
}
