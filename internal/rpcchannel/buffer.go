// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package rpcchannel

import (
	"context"
	"errors"
	"fmt"

	"github.com/kadirov-dev/fiberchan/internal/rpcerr"
	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
)

// ErrBufferFull is returned by ConnectingBuffer.Enqueue when the
// buffer has reached its capacity and no overflow store is configured.
var ErrBufferFull = errors.New("rpcchannel: connecting buffer is full")

// BufferedMessage is a message submitted while the client channel is
// in the Connecting state, retained until the connection resolves.
type BufferedMessage[M any] struct {
	SeqNo   rpcmsg.MessageSeqNo
	Message rpcmsg.OutgoingMessage
	Handler ResponseHandler[M] // nil if the caller didn't register one
}

// OverflowStore spills buffered messages to durable storage once the
// in-memory ConnectingBuffer is full, resolving the "unbounded buffer"
// open question from an external store rather than failing callers
// synchronously. Implementations are expected to be keyed by an
// opaque string id that Spill returns and Fetch consumes.
type OverflowStore interface {
	Spill(ctx context.Context, channelID string, seqno rpcmsg.MessageSeqNo, encoded []byte) (key string, err error)
	Fetch(ctx context.Context, key string) (encoded []byte, err error)
}

// ConnectingBuffer bounds the Connecting-state message buffer. Beyond
// its capacity, Enqueue fails synchronously with ErrBufferFull;
// ClientChannel routes that failure to an OverflowStore when one is
// configured instead of surfacing it to the caller.
type ConnectingBuffer[M any] struct {
	capacity int
	items    []BufferedMessage[M]
}

// NewConnectingBuffer returns an empty buffer bounded at capacity. A
// non-positive capacity means unbounded, matching spec's original
// "bounded only by caller discipline" default — callers should prefer
// a positive capacity to get the Unavailable-on-overflow behavior.
func NewConnectingBuffer[M any](capacity int) *ConnectingBuffer[M] {
	return &ConnectingBuffer[M]{capacity: capacity}
}

// Len reports the number of buffered messages.
func (b *ConnectingBuffer[M]) Len() int { return len(b.items) }

// Enqueue appends msg to the buffer, returning ErrBufferFull if the
// buffer is at capacity.
func (b *ConnectingBuffer[M]) Enqueue(msg BufferedMessage[M]) error {
	if b.capacity > 0 && len(b.items) >= b.capacity {
		return fmt.Errorf("%w (capacity %d): %w", ErrBufferFull, b.capacity, rpcerr.New(rpcerr.Unavailable, ErrBufferFull))
	}
	b.items = append(b.items, msg)
	return nil
}

// Drain removes and returns all buffered messages in insertion order,
// leaving the buffer empty. Called on transition into Connected.
func (b *ConnectingBuffer[M]) Drain() []BufferedMessage[M] {
	items := b.items
	b.items = nil
	return items
}
