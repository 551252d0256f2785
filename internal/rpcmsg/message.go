// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

// Package rpcmsg defines the wire envelope primitives shared by every
// channel in this module: message identifiers, procedure identifiers,
// the fixed 13-byte message header, and the per-channel sequence number
// allocator that correlates frames back to messages.
package rpcmsg

import "encoding/binary"

// MessageId uniquely identifies a request within a channel. A request
// and its response share the same id. Ids are allocated monotonically
// by the originator; wraparound is not handled.
type MessageId uint64

// ProcedureId names a remote procedure.
type ProcedureId uint32

// HeaderSize is the fixed wire size of MessageHeader: 8 (id) + 4
// (procedure) + 1 (priority).
const HeaderSize = 8 + 4 + 1

// MessageHeader is the fixed 13-byte envelope preceding every message's
// payload bytes.
//
// Async exists only in memory: it is never part of the serialized
// 13-byte prefix and Read always reports it as false. It is kept as
// an in-memory field so callers can tag a message without changing
// the wire shape, not because it is meant to eventually be
// serialized.
type MessageHeader struct {
	Id        MessageId
	Procedure ProcedureId
	Priority  uint8
	Async     bool
}

// Write encodes h into buf[0:HeaderSize]. buf must be at least
// HeaderSize bytes.
func (h MessageHeader) Write(buf []byte) {
	binary.BigEndian.PutUint64(buf, uint64(h.Id))
	binary.BigEndian.PutUint32(buf[8:], uint32(h.Procedure))
	buf[12] = h.Priority
}

// ReadHeader decodes a MessageHeader from buf[0:HeaderSize]. Async is
// always false: it is not part of the wire prefix.
func ReadHeader(buf []byte) MessageHeader {
	return MessageHeader{
		Id:        MessageId(binary.BigEndian.Uint64(buf)),
		Procedure: ProcedureId(binary.BigEndian.Uint32(buf[8:])),
		Priority:  buf[12],
		Async:     false,
	}
}

// MessageSeqNo is a per-channel frame correlation key, disjoint from
// MessageId. Client-originated and server-originated seqnos are
// allocated from disjoint halves of the uint64 space so a single
// multiplexed connection can carry both without collision.
type MessageSeqNo uint64

// seqNoServerBit, once set, marks a seqno as server-originated. This
// partitions the 64-bit space into two disjoint monotonic halves.
const seqNoServerBit = uint64(1) << 63

// NewClientSeqNoAllocator returns an allocator whose Next() values
// start at 0 and never set the server bit.
func NewClientSeqNoAllocator() *SeqNoAllocator {
	return &SeqNoAllocator{next: 0, limit: seqNoServerBit}
}

// NewServerSeqNoAllocator returns an allocator whose Next() values
// start at the server half of the space.
func NewServerSeqNoAllocator() *SeqNoAllocator {
	return &SeqNoAllocator{next: seqNoServerBit, limit: 0}
}

// SeqNoAllocator hands out monotonically increasing MessageSeqNo values
// from one half of the space. Overflow within a half is a fatal
// invariant violation, not a silent wraparound: Next panics if
// allocation would cross into the other half.
type SeqNoAllocator struct {
	next  uint64
	limit uint64 // exclusive upper bound; 0 means the half runs to the top of the uint64 space
}

// Next returns the current value and post-increments the allocator.
func (a *SeqNoAllocator) Next() MessageSeqNo {
	if a.limit != 0 && a.next >= a.limit {
		panic("rpcmsg: seqno space exhausted for this half of the range")
	}
	if a.limit == 0 && a.next < seqNoServerBit {
		// The server half's counter wrapped past the top of the range.
		panic("rpcmsg: seqno space exhausted for this half of the range")
	}
	n := a.next
	a.next++
	return MessageSeqNo(n)
}

// MessageIdAllocator mirrors SeqNoAllocator but for application-level ids,
// which are not partitioned: request and response share one id.
type MessageIdAllocator struct {
	next MessageId
}

// NewMessageIdAllocator returns an allocator starting at 0.
func NewMessageIdAllocator() *MessageIdAllocator {
	return &MessageIdAllocator{}
}

// Next returns the current id and post-increments the allocator.
func (a *MessageIdAllocator) Next() MessageId {
	n := a.next
	a.next++
	return n
}
