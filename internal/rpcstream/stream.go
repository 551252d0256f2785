// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

// Package rpcstream implements MessageStream: multiplexed send/receive
// over a wire.FrameStream, dispatching received frames to a pluggable
// frame handler and emitting one Sent/Received event per drive step.
package rpcstream

import (
	"container/list"

	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
	"github.com/kadirov-dev/fiberchan/internal/wire"
)

// FrameHandler reassembles incoming frames into completed messages of
// type M and is told about per-seqno errors (send/receive failures)
// forwarded up from the stream. It is the H of spec's MessageStream<H>.
type FrameHandler[M any] interface {
	// HandleFrame consumes one non-cancelled, non-error frame. ok=false,
	// err=nil means partial progress (more frames expected); ok=true
	// means message is complete; a non-nil err fails the message (and,
	// unless the frame was end-of-message, causes subsequent frames for
	// this seqno to be dropped until the terminator arrives).
	HandleFrame(frame wire.Frame) (message M, ok bool, err error)
	// HandleError is invoked for seqnos whose Sent or Received event
	// carried an error, so client-side response handlers (or
	// server-side action consumers) can be notified.
	HandleError(seqno rpcmsg.MessageSeqNo, err error)
}

// EventKind distinguishes the two event shapes MessageStream emits.
type EventKind int

const (
	// Sent reports the outcome of writing one outgoing message.
	Sent EventKind = iota
	// Received reports the outcome of reassembling one incoming
	// message.
	Received
)

// Event is a single MessageStreamEvent as described in spec: at most
// one is handed to the caller per drive step, the rest queue.
type Event[M any] struct {
	Kind    EventKind
	SeqNo   rpcmsg.MessageSeqNo
	Message M
	Err     error
}

// IsOk reports whether this event carries a successful outcome. Per
// spec, an Ok event resets backoff and extends keep-alive on the
// owning channel.
func (e Event[M]) IsOk() bool { return e.Err == nil }

// queued pairs a pending outgoing message with its seqno.
type queued struct {
	seqno   rpcmsg.MessageSeqNo
	message rpcmsg.OutgoingMessage
}

// MessageStream multiplexes many concurrent messages over one
// wire.FrameStream, correlating frames to messages by seqno.
type MessageStream[M any, H FrameHandler[M]] struct {
	frames  wire.FrameStream
	handler H

	outgoing           *list.List // of queued
	cancelledIncoming  map[rpcmsg.MessageSeqNo]struct{}
	eventQueue         []Event[M]
}

// New wraps frames with handler to form a MessageStream.
func New[M any, H FrameHandler[M]](frames wire.FrameStream, handler H) *MessageStream[M, H] {
	return &MessageStream[M, H]{
		frames:            frames,
		handler:           handler,
		outgoing:          list.New(),
		cancelledIncoming: make(map[rpcmsg.MessageSeqNo]struct{}),
	}
}

// SendMessage enqueues message for sending under seqno. Actual frame
// writes happen on the next drive step(s).
func (s *MessageStream[M, H]) SendMessage(seqno rpcmsg.MessageSeqNo, message rpcmsg.OutgoingMessage) {
	s.outgoing.PushBack(queued{seqno: seqno, message: message})
}

// Handler returns the underlying frame handler, mutable in place (used
// to register/consume response handlers and route per-seqno errors).
func (s *MessageStream[M, H]) Handler() H { return s.handler }

// Close releases the underlying frame transport.
func (s *MessageStream[M, H]) Close() error { return s.frames.Close() }

// Done signals end-of-stream or failure of the underlying transport.
func (s *MessageStream[M, H]) Done() <-chan struct{} { return s.frames.Done() }

// Err returns the transport's terminal error once Done is closed.
func (s *MessageStream[M, H]) Err() error { return s.frames.Err() }

// Readable forwards the underlying transport's wake-up signal, letting
// a driving goroutine select on it instead of busy-polling Poll.
func (s *MessageStream[M, H]) Readable() <-chan struct{} { return s.frames.Readable() }

// Poll performs one non-blocking drive step: it drains as much of the
// send path and receive path as it can without blocking, then returns
// at most one queued event. A nil, false result means "not ready" (no
// event to report this step, but the stream is still open). A nil,
// true result (with event.Err matching Done()/Err()) is never
// returned directly — callers should check Done()/Err() themselves to
// detect end-of-stream, mirroring spec's "frame layer signals
// end-of-stream, the stream terminates cleanly" rule.
func (s *MessageStream[M, H]) Poll() (Event[M], bool) {
	s.drainSend()
	s.drainReceive()

	if len(s.eventQueue) == 0 {
		return Event[M]{}, false
	}
	ev := s.eventQueue[0]
	s.eventQueue = s.eventQueue[1:]
	return ev, true
}

func (s *MessageStream[M, H]) drainSend() {
	for s.outgoing.Len() > 0 {
		front := s.outgoing.Front()
		q := front.Value.(queued)

		outcome, err := s.frames.SendFrame(q.seqno, q.message.Header.Priority, func(buf []byte) (int, bool, error) {
			n, err := q.message.Payload.Encode(buf, true)
			return n, q.message.Payload.IsIdle(), err
		})

		if err != nil {
			s.outgoing.Remove(front)
			s.eventQueue = append(s.eventQueue, Event[M]{Kind: Sent, SeqNo: q.seqno, Err: err})
			continue
		}

		switch outcome {
		case wire.SendNoRoom:
			return
		case wire.SendProgress:
			s.outgoing.Remove(front)
			s.outgoing.PushBack(q)
		case wire.SendComplete:
			s.outgoing.Remove(front)
			s.eventQueue = append(s.eventQueue, Event[M]{Kind: Sent, SeqNo: q.seqno})
		}
	}
}

func (s *MessageStream[M, H]) drainReceive() {
	for _, frame := range s.frames.RecvFrames() {
		seqno := frame.SeqNo

		if _, cancelled := s.cancelledIncoming[seqno]; cancelled {
			if frame.EndOfMessage {
				delete(s.cancelledIncoming, seqno)
			}
			continue
		}

		if frame.IsError {
			s.eventQueue = append(s.eventQueue, Event[M]{
				Kind:  Received,
				SeqNo: seqno,
				Err:   errInvalidInput(seqno),
			})
			continue
		}

		message, ok, err := s.handler.HandleFrame(frame)
		switch {
		case err != nil:
			if !frame.EndOfMessage {
				s.cancelledIncoming[seqno] = struct{}{}
			}
			s.eventQueue = append(s.eventQueue, Event[M]{Kind: Received, SeqNo: seqno, Err: err})
		case ok:
			s.eventQueue = append(s.eventQueue, Event[M]{Kind: Received, SeqNo: seqno, Message: message})
		default:
			// partial progress, no event
		}
	}
}
