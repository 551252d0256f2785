// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package rpcchannel

import (
	"sync"

	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
	"github.com/kadirov-dev/fiberchan/internal/wire"
)

// ResponseHandler receives the outcome of one request: either its
// decoded response or an error (Unavailable, a send failure for its
// seqno, or a decode failure reported by the frame handler). Handlers
// still registered when the connection is lost or the channel stops are
// discarded without being called.
type ResponseHandler[M any] interface {
	HandleResponse(seqno rpcmsg.MessageSeqNo, message M)
	HandleError(seqno rpcmsg.MessageSeqNo, err error)
}

// ResponseHandlerFunc adapts two plain functions into a ResponseHandler.
type ResponseHandlerFunc[M any] struct {
	OnResponse func(seqno rpcmsg.MessageSeqNo, message M)
	OnError    func(seqno rpcmsg.MessageSeqNo, err error)
}

func (f ResponseHandlerFunc[M]) HandleResponse(seqno rpcmsg.MessageSeqNo, message M) {
	if f.OnResponse != nil {
		f.OnResponse(seqno, message)
	}
}

func (f ResponseHandlerFunc[M]) HandleError(seqno rpcmsg.MessageSeqNo, err error) {
	if f.OnError != nil {
		f.OnError(seqno, err)
	}
}

// Decoder reassembles one incoming frame into a complete message, with
// the same Ok(None)/Ok(Some)/Err shape MessageStream's FrameHandler
// expects.
type Decoder[M any] func(frame wire.Frame) (message M, ok bool, err error)

// ClientFrameHandler is the client-side incoming-frame handler: it
// decodes response frames and owns the seqno-keyed response-handler
// registry. Registration only ever happens while Connected (directly,
// or during buffer flush on transition into Connected).
type ClientFrameHandler[M any] struct {
	decode Decoder[M]

	mu       sync.Mutex
	handlers map[rpcmsg.MessageSeqNo]ResponseHandler[M]
}

// NewClientFrameHandler builds a ClientFrameHandler around decode.
func NewClientFrameHandler[M any](decode Decoder[M]) *ClientFrameHandler[M] {
	return &ClientFrameHandler[M]{
		decode:   decode,
		handlers: make(map[rpcmsg.MessageSeqNo]ResponseHandler[M]),
	}
}

// HandleFrame implements rpcstream.FrameHandler.
func (h *ClientFrameHandler[M]) HandleFrame(frame wire.Frame) (M, bool, error) {
	return h.decode(frame)
}

// RegisterResponseHandler associates handler with seqno. A response
// arrives at most once per seqno; once it does (or once an error is
// reported for that seqno) the handler is removed.
func (h *ClientFrameHandler[M]) RegisterResponseHandler(seqno rpcmsg.MessageSeqNo, handler ResponseHandler[M]) {
	if handler == nil {
		return
	}
	h.mu.Lock()
	h.handlers[seqno] = handler
	h.mu.Unlock()
}

// DispatchResponse is called by ClientChannel when a Received{Ok}
// event arrives, consuming and invoking the registered handler for
// seqno, if any.
func (h *ClientFrameHandler[M]) DispatchResponse(seqno rpcmsg.MessageSeqNo, message M) {
	h.mu.Lock()
	handler, ok := h.handlers[seqno]
	if ok {
		delete(h.handlers, seqno)
	}
	h.mu.Unlock()
	if ok {
		handler.HandleResponse(seqno, message)
	}
}

// HandleError implements rpcstream.FrameHandler: forwards seqno's
// error to its registered handler (if any), consuming it.
func (h *ClientFrameHandler[M]) HandleError(seqno rpcmsg.MessageSeqNo, err error) {
	h.mu.Lock()
	handler, ok := h.handlers[seqno]
	if ok {
		delete(h.handlers, seqno)
	}
	h.mu.Unlock()
	if ok {
		handler.HandleError(seqno, err)
	}
}

// DiscardAll drops every registered handler without notification on a
// Connected -> Wait/Connecting transition: handlers held by the
// abandoned MessageStream are silently discarded rather than notified.
func (h *ClientFrameHandler[M]) DiscardAll() {
	h.mu.Lock()
	h.handlers = make(map[rpcmsg.MessageSeqNo]ResponseHandler[M])
	h.mu.Unlock()
}

// Action is what a ServerFrameHandler surfaces to the dispatch layer
// for each successfully decoded incoming request.
type Action[M any] struct {
	SeqNo   rpcmsg.MessageSeqNo
	Message M
}

// ServerFrameHandler is the server-side incoming-frame handler: it has
// no response registry (the server doesn't originate requests in this
// core), only decode and error forwarding. The onError callback receives
// per-seqno errors for upper layers that want to log or react to them.
type ServerFrameHandler[M any] struct {
	decode    Decoder[M]
	errorSink func(seqno rpcmsg.MessageSeqNo, err error)
}

// NewServerFrameHandler builds a ServerFrameHandler around decode.
// onError may be nil.
func NewServerFrameHandler[M any](decode Decoder[M], onError func(seqno rpcmsg.MessageSeqNo, err error)) *ServerFrameHandler[M] {
	return &ServerFrameHandler[M]{decode: decode, errorSink: onError}
}

func (h *ServerFrameHandler[M]) HandleFrame(frame wire.Frame) (M, bool, error) {
	return h.decode(frame)
}

func (h *ServerFrameHandler[M]) HandleError(seqno rpcmsg.MessageSeqNo, err error) {
	if h.errorSink != nil {
		h.errorSink(seqno, err)
	}
}
