// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package rpcchannel

import (
	"context"
	"log/slog"
	"net"

	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
	"github.com/kadirov-dev/fiberchan/internal/rpcstream"
	"github.com/kadirov-dev/fiberchan/internal/wire"
)

// ServerOptions configures a ServerChannel.
type ServerOptions[M any] struct {
	Decode Decoder[M]

	// OnAction is called synchronously on the channel's drive goroutine
	// for every successfully decoded incoming request. It should not
	// block: a slow handler stalls this connection's send/receive
	// draining, the same cooperative-scheduling tradeoff the rest of
	// this core makes.
	OnAction func(Action[M])
	// OnError is called synchronously for a Received event that carries
	// an error: a decode failure or a frame the peer flagged as an error.
	OnError func(seqno rpcmsg.MessageSeqNo, err error)

	WireOptions wire.Options
	Logger      *slog.Logger
}

type replyCmd struct {
	seqno   rpcmsg.MessageSeqNo
	message rpcmsg.OutgoingMessage
}

// ServerChannel wraps one MessageStream over an accepted connection,
// lifting its events into a stream of inbound dispatch actions. Unlike
// ClientChannel, it has no reconnect logic: it is created already
// Connected and terminates when the underlying stream ends or errors.
type ServerChannel[M any] struct {
	opts    ServerOptions[M]
	logger  *slog.Logger
	handler *ServerFrameHandler[M]
	stream  *rpcstream.MessageStream[M, *ServerFrameHandler[M]]
	seqAlloc *rpcmsg.SeqNoAllocator

	replyCh chan replyCmd
	doneCh  chan struct{}
}

// NewServerChannel wraps conn as a Connected ServerChannel.
func NewServerChannel[M any](conn net.Conn, opts ServerOptions[M]) *ServerChannel[M] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server_channel")

	sc := &ServerChannel[M]{
		opts:     opts,
		logger:   logger,
		seqAlloc: rpcmsg.NewServerSeqNoAllocator(),
		replyCh:  make(chan replyCmd, 64),
		doneCh:   make(chan struct{}),
	}
	sc.handler = NewServerFrameHandler[M](opts.Decode, func(seqno rpcmsg.MessageSeqNo, err error) {
		if sc.opts.OnError != nil {
			sc.opts.OnError(seqno, err)
		}
	})
	frames := wire.NewTCPFrameStream(conn, opts.WireOptions)
	sc.stream = rpcstream.New[M](frames, sc.handler)
	return sc
}

// Reply sends message back to the peer under seqno. It is safe to call
// from any goroutine; delivery is serialized onto the drive loop.
func (sc *ServerChannel[M]) Reply(seqno rpcmsg.MessageSeqNo, message rpcmsg.OutgoingMessage) {
	select {
	case sc.replyCh <- replyCmd{seqno: seqno, message: message}:
	case <-sc.doneCh:
		sc.logger.Debug("dropping reply, channel already closed", "seqno", seqno)
	}
}

// NextSeqNo allocates a server-originated seqno, for the rare case an
// upper layer wants to push a message the peer didn't request.
func (sc *ServerChannel[M]) NextSeqNo() rpcmsg.MessageSeqNo { return sc.seqAlloc.Next() }

// Done is closed once the underlying stream ends or errors.
func (sc *ServerChannel[M]) Done() <-chan struct{} { return sc.doneCh }

// Err returns the terminal transport error, if any, once Done closes.
func (sc *ServerChannel[M]) Err() error { return sc.stream.Err() }

// Close tears down the underlying transport immediately.
func (sc *ServerChannel[M]) Close() error { return sc.stream.Close() }

// Run drives the server channel until its stream ends, errors, or ctx
// is cancelled, blocking the calling goroutine.
func (sc *ServerChannel[M]) Run(ctx context.Context) error {
	defer close(sc.doneCh)
	defer sc.stream.Close()

	sc.drainEvents()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sc.stream.Done():
			return sc.stream.Err()
		case cmd := <-sc.replyCh:
			sc.stream.SendMessage(cmd.seqno, cmd.message)
			sc.drainEvents()
		case <-sc.stream.Readable():
			sc.drainEvents()
		}
	}
}

func (sc *ServerChannel[M]) drainEvents() {
	for {
		ev, ok := sc.stream.Poll()
		if !ok {
			return
		}
		switch ev.Kind {
		case rpcstream.Sent:
			if ev.Err != nil {
				sc.logger.Warn("failed to send reply", "seqno", ev.SeqNo, "error", ev.Err)
			} else {
				sc.logger.Debug("reply sent", "seqno", ev.SeqNo)
			}
		case rpcstream.Received:
			if ev.Err != nil {
				sc.handler.HandleError(ev.SeqNo, ev.Err)
			} else if sc.opts.OnAction != nil {
				sc.opts.OnAction(Action[M]{SeqNo: ev.SeqNo, Message: ev.Message})
			}
		}
	}
}
