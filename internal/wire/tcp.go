// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package wire

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
	"golang.org/x/time/rate"
)

// outgoingQueueDepth bounds the number of encoded frames buffered
// between the cooperative send path and the writer goroutine. Once
// full, SendFrame reports SendNoRoom rather than blocking, which is
// what lets MessageStream's drive step stay non-blocking.
const outgoingQueueDepth = 256

// incomingQueueDepth bounds frames read ahead of the drive step
// draining them via RecvFrames.
const incomingQueueDepth = 256

// Options configures a TCPFrameStream.
type Options struct {
	MaxFramePayload int
	PriorityDSCP    PriorityDSCPTable // priority -> DSCP name; nil uses DefaultPriorityDSCP
	ThrottleBytesPerSec int64
	Logger          *slog.Logger
}

// TCPFrameStream is the concrete FrameStream implementation: one
// reader goroutine parsing frames off conn, one writer goroutine
// draining a bounded queue of encoded frames into conn (optionally
// through a token-bucket throttle), and best-effort DSCP marking
// driven by each outgoing message's priority.
type TCPFrameStream struct {
	conn   net.Conn
	logger *slog.Logger

	maxFramePayload int
	priorityDSCP    PriorityDSCPTable

	outCh chan []byte
	inCh  chan Frame

	doneCh   chan struct{}
	doneOnce sync.Once
	err      error
	errMu    sync.Mutex

	notifyCh chan struct{}

	lastDSCPPriority int
	haveAppliedDSCP  bool

	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewTCPFrameStream wraps conn as a FrameStream. opts.MaxFramePayload
// defaults to DefaultMaxFramePayload when zero.
func NewTCPFrameStream(conn net.Conn, opts Options) *TCPFrameStream {
	maxPayload := opts.MaxFramePayload
	if maxPayload <= 0 {
		maxPayload = DefaultMaxFramePayload
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &TCPFrameStream{
		conn:             conn,
		logger:           logger.With("component", "frame_stream"),
		maxFramePayload:  maxPayload,
		priorityDSCP:     opts.PriorityDSCP,
		outCh:            make(chan []byte, outgoingQueueDepth),
		inCh:             make(chan Frame, incomingQueueDepth),
		doneCh:           make(chan struct{}),
		notifyCh:         make(chan struct{}, 1),
		lastDSCPPriority: -1,
		ctx:              ctx,
		cancel:           cancel,
	}
	if opts.ThrottleBytesPerSec > 0 {
		burst := int(opts.ThrottleBytesPerSec)
		if minBurst := maxPayload + frameHeaderSize; burst < minBurst {
			burst = minBurst
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.ThrottleBytesPerSec), burst)
	}

	go s.readLoop()
	go s.writeLoop()

	return s
}

// SendFrame implements FrameStream. The fill callback is only invoked
// once room in the outgoing queue has been confirmed, so a message's
// encoder is never asked to produce bytes that end up discarded.
func (s *TCPFrameStream) SendFrame(seqno rpcmsg.MessageSeqNo, priority uint8, fill FillFunc) (SendOutcome, error) {
	if len(s.outCh) >= cap(s.outCh) {
		return SendNoRoom, nil
	}

	buf := make([]byte, s.maxFramePayload)
	n, idle, err := fill(buf)
	if err != nil {
		return SendNoRoom, err
	}

	s.maybeApplyDSCP(int(priority))

	frame := Frame{SeqNo: seqno, EndOfMessage: idle, Data: buf[:n]}
	encoded := make([]byte, frame.encodedLen())
	frame.encode(encoded)

	select {
	case s.outCh <- encoded:
	default:
		// Lost the race against another producer; treat as no room. In
		// this channel's single-owner cooperative model there is only
		// one sender, so this branch is unreachable in practice but is
		// kept instead of a panic to stay defensive at the transport
		// boundary.
		return SendNoRoom, nil
	}

	if idle {
		return SendComplete, nil
	}
	return SendProgress, nil
}

func (s *TCPFrameStream) maybeApplyDSCP(priority int) {
	if s.haveAppliedDSCP && s.lastDSCPPriority == priority {
		return
	}
	s.lastDSCPPriority = priority
	s.haveAppliedDSCP = true

	if err := ApplyDSCP(s.conn, s.priorityDSCP, uint8(priority)); err != nil {
		s.logger.Debug("failed to apply DSCP marking", "priority", priority, "error", err)
	}
}

// RecvFrames drains all frames currently parsed from the peer, without
// blocking.
func (s *TCPFrameStream) RecvFrames() []Frame {
	var frames []Frame
	for {
		select {
		case f := <-s.inCh:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

// Done implements FrameStream.
func (s *TCPFrameStream) Done() <-chan struct{} { return s.doneCh }

// Readable implements FrameStream.
func (s *TCPFrameStream) Readable() <-chan struct{} { return s.notifyCh }

func (s *TCPFrameStream) signal() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// Err implements FrameStream.
func (s *TCPFrameStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close implements FrameStream.
func (s *TCPFrameStream) Close() error {
	s.cancel()
	err := s.conn.Close()
	s.finish(nil)
	return err
}

func (s *TCPFrameStream) finish(err error) {
	s.doneOnce.Do(func() {
		if err != nil {
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
		}
		close(s.doneCh)
		s.signal()
	})
}

func (s *TCPFrameStream) readLoop() {
	for {
		frame, err := readFrame(s.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.finish(nil)
			} else {
				s.finish(err)
			}
			return
		}
		select {
		case s.inCh <- frame:
			s.signal()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *TCPFrameStream) writeLoop() {
	for {
		select {
		case buf := <-s.outCh:
			if s.limiter != nil {
				if err := s.limiter.WaitN(s.ctx, len(buf)); err != nil {
					s.finish(err)
					return
				}
			}
			if _, err := s.conn.Write(buf); err != nil {
				s.finish(err)
				return
			}
			s.signal()
		case <-s.ctx.Done():
			return
		}
	}
}
