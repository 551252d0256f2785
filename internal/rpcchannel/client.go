// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package rpcchannel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kadirov-dev/fiberchan/internal/health"
	"github.com/kadirov-dev/fiberchan/internal/rpcerr"
	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
	"github.com/kadirov-dev/fiberchan/internal/rpcstream"
	"github.com/kadirov-dev/fiberchan/internal/wire"
)

// ClientChannel state constants, exposed via State() for diagnostics
// and housekeeping the way ControlChannel exposes StateConnected etc.
const (
	StateWait       = "wait"
	StateConnecting = "connecting"
	StateConnected  = "connected"
	StateClosed     = "closed"
)

// Dialer opens the transport-level connection a ClientChannel drives.
// Implementations should honor ctx cancellation.
type Dialer func(ctx context.Context) (net.Conn, error)

// ClientOptions configures a ClientChannel. Decode and Dial are
// required; everything else has a spec-documented default.
type ClientOptions[M any] struct {
	Dial   Dialer
	Decode Decoder[M]

	KeepAliveTimeout time.Duration
	BackoffBase      time.Duration
	BufferCapacity   int // <= 0 means unbounded
	OverflowStore    OverflowStore
	ChannelID        string // used as the OverflowStore key prefix

	WireOptions wire.Options
	Logger      *slog.Logger

	// HostHealth, if set, is started alongside Run and stopped when it
	// returns. It is purely observational — see HealthSnapshot — and
	// never drives a state transition on its own.
	HostHealth *health.Monitor
}

// ClientChannel is the reconnecting client side of the channel core: it
// owns exactly one of Wait, Connecting, or Connected at a time, and
// drives that state machine on a single internal goroutine so seqno
// allocation and the response-handler registry never need locking
// beyond what ClientFrameHandler already does for external readers.
type ClientChannel[M any] struct {
	opts   ClientOptions[M]
	logger *slog.Logger

	keepAlive *KeepAlive
	backoff   *ExponentialBackoff
	seqAlloc  *rpcmsg.SeqNoAllocator

	state atomic.Value // string, for State()

	sendCh   chan sendCmd[M]
	wakeupCh chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

type sendCmd[M any] struct {
	message rpcmsg.OutgoingMessage
	handler ResponseHandler[M]
}

// connectResult is delivered on a per-attempt channel by dial().
type connectResult struct {
	conn net.Conn
	err  error
}

// NewClientChannel builds a ClientChannel in its initial Connecting
// state with an empty buffer. Call Run to start driving it.
func NewClientChannel[M any](opts ClientOptions[M]) *ClientChannel[M] {
	if opts.Dial == nil {
		panic("rpcchannel: ClientOptions.Dial is required")
	}
	if opts.Decode == nil {
		panic("rpcchannel: ClientOptions.Decode is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keepAlivePeriod := opts.KeepAliveTimeout
	if keepAlivePeriod <= 0 {
		keepAlivePeriod = DefaultKeepAliveTimeout
	}

	c := &ClientChannel[M]{
		opts:      opts,
		logger:    logger.With("component", "client_channel"),
		keepAlive: NewKeepAlive(keepAlivePeriod),
		backoff:   NewExponentialBackoff(opts.BackoffBase),
		seqAlloc:  rpcmsg.NewClientSeqNoAllocator(),
		sendCh:    make(chan sendCmd[M], 64),
		wakeupCh:  make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	c.state.Store(StateConnecting)
	return c
}

// SendMessage submits message for delivery, allocating its seqno once
// the internal loop processes the submission. handler may be nil if
// the caller doesn't want a response/error callback (e.g. fire-and-
// forget notifications). It is safe to call from any goroutine.
func (c *ClientChannel[M]) SendMessage(message rpcmsg.OutgoingMessage, handler ResponseHandler[M]) {
	select {
	case c.sendCh <- sendCmd[M]{message: message, handler: handler}:
	case <-c.doneCh:
		if handler != nil {
			handler.HandleError(0, rpcerr.New(rpcerr.Unavailable, errors.New("channel closed")))
		}
	}
}

// ForceWakeup advances the backoff schedule and immediately starts a
// new connect attempt if the channel is currently in Wait. It is a
// no-op otherwise, matching spec's documented behavior.
func (c *ClientChannel[M]) ForceWakeup() {
	select {
	case c.wakeupCh <- struct{}{}:
	default:
	}
}

// State reports the channel's current logical state.
func (c *ClientChannel[M]) State() string {
	return c.state.Load().(string)
}

// HealthSnapshot returns the most recent reading from the configured
// HostHealth monitor, or the zero Snapshot if none was configured.
func (c *ClientChannel[M]) HealthSnapshot() health.Snapshot {
	if c.opts.HostHealth == nil {
		return health.Snapshot{}
	}
	return c.opts.HostHealth.Snapshot()
}

// Close stops the driving goroutine and releases the current
// transport, if any. Run returns shortly after.
func (c *ClientChannel[M]) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Run drives the client channel until ctx is cancelled or Close is
// called, blocking the calling goroutine. Callers typically invoke it
// as `go channel.Run(ctx)`.
func (c *ClientChannel[M]) Run(ctx context.Context) error {
	defer close(c.doneCh)
	defer c.keepAlive.Stop()

	if c.opts.HostHealth != nil {
		c.opts.HostHealth.Start()
		defer c.opts.HostHealth.Stop()
	}

	loop := &clientLoop[M]{ClientChannel: c}
	loop.enterConnecting(ctx)
	defer loop.cancelDial()

	for {
		select {
		case <-ctx.Done():
			loop.teardown()
			return ctx.Err()
		case <-c.stopCh:
			loop.teardown()
			return nil

		case <-c.keepAlive.C():
			if c.keepAlive.Fired() {
				c.logger.Info("client channel idle timeout, closing")
				loop.teardown()
				return nil
			}

		case cmd := <-c.sendCh:
			loop.handleSend(cmd)

		case <-c.wakeupCh:
			loop.handleForceWakeup(ctx)

		case <-loop.waitTimerC():
			loop.handleWaitTimeout(ctx)

		case res := <-loop.connectResultC():
			loop.handleConnectResult(ctx, res)

		case <-loop.streamDoneC():
			loop.handleStreamDone(ctx)

		case <-loop.streamReadableC():
			loop.drainStreamEvents()
		}
	}
}

// clientLoop holds the per-state fields of the drive loop, split out
// from ClientChannel so Run's body reads as the state machine's
// transition table rather than a field dump.
type clientLoop[M any] struct {
	*ClientChannel[M]

	// Wait
	waitTimer *time.Timer

	// Connecting
	buffer     *ConnectingBuffer[M]
	connectCh  chan connectResult
	dialCancel context.CancelFunc

	// Connected
	stream  *rpcstream.MessageStream[M, *ClientFrameHandler[M]]
	handler *ClientFrameHandler[M]
}

func (l *clientLoop[M]) waitTimerC() <-chan time.Time {
	if l.State() != StateWait || l.waitTimer == nil {
		return nil
	}
	return l.waitTimer.C
}

func (l *clientLoop[M]) connectResultC() <-chan connectResult {
	if l.State() != StateConnecting {
		return nil
	}
	return l.connectCh
}

func (l *clientLoop[M]) streamDoneC() <-chan struct{} {
	if l.State() != StateConnected || l.stream == nil {
		return nil
	}
	return l.stream.Done()
}

func (l *clientLoop[M]) streamReadableC() <-chan struct{} {
	if l.State() != StateConnected || l.stream == nil {
		return nil
	}
	return l.stream.Readable()
}

// enterConnecting starts a new connect attempt with a fresh, empty
// buffer. Per the behavior this core was modeled on, any messages
// buffered during a Connecting window that then fails to connect are
// dropped along with that window's buffer, not carried over into the
// next attempt or into Wait — Wait never holds a buffer at all.
func (l *clientLoop[M]) enterConnecting(ctx context.Context) {
	l.cancelDial()

	l.state.Store(StateConnecting)
	l.buffer = NewConnectingBuffer[M](l.opts.BufferCapacity)
	l.connectCh = make(chan connectResult, 1)

	dialCtx, cancel := context.WithCancel(ctx)
	l.dialCancel = cancel
	resultCh := l.connectCh
	go func() {
		conn, err := l.opts.Dial(dialCtx)
		select {
		case resultCh <- connectResult{conn: conn, err: err}:
		case <-dialCtx.Done():
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (l *clientLoop[M]) cancelDial() {
	if l.dialCancel != nil {
		l.dialCancel()
		l.dialCancel = nil
	}
}

func (l *clientLoop[M]) handleConnectResult(ctx context.Context, res connectResult) {
	if res.err != nil {
		l.logger.Warn("client channel connect failed", "error", res.err)
		l.buffer = nil // dropped along with the failed Connecting window
		l.enterWaitOrRetry(ctx)
		return
	}

	l.backoff.Reset()
	l.keepAlive.ExtendPeriod()

	l.handler = NewClientFrameHandler[M](l.opts.Decode)
	frames := wire.NewTCPFrameStream(res.conn, l.opts.WireOptions)
	l.stream = rpcstream.New[M](frames, l.handler)
	l.state.Store(StateConnected)

	for _, buffered := range l.buffer.Drain() {
		l.stream.SendMessage(buffered.SeqNo, buffered.Message)
		l.handler.RegisterResponseHandler(buffered.SeqNo, buffered.Handler)
	}
	l.buffer = nil
	l.logger.Info("client channel connected")
	l.drainStreamEvents()
}

// enterWaitOrRetry picks Wait (with a backoff timer) or an immediate
// retry, per the schedule: retriedCount 0 means no wait is required,
// so the very first failure re-dials immediately and only the second
// consecutive failure actually waits.
func (l *clientLoop[M]) enterWaitOrRetry(ctx context.Context) {
	if timeout, wait := l.backoff.Timeout(); wait {
		l.cancelDial()
		l.state.Store(StateWait)
		l.waitTimer = time.NewTimer(timeout)
		return
	}
	l.backoff.Next()
	l.enterConnecting(ctx)
}

func (l *clientLoop[M]) handleWaitTimeout(ctx context.Context) {
	l.backoff.Next()
	l.enterConnecting(ctx)
}

func (l *clientLoop[M]) handleForceWakeup(ctx context.Context) {
	if l.State() != StateWait {
		return
	}
	if l.waitTimer != nil {
		l.waitTimer.Stop()
		l.waitTimer = nil
	}
	l.backoff.Next()
	l.enterConnecting(ctx)
}

func (l *clientLoop[M]) handleStreamDone(ctx context.Context) {
	err := l.stream.Err()
	if err != nil {
		l.logger.Warn("client channel stream aborted", "error", err)
	} else {
		l.logger.Info("client channel stream closed by peer")
	}
	l.stream.Close()
	l.handler.DiscardAll()
	l.stream = nil
	l.handler = nil
	l.enterWaitOrRetry(ctx)
}

func (l *clientLoop[M]) handleSend(cmd sendCmd[M]) {
	switch l.State() {
	case StateWait:
		if cmd.handler != nil {
			cmd.handler.HandleError(0, rpcerr.New(rpcerr.Unavailable, errors.New("client channel disconnected, waiting to reconnect")))
		}

	case StateConnecting:
		seqno := l.seqAlloc.Next()
		buffered := BufferedMessage[M]{SeqNo: seqno, Message: cmd.message, Handler: cmd.handler}
		if err := l.buffer.Enqueue(buffered); err != nil {
			l.spillOrFail(buffered, err)
		}

	case StateConnected:
		seqno := l.seqAlloc.Next()
		l.stream.SendMessage(seqno, cmd.message)
		if cmd.handler != nil {
			l.handler.RegisterResponseHandler(seqno, cmd.handler)
		}
		l.drainStreamEvents()
	}
}

// spillOrFail routes a buffer-overflow message to the configured
// OverflowStore, if any, or reports ErrBufferFull to its handler.
func (l *clientLoop[M]) spillOrFail(buffered BufferedMessage[M], overflowErr error) {
	if l.opts.OverflowStore == nil {
		if buffered.Handler != nil {
			buffered.Handler.HandleError(buffered.SeqNo, overflowErr)
		}
		return
	}

	encoded, err := drainEncoder(buffered.Message.Payload)
	if err != nil {
		if buffered.Handler != nil {
			buffered.Handler.HandleError(buffered.SeqNo, fmt.Errorf("spilling overflowed message: %w", err))
		}
		return
	}

	key, err := l.opts.OverflowStore.Spill(context.Background(), l.opts.ChannelID, buffered.SeqNo, encoded)
	if err != nil {
		if buffered.Handler != nil {
			buffered.Handler.HandleError(buffered.SeqNo, rpcerr.New(rpcerr.Unavailable, fmt.Errorf("overflow store spill failed: %w", err)))
		}
		return
	}
	l.logger.Debug("spilled overflowed message to durable store", "seqno", buffered.SeqNo, "key", key)
	// The spilled message is not resent and its handler, if any, is not
	// called. Nothing in this module fetches it back; the housekeeper's
	// overflow GC job deletes it once it is older than the store's
	// retention.
}

func (l *clientLoop[M]) drainStreamEvents() {
	for {
		ev, ok := l.stream.Poll()
		if !ok {
			return
		}
		if ev.IsOk() {
			l.backoff.Reset()
			l.keepAlive.ExtendPeriod()
		}
		switch ev.Kind {
		case rpcstream.Sent:
			if ev.Err != nil {
				l.handler.HandleError(ev.SeqNo, ev.Err)
			}
		case rpcstream.Received:
			if ev.Err != nil {
				l.handler.HandleError(ev.SeqNo, ev.Err)
			} else {
				l.handler.DispatchResponse(ev.SeqNo, ev.Message)
			}
		}
	}
}

func (l *clientLoop[M]) teardown() {
	l.cancelDial()
	if l.waitTimer != nil {
		l.waitTimer.Stop()
	}
	if l.stream != nil {
		l.stream.Close()
	}
	if l.handler != nil {
		l.handler.DiscardAll()
	}
	l.state.Store(StateClosed)
}
