// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

// Package rpcchannel implements the client and server channel state
// machines: reconnecting client with backoff, keep-alive, and
// write-through buffering, plus the thin server-side adapter.
package rpcchannel

import "time"

// DefaultKeepAliveTimeout is the default idle duration before a client
// channel terminates.
const DefaultKeepAliveTimeout = 10 * time.Minute

// KeepAlive is an inactivity watchdog with a single timer. Its deadline
// only ever slips forward at observation points: ExtendPeriod just
// raises a flag, which Fired consults the next time the timer actually
// fires. This trades a precise deadline for fewer timer reprograms; the
// observable idle timeout is therefore in [T, 2T], not exactly T.
type KeepAlive struct {
	timer   *time.Timer
	period  time.Duration
	extend  bool
}

// NewKeepAlive starts a KeepAlive with the given period.
func NewKeepAlive(period time.Duration) *KeepAlive {
	return &KeepAlive{
		timer:  time.NewTimer(period),
		period: period,
	}
}

// ExtendPeriod marks the timer to be rearmed the next time it fires,
// rather than signaling idle. Called whenever the owning channel
// observes an Ok event.
func (k *KeepAlive) ExtendPeriod() {
	k.extend = true
}

// C exposes the underlying timer channel so callers can select on it
// directly alongside other channel events.
func (k *KeepAlive) C() <-chan time.Time {
	return k.timer.C
}

// Fired is called after a receive from C(). It returns true if the
// channel should close (idle timeout actually elapsed with no
// extension since the previous fire); otherwise it rearms the timer
// and returns false.
func (k *KeepAlive) Fired() bool {
	if k.extend {
		k.extend = false
		k.timer.Reset(k.period)
		return false
	}
	return true
}

// Stop releases the timer's resources.
func (k *KeepAlive) Stop() {
	k.timer.Stop()
}
