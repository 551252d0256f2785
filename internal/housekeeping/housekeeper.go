// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

// Package housekeeping runs the periodic maintenance jobs the channel
// core relies on but doesn't drive itself: garbage-collecting stale
// overflowed buffer entries, nudging channels stuck in Wait longer
// than expected, and logging a periodic host-health snapshot.
package housekeeping

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kadirov-dev/fiberchan/internal/health"
)

// WakeableChannel is the subset of ClientChannel Housekeeper needs: a
// way to read its current state and nudge it out of Wait.
type WakeableChannel interface {
	State() string
	ForceWakeup()
}

// StaleOverflowLister enumerates and deletes aged overflow-store
// entries, implemented by bufferstore.S3OverflowStore against an
// operator-supplied age threshold.
type StaleOverflowLister interface {
	// CollectGarbage is called on the GC job's schedule; it should
	// delete entries older than its own configured retention and
	// return how many it removed.
	CollectGarbage(ctx context.Context) (removed int, err error)
}

// Config configures the three scheduled jobs. Empty schedule strings
// (and a non-positive StuckWaitThreshold) fall back to the defaults
// below; a job is registered only when New receives its dependency
// (overflow store, channelsFn or monitor) as non-nil.
type Config struct {
	OverflowGCSchedule   string // default "@every 10m"
	StuckWaitSchedule    string // default "@every 1m"
	StuckWaitThreshold   time.Duration
	SnapshotLogSchedule  string // default "@every 5m"
}

// Housekeeper wraps a robfig/cron scheduler running the maintenance
// jobs above.
type Housekeeper struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New builds a Housekeeper. channels is read fresh on every
// stuck-Wait tick, so callers may add/remove entries concurrently by
// swapping the slice returned by channelsFn.
func New(cfg Config, logger *slog.Logger, channelsFn func() []WakeableChannel, overflow StaleOverflowLister, monitor *health.Monitor) (*Housekeeper, error) {
	if cfg.OverflowGCSchedule == "" {
		cfg.OverflowGCSchedule = "@every 10m"
	}
	if cfg.StuckWaitSchedule == "" {
		cfg.StuckWaitSchedule = "@every 1m"
	}
	if cfg.StuckWaitThreshold <= 0 {
		cfg.StuckWaitThreshold = 2 * time.Minute
	}
	if cfg.SnapshotLogSchedule == "" {
		cfg.SnapshotLogSchedule = "@every 5m"
	}

	logger = logger.With("component", "housekeeper")
	c := cron.New()

	if overflow != nil {
		if _, err := c.AddFunc(cfg.OverflowGCSchedule, func() {
			removed, err := overflow.CollectGarbage(context.Background())
			if err != nil {
				logger.Warn("overflow GC failed", "error", err)
				return
			}
			if removed > 0 {
				logger.Info("overflow GC removed stale entries", "removed", removed)
			}
		}); err != nil {
			return nil, err
		}
	}

	if channelsFn != nil {
		waitSince := make(map[WakeableChannel]time.Time)
		if _, err := c.AddFunc(cfg.StuckWaitSchedule, func() {
			now := time.Now()
			live := make(map[WakeableChannel]struct{})
			for _, ch := range channelsFn() {
				live[ch] = struct{}{}
				if ch.State() != "wait" {
					delete(waitSince, ch)
					continue
				}
				since, tracked := waitSince[ch]
				if !tracked {
					waitSince[ch] = now
					continue
				}
				if now.Sub(since) >= cfg.StuckWaitThreshold {
					logger.Warn("nudging channel stuck in wait", "stuck_for", now.Sub(since))
					ch.ForceWakeup()
					waitSince[ch] = now
				}
			}
			for ch := range waitSince {
				if _, ok := live[ch]; !ok {
					delete(waitSince, ch)
				}
			}
		}); err != nil {
			return nil, err
		}
	}

	if monitor != nil {
		if _, err := c.AddFunc(cfg.SnapshotLogSchedule, func() {
			snap := monitor.Snapshot()
			logger.Info("host health snapshot",
				"cpu_percent", snap.CPUPercent,
				"memory_percent", snap.MemoryPercent,
				"disk_percent", snap.DiskUsagePercent,
				"load1", snap.LoadAverage1m,
			)
		}); err != nil {
			return nil, err
		}
	}

	return &Housekeeper{cron: c, logger: logger}, nil
}

// Start begins running scheduled jobs.
func (h *Housekeeper) Start() {
	h.logger.Info("housekeeper started")
	h.cron.Start()
}

// Stop halts the scheduler, then waits for any running job to finish
// or for ctx to be done, whichever comes first.
func (h *Housekeeper) Stop(ctx context.Context) {
	h.logger.Info("housekeeper stopping")
	stopCtx := h.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}
