// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

// Package health periodically samples host CPU/memory/disk/load and
// exposes the latest snapshot for a ClientChannel to report alongside
// its own state, or for the housekeeper to fold into its stats log
// line. It never feeds a channel's state machine directly: extend_period
// is driven only by wire traffic, per the transition table a
// ClientChannel already implements.
package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultInterval is how often Monitor refreshes its snapshot.
const DefaultInterval = 15 * time.Second

// Default pressure thresholds, in percent, past which Snapshot.Pressure
// escalates. They describe when a host is too loaded to be a reliable
// RPC endpoint, not when to throttle the wire itself — Throttle's rate
// limiting is unrelated and configured separately.
const (
	DefaultElevatedPercent = 75.0
	DefaultCriticalPercent = 92.0
)

// Pressure classifies a Snapshot's overall host load.
type Pressure int

const (
	// Nominal means CPU, memory and disk usage are all below the
	// elevated threshold. Load average is not classified.
	Nominal Pressure = iota
	// Elevated means at least one of CPU, memory or disk usage crossed
	// the elevated threshold but none reached critical.
	Elevated
	// Critical means at least one of CPU, memory or disk usage crossed
	// the critical threshold. It never forces a reconnect on its own.
	Critical
)

func (p Pressure) String() string {
	switch p {
	case Elevated:
		return "elevated"
	case Critical:
		return "critical"
	default:
		return "nominal"
	}
}

// Snapshot holds one round of collected host metrics plus the
// Pressure classification derived from them.
type Snapshot struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskUsagePercent float64
	LoadAverage1m    float64
	CollectedAt      time.Time
	Pressure         Pressure
}

// Monitor collects host health metrics on a periodic ticker and
// classifies each reading against configurable thresholds.
type Monitor struct {
	logger   *slog.Logger
	interval time.Duration

	elevatedPercent float64
	criticalPercent float64

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.RWMutex
	snapshot Snapshot
}

// Option configures a Monitor beyond its default thresholds.
type Option func(*Monitor)

// WithThresholds overrides the elevated/critical percent thresholds
// used to classify Snapshot.Pressure.
func WithThresholds(elevatedPercent, criticalPercent float64) Option {
	return func(m *Monitor) {
		m.elevatedPercent = elevatedPercent
		m.criticalPercent = criticalPercent
	}
}

// NewMonitor builds a Monitor sampling at interval (DefaultInterval if
// <= 0).
func NewMonitor(logger *slog.Logger, interval time.Duration, opts ...Option) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{
		logger:          logger.With("component", "health_monitor"),
		interval:        interval,
		elevatedPercent: DefaultElevatedPercent,
		criticalPercent: DefaultCriticalPercent,
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins periodic collection in a background goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts collection and waits for the goroutine to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Snapshot returns the most recently collected, classified metrics.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// IsUnderPressure reports whether the latest snapshot classified as
// anything above Nominal.
func (m *Monitor) IsUnderPressure() bool {
	return m.Snapshot().Pressure != Nominal
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	snap := Snapshot{CollectedAt: time.Now()}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		snap.CPUPercent = percentages[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	if d, err := disk.Usage("/"); err == nil {
		snap.DiskUsagePercent = d.UsedPercent
	} else {
		m.logger.Debug("failed to collect disk stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		snap.LoadAverage1m = l.Load1
	} else {
		m.logger.Debug("failed to collect load stats", "error", err)
	}

	snap.Pressure = m.classify(snap)
	if snap.Pressure != Nominal {
		m.logger.Warn("host under pressure", "pressure", snap.Pressure.String(),
			"cpu_percent", snap.CPUPercent, "memory_percent", snap.MemoryPercent,
			"disk_percent", snap.DiskUsagePercent)
	}

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()
}

func (m *Monitor) classify(snap Snapshot) Pressure {
	worst := max3(snap.CPUPercent, snap.MemoryPercent, snap.DiskUsagePercent)
	switch {
	case worst >= m.criticalPercent:
		return Critical
	case worst >= m.elevatedPercent:
		return Elevated
	default:
		return Nominal
	}
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
