// Package metrics is a small in-process collector for the counters and
// timings the service exposes on /metrics. It is deliberately not a full
// metrics pipeline; snapshots are JSON for the ops dashboard to scrape.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter names used across the service.
const (
	CodesIssued          = "codes_issued"
	RedemptionsAccepted  = "redemptions_accepted"
	RedemptionsRejected  = "redemptions_rejected"
	RedemptionsDuplicate = "redemptions_duplicate"
	PurchasesPlaced      = "purchases_placed"
	PurchasesCancelled   = "purchases_cancelled"
	LedgerDrift          = "ledger_drift_detected"
)

// TimerSnapshot captures timing information for one named operation
type TimerSnapshot struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// Snapshot is a point-in-time view of all collected metrics
type Snapshot struct {
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Counters      map[string]int64         `json:"counters"`
	Timers        map[string]TimerSnapshot `json:"timers"`
}

type timer struct {
	count       int64
	totalTimeMs int64
	maxTimeMs   int64
}

// Metrics is the main metrics collector
type Metrics struct {
	mu        sync.RWMutex
	counters  map[string]*int64
	timers    map[string]*timer
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:  make(map[string]*int64),
		timers:    make(map[string]*timer),
		startTime: time.Now(),
	}
}

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	atomic.AddInt64(m.counter(name), 1)
}

func (m *Metrics) counter(name string) *int64 {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[name]; !ok {
		c = new(int64)
		m.counters[name] = c
	}
	return c
}

// RecordDuration records how long a named operation took
func (m *Metrics) RecordDuration(name string, d time.Duration) {
	ms := d.Milliseconds()

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[name]
	if !ok {
		t = &timer{}
		m.timers[name] = t
	}
	t.count++
	t.totalTimeMs += ms
	if ms > t.maxTimeMs {
		t.maxTimeMs = ms
	}
}

// Time runs fn and records its duration under name
func (m *Metrics) Time(name string, fn func()) {
	start := time.Now()
	fn()
	m.RecordDuration(name, time.Since(start))
}

// Snapshot returns a copy of all current metric values
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		Counters:      make(map[string]int64, len(m.counters)),
		Timers:        make(map[string]TimerSnapshot, len(m.timers)),
	}
	for name, c := range m.counters {
		snap.Counters[name] = atomic.LoadInt64(c)
	}
	for name, t := range m.timers {
		ts := TimerSnapshot{
			Count:       t.count,
			TotalTimeMs: t.totalTimeMs,
			MaxTimeMs:   t.maxTimeMs,
		}
		if t.count > 0 {
			ts.AverageTimeMs = float64(t.totalTimeMs) / float64(t.count)
		}
		snap.Timers[name] = ts
	}
	return snap
}
