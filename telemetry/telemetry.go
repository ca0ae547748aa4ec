// Package telemetry collects statement statistics and reports slow queries.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// QueryInfo describes one executed statement
type QueryInfo struct {
	SQL      string
	Args     []any
	Duration time.Duration
	Err      error
	// Exec is true for INSERT/UPDATE/DELETE, false for reads.
	Exec bool
}

// Recorder receives an event per executed statement
type Recorder interface {
	RecordQuery(ctx context.Context, info QueryInfo)
}

// Nop is a Recorder that drops every event
type Nop struct{}

// RecordQuery implements Recorder
func (Nop) RecordQuery(context.Context, QueryInfo) {}

// SlowQueryHook is called when a statement exceeds the slow threshold
type SlowQueryHook func(ctx context.Context, info QueryInfo)

// Stats is a concurrency-safe Recorder keeping running totals
type Stats struct {
	queries  atomic.Int64
	execs    atomic.Int64
	duration atomic.Int64 // nanoseconds
	slow     atomic.Int64
	errors   atomic.Int64

	mu            sync.RWMutex
	slowThreshold time.Duration
	slowHook      SlowQueryHook
}

// Option configures Stats
type Option func(*Stats)

// WithSlowThreshold sets the threshold above which a statement counts as slow.
// Default is 200ms.
func WithSlowThreshold(d time.Duration) Option {
	return func(s *Stats) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets the callback invoked for slow statements
func WithSlowQueryHook(hook SlowQueryHook) Option {
	return func(s *Stats) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements at WARN on logger
func WithSlowQueryLog(logger *slog.Logger) Option {
	return WithSlowQueryHook(func(ctx context.Context, info QueryInfo) {
		logger.WarnContext(ctx, "slow query", "duration", info.Duration, "sql", info.SQL, "args", len(info.Args))
	})
}

// NewStats creates a Stats recorder
func NewStats(opts ...Option) *Stats {
	s := &Stats{slowThreshold: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordQuery implements Recorder
func (s *Stats) RecordQuery(ctx context.Context, info QueryInfo) {
	if info.Exec {
		s.execs.Add(1)
	} else {
		s.queries.Add(1)
	}
	s.duration.Add(int64(info.Duration))
	if info.Err != nil {
		s.errors.Add(1)
	}

	s.mu.RLock()
	threshold, hook := s.slowThreshold, s.slowHook
	s.mu.RUnlock()

	if threshold > 0 && info.Duration > threshold {
		s.slow.Add(1)
		if hook != nil {
			hook(ctx, info)
		}
	}
}

// SetSlowThreshold updates the slow threshold
func (s *Stats) SetSlowThreshold(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowThreshold = d
}

// Snapshot returns the current totals
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Queries:  s.queries.Load(),
		Execs:    s.execs.Load(),
		Duration: time.Duration(s.duration.Load()),
		Slow:     s.slow.Load(),
		Errors:   s.errors.Load(),
	}
}

// Reset zeroes all counters
func (s *Stats) Reset() {
	s.queries.Store(0)
	s.execs.Store(0)
	s.duration.Store(0)
	s.slow.Store(0)
	s.errors.Store(0)
}

// Snapshot is a point-in-time copy of Stats
type Snapshot struct {
	Queries  int64
	Execs    int64
	Duration time.Duration
	Slow     int64
	Errors   int64
}

// Average returns the mean statement duration
func (s Snapshot) Average() time.Duration {
	total := s.Queries + s.Execs
	if total == 0 {
		return 0
	}
	return s.Duration / time.Duration(total)
}

func (s Snapshot) String() string {
	return fmt.Sprintf("queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.Queries, s.Execs, s.Duration, s.Average(), s.Slow, s.Errors)
}
