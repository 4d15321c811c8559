// Package health implements Heksher's background health/recency
// sentinel (spec.md §4.6): a single long-lived goroutine that pings the
// database every 5 seconds and records the outcome in a
// mutex-protected cell, grounded on the teacher's
// apply.Applier.Connect PingContext pattern turned into a repeating
// ticker loop.
package health

import (
	"context"
	"sync"
	"time"

	"heksher/internal/dbstore"
)

// Interval is the fixed poll period spec.md §4.6 names.
const Interval = 5 * time.Second

// Status is the latest sentinel reading.
type Status struct {
	OK bool
	At time.Time
}

// Sentinel owns the mutex-protected {status, at} cell (a plain
// sync.Mutex, not an RWMutex: single writer, rare reader, matching
// spec.md §4.6's shape).
type Sentinel struct {
	db      *dbstore.DB
	version string

	mu     sync.Mutex
	status Status
}

func New(db *dbstore.DB, version string) *Sentinel {
	return &Sentinel{db: db, version: version}
}

// Run ticks every Interval until ctx is canceled, pinging the database
// and recording the result. It pings once immediately on entry, before
// the first tick, so the first health check right after startup need
// not wait a full interval. It blocks until ctx is canceled.
func (s *Sentinel) Run(ctx context.Context) {
	s.ping(ctx)

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ping(ctx)
		}
	}
}

func (s *Sentinel) ping(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, Interval)
	defer cancel()
	err := s.db.PingContext(pingCtx)

	s.mu.Lock()
	s.status = Status{OK: err == nil, At: time.Now()}
	s.mu.Unlock()
}

// Status returns the latest reading. Health freshness is bounded by
// one poll period (spec.md §4.6): a reading can be up to Interval
// stale before the next tick refreshes it.
func (s *Sentinel) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Version is the server version string reported alongside health.
func (s *Sentinel) Version() string { return s.version }
