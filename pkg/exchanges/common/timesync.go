package common

import (
	"context"
	"sync"
	"time"
)

// TimeSync tracks the offset between local time and a venue's clock so
// signed requests stay inside the venue's receive window.
type TimeSync struct {
	fetch    func(ctx context.Context) (int64, error)
	maxAge   time.Duration
	mu       sync.RWMutex
	offset   int64
	lastSync time.Time
}

// NewTimeSync creates a clock that refreshes its offset at most every maxAge.
func NewTimeSync(fetch func(ctx context.Context) (int64, error), maxAge time.Duration) *TimeSync {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &TimeSync{fetch: fetch, maxAge: maxAge}
}

// Sync measures the offset, assuming symmetric latency.
func (ts *TimeSync) Sync(ctx context.Context) error {
	before := time.Now().UnixMilli()
	server, err := ts.fetch(ctx)
	if err != nil {
		return err
	}
	after := time.Now().UnixMilli()
	local := before + (after-before)/2

	ts.mu.Lock()
	ts.offset = server - local
	ts.lastSync = time.Now()
	ts.mu.Unlock()
	return nil
}

// Now returns the venue-adjusted time in milliseconds, resyncing first when
// the offset is stale. A failed resync falls back to the last offset.
func (ts *TimeSync) Now(ctx context.Context) int64 {
	ts.mu.RLock()
	stale := time.Since(ts.lastSync) > ts.maxAge
	ts.mu.RUnlock()
	if stale {
		_ = ts.Sync(ctx)
	}
	return time.Now().UnixMilli() + ts.Offset()
}

// Offset returns the current offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
