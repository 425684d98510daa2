package common

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimeSync keeps the offset between local and venue clocks so signed
// requests stay inside the venue's receive window.
type TimeSync struct {
	getServerTime func(ctx context.Context) (int64, error)
	offset        int64 // milliseconds offset (server - local)
	lastSync      time.Time
	syncInterval  time.Duration
	mu            sync.RWMutex
	log           *zap.Logger
}

// NewTimeSync creates a new time synchronization manager.
func NewTimeSync(getServerTime func(ctx context.Context) (int64, error), log *zap.Logger) *TimeSync {
	if log == nil {
		log = zap.NewNop()
	}
	return &TimeSync{
		getServerTime: getServerTime,
		syncInterval:  30 * time.Minute,
		log:           log,
	}
}

// Sync synchronizes with server time.
func (ts *TimeSync) Sync(ctx context.Context) error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()

	// Assume network latency is symmetric
	localTime := localBefore + (localAfter-localBefore)/2

	ts.mu.Lock()
	ts.offset = serverTime - localTime
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	ts.log.Debug("time synced", zap.Int64("offset_ms", serverTime-localTime))
	return nil
}

// Stale reports whether the last sync is older than the sync interval.
func (ts *TimeSync) Stale() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.lastSync.IsZero() || time.Since(ts.lastSync) >= ts.syncInterval
}

// Now returns current time adjusted for server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the current time offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
