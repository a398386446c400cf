// Package quota reads per-user usage counters owned by another service and
// turns them into snapshots the quota detector can classify. It never
// increments counters.
package quota

import (
	"context"
	"errors"
	"time"
)

// Usage is the raw counter pair for one user and feature.
type Usage struct {
	Daily  int64 // requests so far in the current UTC day
	Window int64 // requests in the short burst window
}

// Source returns current usage. Implementations may block on the network.
type Source interface {
	Usage(ctx context.Context, userID, feature string) (Usage, error)
}

// Snapshot is the input of the quota detector. A Limit of zero or less
// means unlimited.
type Snapshot struct {
	Used           int64 `json:"used"`
	Limit          int64 `json:"limit"`
	WindowRequests int64 `json:"window_requests"`
	Burst          int64 `json:"burst"`
	LookupFailed   bool  `json:"lookup_failed,omitempty"`
}

// Ratio is Used/Limit, or zero when unlimited.
func (s Snapshot) Ratio() float64 {
	if s.Limit <= 0 {
		return 0
	}
	return float64(s.Used) / float64(s.Limit)
}

// ErrNoSource is returned by Lookup when no source is configured.
var ErrNoSource = errors.New("quota: no usage source configured")

// Lookup reads usage with its own timeout. Any error, including a timeout,
// produces a snapshot with LookupFailed set so callers fail closed.
func Lookup(ctx context.Context, src Source, userID, feature string, limit, burst int64, timeout time.Duration) (Snapshot, error) {
	snap := Snapshot{Limit: limit, Burst: burst}
	if src == nil {
		snap.LookupFailed = true
		return snap, ErrNoSource
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	u, err := src.Usage(ctx, userID, feature)
	if err != nil {
		snap.LookupFailed = true
		return snap, err
	}
	snap.Used = u.Daily
	snap.WindowRequests = u.Window
	return snap, nil
}

// StaticSource serves fixed usage numbers keyed by user ID.
type StaticSource map[string]Usage

func (s StaticSource) Usage(_ context.Context, userID, _ string) (Usage, error) {
	return s[userID], nil
}
