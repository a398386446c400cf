package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowSource struct{ delay time.Duration }

func (s slowSource) Usage(ctx context.Context, _, _ string) (Usage, error) {
	select {
	case <-time.After(s.delay):
		return Usage{Daily: 1}, nil
	case <-ctx.Done():
		return Usage{}, ctx.Err()
	}
}

type errSource struct{}

func (errSource) Usage(context.Context, string, string) (Usage, error) {
	return Usage{}, errors.New("boom")
}

func TestLookup(t *testing.T) {
	src := StaticSource{"u1": {Daily: 8, Window: 2}}

	snap, err := Lookup(context.Background(), src, "u1", "hint", 10, 5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Used: 8, Limit: 10, WindowRequests: 2, Burst: 5}, snap)
	assert.InDelta(t, 0.8, snap.Ratio(), 1e-9)

	snap, err = Lookup(context.Background(), src, "nobody", "hint", 10, 5, time.Second)
	require.NoError(t, err)
	assert.Zero(t, snap.Used)
}

func TestLookup_FailsClosed(t *testing.T) {
	tests := []struct {
		name string
		src  Source
	}{
		{"nil source", nil},
		{"error", errSource{}},
		{"timeout", slowSource{delay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := Lookup(context.Background(), tt.src, "u", "hint", 10, 5, 20*time.Millisecond)
			assert.Error(t, err)
			assert.True(t, snap.LookupFailed)
			assert.Equal(t, int64(10), snap.Limit)
		})
	}
}

func TestSnapshotRatio_Unlimited(t *testing.T) {
	assert.Zero(t, Snapshot{Used: 1000, Limit: 0}.Ratio())
}

func TestRedisSource_Unreachable(t *testing.T) {
	src := NewRedisSourceFromConfig(RedisConfig{Addr: "127.0.0.1:1"})
	defer src.Close()

	snap, err := Lookup(context.Background(), src, "u", "hint", 10, 5, 200*time.Millisecond)
	assert.Error(t, err)
	assert.True(t, snap.LookupFailed)
}

func TestRedisSource_Keys(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)
	src := NewRedisSource(nil, WithKeyPrefix("edu:"), WithClock(func() time.Time { return fixed }))
	daily, window := src.keys("u42", "hint")
	assert.Equal(t, "edu:u42:hint:20260314", daily)
	assert.Equal(t, "edu:u42:hint:window", window)
}

func TestParseCounter(t *testing.T) {
	vals := []interface{}{"17", nil, 3, "x"}

	n, err := parseCounter(vals, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	n, err = parseCounter(vals, 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = parseCounter(vals, 2)
	assert.Error(t, err)

	_, err = parseCounter(vals, 3)
	assert.Error(t, err)
}
