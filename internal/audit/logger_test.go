package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gzhole/eduguard/internal/catalog"
	"github.com/gzhole/eduguard/internal/redact"
	"github.com/gzhole/eduguard/internal/threat"
)

func testConfig() Config {
	return Config{
		SyncTimeout:   100 * time.Millisecond,
		BatchSize:     4,
		BatchInterval: 10 * time.Millisecond,
		QueueSize:     16,
		RingSize:      8,
		RetryInterval: time.Hour,
		RetryBackoff:  time.Millisecond,
	}
}

func newLogger(t *testing.T, store Store, opts ...Option) *Logger {
	t.Helper()
	l, err := New(context.Background(), store, testConfig(), opts...)
	require.NoError(t, err)
	return l
}

func blockedEvent(user string) Event {
	return Event{UserID: user, Feature: "hint", Type: EventInputCheck, Severity: threat.LevelHigh, Blocked: true, ActionTaken: "blocked"}
}

func TestLog_SyncWriteIsDurableBeforeReturn(t *testing.T) {
	store := NewMemoryStore()
	l := newLogger(t, store)
	defer l.Close(context.Background())

	id, err := l.Log(context.Background(), blockedEvent("u1"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	events, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.NotEmpty(t, events[0].Hash)
}

func TestLog_SyncIgnoresCallerCancellation(t *testing.T) {
	store := NewMemoryStore()
	l := newLogger(t, store)
	defer l.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Log(ctx, blockedEvent("u1"))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestLog_AsyncEventsAreBatched(t *testing.T) {
	store := NewMemoryStore()
	l := newLogger(t, store)

	for i := 0; i < 5; i++ {
		_, err := l.Log(context.Background(), Event{UserID: "u1", Feature: "hint", Type: EventInputCheck, Severity: threat.LevelLow, ActionTaken: "allowed"})
		require.NoError(t, err)
	}
	require.NoError(t, l.Close(context.Background()))
	assert.Equal(t, 5, store.Len(), "close flushes the batch queue")
}

func TestLog_TimeoutFlagsPendingAndAlerts(t *testing.T) {
	store := NewMemoryStore()
	store.SetFailure(nil, time.Second)

	var mu sync.Mutex
	var alerted []string
	alert := AlertFunc(func(_ context.Context, ev Event, cause error) {
		mu.Lock()
		defer mu.Unlock()
		alerted = append(alerted, ev.ID)
	})
	l := newLogger(t, store, WithAlerter(alert))

	start := time.Now()
	id, err := l.Log(context.Background(), blockedEvent("u1"))
	assert.Less(t, time.Since(start), 900*time.Millisecond, "sync write must be bounded")
	require.ErrorIs(t, err, ErrWritePending)
	assert.NotEmpty(t, id)

	mu.Lock()
	assert.Equal(t, []string{id}, alerted)
	mu.Unlock()
	assert.Equal(t, 1, l.Pending())

	recent := l.Recent(1)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].AuditWritePending)

	store.SetFailure(nil, 0)
	assert.Equal(t, 0, l.Flush(context.Background()))
	assert.Equal(t, 1, store.Len())
	assert.False(t, l.Recent(1)[0].AuditWritePending)
	require.NoError(t, l.Close(context.Background()))
}

func TestAlerts_FanOut(t *testing.T) {
	var got []string
	as := Alerts{
		AlertFunc(func(_ context.Context, ev Event, _ error) { got = append(got, "first:"+ev.ID) }),
		AlertFunc(func(_ context.Context, ev Event, _ error) { got = append(got, "second:"+ev.ID) }),
	}
	as.Alert(context.Background(), Event{ID: "ev-1"}, errors.New("sync timeout"))
	assert.Equal(t, []string{"first:ev-1", "second:ev-1"}, got)
}

func TestLog_FailureRetriedThenPending(t *testing.T) {
	store := NewMemoryStore()
	store.SetFailure(errors.New("disk full"), 0)
	l := newLogger(t, store, WithAlerter(AlertFunc(func(context.Context, Event, error) {})))

	_, err := l.Log(context.Background(), blockedEvent("u1"))
	require.ErrorIs(t, err, ErrWritePending)
	assert.Equal(t, 1, l.Pending())

	err = l.Close(context.Background())
	assert.Error(t, err, "close reports events it could not persist")
}

func TestLog_HashChain(t *testing.T) {
	store := NewMemoryStore()
	l := newLogger(t, store)
	for i := 0; i < 3; i++ {
		_, err := l.Log(context.Background(), blockedEvent("u1"))
		require.NoError(t, err)
	}
	_, err := l.Log(context.Background(), Event{UserID: "u2", Feature: "hint", Type: EventInputCheck, Severity: threat.LevelNone})
	require.NoError(t, err)
	require.NoError(t, l.Close(context.Background()))

	rep, err := Verify(context.Background(), store)
	require.NoError(t, err)
	assert.True(t, rep.OK, rep.Reason)
	assert.Equal(t, 4, rep.Checked)

	events, _ := store.Query(context.Background(), Filter{})
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Hash, events[i].PrevHash)
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	store := NewMemoryStore()
	l := newLogger(t, store)
	for i := 0; i < 3; i++ {
		_, err := l.Log(context.Background(), blockedEvent("u1"))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close(context.Background()))

	store.events[1].UserID = "someone-else"
	rep, err := Verify(context.Background(), store)
	require.NoError(t, err)
	assert.False(t, rep.OK)
	assert.Equal(t, uint64(2), rep.BrokenSeq)
	assert.Equal(t, "content hash mismatch", rep.Reason)

	store.events = append(store.events[:1], store.events[2:]...)
	rep, err = Verify(context.Background(), store)
	require.NoError(t, err)
	assert.False(t, rep.OK)
	assert.Contains(t, rep.Reason, "missing events")
}

func TestNew_ContinuesChain(t *testing.T) {
	store := NewMemoryStore()
	l := newLogger(t, store)
	_, err := l.Log(context.Background(), blockedEvent("u1"))
	require.NoError(t, err)
	require.NoError(t, l.Close(context.Background()))

	l2 := newLogger(t, store)
	_, err = l2.Log(context.Background(), blockedEvent("u1"))
	require.NoError(t, err)
	require.NoError(t, l2.Close(context.Background()))

	rep, err := Verify(context.Background(), store)
	require.NoError(t, err)
	assert.True(t, rep.OK, rep.Reason)
	assert.Equal(t, 2, rep.Checked)
}

func TestLog_RedactsContext(t *testing.T) {
	store := NewMemoryStore()
	l := newLogger(t, store, WithRedactor(redact.New(catalog.MustDefault(), 0)))
	ev := blockedEvent("u1")
	ev.Context = map[string]string{"note": "mail jane.doe@example.com", "api_key": "abc"}
	_, err := l.Log(context.Background(), ev)
	require.NoError(t, err)
	require.NoError(t, l.Close(context.Background()))

	events, _ := store.Query(context.Background(), Filter{})
	require.Len(t, events, 1)
	assert.NotContains(t, events[0].Context["note"], "jane.doe")
	assert.Equal(t, redact.Placeholder, events[0].Context["api_key"])
}

func TestLog_AfterClose(t *testing.T) {
	l := newLogger(t, NewMemoryStore())
	require.NoError(t, l.Close(context.Background()))
	_, err := l.Log(context.Background(), blockedEvent("u1"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, l.Close(context.Background()))
}

func TestQueries(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	l := newLogger(t, store, WithClock(clock))

	log := func(user string, sev threat.Level) {
		_, err := l.Log(context.Background(), Event{UserID: user, Feature: "hint", Type: EventInputCheck, Severity: sev})
		require.NoError(t, err)
	}
	log("alice", threat.LevelNone)
	log("bob", threat.LevelHigh)
	log("alice", threat.LevelCritical)
	log("carol", threat.LevelMedium)
	require.NoError(t, l.Close(context.Background()))

	ctx := context.Background()
	byUser, err := l.ByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	bySev, err := l.BySeverity(ctx, threat.LevelHigh)
	require.NoError(t, err)
	assert.Len(t, bySev, 2)

	byTime, err := l.ByTimeRange(ctx, base.Add(2*time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, byTime, 2)
	assert.Equal(t, "bob", byTime[0].UserID)

	last, err := l.Query(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "carol", last[0].UserID)
}

func TestRecent_RingKeepsNewest(t *testing.T) {
	l := newLogger(t, NewMemoryStore())
	defer l.Close(context.Background())
	var ids []string
	for i := 0; i < 10; i++ {
		id, err := l.Log(context.Background(), blockedEvent("u1"))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	recent := l.Recent(0)
	require.Len(t, recent, 8)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, ids[9], recent[7].ID)

	last3 := l.Recent(3)
	require.Len(t, last3, 3)
	assert.Equal(t, ids[7:], []string{last3[0].ID, last3[1].ID, last3[2].ID})
}

func TestLog_ConcurrentWritersKeepChain(t *testing.T) {
	store := NewMemoryStore()
	l := newLogger(t, store)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				ev := blockedEvent("u1")
				if i%2 == 0 {
					ev = Event{UserID: "u2", Feature: "hint", Type: EventInputCheck}
				}
				_, _ = l.Log(context.Background(), ev)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close(context.Background()))

	rep, err := Verify(context.Background(), store)
	require.NoError(t, err)
	assert.True(t, rep.OK, rep.Reason)
	assert.Equal(t, 80, rep.Checked)
}

func TestEventSynchronous(t *testing.T) {
	tests := []struct {
		ev   Event
		want bool
	}{
		{Event{Severity: threat.LevelNone}, false},
		{Event{Severity: threat.LevelMedium}, false},
		{Event{Severity: threat.LevelHigh}, true},
		{Event{Severity: threat.LevelCritical}, true},
		{Event{Severity: threat.LevelLow, Blocked: true}, true},
	}
	for _, tt := range tests {
		if got := tt.ev.Synchronous(); got != tt.want {
			t.Errorf("Synchronous(%s, blocked=%v) = %v, want %v", tt.ev.Severity, tt.ev.Blocked, got, tt.want)
		}
	}
}
