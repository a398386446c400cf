package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gzhole/eduguard/internal/redact"
	"github.com/gzhole/eduguard/internal/threat"
)

var (
	// ErrWritePending means a synchronous write was not confirmed within
	// SyncTimeout. The event keeps its ID, is queued for retry and has been
	// handed to the Alerter.
	ErrWritePending = errors.New("audit: write pending")
	ErrClosed       = errors.New("audit: logger closed")
)

// Config tunes the write paths.
type Config struct {
	SyncTimeout   time.Duration `yaml:"sync_timeout"`
	BatchSize     int           `yaml:"batch_size"`
	BatchInterval time.Duration `yaml:"batch_interval"`
	QueueSize     int           `yaml:"queue_size"`
	RingSize      int           `yaml:"ring_size"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SyncTimeout:   2 * time.Second,
		BatchSize:     64,
		BatchInterval: time.Second,
		QueueSize:     1024,
		RingSize:      256,
		RetryInterval: 5 * time.Second,
		RetryBackoff:  50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = d.SyncTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = d.BatchInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.RingSize <= 0 {
		c.RingSize = d.RingSize
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	return c
}

// Option configures a Logger.
type Option func(*Logger)

// WithAlerter sets the secondary alert channel.
func WithAlerter(a Alerter) Option {
	return func(l *Logger) { l.alerter = a }
}

// WithRedactor scrubs event context values before hashing and persistence.
func WithRedactor(r *redact.Redactor) Option {
	return func(l *Logger) { l.redactor = r }
}

// WithLog sets the process logger used for write failures.
func WithLog(log zerolog.Logger) Option {
	return func(l *Logger) { l.log = log }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

type pendingEvent struct {
	ev       Event
	inflight <-chan error
}

// Logger appends events to a Store. Blocked or high severity events are
// written synchronously; the rest are batched in the background.
type Logger struct {
	store    Store
	cfg      Config
	alerter  Alerter
	redactor *redact.Redactor
	log      zerolog.Logger
	now      func() time.Time
	ring     *ring

	chainMu  sync.Mutex
	seq      uint64
	lastHash string

	closeMu   sync.RWMutex
	closed    bool
	queue     chan Event
	batchDone chan struct{}
	stopRetry chan struct{}
	retryDone chan struct{}

	pendMu  sync.Mutex
	pending []*pendingEvent
}

// New starts a Logger over store, continuing the hash chain from the last
// stored event.
func New(ctx context.Context, store Store, cfg Config, opts ...Option) (*Logger, error) {
	cfg = cfg.withDefaults()
	l := &Logger{
		store:     store,
		cfg:       cfg,
		log:       zerolog.Nop(),
		now:       time.Now,
		ring:      newRing(cfg.RingSize),
		queue:     make(chan Event, cfg.QueueSize),
		batchDone: make(chan struct{}),
		stopRetry: make(chan struct{}),
		retryDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.alerter == nil {
		l.alerter = LogAlerter{Log: l.log}
	}

	head, err := store.Query(ctx, Filter{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("audit: reading chain head: %w", err)
	}
	if len(head) == 1 {
		l.seq = head[0].Seq
		l.lastHash = head[0].Hash
	}

	go l.batchLoop()
	go l.retryLoop()
	return l, nil
}

// Log seals ev into the chain and persists it. The returned ID is valid
// even when the error is ErrWritePending.
func (l *Logger) Log(ctx context.Context, ev Event) (string, error) {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return "", ErrClosed
	}

	ev, err := l.seal(ev)
	if err != nil {
		return "", err
	}
	if ev.Synchronous() {
		return ev.ID, l.writeSync(ctx, ev)
	}

	select {
	case l.queue <- ev:
		l.ring.push(ev)
		return ev.ID, nil
	default:
	}
	// Queue full: write inline instead of dropping.
	if err := l.appendWithRetry(ctx, ev); err != nil {
		l.addPending(ev, nil)
		return ev.ID, fmt.Errorf("%w: %w", ErrWritePending, err)
	}
	l.ring.push(ev)
	return ev.ID, nil
}

func (l *Logger) seal(ev Event) (Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if l.redactor != nil {
		ev.Context = l.redactor.Map(ev.Context)
	}
	ev.AuditWritePending = false

	l.chainMu.Lock()
	defer l.chainMu.Unlock()
	ev.Timestamp = l.now().UTC().Round(0)
	ev.Seq = l.seq + 1
	ev.PrevHash = l.lastHash
	h, err := ComputeHash(ev)
	if err != nil {
		return ev, fmt.Errorf("audit: hashing event: %w", err)
	}
	ev.Hash = h
	l.seq = ev.Seq
	l.lastHash = h
	return ev, nil
}

// writeSync runs detached from caller cancellation and is bounded by
// SyncTimeout.
func (l *Logger) writeSync(ctx context.Context, ev Event) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.SyncTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.appendWithRetry(wctx, ev) }()

	select {
	case err := <-done:
		if err == nil {
			l.ring.push(ev)
			return nil
		}
		return l.escalate(ctx, ev, nil, err)
	case <-wctx.Done():
		return l.escalate(ctx, ev, done, wctx.Err())
	}
}

// escalate flags ev pending, queues it for retry and alerts.
func (l *Logger) escalate(ctx context.Context, ev Event, inflight <-chan error, cause error) error {
	ev = l.addPending(ev, inflight)
	l.alerter.Alert(context.WithoutCancel(ctx), ev, cause)
	return fmt.Errorf("%w: %w", ErrWritePending, cause)
}

func (l *Logger) addPending(ev Event, inflight <-chan error) Event {
	ev.AuditWritePending = true
	l.ring.push(ev)
	l.pendMu.Lock()
	l.pending = append(l.pending, &pendingEvent{ev: ev, inflight: inflight})
	l.pendMu.Unlock()
	return ev
}

// appendWithRetry tries once more after an exponential backoff.
func (l *Logger) appendWithRetry(ctx context.Context, events ...Event) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.RetryBackoff
	return backoff.Retry(func() error {
		return l.store.Append(ctx, events...)
	}, backoff.WithContext(backoff.WithMaxRetries(b, 1), ctx))
}

func (l *Logger) batchLoop() {
	defer close(l.batchDone)
	ticker := time.NewTicker(l.cfg.BatchInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, l.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.SyncTimeout)
		err := l.appendWithRetry(ctx, batch...)
		cancel()
		if err != nil {
			l.log.Error().Err(err).Int("events", len(batch)).Msg("audit batch write failed")
			for _, ev := range batch {
				l.addPending(ev, nil)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-l.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= l.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (l *Logger) retryLoop() {
	defer close(l.retryDone)
	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.retry(context.Background(), false)
		case <-l.stopRetry:
			return
		}
	}
}

// retry re-appends pending events and returns how many remain. With wait
// set it blocks on writes still in flight.
func (l *Logger) retry(ctx context.Context, wait bool) int {
	l.pendMu.Lock()
	items := l.pending
	l.pending = nil
	l.pendMu.Unlock()

	var still []*pendingEvent
	for _, p := range items {
		if p.inflight != nil {
			var err error
			var finished bool
			if wait {
				select {
				case err = <-p.inflight:
					finished = true
				case <-ctx.Done():
				}
			} else {
				select {
				case err = <-p.inflight:
					finished = true
				default:
				}
			}
			if !finished {
				still = append(still, p)
				continue
			}
			p.inflight = nil
			if err == nil {
				l.ring.markPersisted(p.ev.ID)
				continue
			}
		}
		wctx, cancel := context.WithTimeout(ctx, l.cfg.SyncTimeout)
		err := l.store.Append(wctx, p.ev)
		cancel()
		if err != nil {
			still = append(still, p)
			continue
		}
		l.ring.markPersisted(p.ev.ID)
		l.log.Info().Str("event_id", p.ev.ID).Msg("pending audit event persisted")
	}

	l.pendMu.Lock()
	defer l.pendMu.Unlock()
	l.pending = append(still, l.pending...)
	return len(l.pending)
}

// Flush retries pending writes immediately and returns how many remain.
func (l *Logger) Flush(ctx context.Context) int {
	return l.retry(ctx, true)
}

// Pending returns the number of events awaiting a confirmed write.
func (l *Logger) Pending() int {
	l.pendMu.Lock()
	defer l.pendMu.Unlock()
	return len(l.pending)
}

// Close drains the batch queue, retries pending events once more and closes
// the store. Events still pending are reported as an error.
func (l *Logger) Close(ctx context.Context) error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.closeMu.Unlock()

	<-l.batchDone
	close(l.stopRetry)
	<-l.retryDone

	var err error
	if n := l.retry(ctx, true); n > 0 {
		l.pendMu.Lock()
		for _, p := range l.pending {
			l.log.Error().Str("event_id", p.ev.ID).Uint64("seq", p.ev.Seq).Msg("audit event unpersisted at shutdown")
		}
		l.pendMu.Unlock()
		err = fmt.Errorf("audit: %d events still pending at close", n)
	}
	if cerr := l.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// Recent returns up to n of the most recently logged events, oldest first.
func (l *Logger) Recent(n int) []Event {
	return l.ring.last(n)
}

// Query reads from the store.
func (l *Logger) Query(ctx context.Context, f Filter) ([]Event, error) {
	return l.store.Query(ctx, f)
}

func (l *Logger) ByUser(ctx context.Context, userID string) ([]Event, error) {
	return l.store.Query(ctx, Filter{UserID: userID})
}

func (l *Logger) ByTimeRange(ctx context.Context, from, to time.Time) ([]Event, error) {
	return l.store.Query(ctx, Filter{From: from, To: to})
}

func (l *Logger) BySeverity(ctx context.Context, min threat.Level) ([]Event, error) {
	return l.store.Query(ctx, Filter{MinSeverity: min})
}

// Verify walks the stored hash chain.
func (l *Logger) Verify(ctx context.Context) (Report, error) {
	return Verify(ctx, l.store)
}
