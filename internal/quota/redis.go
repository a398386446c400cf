package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisSource reads counters maintained by the platform's rate limiter.
// Keys are <prefix><user>:<feature>:<yyyymmdd> for the daily count and
// <prefix><user>:<feature>:window for the burst window.
type RedisSource struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// RedisOption configures a RedisSource.
type RedisOption func(*RedisSource)

// WithKeyPrefix sets a custom prefix for counter keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisSource) {
		r.keyPrefix = prefix
	}
}

// WithClock overrides the clock used to pick the daily key.
func WithClock(now func() time.Time) RedisOption {
	return func(r *RedisSource) {
		r.now = now
	}
}

// RedisConfig contains connection settings for the counter store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisSource wraps an existing client.
func NewRedisSource(client redis.UniversalClient, options ...RedisOption) *RedisSource {
	r := &RedisSource{
		client:    client,
		keyPrefix: "usage:",
		now:       time.Now,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// NewRedisSourceFromConfig dials a new client. The connection is not tested;
// lookups fail closed until the server is reachable.
func NewRedisSourceFromConfig(cfg RedisConfig, options ...RedisOption) *RedisSource {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 500 * time.Millisecond,
		ReadTimeout: 500 * time.Millisecond,
		MaxRetries:  -1,
	})
	return NewRedisSource(client, options...)
}

func (r *RedisSource) keys(userID, feature string) (daily, window string) {
	base := fmt.Sprintf("%s%s:%s:", r.keyPrefix, userID, feature)
	return base + r.now().UTC().Format("20060102"), base + "window"
}

// Usage fetches both counters in one round trip. Missing keys count as zero.
func (r *RedisSource) Usage(ctx context.Context, userID, feature string) (Usage, error) {
	dailyKey, windowKey := r.keys(userID, feature)
	vals, err := r.client.MGet(ctx, dailyKey, windowKey).Result()
	if err != nil {
		return Usage{}, fmt.Errorf("reading usage counters: %w", err)
	}
	var u Usage
	if u.Daily, err = parseCounter(vals, 0); err != nil {
		return Usage{}, err
	}
	if u.Window, err = parseCounter(vals, 1); err != nil {
		return Usage{}, err
	}
	return u, nil
}

func parseCounter(vals []interface{}, i int) (int64, error) {
	if i >= len(vals) || vals[i] == nil {
		return 0, nil
	}
	s, ok := vals[i].(string)
	if !ok {
		return 0, fmt.Errorf("unexpected counter type %T", vals[i])
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing counter %q: %w", s, err)
	}
	return n, nil
}

// Close closes the underlying client.
func (r *RedisSource) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
