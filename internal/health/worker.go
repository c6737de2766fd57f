// Package health tracks worker liveness through heartbeats stored in Redis.
package health

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bmds-online/bmds/internal/config"
)

const (
	// Key is the Redis list holding heartbeat timestamps, newest first.
	Key = "worker-healthcheck"
	// MaxSize caps the heartbeat history.
	MaxSize = 60
	// MaxWait is how old the newest heartbeat may be before the worker is
	// considered unhealthy.
	MaxWait = 5 * time.Minute
	// Interval is how often a worker pushes a heartbeat.
	Interval = time.Minute
)

// Lists is the subset of redis.Cmdable used for heartbeats.
type Lists interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Worker records and checks worker heartbeats.
type Worker struct {
	conn    Lists
	maxSize int64
	now     func() time.Time
}

// NewWorker wraps a Redis connection.
func NewWorker(conn Lists) *Worker {
	return &Worker{conn: conn, maxSize: MaxSize, now: time.Now}
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		c.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "health: connect redis %s", cfg.Addr)
	}
	return c, nil
}

// Push records a heartbeat.
func (w *Worker) Push(ctx context.Context) error {
	ts := float64(w.now().UnixNano()) / float64(time.Second)
	if err := w.conn.LPush(ctx, Key, strconv.FormatFloat(ts, 'f', 6, 64)).Err(); err != nil {
		return eris.Wrap(err, "health: push heartbeat")
	}
	if err := w.conn.LTrim(ctx, Key, 0, w.maxSize-1).Err(); err != nil {
		return eris.Wrap(err, "health: trim heartbeats")
	}
	return nil
}

// Series returns heartbeat times, newest first.
func (w *Worker) Series(ctx context.Context) ([]time.Time, error) {
	vals, err := w.conn.LRange(ctx, Key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, eris.Wrap(err, "health: read heartbeats")
	}
	out := make([]time.Time, 0, len(vals))
	for _, v := range vals {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out = append(out, time.Unix(0, int64(f*float64(time.Second))))
	}
	return out, nil
}

// Healthy reports whether the newest heartbeat is recent.
func (w *Worker) Healthy(ctx context.Context) (bool, error) {
	series, err := w.Series(ctx)
	if err != nil {
		return false, err
	}
	if len(series) == 0 {
		return false, nil
	}
	return w.now().Sub(series[0]) <= MaxWait, nil
}

// Clear removes all heartbeats.
func (w *Worker) Clear(ctx context.Context) error {
	return eris.Wrap(w.conn.Del(ctx, Key).Err(), "health: clear heartbeats")
}

// Beat pushes a heartbeat immediately and then every Interval until ctx is
// cancelled.
func (w *Worker) Beat(ctx context.Context) {
	log := zap.L().With(zap.String("component", "health.heartbeat"))
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		if err := w.Push(ctx); err != nil && ctx.Err() == nil {
			log.Warn("health: heartbeat failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
