package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/bmds-online/bmds/internal/analysis"
	"github.com/bmds-online/bmds/internal/engine"
	"github.com/bmds-online/bmds/internal/executor"
	"github.com/bmds-online/bmds/internal/health"
	"github.com/bmds-online/bmds/internal/queue"
	"github.com/bmds-online/bmds/internal/store"
)

// appEnv holds the initialized store, engine and services for the
// serve and worker commands.
type appEnv struct {
	Store    store.Store
	Engine   engine.Engine
	Analyses *analysis.Service
	Worker   *health.Worker
	Temporal client.Client

	redis *redis.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Temporal != nil {
		e.Temporal.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func newService(st store.Store, eng engine.Engine) *analysis.Service {
	exec := executor.New(eng, cfg.Executor.MaxParallel, version)
	return analysis.NewService(st, exec, cfg.Analysis)
}

func queueTimeout() time.Duration {
	return time.Duration(cfg.Queue.TimeoutSecs) * time.Second
}

// initApp validates the config for mode, opens and migrates the store and
// wires the analysis service to its dispatcher. Callers should defer
// env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}
	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env.Engine = engine.NewFromConfig(cfg.Engine)
	env.Analyses = newService(st, env.Engine)

	switch cfg.Queue.Mode {
	case "temporal":
		c, err := queue.Dial(cfg.Queue)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Temporal = c
		env.Analyses.UseDispatcher(queue.NewTemporal(c, cfg.Queue.TaskQueue, cfg.Queue.TimeoutSecs))
	default:
		env.Analyses.UseDispatcher(&queue.Eager{Runner: env.Analyses, Timeout: queueTimeout()})
	}

	if cfg.Redis.Addr != "" {
		rc, err := health.NewRedis(ctx, cfg.Redis)
		if err != nil {
			zap.L().Warn("redis unavailable; worker health disabled", zap.Error(err))
		} else {
			env.redis = rc
			env.Worker = health.NewWorker(rc)
		}
	}

	zap.L().Info("environment ready",
		zap.String("mode", mode),
		zap.String("store", cfg.Store.Driver),
		zap.String("queue", cfg.Queue.Mode),
	)
	return env, nil
}
