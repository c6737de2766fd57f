// Package housekeeping enforces analysis retention on a schedule.
package housekeeping

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bmds-online/bmds/internal/config"
	"github.com/bmds-online/bmds/internal/model"
	"github.com/bmds-online/bmds/internal/store"
)

// HangingMessage is recorded on runs that never finished.
const HangingMessage = "Analysis execution failed or timed out."

// Failer ends a run with an analysis-level error; analysis.Service
// satisfies it.
type Failer interface {
	Fail(ctx context.Context, a *model.Analysis, msg string) error
}

// Report summarizes one housekeeping pass.
type Report struct {
	Expired    int  `json:"expired"`
	Unexecuted int  `json:"unexecuted"`
	Hanging    int  `json:"hanging"`
	Vacuumed   bool `json:"vacuumed"`
}

// Janitor deletes expired analyses, fails hanging runs and compacts the
// database.
type Janitor struct {
	store    store.Store
	failer   Failer
	analysis config.AnalysisConfig
	cfg      config.HousekeepingConfig
	now      func() time.Time
}

// New creates a Janitor.
func New(st store.Store, failer Failer, analysis config.AnalysisConfig, cfg config.HousekeepingConfig) *Janitor {
	return &Janitor{
		store:    st,
		failer:   failer,
		analysis: analysis,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the periodic loop. It blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	interval := time.Duration(j.cfg.IntervalMins) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	log := zap.L().With(zap.String("component", "housekeeping"))
	log.Info("starting housekeeping", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("housekeeping stopped")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				log.Error("housekeeping: pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single pass.
func (j *Janitor) RunOnce(ctx context.Context) (*Report, error) {
	now := j.now()
	var rep Report

	n, err := j.store.DeleteExpired(ctx, now)
	if err != nil {
		return nil, eris.Wrap(err, "housekeeping: delete expired")
	}
	rep.Expired = n

	if days := j.analysis.DaysToKeepUnexecuted; days > 0 && !j.analysis.Desktop {
		n, err = j.store.DeleteUnexecuted(ctx, now.Add(-time.Duration(days)*24*time.Hour))
		if err != nil {
			return nil, eris.Wrap(err, "housekeeping: delete unexecuted")
		}
		rep.Unexecuted = n
	}

	if err := j.failHanging(ctx, now, &rep); err != nil {
		return nil, err
	}

	if rep.Expired+rep.Unexecuted > 0 {
		if err := j.store.Vacuum(ctx); err != nil {
			return nil, eris.Wrap(err, "housekeeping: vacuum")
		}
		rep.Vacuumed = true
	}

	zap.L().Info("housekeeping: pass complete",
		zap.Int("expired", rep.Expired),
		zap.Int("unexecuted", rep.Unexecuted),
		zap.Int("hanging", rep.Hanging),
		zap.Bool("vacuumed", rep.Vacuumed),
	)
	return &rep, nil
}

func (j *Janitor) failHanging(ctx context.Context, now time.Time, rep *Report) error {
	after := time.Duration(j.cfg.HangingAfterMins) * time.Minute
	if after <= 0 {
		after = 15 * time.Minute
	}
	hanging, err := j.store.ListHanging(ctx, now.Add(-after))
	if err != nil {
		return eris.Wrap(err, "housekeeping: list hanging")
	}
	for i := range hanging {
		a := &hanging[i]
		if err := j.failer.Fail(ctx, a, HangingMessage); err != nil {
			zap.L().Warn("housekeeping: failed to close hanging run",
				zap.String("analysis_id", a.ID), zap.Error(err))
			continue
		}
		rep.Hanging++
	}
	return nil
}
