// Package executor runs every session of an analysis through the engine.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bmds-online/bmds/internal/engine"
	"github.com/bmds-online/bmds/internal/model"
	"github.com/bmds-online/bmds/internal/resilience"
	"github.com/bmds-online/bmds/internal/session"
)

// Result is the outcome of executing an analysis.
type Result struct {
	Output  *model.AnalysisOutput
	Errors  []model.ExecutionError
	Started time.Time
	Ended   time.Time
}

// Executor fans analysis sessions out to an engine.
type Executor struct {
	engine      engine.Engine
	maxParallel int
	uiVersion   string
}

// New creates an Executor. maxParallel below 1 runs sessions sequentially.
func New(eng engine.Engine, maxParallel int, uiVersion string) *Executor {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Executor{engine: eng, maxParallel: maxParallel, uiVersion: uiVersion}
}

// Run executes all sessions for in. A failing session is recorded on its
// result and in Errors; the others still run. Only cancellation or an
// unbuildable plan fails the whole run.
func (e *Executor) Run(ctx context.Context, analysisID string, in *model.Inputs) (*Result, error) {
	started := time.Now().UTC()
	plans, err := session.Plans(in)
	if err != nil {
		return nil, eris.Wrap(err, "executor: build plans")
	}

	log := zap.L().With(zap.String("analysis_id", analysisID))
	log.Info("executing analysis",
		zap.String("dataset_type", string(in.DatasetType)),
		zap.Int("sessions", len(plans)),
		zap.Int("max_parallel", e.maxParallel),
	)

	results := make([]model.SessionResult, len(plans))
	failures := make([]error, len(plans))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxParallel)
	for i, p := range plans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.runPlan(gctx, in.BmdsVersion, p)
			results[i] = res
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = err
				log.Warn("session failed",
					zap.Int("dataset_index", p.DatasetIndex),
					zap.Int("option_index", p.OptionIndex),
					zap.String("class", resilience.Classify(err)),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "executor: run sessions")
	}

	var execErrors []model.ExecutionError
	for i, err := range failures {
		if err == nil {
			continue
		}
		msg := message(err)
		results[i].Error = &msg
		execErrors = append(execErrors, model.ExecutionError{
			DatasetIndex: plans[i].DatasetIndex,
			OptionIndex:  plans[i].OptionIndex,
			Error:        msg,
		})
	}

	version, err := e.engine.Version(ctx)
	if err != nil {
		log.Warn("engine version unavailable", zap.Error(err))
		version = nil
	}

	ended := time.Now().UTC()
	log.Info("analysis executed",
		zap.Int("sessions", len(plans)),
		zap.Int("errors", len(execErrors)),
		zap.Duration("elapsed", ended.Sub(started)),
	)

	return &Result{
		Output: &model.AnalysisOutput{
			AnalysisID:            analysisID,
			AnalysisSchemaVersion: model.SchemaVersion,
			BmdsUIVersion:         e.uiVersion,
			BmdsPythonVersion:     version,
			Outputs:               results,
		},
		Errors:  execErrors,
		Started: started,
		Ended:   ended,
	}, nil
}

func (e *Executor) runPlan(ctx context.Context, version string, p *session.Plan) (model.SessionResult, error) {
	res := model.SessionResult{DatasetIndex: p.DatasetIndex, OptionIndex: p.OptionIndex}
	if p.Frequentist != nil {
		out, err := e.engine.Execute(ctx, version, p.Frequentist)
		if err != nil {
			return res, eris.Wrap(err, "frequentist")
		}
		res.Frequentist = out
	}
	if p.Bayesian != nil {
		out, err := e.engine.Execute(ctx, version, p.Bayesian)
		if err != nil {
			return res, eris.Wrap(err, "bayesian")
		}
		res.Bayesian = out
	}
	return res, nil
}

// message is the user-facing text for a failed session.
func message(err error) string {
	var me *engine.ModelError
	switch {
	case errors.As(err, &me):
		return me.Detail
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "The modeling engine is temporarily unavailable; please try again later."
	default:
		return err.Error()
	}
}
