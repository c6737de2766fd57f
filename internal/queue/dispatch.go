package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

// Eager runs analyses inline, within the dispatching request.
type Eager struct {
	Runner  Runner
	Timeout time.Duration
}

// Dispatch implements analysis.Dispatcher.
func (e *Eager) Dispatch(ctx context.Context, id string) error {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.Runner.Run(runCtx, id); err != nil {
		zap.L().Error("queue: eager run failed", zap.String("analysis_id", id), zap.Error(err))
		if ferr := e.Runner.FailRun(context.WithoutCancel(ctx), id, TimeoutMessage); ferr != nil {
			return eris.Wrap(ferr, "queue: record failure")
		}
	}
	return nil
}

// Temporal starts an ExecuteAnalysis workflow per run.
type Temporal struct {
	client      client.Client
	taskQueue   string
	timeoutSecs int
}

// NewTemporal creates a Temporal dispatcher.
func NewTemporal(c client.Client, taskQueue string, timeoutSecs int) *Temporal {
	return &Temporal{client: c, taskQueue: taskQueue, timeoutSecs: timeoutSecs}
}

// Dispatch implements analysis.Dispatcher.
func (t *Temporal) Dispatch(ctx context.Context, id string) error {
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(id),
		TaskQueue: t.taskQueue,
	}
	run, err := t.client.ExecuteWorkflow(ctx, opts, ExecuteAnalysis, WorkflowParams{
		AnalysisID:  id,
		TimeoutSecs: t.timeoutSecs,
	})
	if err != nil {
		return eris.Wrapf(err, "queue: start workflow for %s", id)
	}
	zap.L().Info("queue: workflow started",
		zap.String("analysis_id", id),
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)
	return nil
}
