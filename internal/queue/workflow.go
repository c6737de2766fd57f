// Package queue dispatches analysis runs, either inline or through a
// Temporal workflow executed by a worker process.
package queue

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// DefaultTimeout bounds a single analysis run.
const DefaultTimeout = 360 * time.Second

// TimeoutMessage is recorded on an analysis whose run did not finish.
const TimeoutMessage = "Analysis execution failed or timed out."

// Runner executes and fails analyses; analysis.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, id string) error
	FailRun(ctx context.Context, id, msg string) error
}

// Activities wraps a Runner as Temporal activities.
type Activities struct {
	Runner Runner
}

// RunAnalysis executes the analysis.
func (a *Activities) RunAnalysis(ctx context.Context, id string) error {
	activity.GetLogger(ctx).Info("running analysis", "analysis_id", id)
	return a.Runner.Run(ctx, id)
}

// FailAnalysis records a failed run.
func (a *Activities) FailAnalysis(ctx context.Context, id, msg string) error {
	return a.Runner.FailRun(ctx, id, msg)
}

// WorkflowParams configures ExecuteAnalysis.
type WorkflowParams struct {
	AnalysisID  string `json:"analysis_id"`
	TimeoutSecs int    `json:"timeout_secs"`
}

func (p WorkflowParams) timeout() time.Duration {
	if p.TimeoutSecs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(p.TimeoutSecs) * time.Second
}

// WorkflowID is the Temporal workflow ID for an analysis run.
func WorkflowID(analysisID string) string {
	return fmt.Sprintf("analysis-%s", analysisID)
}

// ExecuteAnalysis runs an analysis once. Runs are not retried: a failed or
// timed out run is recorded on the analysis instead.
func ExecuteAnalysis(ctx workflow.Context, params WorkflowParams) error {
	var acts *Activities
	logger := workflow.GetLogger(ctx)

	runCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: params.timeout(),
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	err := workflow.ExecuteActivity(runCtx, acts.RunAnalysis, params.AnalysisID).Get(ctx, nil)
	if err == nil {
		return nil
	}
	logger.Error("analysis run failed", "analysis_id", params.AnalysisID, "error", err)

	failCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	if ferr := workflow.ExecuteActivity(failCtx, acts.FailAnalysis, params.AnalysisID, TimeoutMessage).Get(ctx, nil); ferr != nil {
		logger.Error("recording failure", "analysis_id", params.AnalysisID, "error", ferr)
	}
	return err
}
