package queue

import (
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/bmds-online/bmds/internal/config"
)

// Dial connects to the Temporal frontend.
func Dial(cfg config.QueueConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    newLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "queue: dial %s", cfg.HostPort)
	}
	return c, nil
}

// NewWorker registers the analysis workflow and activities on taskQueue.
func NewWorker(c client.Client, taskQueue string, runner Runner, maxConcurrent int) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: maxConcurrent,
	})
	w.RegisterWorkflow(ExecuteAnalysis)
	w.RegisterActivity(&Activities{Runner: runner})
	return w
}
