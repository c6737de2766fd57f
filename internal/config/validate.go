package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command needs. Mode is the command name:
// serve, worker, housekeeping or migrate.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
		}
		problems = append(problems, c.queueProblems()...)
	case "worker":
		if c.Queue.Mode != "temporal" {
			problems = append(problems, "queue.mode must be temporal to run a worker")
		}
		problems = append(problems, c.queueProblems()...)
		if c.Engine.BaseURL == "" {
			problems = append(problems, "engine.base_url is required")
		}
	case "housekeeping":
		if c.Analysis.DaysToKeep <= 0 {
			problems = append(problems, "analysis.days_to_keep must be positive")
		}
	}

	if c.Executor.MaxParallel < 1 {
		problems = append(problems, "executor.max_parallel must be at least 1")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) queueProblems() []string {
	switch c.Queue.Mode {
	case "eager":
		return nil
	case "temporal":
		var p []string
		if c.Queue.HostPort == "" {
			p = append(p, "queue.host_port is required")
		}
		if c.Queue.TaskQueue == "" {
			p = append(p, "queue.task_queue is required")
		}
		return p
	default:
		return []string{fmt.Sprintf("queue.mode must be eager or temporal, got %q", c.Queue.Mode)}
	}
}
