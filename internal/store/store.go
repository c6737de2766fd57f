// Package store persists analyses in SQLite (desktop projects) or Postgres.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bmds-online/bmds/internal/model"
)

// ErrNotFound is returned when an analysis does not exist.
var ErrNotFound = eris.New("store: analysis not found")

// ListFilter narrows ListAnalyses. Search matches the analysis name and
// description case-insensitively.
type ListFilter struct {
	Starred *bool  `json:"starred,omitempty"`
	Search  string `json:"search,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store defines the persistence interface for analyses.
type Store interface {
	CreateAnalysis(ctx context.Context, a *model.Analysis) error
	GetAnalysis(ctx context.Context, id string) (*model.Analysis, error)
	UpdateAnalysis(ctx context.Context, a *model.Analysis) error
	DeleteAnalysis(ctx context.Context, id string) error
	ListAnalyses(ctx context.Context, filter ListFilter) ([]model.Analysis, error)

	// Retention
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	DeleteUnexecuted(ctx context.Context, createdBefore time.Time) (int, error)
	ListHanging(ctx context.Context, startedBefore time.Time) ([]model.Analysis, error)
	Vacuum(ctx context.Context) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const analysisColumns = `id, password, inputs, outputs, errors, starred, created, last_updated, started, ended, deletion_date`

type scannable interface {
	Scan(dest ...any) error
}

func encodeErrors(errs []model.ExecutionError) ([]byte, error) {
	if errs == nil {
		errs = []model.ExecutionError{}
	}
	b, err := json.Marshal(errs)
	return b, eris.Wrap(err, "store: marshal errors")
}

func decodeErrors(b []byte) ([]model.ExecutionError, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var errs []model.ExecutionError
	if err := json.Unmarshal(b, &errs); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal errors")
	}
	if len(errs) == 0 {
		return nil, nil
	}
	return errs, nil
}

func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
