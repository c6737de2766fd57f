package engine

import (
	"context"
	"sync"

	"github.com/bmds-online/bmds/internal/model"
	"github.com/bmds-online/bmds/pkg/pybmds"
)

// Fake is an in-memory Engine. By default Execute echoes the request models
// with empty results; set ExecuteFunc to script failures.
type Fake struct {
	ExecuteFunc  func(req *model.SessionRequest) (*model.SessionOutput, error)
	RaoScottFunc func(req pybmds.RaoScottRequest) (*pybmds.RaoScottResponse, error)
	Info         model.VersionInfo

	mu    sync.Mutex
	calls []*model.SessionRequest
}

// Execute implements Engine.
func (f *Fake) Execute(ctx context.Context, _ string, req *model.SessionRequest) (*model.SessionOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.ExecuteFunc != nil {
		return f.ExecuteFunc(req)
	}
	return decodeSession(req, &pybmds.SessionResponse{}), nil
}

// RaoScott implements Engine.
func (f *Fake) RaoScott(_ context.Context, req pybmds.RaoScottRequest) (*pybmds.RaoScottResponse, error) {
	if f.RaoScottFunc != nil {
		return f.RaoScottFunc(req)
	}
	return &pybmds.RaoScottResponse{Doses: req.Doses, Ns: req.Ns, Incidences: req.Incidences}, nil
}

// Version implements Engine.
func (f *Fake) Version(context.Context) (*model.VersionInfo, error) {
	v := f.Info
	return &v, nil
}

// Calls returns the requests seen by Execute.
func (f *Fake) Calls() []*model.SessionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.SessionRequest(nil), f.calls...)
}
