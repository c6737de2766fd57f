// Package engine runs modeling sessions through the pybmds sidecar.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bmds-online/bmds/internal/config"
	"github.com/bmds-online/bmds/internal/model"
	"github.com/bmds-online/bmds/internal/resilience"
	"github.com/bmds-online/bmds/pkg/pybmds"
)

// Engine executes session requests and dataset adjustments.
type Engine interface {
	Execute(ctx context.Context, bmdsVersion string, req *model.SessionRequest) (*model.SessionOutput, error)
	RaoScott(ctx context.Context, req pybmds.RaoScottRequest) (*pybmds.RaoScottResponse, error)
	Version(ctx context.Context) (*model.VersionInfo, error)
}

// ModelError is a failure the engine attributed to the inputs, such as a
// dataset it cannot fit. It is never retried.
type ModelError struct {
	Detail string
}

func (e *ModelError) Error() string { return e.Detail }

// Client is the production Engine.
type Client struct {
	api     pybmds.Client
	limiter *rate.Limiter
	policy  *resilience.Policy
}

// New wraps api with rate limiting and the resilience policy described by cfg.
func New(api pybmds.Client, cfg config.EngineConfig) *Client {
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		api:     api,
		limiter: rate.NewLimiter(limit, burst),
		policy: resilience.NewPolicy("pybmds",
			cfg.MaxAttempts,
			time.Duration(cfg.InitialBackoffMs)*time.Millisecond,
			time.Duration(cfg.MaxBackoffMs)*time.Millisecond,
			cfg.BreakerThreshold,
			time.Duration(cfg.BreakerCooldownSecs)*time.Second,
		),
	}
}

// NewFromConfig builds the sidecar client and wraps it.
func NewFromConfig(cfg config.EngineConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	api := pybmds.NewClient(
		pybmds.WithBaseURL(cfg.BaseURL),
		pybmds.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	return New(api, cfg)
}

// Execute sends one session request and converts the result.
func (c *Client) Execute(ctx context.Context, bmdsVersion string, req *model.SessionRequest) (*model.SessionOutput, error) {
	body, err := encodeSession(bmdsVersion, req)
	if err != nil {
		return nil, err
	}

	resp, err := call(ctx, c, "execute", func(ctx context.Context) (*pybmds.SessionResponse, error) {
		return c.api.ExecuteSession(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	return decodeSession(req, resp), nil
}

// RaoScott adjusts a dichotomous dataset for the species design effect.
func (c *Client) RaoScott(ctx context.Context, req pybmds.RaoScottRequest) (*pybmds.RaoScottResponse, error) {
	return call(ctx, c, "rao-scott", func(ctx context.Context) (*pybmds.RaoScottResponse, error) {
		return c.api.RaoScott(ctx, req)
	})
}

// Version reports the sidecar's library versions.
func (c *Client) Version(ctx context.Context) (*model.VersionInfo, error) {
	v, err := call(ctx, c, "version", c.api.Version)
	if err != nil {
		return nil, err
	}
	return &model.VersionInfo{String: v.String, Pybmds: v.Pybmds, Bmdscore: v.Bmdscore, Python: v.Python}, nil
}

func call[T any](ctx context.Context, c *Client, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := c.limiter.Wait(ctx); err != nil {
		return zero, eris.Wrap(err, "engine: rate limit wait")
	}
	start := time.Now()
	val, err := resilience.Run(ctx, c.policy, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		return v, classify(err)
	})
	zap.L().Debug("engine: call",
		zap.String("op", op),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("ok", err == nil),
	)
	if err != nil {
		return zero, eris.Wrapf(err, "engine: %s", op)
	}
	return val, nil
}

// classify marks sidecar failures as transient or model errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *pybmds.StatusError
	if errors.As(err, &se) {
		switch {
		case resilience.TransientStatus(se.Code):
			return resilience.Transient(err, se.Code)
		case se.Code == http.StatusBadRequest || se.Code == http.StatusUnprocessableEntity:
			return &ModelError{Detail: se.Detail}
		}
	}
	return err
}

func encodeSession(bmdsVersion string, req *model.SessionRequest) (pybmds.SessionRequest, error) {
	datasets, err := json.Marshal(req.Datasets)
	if err != nil {
		return pybmds.SessionRequest{}, eris.Wrap(err, "engine: encode datasets")
	}
	models, err := json.Marshal(req.Models)
	if err != nil {
		return pybmds.SessionRequest{}, eris.Wrap(err, "engine: encode models")
	}
	out := pybmds.SessionRequest{
		BmdsVersion:  bmdsVersion,
		DatasetType:  string(req.DatasetType),
		Datasets:     datasets,
		Models:       models,
		Degrees:      req.Degrees,
		ModelAverage: req.ModelAverage,
	}
	if req.Recommender != nil {
		rec, err := json.Marshal(req.Recommender)
		if err != nil {
			return pybmds.SessionRequest{}, eris.Wrap(err, "engine: encode recommender")
		}
		out.Recommender = rec
	}
	return out, nil
}

// decodeSession pairs engine results with the requested settings, keeping
// request order.
func decodeSession(req *model.SessionRequest, resp *pybmds.SessionResponse) *model.SessionOutput {
	out := &model.SessionOutput{
		Models:       make([]model.ModelOutput, 0, len(req.Models)),
		Recommender:  resp.Recommender,
		ModelAverage: resp.ModelAverage,
	}
	if len(req.Datasets) == 1 {
		ds := req.Datasets[0]
		out.Dataset = &ds
	} else {
		out.Datasets = req.Datasets
	}
	for i, spec := range req.Models {
		m := model.ModelOutput{Name: spec.Name, Settings: spec.Settings}
		if i < len(resp.Models) {
			m.Results = resp.Models[i].Results
		}
		out.Models = append(out.Models, m)
	}
	return out
}
