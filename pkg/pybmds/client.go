// Package pybmds is a client for the pybmds modeling sidecar, an HTTP
// wrapper around the pybmds/bmdscore library.
package pybmds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "http://127.0.0.1:5001"

// DefaultMaxResponseBytes caps a sidecar response body.
const DefaultMaxResponseBytes = 64 << 20

// Client runs modeling sessions and dataset adjustments.
type Client interface {
	ExecuteSession(ctx context.Context, req SessionRequest) (*SessionResponse, error)
	RaoScott(ctx context.Context, req RaoScottRequest) (*RaoScottResponse, error)
	Version(ctx context.Context) (*Version, error)
}

// SessionRequest is the body of POST /v1/session. Datasets, models and
// recommender settings are passed through as JSON.
type SessionRequest struct {
	BmdsVersion  string          `json:"bmds_version"`
	DatasetType  string          `json:"dataset_type"`
	Datasets     json.RawMessage `json:"datasets"`
	Models       json.RawMessage `json:"models"`
	Degrees      []int           `json:"degrees,omitempty"`
	Recommender  json.RawMessage `json:"recommender,omitempty"`
	ModelAverage bool            `json:"model_average"`
}

// ModelResult is one fitted model.
type ModelResult struct {
	Name     string          `json:"name"`
	Settings json.RawMessage `json:"settings"`
	Results  json.RawMessage `json:"results"`
}

// SessionResponse is the body returned by POST /v1/session.
type SessionResponse struct {
	Models       []ModelResult   `json:"models"`
	Recommender  json.RawMessage `json:"recommender,omitempty"`
	ModelAverage json.RawMessage `json:"model_average,omitempty"`
}

// RaoScottRequest is the body of POST /v1/rao-scott.
type RaoScottRequest struct {
	Doses      []float64 `json:"doses"`
	Ns         []float64 `json:"ns"`
	Incidences []float64 `json:"incidences"`
	Species    string    `json:"species"`
}

// RaoScottResponse holds the design-effect adjusted dataset.
type RaoScottResponse struct {
	Doses            []float64 `json:"doses"`
	Ns               []float64 `json:"ns"`
	Incidences       []float64 `json:"incidences"`
	Proportions      []float64 `json:"proportions"`
	DesignEffects    []float64 `json:"design_effects"`
	ScaledNs         []float64 `json:"scaled_ns"`
	ScaledIncidences []float64 `json:"scaled_incidences"`
}

// Version describes the sidecar's library build.
type Version struct {
	String   string `json:"string"`
	Pybmds   string `json:"pybmds"`
	Bmdscore string `json:"bmdscore"`
	Python   string `json:"python"`
}

// StatusError is returned for any non-200 response.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pybmds: unexpected status %d: %s", e.Code, e.Detail)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default sidecar URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithMaxResponseBytes overrides DefaultMaxResponseBytes.
func WithMaxResponseBytes(n int64) Option {
	return func(c *httpClient) {
		c.maxBody = n
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	maxBody int64
}

// NewClient creates a sidecar client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		maxBody: DefaultMaxResponseBytes,
		http: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) ExecuteSession(ctx context.Context, req SessionRequest) (*SessionResponse, error) {
	var out SessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/session", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) RaoScott(ctx context.Context, req RaoScottRequest) (*RaoScottResponse, error) {
	var out RaoScottResponse
	if err := c.do(ctx, http.MethodPost, "/v1/rao-scott", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) Version(ctx context.Context) (*Version, error) {
	var out Version
	if err := c.do(ctx, http.MethodGet, "/v1/version", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return eris.Wrap(err, "pybmds: marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "pybmds: create request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "pybmds: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return eris.Wrap(err, "pybmds: read response")
	}
	if int64(len(respBody)) > c.maxBody {
		return eris.Errorf("pybmds: response exceeds %d bytes", c.maxBody)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Detail: detail(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "pybmds: unmarshal response")
	}
	return nil
}

// detail pulls the "detail" message out of an error body, falling back to
// the raw body.
func detail(body []byte) string {
	var e struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && e.Detail != "" {
		return e.Detail
	}
	return string(bytes.TrimSpace(body))
}
