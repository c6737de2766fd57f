// Package analysis implements the analysis lifecycle: creation, input
// patching, execution, model selection, retention and import.
package analysis

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bmds-online/bmds/internal/config"
	"github.com/bmds-online/bmds/internal/executor"
	"github.com/bmds-online/bmds/internal/model"
	"github.com/bmds-online/bmds/internal/report"
	"github.com/bmds-online/bmds/internal/schema"
	"github.com/bmds-online/bmds/internal/store"
	"github.com/bmds-online/bmds/internal/validate"
)

var (
	ErrForbidden       = eris.New("analysis: permission denied")
	ErrExecuting       = eris.New("analysis: execution in progress")
	ErrNotExecuted     = eris.New("analysis: no outputs")
	ErrSessionNotFound = eris.New("analysis: session not found")
)

// PasswordLength is the length of generated edit keys.
const PasswordLength = 12

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Dispatcher schedules an analysis run. Implementations call Service.Run,
// inline or on a worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, id string) error

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, id string) error {
	return f(ctx, id)
}

// Service manages analyses.
type Service struct {
	store      store.Store
	executor   *executor.Executor
	dispatcher Dispatcher
	cfg        config.AnalysisConfig
	now        func() time.Time
}

// NewService creates a Service. A dispatcher must be set with UseDispatcher
// before Execute is called.
func NewService(st store.Store, exec *executor.Executor, cfg config.AnalysisConfig) *Service {
	return &Service{
		store:    st,
		executor: exec,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// UseDispatcher sets how Execute schedules runs.
func (s *Service) UseDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// MaxDatasets is the dataset cap applied to complete inputs.
func (s *Service) MaxDatasets() int {
	return s.cfg.MaxDatasets()
}

// Create stores a new analysis. inputs may be empty; otherwise they must
// pass partial validation.
func (s *Service) Create(ctx context.Context, inputs json.RawMessage) (*model.Analysis, error) {
	if len(inputs) == 0 {
		inputs = json.RawMessage("{}")
	} else if err := validate.ValidateInput(inputs, true, s.MaxDatasets()); err != nil {
		return nil, err
	}

	password, err := newPassword()
	if err != nil {
		return nil, err
	}
	now := s.now()
	a := &model.Analysis{
		ID:           uuid.New().String(),
		Password:     password,
		Inputs:       inputs,
		Outputs:      json.RawMessage("{}"),
		Created:      now,
		LastUpdated:  now,
		DeletionDate: s.deletionDate(now),
	}
	if err := s.store.CreateAnalysis(ctx, a); err != nil {
		return nil, err
	}
	zap.L().Info("analysis created", zap.String("analysis_id", a.ID))
	return a, nil
}

// Get loads an analysis, migrating stored outputs written under an older
// schema version.
func (s *Service) Get(ctx context.Context, id string) (*model.Analysis, error) {
	a, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.upgrade(ctx, a); err != nil {
		zap.L().Warn("analysis: outputs not migrated", zap.String("analysis_id", id), zap.Error(err))
	}
	return a, nil
}

func (s *Service) upgrade(ctx context.Context, a *model.Analysis) error {
	if !a.HasOutputs() {
		return nil
	}
	var head struct {
		Version string `json:"analysis_schema_version"`
	}
	if err := json.Unmarshal(a.Outputs, &head); err != nil {
		return eris.Wrap(err, "analysis: read schema version")
	}
	if head.Version == model.SchemaVersion {
		return nil
	}

	doc, err := json.Marshal(a.ToDocument(false))
	if err != nil {
		return eris.Wrap(err, "analysis: encode document")
	}
	m, err := schema.Migrate(doc)
	if err != nil {
		return err
	}
	if err := a.SetOutputs(&m.Analysis.Outputs); err != nil {
		return err
	}
	zap.L().Info("analysis outputs migrated",
		zap.String("analysis_id", a.ID),
		zap.String("from", m.InitialVersion),
		zap.String("to", m.Version),
	)
	return s.store.UpdateAnalysis(ctx, a)
}

// List returns analyses matching filter, most recently updated first.
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]model.Analysis, error) {
	return s.store.ListAnalyses(ctx, filter)
}

// InputsValid reports whether a's inputs pass complete validation.
func (s *Service) InputsValid(a *model.Analysis) bool {
	return validate.ValidateInput(a.Inputs, false, s.MaxDatasets()) == nil
}

// Authorize loads the analysis and checks key against its edit key.
func (s *Service) Authorize(ctx context.Context, id, key string) (*model.Analysis, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CheckPassword(a, key) {
		return nil, ErrForbidden
	}
	return a, nil
}

// CheckPassword compares key to the edit key in constant time.
func CheckPassword(a *model.Analysis, key string) bool {
	if key == "" || a.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.Password), []byte(key)) == 1
}

// PatchInputs replaces the inputs after partial or complete validation.
func (s *Service) PatchInputs(ctx context.Context, id, key string, data json.RawMessage, partial bool) (*model.Analysis, error) {
	a, err := s.Authorize(ctx, id, key)
	if err != nil {
		return nil, err
	}
	if err := validate.ValidateInput(data, partial, s.MaxDatasets()); err != nil {
		return nil, err
	}
	a.Inputs = data
	return a, s.save(ctx, a)
}

// Execute validates the inputs, marks the analysis started and hands it to
// the dispatcher. With an inline dispatcher the returned analysis holds the
// outputs.
func (s *Service) Execute(ctx context.Context, id, key string) (*model.Analysis, error) {
	a, err := s.Authorize(ctx, id, key)
	if err != nil {
		return nil, err
	}
	if a.IsExecuting() {
		return nil, ErrExecuting
	}
	if _, err := validate.Inputs(a.Inputs, s.MaxDatasets()); err != nil {
		return nil, err
	}
	if s.dispatcher == nil {
		return nil, eris.New("analysis: no dispatcher configured")
	}

	now := s.now()
	resetExecution(a)
	a.Started = &now
	if err := s.save(ctx, a); err != nil {
		return nil, err
	}
	if err := s.dispatcher.Dispatch(ctx, id); err != nil {
		// Nothing is running; leave the analysis executable again.
		a.Started = nil
		if serr := s.save(context.WithoutCancel(ctx), a); serr != nil {
			zap.L().Error("analysis: clear start after dispatch failure",
				zap.String("analysis_id", id), zap.Error(serr))
		}
		return nil, eris.Wrapf(err, "analysis: dispatch %s", id)
	}
	return s.store.GetAnalysis(ctx, id)
}

// Run executes a started analysis and stores the outputs. Failures that
// prevent any session from running are recorded on the analysis.
func (s *Service) Run(ctx context.Context, id string) error {
	a, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return err
	}
	if a.Started == nil {
		now := s.now()
		a.Started = &now
	}

	in, err := validate.Inputs(a.Inputs, s.MaxDatasets())
	if err != nil {
		return s.fail(ctx, a, err)
	}
	res, err := s.executor.Run(ctx, a.ID, in)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return s.fail(ctx, a, err)
	}

	if err := a.SetOutputs(res.Output); err != nil {
		return err
	}
	a.Errors = res.Errors
	ended := s.now()
	a.Ended = &ended
	return s.save(ctx, a)
}

// Fail ends a run with a single analysis-level error.
func (s *Service) Fail(ctx context.Context, a *model.Analysis, msg string) error {
	ended := s.now()
	a.Ended = &ended
	a.Errors = append(a.Errors, model.ExecutionError{DatasetIndex: -1, OptionIndex: -1, Error: msg})
	return s.save(ctx, a)
}

// FailRun ends the run for id with msg, unless it already ended.
func (s *Service) FailRun(ctx context.Context, id, msg string) error {
	a, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return err
	}
	if a.Ended != nil {
		return nil
	}
	return s.Fail(ctx, a, msg)
}

func (s *Service) fail(ctx context.Context, a *model.Analysis, cause error) error {
	zap.L().Error("analysis run failed", zap.String("analysis_id", a.ID), zap.Error(cause))
	msg := cause.Error()
	var verr *validate.Error
	if errors.As(cause, &verr) {
		msg = "Invalid inputs: " + verr.Summary()
	}
	return s.Fail(ctx, a, msg)
}

// ResetExecution clears outputs, errors and run timestamps.
func (s *Service) ResetExecution(ctx context.Context, id, key string) (*model.Analysis, error) {
	a, err := s.Authorize(ctx, id, key)
	if err != nil {
		return nil, err
	}
	resetExecution(a)
	return a, s.save(ctx, a)
}

func resetExecution(a *model.Analysis) {
	a.Outputs = json.RawMessage("{}")
	a.Errors = nil
	a.Started = nil
	a.Ended = nil
}

// Selection picks a frequentist model for one session.
type Selection struct {
	DatasetIndex int                 `json:"dataset_index"`
	OptionIndex  int                 `json:"option_index"`
	Selected     model.SelectedModel `json:"selected"`
}

// SelectModel records the user's frequentist model choice for a session.
func (s *Service) SelectModel(ctx context.Context, id, key string, sel Selection) (*model.Analysis, error) {
	a, err := s.Authorize(ctx, id, key)
	if err != nil {
		return nil, err
	}
	out, err := a.DecodeOutputs()
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotExecuted
	}

	found := false
	for i := range out.Outputs {
		sess := &out.Outputs[i]
		if sess.DatasetIndex != sel.DatasetIndex || sess.OptionIndex != sel.OptionIndex || sess.Frequentist == nil {
			continue
		}
		if idx := sel.Selected.ModelIndex; idx != nil && (*idx < 0 || *idx >= len(sess.Frequentist.Models)) {
			return nil, validate.NewValueError("Invalid model index", "selected", "model_index")
		}
		sess.Frequentist.Selected = sel.Selected
		found = true
		break
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	if err := a.SetOutputs(out); err != nil {
		return nil, err
	}
	return a, s.save(ctx, a)
}

// Renew pushes the deletion date out by the retention period.
func (s *Service) Renew(ctx context.Context, id, key string) (*model.Analysis, error) {
	a, err := s.Authorize(ctx, id, key)
	if err != nil {
		return nil, err
	}
	a.DeletionDate = s.deletionDate(s.now())
	return a, s.save(ctx, a)
}

// Star toggles the starred flag.
func (s *Service) Star(ctx context.Context, id, key string) (*model.Analysis, error) {
	a, err := s.Authorize(ctx, id, key)
	if err != nil {
		return nil, err
	}
	a.Starred = !a.Starred
	return a, s.save(ctx, a)
}

// Delete removes the analysis.
func (s *Service) Delete(ctx context.Context, id, key string) error {
	if _, err := s.Authorize(ctx, id, key); err != nil {
		return err
	}
	zap.L().Info("analysis deleted", zap.String("analysis_id", id))
	return s.store.DeleteAnalysis(ctx, id)
}

// Import migrates an exported analysis document and stores it under a new
// ID and edit key.
func (s *Service) Import(ctx context.Context, doc []byte) (*model.Analysis, error) {
	m, err := schema.Migrate(doc)
	if err != nil {
		return nil, err
	}
	src := m.Analysis

	password, err := newPassword()
	if err != nil {
		return nil, err
	}
	now := s.now()
	a := &model.Analysis{
		ID:           uuid.New().String(),
		Password:     password,
		Inputs:       src.Inputs,
		Errors:       src.Errors,
		Starred:      src.Starred,
		Created:      now,
		LastUpdated:  now,
		Started:      src.Started,
		Ended:        src.Ended,
		DeletionDate: s.deletionDate(now),
	}
	out := src.Outputs
	out.AnalysisID = a.ID
	if err := a.SetOutputs(&out); err != nil {
		return nil, err
	}
	if err := s.store.CreateAnalysis(ctx, a); err != nil {
		return nil, err
	}
	zap.L().Info("analysis imported",
		zap.String("analysis_id", a.ID),
		zap.String("source_id", src.ID),
		zap.String("from_version", m.InitialVersion),
	)
	return a, nil
}

// Excel renders the analysis workbook.
func (s *Service) Excel(ctx context.Context, id string) ([]byte, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	in, err := model.ParseInputs(a.Inputs)
	if err != nil {
		return nil, err
	}
	out, err := a.DecodeOutputs()
	if err != nil {
		return nil, err
	}
	return report.Analysis(in, out)
}

func (s *Service) save(ctx context.Context, a *model.Analysis) error {
	a.LastUpdated = s.now()
	return s.store.UpdateAnalysis(ctx, a)
}

// deletionDate is nil on desktop, where analyses are kept indefinitely.
func (s *Service) deletionDate(from time.Time) *time.Time {
	keep := s.cfg.Retention()
	if keep <= 0 {
		return nil
	}
	d := from.Add(keep)
	return &d
}

func newPassword() (string, error) {
	buf := make([]byte, PasswordLength)
	if _, err := rand.Read(buf); err != nil {
		return "", eris.Wrap(err, "analysis: generate password")
	}
	for i, b := range buf {
		buf[i] = passwordAlphabet[int(b)%len(passwordAlphabet)]
	}
	return string(buf), nil
}
