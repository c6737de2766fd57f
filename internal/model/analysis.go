package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Analysis is a persisted analysis record.
type Analysis struct {
	ID           string           `json:"id"`
	Password     string           `json:"-"`
	Inputs       json.RawMessage  `json:"inputs"`
	Outputs      json.RawMessage  `json:"outputs"`
	Errors       []ExecutionError `json:"errors"`
	Starred      bool             `json:"starred"`
	Created      time.Time        `json:"created"`
	LastUpdated  time.Time        `json:"last_updated"`
	Started      *time.Time       `json:"started"`
	Ended        *time.Time       `json:"ended"`
	DeletionDate *time.Time       `json:"deletion_date"`
}

// IsExecuting reports whether a run has started and not yet ended.
func (a *Analysis) IsExecuting() bool {
	return a.Started != nil && a.Ended == nil
}

// HasOutputs reports whether outputs hold anything beyond an empty object.
func (a *Analysis) HasOutputs() bool {
	trimmed := bytes.TrimSpace(a.Outputs)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("{}")) && !bytes.Equal(trimmed, []byte("null"))
}

// IsFinished reports whether an execution produced outputs or errors.
func (a *Analysis) IsFinished() bool {
	return a.HasOutputs() || len(a.Errors) > 0
}

// HasErrors reports whether any session failed.
func (a *Analysis) HasErrors() bool {
	return len(a.Errors) > 0
}

// DecodeOutputs returns the typed output envelope, nil when none is stored.
func (a *Analysis) DecodeOutputs() (*AnalysisOutput, error) {
	if !a.HasOutputs() {
		return nil, nil
	}
	var out AnalysisOutput
	if err := json.Unmarshal(a.Outputs, &out); err != nil {
		return nil, eris.Wrap(err, "model: decode outputs")
	}
	return &out, nil
}

// SetOutputs encodes out into the record; nil resets to an empty object.
func (a *Analysis) SetOutputs(out *AnalysisOutput) error {
	if out == nil {
		a.Outputs = json.RawMessage("{}")
		return nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return eris.Wrap(err, "model: encode outputs")
	}
	a.Outputs = b
	return nil
}

// Document is the exported form of an analysis, as returned by the API and
// accepted by import.
type Document struct {
	ID           string           `json:"id"`
	Inputs       json.RawMessage  `json:"inputs"`
	Outputs      json.RawMessage  `json:"outputs"`
	Errors       []ExecutionError `json:"errors"`
	Starred      bool             `json:"starred"`
	Created      time.Time        `json:"created"`
	LastUpdated  time.Time        `json:"last_updated"`
	Started      *time.Time       `json:"started"`
	Ended        *time.Time       `json:"ended"`
	DeletionDate *time.Time       `json:"deletion_date"`
	IsExecuting  bool             `json:"is_executing"`
	IsFinished   bool             `json:"is_finished"`
	HasErrors    bool             `json:"has_errors"`
	InputsValid  bool             `json:"inputs_valid"`
}

// ToDocument builds the exported view of a.
func (a *Analysis) ToDocument(inputsValid bool) Document {
	inputs := a.Inputs
	if len(inputs) == 0 {
		inputs = json.RawMessage("{}")
	}
	outputs := a.Outputs
	if len(outputs) == 0 {
		outputs = json.RawMessage("{}")
	}
	errs := a.Errors
	if errs == nil {
		errs = []ExecutionError{}
	}
	return Document{
		ID:           a.ID,
		Inputs:       inputs,
		Outputs:      outputs,
		Errors:       errs,
		Starred:      a.Starred,
		Created:      a.Created,
		LastUpdated:  a.LastUpdated,
		Started:      a.Started,
		Ended:        a.Ended,
		DeletionDate: a.DeletionDate,
		IsExecuting:  a.IsExecuting(),
		IsFinished:   a.IsFinished(),
		HasErrors:    a.HasErrors(),
		InputsValid:  inputsValid,
	}
}
