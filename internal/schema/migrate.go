// Package schema migrates exported analyses to the current output schema.
package schema

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bmds-online/bmds/internal/model"
)

// Chain lists every schema version in order. The last entry is current.
var Chain = []string{"1.0", model.SchemaVersion}

var (
	ErrInvalidVersion = eris.New("cannot migrate; invalid version")
	ErrInvalidData    = eris.New("cannot migrate; invalid data")
)

// MigrationError reports why a document could not be migrated. Kind is
// ErrInvalidVersion or ErrInvalidData.
type MigrationError struct {
	Kind error
	Err  error
}

func (e *MigrationError) Error() string {
	if e.Err == nil {
		return "schema: " + e.Kind.Error()
	}
	return "schema: " + e.Kind.Error() + ": " + e.Err.Error()
}

func (e *MigrationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Step rewrites a document from the previous version in the chain.
type Step func(doc map[string]any) (map[string]any, error)

// steps maps a target version to the step that produces it.
var steps = map[string]Step{
	"1.1": to11,
}

// Analysis is a migrated analysis document that passed current-schema
// validation.
type Analysis struct {
	ID           string                 `json:"id" validate:"required"`
	Inputs       json.RawMessage        `json:"inputs" validate:"required"`
	Outputs      model.AnalysisOutput   `json:"outputs"`
	Errors       []model.ExecutionError `json:"errors"`
	Created      time.Time              `json:"created" validate:"required"`
	Started      *time.Time             `json:"started"`
	Ended        *time.Time             `json:"ended"`
	DeletionDate *time.Time             `json:"deletion_date"`
	Starred      bool                   `json:"starred"`
}

// Migration is the result of migrating a document.
type Migration struct {
	Initial        map[string]any
	InitialVersion string
	Analysis       *Analysis
	Version        string
}

// Migrate upgrades an exported analysis document to the current schema.
func Migrate(raw []byte) (*Migration, error) {
	doc, err := decodeObject(raw)
	if err != nil {
		return nil, &MigrationError{Kind: ErrInvalidVersion, Err: err}
	}
	initial, _ := decodeObject(raw)

	version := outputVersion(doc)
	start := slices.Index(Chain, version)
	if version == "" || start < 0 {
		return nil, &MigrationError{Kind: ErrInvalidVersion}
	}

	for _, target := range Chain[start+1:] {
		step, ok := steps[target]
		if !ok {
			return nil, &MigrationError{Kind: ErrInvalidData, Err: eris.Errorf("no step registered for %s", target)}
		}
		zap.L().Debug("schema: migrating", zap.String("from", version), zap.String("to", target))
		doc, err = step(doc)
		if err != nil {
			return nil, &MigrationError{Kind: ErrInvalidData, Err: err}
		}
	}

	analysis, err := decodeAnalysis(doc)
	if err != nil {
		return nil, &MigrationError{Kind: ErrInvalidData, Err: err}
	}
	return &Migration{
		Initial:        initial,
		InitialVersion: version,
		Analysis:       analysis,
		Version:        analysis.Outputs.AnalysisSchemaVersion,
	}, nil
}

// to11 stamps the 1.1 version and carries the 1.0 server version field
// over to bmds_ui_version.
func to11(doc map[string]any) (map[string]any, error) {
	outputs, ok := doc["outputs"].(map[string]any)
	if !ok {
		return nil, eris.New("outputs must be an object")
	}
	outputs["analysis_schema_version"] = "1.1"
	if _, ok := outputs["bmds_ui_version"]; !ok {
		if v, ok := outputs["bmds_server_version"]; ok {
			outputs["bmds_ui_version"] = v
		}
	}
	return doc, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "data must be an object")
	}
	if doc == nil {
		return nil, eris.New("data must be an object")
	}
	return doc, nil
}

func outputVersion(doc map[string]any) string {
	outputs, ok := doc["outputs"].(map[string]any)
	if !ok {
		return ""
	}
	v, _ := outputs["analysis_schema_version"].(string)
	return v
}

var validate = validator.New()

func decodeAnalysis(doc map[string]any) (*Analysis, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "encode migrated document")
	}
	var a Analysis
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, eris.Wrap(err, "decode migrated document")
	}
	if err := validate.Struct(&a); err != nil {
		return nil, eris.Wrap(err, "validate migrated document")
	}
	return &a, nil
}
