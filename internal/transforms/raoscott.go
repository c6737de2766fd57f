package transforms

import (
	"context"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/bmds-online/bmds/internal/tabular"
	"github.com/bmds-online/bmds/internal/validate"
	"github.com/bmds-online/bmds/pkg/pybmds"
)

var raoScottColumns = []string{"dose", "n", "incidence"}

// Species with published design-effect parameters.
var Species = []string{"mouse", "rat", "rabbit"}

// RaoScottInput is a Rao-Scott request.
type RaoScottInput struct {
	Dataset string `json:"dataset" validate:"required"`
	Species string `json:"species" validate:"required,oneof=mouse rat rabbit"`
}

// Adjuster computes the design-effect adjustment; engine.Engine is one.
type Adjuster interface {
	RaoScott(ctx context.Context, req pybmds.RaoScottRequest) (*pybmds.RaoScottResponse, error)
}

// ParseRaoScott validates in and returns the engine request.
func ParseRaoScott(ctx context.Context, in RaoScottInput) (*pybmds.RaoScottRequest, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if len(in.Dataset) > MaxDatasetChars {
		return nil, validate.NewValueError("Dataset too large", "dataset")
	}

	text := separators.ReplaceAllString(strings.TrimSpace(in.Dataset), ",")
	tbl, err := tabular.ReadTable(ctx, strings.NewReader(text), tabular.CSVOptions{TrimSpace: true, SkipBlank: true})
	if err != nil {
		return nil, validate.NewValueError("Unable to parse dataset", "dataset")
	}
	if !slices.Equal(tbl.Header, raoScottColumns) {
		return nil, validate.NewValueError("Bad column names; requires ['dose', 'n', 'incidence']", "dataset")
	}
	if len(tbl.Rows) < 2 {
		return nil, validate.NewValueError("At least 2 dose groups are required", "dataset")
	}

	req := &pybmds.RaoScottRequest{Species: in.Species}
	for _, row := range tbl.Rows {
		vals, err := parseFloats(row, len(raoScottColumns))
		if err != nil {
			return nil, validate.NewValueError(err.Error(), "dataset")
		}
		dose, n, incidence := vals[0], vals[1], vals[2]
		switch {
		case dose < 0:
			return nil, validate.NewValueError("`dose` must be ≥ 0", "dataset")
		case n <= 0:
			return nil, validate.NewValueError("`n` must be > 0", "dataset")
		case incidence < 0 || incidence > n:
			return nil, validate.NewValueError("`incidence` must be between 0 and `n`", "dataset")
		}
		req.Doses = append(req.Doses, dose)
		req.Ns = append(req.Ns, n)
		req.Incidences = append(req.Incidences, incidence)
	}
	return req, nil
}

// RaoScott validates in and runs the adjustment through adj.
func RaoScott(ctx context.Context, adj Adjuster, in RaoScottInput) (*pybmds.RaoScottResponse, error) {
	req, err := ParseRaoScott(ctx, in)
	if err != nil {
		return nil, err
	}
	resp, err := adj.RaoScott(ctx, *req)
	if err != nil {
		return nil, eris.Wrap(err, "transforms: rao-scott")
	}
	return resp, nil
}
