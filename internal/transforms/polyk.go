// Package transforms implements the Poly-K and Rao-Scott dataset
// adjustments.
package transforms

import (
	"context"
	"math"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/bmds-online/bmds/internal/tabular"
	"github.com/bmds-online/bmds/internal/validate"
)

// MaxDatasetChars caps the size of submitted calculator text.
const MaxDatasetChars = 100_000

var polyKColumns = []string{"dose", "day", "has_tumor"}

var separators = regexp.MustCompile(`[,\t ]+`)

// PolyKInput is a Poly-K request.
type PolyKInput struct {
	Dataset   string   `json:"dataset" validate:"required"`
	DoseUnits string   `json:"dose_units"`
	Power     *float64 `json:"power,omitempty" validate:"omitempty,gte=0,lte=5"`
	Duration  *float64 `json:"duration,omitempty" validate:"omitempty,gt=0,lte=10000"`
}

// PolyKRow is one animal of the adjusted dataset.
type PolyKRow struct {
	Dose     float64 `json:"dose"`
	Day      float64 `json:"day"`
	HasTumor int     `json:"has_tumor"`
	AdjN     float64 `json:"adj_n"`
}

// PolyKSummary aggregates one dose group.
type PolyKSummary struct {
	Dose          float64 `json:"dose"`
	N             int     `json:"n"`
	AdjN          float64 `json:"adj_n"`
	Incidence     int     `json:"incidence"`
	Proportion    float64 `json:"proportion"`
	AdjProportion float64 `json:"adj_proportion"`
}

// PolyKResult is the calculator output.
type PolyKResult struct {
	Power     float64        `json:"power"`
	MaxDay    float64        `json:"max_day"`
	DoseUnits string         `json:"dose_units"`
	Adjusted  []PolyKRow     `json:"df"`
	Summary   []PolyKSummary `json:"df2"`
}

// PowerOrDefault returns the Poly-K power, 3 when unset.
func (in PolyKInput) PowerOrDefault() float64 {
	if in.Power == nil {
		return 3
	}
	return *in.Power
}

// ParsePolyK validates in and returns the parsed animals sorted by dose
// then day.
func ParsePolyK(ctx context.Context, in PolyKInput) ([]PolyKRow, error) {
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
	if !slices.Equal(tbl.Header, polyKColumns) {
		return nil, validate.NewValueError("Bad column names; requires ['dose', 'day', 'has_tumor']", "dataset")
	}

	animals := make([]PolyKRow, 0, len(tbl.Rows))
	tumors := map[float64]bool{}
	for _, row := range tbl.Rows {
		vals, err := parseFloats(row, len(polyKColumns))
		if err != nil {
			return nil, validate.NewValueError(err.Error(), "dataset")
		}
		animals = append(animals, PolyKRow{Dose: vals[0], Day: vals[1], HasTumor: int(vals[2])})
		tumors[vals[2]] = true
	}

	for _, a := range animals {
		if a.Dose < 0 {
			return nil, validate.NewValueError("`doses` must be ≥ 0", "dataset")
		}
	}
	for _, a := range animals {
		if a.Day < 0 {
			return nil, validate.NewValueError("`day` must be ≥ 0", "dataset")
		}
	}
	if len(tumors) != 2 || !tumors[0] || !tumors[1] {
		return nil, validate.NewValueError("`has_tumor` must include only the values {0, 1}", "dataset")
	}

	sort.SliceStable(animals, func(i, j int) bool {
		if animals[i].Dose != animals[j].Dose {
			return animals[i].Dose < animals[j].Dose
		}
		return animals[i].Day < animals[j].Day
	})
	return animals, nil
}

// PolyK validates and runs the Bailer-Portier poly-k adjustment. Animals
// with a tumor count fully; others are weighted by (day/max_day)^k, capped
// at 1. max_day is the duration when given, else the last observed day.
func PolyK(ctx context.Context, in PolyKInput) (*PolyKResult, error) {
	animals, err := ParsePolyK(ctx, in)
	if err != nil {
		return nil, err
	}

	k := in.PowerOrDefault()
	maxDay := 0.0
	if in.Duration != nil {
		maxDay = *in.Duration
	} else {
		for _, a := range animals {
			maxDay = math.Max(maxDay, a.Day)
		}
	}

	res := &PolyKResult{Power: k, MaxDay: maxDay, DoseUnits: in.DoseUnits, Adjusted: animals}
	for i := range res.Adjusted {
		res.Adjusted[i].AdjN = weight(res.Adjusted[i], k, maxDay)
	}
	res.Summary = summarize(res.Adjusted)
	return res, nil
}

func weight(a PolyKRow, k, maxDay float64) float64 {
	if a.HasTumor == 1 {
		return 1
	}
	if maxDay <= 0 {
		return 1
	}
	return math.Min(1, math.Pow(a.Day/maxDay, k))
}

func summarize(animals []PolyKRow) []PolyKSummary {
	var out []PolyKSummary
	for _, a := range animals {
		if len(out) == 0 || out[len(out)-1].Dose != a.Dose {
			out = append(out, PolyKSummary{Dose: a.Dose})
		}
		s := &out[len(out)-1]
		s.N++
		s.AdjN += a.AdjN
		s.Incidence += a.HasTumor
	}
	for i := range out {
		s := &out[i]
		s.Proportion = float64(s.Incidence) / float64(s.N)
		if s.AdjN > 0 {
			s.AdjProportion = float64(s.Incidence) / s.AdjN
		}
	}
	return out
}

func parseFloats(row []string, want int) ([]float64, error) {
	if len(row) != want {
		return nil, &rowError{msg: "Each row must have " + strconv.Itoa(want) + " values"}
	}
	out := make([]float64, want)
	for i, s := range row {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &rowError{msg: "Invalid number: " + s}
		}
		out[i] = v
	}
	return out, nil
}

type rowError struct{ msg string }

func (e *rowError) Error() string { return e.msg }
