package validate

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmds-online/bmds/internal/model"
)

func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	require.Error(t, err)
	var verr *Error
	require.True(t, errors.As(err, &verr), "expected *validate.Error, got %T", err)
	return verr.Errors
}

func assertMissing(t *testing.T, err error, loc ...string) {
	t.Helper()
	errs := fieldErrors(t, err)
	assert.Equal(t, loc, errs[0].Loc)
	assert.Equal(t, "Field required", errs[0].Msg)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestValidateInputContinuousPartialThenComplete(t *testing.T) {
	t.Parallel()

	data := map[string]any{"dataset_type": "C"}
	require.NoError(t, ValidateInput(mustJSON(t, data), true, 10))
	assertMissing(t, ValidateInput(mustJSON(t, data), false, 10), "datasets")

	data["datasets"] = []any{map[string]any{
		"dtype":    "C",
		"metadata": map[string]any{"id": 123},
		"doses":    []float64{0, 10, 50, 150, 400},
		"ns":       []float64{111, 142, 143, 93, 42},
		"means":    []float64{2.112, 2.095, 1.956, 1.587, 1.254},
		"stdevs":   []float64{0.235, 0.209, 0.231, 0.263, 0.159},
	}}
	data["dataset_options"] = []any{map[string]any{
		"dataset_id": 123, "enabled": true, "degree": 0, "adverse_direction": -1,
	}}
	require.NoError(t, ValidateInput(mustJSON(t, data), true, 10))
	assertMissing(t, ValidateInput(mustJSON(t, data), false, 10), "models")

	data["models"] = map[string]any{"frequentist_restricted": []string{"Power"}}
	require.NoError(t, ValidateInput(mustJSON(t, data), true, 10))
	assertMissing(t, ValidateInput(mustJSON(t, data), false, 10), "options")

	data["options"] = []any{map[string]any{
		"bmr_type": 2, "bmr_value": 1.0, "tail_probability": 0.95,
		"confidence_level": 0.95, "dist_type": 1,
	}}
	require.NoError(t, ValidateInput(mustJSON(t, data), true, 10))
	require.NoError(t, ValidateInput(mustJSON(t, data), false, 10))
}

func TestValidateInputNestedDichotomous(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"bmds_version": "24.1a",
		"dataset_type": "ND",
		"datasets": []any{map[string]any{
			"dtype":             "ND",
			"metadata":          map[string]any{"id": 123},
			"doses":             []float64{0, 0, 0, 25, 25, 25, 50, 50, 50},
			"litter_ns":         []float64{16, 9, 15, 14, 13, 9, 10, 14, 10},
			"incidences":        []float64{1, 1, 2, 3, 2, 2, 2, 4, 5},
			"litter_covariates": []float64{16, 9, 15, 14, 13, 9, 10, 14, 10},
		}},
		"dataset_options": []any{map[string]any{"dataset_id": 123, "enabled": true}},
		"models":          map[string]any{"frequentist_restricted": []string{"Nested Logistic"}},
	}
	assertMissing(t, ValidateInput(mustJSON(t, data), false, 10), "options")

	data["options"] = []any{map[string]any{
		"bmr_type": 1, "bmr_value": 1.0, "confidence_level": 0.95,
		"litter_specific_covariate": 1, "bootstrap_iterations": 1000, "bootstrap_seed": 0,
	}}
	require.NoError(t, ValidateInput(mustJSON(t, data), false, 10))
}

func TestValidateInputMultiTumor(t *testing.T) {
	t.Parallel()

	dataset := func(id int) map[string]any {
		return map[string]any{
			"dtype":      "D",
			"metadata":   map[string]any{"id": id},
			"doses":      []float64{0, 10, 50, 150, 400},
			"ns":         []float64{20, 20, 20, 20, 20},
			"incidences": []float64{0, 0, 1, 4, 11},
		}
	}
	data := map[string]any{
		"dataset_type": "MT",
		"datasets":     []any{dataset(123), dataset(124)},
		"dataset_options": []any{
			map[string]any{"dataset_id": 123, "enabled": true, "degree": 0},
			map[string]any{"dataset_id": 124, "enabled": true, "degree": 0},
		},
		"models":  map[string]any{"frequentist_restricted": []string{"Multistage"}},
		"options": []any{map[string]any{"bmr_type": 1, "bmr_value": 1.0, "confidence_level": 0.95}},
	}
	require.NoError(t, ValidateInput(mustJSON(t, data), false, 10))

	data["models"] = map[string]any{"frequentist_restricted": []string{"Weibull"}}
	errs := fieldErrors(t, ValidateInput(mustJSON(t, data), false, 10))
	assert.Equal(t, "Invalid model(s) in frequentist_restricted: Weibull", errs[0].Msg)
	assert.Equal(t, []string{"models", "frequentist_restricted"}, errs[0].Loc)
}

func TestValidateInputRecommender(t *testing.T) {
	t.Parallel()

	data := completeDichotomous()
	require.NoError(t, ValidateInput(mustJSON(t, data), false, 10))

	delete(data, "recommender")
	require.NoError(t, ValidateInput(mustJSON(t, data), false, 10))

	data["recommender"] = map[string]any{"enabled": true}
	assertMissing(t, ValidateInput(mustJSON(t, data), false, 10), "recommender", "rules")
}

func TestValidateInputHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		loc  []string
		msg  string
	}{
		{name: "not an object", raw: `[]`, loc: []string{}, msg: "Input should be a valid dictionary"},
		{name: "missing type", raw: `{}`, loc: []string{"dataset_type"}, msg: "Field required"},
		{
			name: "bad version",
			raw:  `{"bmds_version": "BMDS270", "dataset_type": "D"}`,
			loc:  []string{"bmds_version"},
			msg:  "Input should be 'BMDS330', '23.2', '24.1a' or '25.1'",
		},
		{
			name: "bad type",
			raw:  `{"dataset_type": "Z"}`,
			loc:  []string{"dataset_type"},
			msg:  "Input should be 'C', 'CI', 'D', 'ND' or 'MT'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			errs := fieldErrors(t, ValidateInput(json.RawMessage(tt.raw), true, 10))
			assert.Equal(t, tt.loc, errs[0].Loc)
			assert.Equal(t, tt.msg, errs[0].Msg)
		})
	}
}

func TestValidateInputMaxDatasets(t *testing.T) {
	t.Parallel()

	data := completeDichotomous()
	ds := data["datasets"].([]any)[0]
	data["datasets"] = []any{ds, ds, ds}
	delete(data, "dataset_options")

	errs := fieldErrors(t, ValidateInput(mustJSON(t, data), false, 2))
	assert.Equal(t, []string{"datasets"}, errs[0].Loc)
	assert.Equal(t, "List should have at most 2 items", errs[0].Msg)

	require.NoError(t, ValidateInput(mustJSON(t, data), false, 1000))
}

func TestInputsDefaultsVersion(t *testing.T) {
	t.Parallel()

	data := completeDichotomous()
	delete(data, "bmds_version")
	in, err := Inputs(mustJSON(t, data), 10)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), in.BmdsVersion)
	assert.Equal(t, model.DatasetDichotomous, in.DatasetType)
}

func TestErrorJSON(t *testing.T) {
	t.Parallel()

	err := ValidateInput(json.RawMessage(`{}`), true, 10)
	b, jerr := json.Marshal(err)
	require.NoError(t, jerr)
	assert.JSONEq(t, `[{"loc":["dataset_type"],"msg":"Field required","type":"missing"}]`, string(b))
	assert.Contains(t, err.Error(), "dataset_type: Field required")
}

func completeDichotomous() map[string]any {
	return map[string]any{
		"bmds_version": "25.1",
		"dataset_type": "D",
		"datasets": []any{map[string]any{
			"dtype":      "D",
			"metadata":   map[string]any{"id": 123},
			"doses":      []float64{0, 10, 50, 150, 400},
			"ns":         []float64{20, 20, 20, 20, 20},
			"incidences": []float64{0, 0, 1, 4, 11},
		}},
		"dataset_options": []any{map[string]any{"dataset_id": 123, "enabled": true, "degree": 0}},
		"models": map[string]any{
			"frequentist_restricted": []string{"Gamma", "Multistage"},
			"bayesian": []any{
				map[string]any{"model": "Logistic", "prior_weight": 0.5},
				map[string]any{"model": "Probit", "prior_weight": 0.5},
			},
		},
		"options": []any{map[string]any{"bmr_type": 1, "bmr_value": 0.1, "confidence_level": 0.95}},
		"recommender": map[string]any{
			"enabled":                 true,
			"recommend_questionable":  false,
			"recommend_viable":        true,
			"sufficiently_close_bmdl": 3,
			"rules": []any{
				map[string]any{"rule_class": "gof", "enabled_dichotomous": true, "threshold": 0.1, "failure_bin": 1},
			},
		},
	}
}
