package report

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/bmds-online/bmds/internal/model"
)

// Result paths tried in order; dichotomous and continuous results keep
// their fit statistics in different places.
var resultPaths = map[string][]string{
	"bmdl":    {"bmdl"},
	"bmd":     {"bmd"},
	"bmdu":    {"bmdu"},
	"aic":     {"fit.aic", "aic"},
	"p_value": {"gof.p_value", "tests.p_values.3", "combined_pvalue"},
}

var summaryHeader = []string{
	"dataset_index", "dataset_name", "option_index", "model_type", "model_index",
	"model_name", "bmdl", "bmd", "bmdu", "aic", "p_value", "selected", "notes", "error",
}

// Analysis renders the summary, datasets and options sheets for an
// analysis. out may be nil when the analysis has not run.
func Analysis(in *model.Inputs, out *model.AnalysisOutput) ([]byte, error) {
	return Workbook(
		summarySheet(in, out),
		datasetsSheet(in),
		optionsSheet(in),
	)
}

func summarySheet(in *model.Inputs, out *model.AnalysisOutput) Sheet {
	s := Sheet{Name: "summary", Header: summaryHeader}
	if out == nil {
		return s
	}
	for _, sess := range out.Outputs {
		name := datasetName(in, sess.DatasetIndex)
		if sess.Error != nil {
			s.Rows = append(s.Rows, []any{sess.DatasetIndex, name, sess.OptionIndex,
				nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, *sess.Error})
			continue
		}
		for _, half := range []struct {
			label string
			out   *model.SessionOutput
		}{{"frequentist", sess.Frequentist}, {"bayesian", sess.Bayesian}} {
			if half.out == nil {
				continue
			}
			for i, m := range half.out.Models {
				selected := half.out.Selected.ModelIndex != nil && *half.out.Selected.ModelIndex == i
				s.Rows = append(s.Rows, []any{
					sess.DatasetIndex, name, sess.OptionIndex, half.label, i, m.Name,
					field(m.Results, "bmdl"), field(m.Results, "bmd"), field(m.Results, "bmdu"),
					field(m.Results, "aic"), field(m.Results, "p_value"),
					selected, half.out.Selected.Notes, nil,
				})
			}
		}
	}
	return s
}

// field extracts a numeric result, nil when absent or not a number.
func field(results []byte, key string) *float64 {
	if len(results) == 0 {
		return nil
	}
	for _, path := range resultPaths[key] {
		r := gjson.GetBytes(results, path)
		if r.Type == gjson.Number {
			v := r.Float()
			return &v
		}
	}
	return nil
}

func datasetName(in *model.Inputs, i int) string {
	if in == nil || i < 0 || i >= len(in.Datasets) {
		return ""
	}
	return in.Datasets[i].Metadata.Name
}

func datasetsSheet(in *model.Inputs) Sheet {
	s := Sheet{Name: "datasets", Header: []string{"dataset_index", "dataset_name", "dtype", "column", "values"}}
	if in == nil {
		return s
	}
	for i, d := range in.Datasets {
		for _, col := range d.Columns() {
			s.Rows = append(s.Rows, []any{i, d.Metadata.Name, string(d.Dtype), col.Name, joinFloats(col.Values)})
		}
	}
	return s
}

func optionsSheet(in *model.Inputs) Sheet {
	s := Sheet{Name: "options", Header: []string{
		"option_index", "bmr_type", "bmr_value", "confidence_level", "tail_probability", "dist_type",
		"litter_specific_covariate", "estimate_background", "bootstrap_iterations", "bootstrap_seed",
	}}
	if in == nil {
		return s
	}
	for i, o := range in.Options {
		s.Rows = append(s.Rows, []any{i, intOrNil(o.BmrType), o.BmrValue, o.ConfidenceLevel, o.TailProbability,
			intOrNil(o.DistType), intOrNil(o.LitterSpecificCovariate), boolOrNil(o.EstimateBackground),
			intOrNil(o.BootstrapIterations), intOrNil(o.BootstrapSeed)})
	}
	return s
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolOrNil(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func joinFloats(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ", ")
}
