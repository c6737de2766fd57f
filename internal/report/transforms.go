package report

import (
	"github.com/bmds-online/bmds/internal/transforms"
	"github.com/bmds-online/bmds/pkg/pybmds"
)

// PolyK renders the adjusted and summary sheets.
func PolyK(res *transforms.PolyKResult) ([]byte, error) {
	adjusted := Sheet{Name: "adjusted", Header: []string{"dose", "day", "has_tumor", "adj_n"}}
	for _, r := range res.Adjusted {
		adjusted.Rows = append(adjusted.Rows, []any{r.Dose, r.Day, r.HasTumor, r.AdjN})
	}
	summary := Sheet{Name: "summary", Header: []string{"dose", "n", "adj_n", "incidence", "proportion", "adj_proportion"}}
	for _, s := range res.Summary {
		summary.Rows = append(summary.Rows, []any{s.Dose, s.N, s.AdjN, s.Incidence, s.Proportion, s.AdjProportion})
	}
	return Workbook(adjusted, summary)
}

// RaoScott renders the adjusted sheet.
func RaoScott(res *pybmds.RaoScottResponse) ([]byte, error) {
	s := Sheet{Name: "adjusted", Header: []string{
		"dose", "n", "incidence", "proportion", "design_effect", "scaled_n", "scaled_incidence",
	}}
	for i := range res.Doses {
		s.Rows = append(s.Rows, []any{
			res.Doses[i], at(res.Ns, i), at(res.Incidences, i), at(res.Proportions, i),
			at(res.DesignEffects, i), at(res.ScaledNs, i), at(res.ScaledIncidences, i),
		})
	}
	return Workbook(s)
}

func at(vals []float64, i int) *float64 {
	if i >= len(vals) {
		return nil
	}
	return &vals[i]
}
