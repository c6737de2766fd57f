package model

import (
	"fmt"
	"sort"
)

// DatasetType identifies the kind of dose-response data in an analysis.
type DatasetType string

const (
	DatasetContinuous           DatasetType = "C"
	DatasetContinuousIndividual DatasetType = "CI"
	DatasetDichotomous          DatasetType = "D"
	DatasetNestedDichotomous    DatasetType = "ND"
	DatasetMultiTumor           DatasetType = "MT" // analysis-level only; datasets are dichotomous
)

// Label returns the display name used in reports.
func (t DatasetType) Label() string {
	switch t {
	case DatasetContinuous, DatasetContinuousIndividual:
		return "Continuous"
	case DatasetDichotomous:
		return "Dichotomous"
	case DatasetNestedDichotomous:
		return "Nested Dichotomous"
	case DatasetMultiTumor:
		return "Multitumor"
	default:
		return string(t)
	}
}

// IsContinuous reports whether t is a summary or individual continuous type.
func (t DatasetType) IsContinuous() bool {
	return t == DatasetContinuous || t == DatasetContinuousIndividual
}

// Valid reports whether t is a known analysis dataset type.
func (t DatasetType) Valid() bool {
	switch t {
	case DatasetContinuous, DatasetContinuousIndividual, DatasetDichotomous,
		DatasetNestedDichotomous, DatasetMultiTumor:
		return true
	}
	return false
}

// DatasetMetadata describes a dataset; ID may be a number or a string in
// submitted JSON.
type DatasetMetadata struct {
	ID            any    `json:"id,omitempty"`
	Name          string `json:"name,omitempty"`
	DoseName      string `json:"dose_name,omitempty"`
	ResponseName  string `json:"response_name,omitempty"`
	DoseUnits     string `json:"dose_units,omitempty"`
	ResponseUnits string `json:"response_units,omitempty"`
}

// Key normalizes the metadata ID so numeric and string IDs compare equal.
func (m DatasetMetadata) Key() string {
	return idKey(m.ID)
}

func idKey(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case float64:
		if id == float64(int64(id)) {
			return fmt.Sprintf("%d", int64(id))
		}
		return fmt.Sprintf("%g", id)
	default:
		return fmt.Sprint(id)
	}
}

// Dataset is a single dose-response dataset. Which columns are populated
// depends on Dtype.
type Dataset struct {
	Dtype            DatasetType     `json:"dtype"`
	Metadata         DatasetMetadata `json:"metadata"`
	Doses            []float64       `json:"doses"`
	Ns               []float64       `json:"ns,omitempty"`
	Means            []float64       `json:"means,omitempty"`
	Stdevs           []float64       `json:"stdevs,omitempty"`
	Responses        []float64       `json:"responses,omitempty"`
	Incidences       []float64       `json:"incidences,omitempty"`
	LitterNs         []float64       `json:"litter_ns,omitempty"`
	LitterCovariates []float64       `json:"litter_covariates,omitempty"`
}

// NumDoseGroups returns the number of distinct dose groups.
func (d Dataset) NumDoseGroups() int {
	switch d.Dtype {
	case DatasetContinuousIndividual, DatasetNestedDichotomous:
		return len(d.UniqueDoses())
	default:
		return len(d.Doses)
	}
}

// UniqueDoses returns the sorted distinct doses.
func (d Dataset) UniqueDoses() []float64 {
	seen := make(map[float64]struct{}, len(d.Doses))
	var out []float64
	for _, dose := range d.Doses {
		if _, ok := seen[dose]; ok {
			continue
		}
		seen[dose] = struct{}{}
		out = append(out, dose)
	}
	sort.Float64s(out)
	return out
}

// Column is a named dataset column.
type Column struct {
	Name   string
	Values []float64
}

// Columns returns the columns required for the dataset's type, in the order
// they are validated.
func (d Dataset) Columns() []Column {
	switch d.Dtype {
	case DatasetContinuous:
		return []Column{{"doses", d.Doses}, {"ns", d.Ns}, {"means", d.Means}, {"stdevs", d.Stdevs}}
	case DatasetContinuousIndividual:
		return []Column{{"doses", d.Doses}, {"responses", d.Responses}}
	case DatasetDichotomous:
		return []Column{{"doses", d.Doses}, {"ns", d.Ns}, {"incidences", d.Incidences}}
	case DatasetNestedDichotomous:
		return []Column{
			{"doses", d.Doses}, {"litter_ns", d.LitterNs},
			{"incidences", d.Incidences}, {"litter_covariates", d.LitterCovariates},
		}
	default:
		return []Column{{"doses", d.Doses}}
	}
}

// Adverse directions for continuous datasets.
const (
	AdverseAutomatic = -1
	AdverseDown      = 0
	AdverseUp        = 1
)

// DatasetOption holds per-dataset modeling choices.
type DatasetOption struct {
	DatasetID        any   `json:"dataset_id"`
	Enabled          *bool `json:"enabled,omitempty"`
	Degree           int   `json:"degree"`
	AdverseDirection *int  `json:"adverse_direction,omitempty"`
}

// IsEnabled defaults to true when the flag is absent.
func (o DatasetOption) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// Key normalizes DatasetID for comparison with DatasetMetadata.Key.
func (o DatasetOption) Key() string {
	return idKey(o.DatasetID)
}

// Direction returns the adverse direction, AdverseAutomatic when unset.
func (o DatasetOption) Direction() int {
	if o.AdverseDirection == nil {
		return AdverseAutomatic
	}
	return *o.AdverseDirection
}
