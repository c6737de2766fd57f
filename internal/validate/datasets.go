package validate

import (
	"fmt"

	"github.com/bmds-online/bmds/internal/model"
)

type sizeLimit struct {
	min, max int
}

var datasetLimits = map[model.DatasetType]sizeLimit{
	model.DatasetDichotomous:          {3, 30},
	model.DatasetContinuous:           {3, 30},
	model.DatasetContinuousIndividual: {5, 1000},
	model.DatasetNestedDichotomous:    {3, 1000},
}

// ValidateDatasets checks dataset shapes for the analysis dataset type and
// that dataset options refer to known datasets.
func ValidateDatasets(dt model.DatasetType, datasets []model.Dataset, options []model.DatasetOption, maxItems int) error {
	errs := prefix(checkDatasets(dt, datasets, maxItems), "datasets")
	errs = append(errs, prefix(checkDatasetOptions(datasets, options), "dataset_options")...)
	return newError(errs)
}

func checkDatasets(dt model.DatasetType, datasets []model.Dataset, maxItems int) []FieldError {
	if errs := checkLength(len(datasets), maxItems); errs != nil {
		return errs
	}
	want := dt
	if dt == model.DatasetMultiTumor {
		want = model.DatasetDichotomous
	}
	var errs []FieldError
	for i, d := range datasets {
		if d.Dtype != want {
			errs = append(errs, fieldError(
				fmt.Sprintf("Input should be '%s'", want), "literal_error", fmt.Sprint(i), "dtype"))
			continue
		}
		errs = append(errs, prefix(checkDataset(d), fmt.Sprint(i))...)
	}
	return errs
}

// CheckDataset validates a single dataset against the rules for its dtype.
func CheckDataset(d model.Dataset) error {
	return newError(checkDataset(d))
}

func checkDataset(d model.Dataset) []FieldError {
	limit, ok := datasetLimits[d.Dtype]
	if !ok {
		return []FieldError{fieldError(fmt.Sprintf("Unknown dataset dtype: %s", d.Dtype), "value_error", "dtype")}
	}

	n := len(d.Doses)
	for _, col := range d.Columns() {
		if len(col.Values) != n {
			return []FieldError{fieldError(
				fmt.Sprintf("Column %s must have the same length as doses", col.Name), "value_error", col.Name)}
		}
	}
	for _, dose := range d.Doses {
		if dose < 0 {
			return []FieldError{fieldError("Doses must be ≥ 0", "value_error", "doses")}
		}
	}

	var errs []FieldError
	if n < limit.min {
		errs = append(errs, fieldError(fmt.Sprintf("At least %d groups are required", limit.min), "value_error"))
	}
	if n > limit.max {
		errs = append(errs, fieldError(fmt.Sprintf("A maximum of %d groups are allowed", limit.max), "value_error"))
	}

	switch d.Dtype {
	case model.DatasetDichotomous:
		for i := range d.Incidences {
			if d.Incidences[i] > d.Ns[i] {
				errs = append(errs, fieldError("Incidence > N", "value_error"))
				break
			}
		}
	case model.DatasetNestedDichotomous:
		for i := range d.Incidences {
			if d.Incidences[i] > d.LitterNs[i] {
				errs = append(errs, fieldError("Incidence > N", "value_error"))
				break
			}
		}
	case model.DatasetContinuous:
		for _, size := range d.Ns {
			if size <= 1 {
				errs = append(errs, fieldError("All N must be > 1", "value_error"))
				break
			}
		}
	case model.DatasetContinuousIndividual:
		counts := map[float64]int{}
		for _, dose := range d.Doses {
			counts[dose]++
		}
		for _, c := range counts {
			if c < 2 {
				errs = append(errs, fieldError("Each dose must have at > 1 response", "value_error"))
				break
			}
		}
	}
	return errs
}

func checkDatasetOptions(datasets []model.Dataset, options []model.DatasetOption) []FieldError {
	known := make(map[string]struct{}, len(datasets))
	for _, d := range datasets {
		if key := d.Metadata.Key(); key != "" {
			known[key] = struct{}{}
		}
	}
	if len(known) == 0 {
		return nil
	}
	var errs []FieldError
	for i, o := range options {
		if _, ok := known[o.Key()]; !ok {
			errs = append(errs, fieldError(
				fmt.Sprintf("Unknown dataset_id: %s", o.Key()), "value_error", fmt.Sprint(i), "dataset_id"))
		}
	}
	return errs
}
