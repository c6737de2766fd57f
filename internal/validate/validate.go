// Package validate checks analysis inputs before they are stored or run.
package validate

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/bmds-online/bmds/internal/model"
)

// Versions lists the accepted bmds_version values, oldest first.
var Versions = []string{"BMDS330", "23.2", "24.1a", "25.1"}

// LatestVersion returns the newest accepted bmds_version.
func LatestVersion() string {
	return Versions[len(Versions)-1]
}

var datasetTypes = []string{
	string(model.DatasetContinuous),
	string(model.DatasetContinuousIndividual),
	string(model.DatasetDichotomous),
	string(model.DatasetNestedDichotomous),
	string(model.DatasetMultiTumor),
}

// ValidateInput checks raw analysis inputs. A partial check requires only
// dataset_type and validates whichever other sections are present; a
// complete check also requires datasets, models and options. maxDatasets
// caps the number of datasets and option sets; zero disables the cap.
func ValidateInput(raw json.RawMessage, partial bool, maxDatasets int) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return newError([]FieldError{fieldError("Input should be a valid dictionary", "dict_type")})
	}

	var errs []FieldError
	if v, ok := fields["bmds_version"]; ok {
		var version string
		if err := json.Unmarshal(v, &version); err != nil || !slices.Contains(Versions, version) {
			errs = append(errs, enumError(Versions, "bmds_version"))
		}
	}
	dtRaw, ok := fields["dataset_type"]
	if !ok {
		errs = append(errs, missing("dataset_type"))
	} else {
		var dt string
		if err := json.Unmarshal(dtRaw, &dt); err != nil || !slices.Contains(datasetTypes, dt) {
			errs = append(errs, enumError(datasetTypes, "dataset_type"))
		}
	}
	if len(errs) > 0 {
		return newError(errs)
	}

	in, err := model.ParseInputs(raw)
	if err != nil {
		return newError([]FieldError{fieldError(
			fmt.Sprintf("Invalid JSON: %s", rootCause(err)), "json_invalid")})
	}

	if !partial {
		for _, name := range []string{"datasets", "models", "options"} {
			if _, ok := fields[name]; !ok {
				return newError([]FieldError{missing(name)})
			}
		}
	}

	if _, ok := fields["datasets"]; ok {
		errs = append(errs, prefix(checkDatasets(in.DatasetType, in.Datasets, maxDatasets), "datasets")...)
		errs = append(errs, prefix(checkDatasetOptions(in.Datasets, in.DatasetOptions), "dataset_options")...)
	}
	if _, ok := fields["models"]; ok {
		errs = append(errs, prefix(checkModels(in.DatasetType, in.Models), "models")...)
	}
	if _, ok := fields["options"]; ok {
		errs = append(errs, prefix(checkOptions(in.DatasetType, in.Options, maxDatasets), "options")...)
	}
	if in.Recommender != nil {
		errs = append(errs, prefix(checkRecommender(in.Recommender), "recommender")...)
	}
	return newError(errs)
}

// Inputs validates raw inputs completely and returns them parsed, with
// bmds_version defaulted to the latest release.
func Inputs(raw json.RawMessage, maxDatasets int) (*model.Inputs, error) {
	if err := ValidateInput(raw, false, maxDatasets); err != nil {
		return nil, err
	}
	in, err := model.ParseInputs(raw)
	if err != nil {
		return nil, err
	}
	if in.BmdsVersion == "" {
		in.BmdsVersion = LatestVersion()
	}
	return in, nil
}

func enumError(choices []string, loc ...string) FieldError {
	quoted := make([]string, len(choices))
	for i, c := range choices {
		quoted[i] = "'" + c + "'"
	}
	return fieldError("Input should be "+joinChoices(quoted), "enum", loc...)
}

func rootCause(err error) string {
	if cause := eris.Cause(err); cause != nil {
		return cause.Error()
	}
	return err.Error()
}
