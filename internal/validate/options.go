package validate

import (
	"fmt"

	"github.com/bmds-online/bmds/internal/model"
)

type dichotomousOption struct {
	BmrType         *int     `json:"bmr_type" validate:"required,oneof=0 1"`
	BmrValue        *float64 `json:"bmr_value" validate:"required,gt=0"`
	ConfidenceLevel *float64 `json:"confidence_level" validate:"required,gte=0.5,lt=1"`
}

type continuousOption struct {
	BmrType         *int     `json:"bmr_type" validate:"required,oneof=1 2 3 4 6 7"`
	BmrValue        *float64 `json:"bmr_value" validate:"required,gt=0"`
	TailProbability *float64 `json:"tail_probability" validate:"required,gte=0,lte=1"`
	ConfidenceLevel *float64 `json:"confidence_level" validate:"required,gte=0.5,lt=1"`
	DistType        *int     `json:"dist_type" validate:"required,oneof=1 2 3"`
}

type nestedOption struct {
	BmrType                 *int     `json:"bmr_type" validate:"required,oneof=0 1"`
	BmrValue                *float64 `json:"bmr_value" validate:"required,gt=0"`
	ConfidenceLevel         *float64 `json:"confidence_level" validate:"required,gte=0.5,lt=1"`
	LitterSpecificCovariate *int     `json:"litter_specific_covariate" validate:"required,oneof=0 1 2"`
	BootstrapIterations     *int     `json:"bootstrap_iterations" validate:"required,gte=10,lte=10000"`
	BootstrapSeed           *int     `json:"bootstrap_seed" validate:"omitempty,gte=0"`
}

// ValidateOptions checks every option set for the dataset type.
func ValidateOptions(dt model.DatasetType, options []model.OptionSet, maxItems int) error {
	return newError(prefix(checkOptions(dt, options, maxItems), "options"))
}

func checkOptions(dt model.DatasetType, options []model.OptionSet, maxItems int) []FieldError {
	if errs := checkLength(len(options), maxItems); errs != nil {
		return errs
	}
	var errs []FieldError
	for i, o := range options {
		errs = append(errs, prefix(checkOption(dt, o), fmt.Sprint(i))...)
	}
	return errs
}

func checkOption(dt model.DatasetType, o model.OptionSet) []FieldError {
	switch dt {
	case model.DatasetDichotomous, model.DatasetMultiTumor:
		return checkStruct(dichotomousOption{
			BmrType:         o.BmrType,
			BmrValue:        o.BmrValue,
			ConfidenceLevel: o.ConfidenceLevel,
		})
	case model.DatasetContinuous, model.DatasetContinuousIndividual:
		return checkStruct(continuousOption{
			BmrType:         o.BmrType,
			BmrValue:        o.BmrValue,
			TailProbability: o.TailProbability,
			ConfidenceLevel: o.ConfidenceLevel,
			DistType:        o.DistType,
		})
	case model.DatasetNestedDichotomous:
		return checkStruct(nestedOption{
			BmrType:                 o.BmrType,
			BmrValue:                o.BmrValue,
			ConfidenceLevel:         o.ConfidenceLevel,
			LitterSpecificCovariate: o.LitterSpecificCovariate,
			BootstrapIterations:     o.BootstrapIterations,
			BootstrapSeed:           o.BootstrapSeed,
		})
	default:
		return []FieldError{fieldError(fmt.Sprintf("Unknown `dataset_type`: %s", dt), "value_error")}
	}
}

// checkLength enforces 1 <= n <= maxItems; maxItems <= 0 means unbounded.
func checkLength(n, maxItems int) []FieldError {
	if n < 1 {
		return []FieldError{fieldError("List should have at least 1 item", "too_short")}
	}
	if maxItems > 0 && n > maxItems {
		return []FieldError{fieldError(
			fmt.Sprintf("List should have at most %d %s", maxItems, plural(fmt.Sprint(maxItems), "item")),
			"too_long")}
	}
	return nil
}
