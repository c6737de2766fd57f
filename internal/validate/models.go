package validate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bmds-online/bmds/internal/model"
)

// PriorWeightTolerance is how far bayesian prior weights may drift from 1.
const PriorWeightTolerance = 0.005

type modelWhitelist struct {
	restricted   []string
	unrestricted []string
	bayesian     []string
}

var dichotomousModels = []string{
	model.ModelDichotomousHill, model.ModelGamma, model.ModelLogistic,
	model.ModelLogLogistic, model.ModelLogProbit, model.ModelMultistage,
	model.ModelProbit, model.ModelQuantalLinear, model.ModelWeibull,
}

var whitelists = map[model.DatasetType]modelWhitelist{
	model.DatasetDichotomous: {
		restricted: []string{
			model.ModelDichotomousHill, model.ModelGamma, model.ModelLogLogistic,
			model.ModelLogProbit, model.ModelMultistage, model.ModelWeibull,
		},
		unrestricted: dichotomousModels,
		bayesian:     dichotomousModels,
	},
	model.DatasetContinuous:           continuousWhitelist,
	model.DatasetContinuousIndividual: continuousWhitelist,
	model.DatasetNestedDichotomous: {
		restricted:   []string{model.ModelNestedLogistic, model.ModelNCTR},
		unrestricted: []string{model.ModelNestedLogistic, model.ModelNCTR},
	},
	model.DatasetMultiTumor: {
		restricted: []string{model.ModelMultistage},
	},
}

var continuousWhitelist = modelWhitelist{
	restricted:   []string{model.ModelExponential, model.ModelHill, model.ModelPolynomial, model.ModelPower},
	unrestricted: []string{model.ModelHill, model.ModelLinear, model.ModelPolynomial, model.ModelPower},
	bayesian: []string{
		model.ModelExponential, model.ModelHill, model.ModelLinear,
		model.ModelPolynomial, model.ModelPower,
	},
}

// ValidateModels checks a model selection against the whitelist for the
// dataset type.
func ValidateModels(dt model.DatasetType, models *model.ModelSelection) error {
	return newError(prefix(checkModels(dt, models), "models"))
}

func checkModels(dt model.DatasetType, models *model.ModelSelection) []FieldError {
	wl, ok := whitelists[dt]
	if !ok {
		return []FieldError{fieldError(fmt.Sprintf("Unknown `dataset_type`: %s", dt), "value_error")}
	}
	if models == nil {
		return []FieldError{missing()}
	}

	var errs []FieldError
	for i, b := range models.Bayesian {
		if b.PriorWeight < 0 || b.PriorWeight > 1 {
			errs = append(errs, fieldError(
				"Input should be between 0 and 1", "value_error",
				string(model.PriorBayesian), fmt.Sprint(i), "prior_weight",
			))
		}
	}
	if len(models.Bayesian) > 0 {
		var sum float64
		for _, b := range models.Bayesian {
			sum += b.PriorWeight
		}
		if math.Abs(sum-1) > PriorWeightTolerance {
			errs = append(errs, fieldError("Prior weight in bayesian does not sum to 1", "value_error"))
		}
	}

	bayesianNames := make([]string, len(models.Bayesian))
	for i, b := range models.Bayesian {
		bayesianNames[i] = b.Model
	}
	for _, class := range []struct {
		name    model.PriorClass
		models  []string
		allowed []string
	}{
		{model.PriorFrequentistRestricted, models.FrequentistRestricted, wl.restricted},
		{model.PriorFrequentistUnrestricted, models.FrequentistUnrestricted, wl.unrestricted},
		{model.PriorBayesian, bayesianNames, wl.bayesian},
	} {
		if !unique(class.models) {
			errs = append(errs, fieldError(
				fmt.Sprintf("Models in %s are not unique", class.name), "value_error", string(class.name)))
		}
		if extras := difference(class.models, class.allowed); len(extras) > 0 {
			errs = append(errs, fieldError(
				fmt.Sprintf("Invalid model(s) in %s: %s", class.name, strings.Join(extras, ",")),
				"value_error", string(class.name)))
		}
	}

	if models.Count() == 0 {
		errs = append(errs, fieldError("At least one model must be selected", "value_error"))
	}
	return errs
}

func unique(names []string) bool {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			return false
		}
		seen[n] = struct{}{}
	}
	return true
}

// difference returns the sorted distinct names not in allowed.
func difference(names, allowed []string) []string {
	ok := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		ok[a] = struct{}{}
	}
	seen := map[string]struct{}{}
	var out []string
	for _, n := range names {
		if _, valid := ok[n]; valid {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
