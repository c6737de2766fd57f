package session

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/bmds-online/bmds/internal/model"
)

// MaxDegree caps automatically expanded polynomial and multistage degrees.
const MaxDegree = 8

// Alpha converts a confidence level into the engine's alpha, rounded to
// three decimals.
func Alpha(confidenceLevel float64) float64 {
	return math.Round((1-confidenceLevel)*1000) / 1000
}

// IsIncreasing maps an adverse direction onto the engine flag; automatic
// direction leaves the flag unset.
func IsIncreasing(direction int) *bool {
	switch direction {
	case model.AdverseUp:
		return boolPtr(true)
	case model.AdverseDown:
		return boolPtr(false)
	default:
		return nil
	}
}

// BuildModelSettings derives the engine settings for one model from the
// option set and dataset options.
func BuildModelSettings(dt model.DatasetType, prior model.PriorClass, opt model.OptionSet, dsOpt model.DatasetOption) (model.ModelSettings, error) {
	base := model.ModelSettings{
		BmrType: intVal(opt.BmrType),
		Bmr:     floatVal(opt.BmrValue),
		Alpha:   Alpha(floatVal(opt.ConfidenceLevel)),
		Priors:  prior,
	}

	switch dt {
	case model.DatasetDichotomous:
		base.Degree = dsOpt.Degree
	case model.DatasetContinuous, model.DatasetContinuousIndividual:
		base.Degree = dsOpt.Degree
		base.TailProb = opt.TailProbability
		base.DistType = opt.DistType
		base.IsIncreasing = IsIncreasing(dsOpt.Direction())
	case model.DatasetNestedDichotomous:
		base.Restricted = boolPtr(prior == model.PriorFrequentistRestricted)
		base.LitterSpecificCovariate = opt.LitterSpecificCovariate
		base.EstimateBackground = opt.EstimateBackground
		base.BootstrapIterations = opt.BootstrapIterations
		base.BootstrapSeed = opt.BootstrapSeed
	case model.DatasetMultiTumor:
		base.Degree = 2
		base.Priors = model.PriorFrequentistRestricted
	default:
		return model.ModelSettings{}, eris.Errorf("session: unknown dataset_type: %s", dt)
	}
	return base, nil
}

// RemapExponential replaces "Exponential" with its M3 and M5 variants.
// The input slice is never modified.
func RemapExponential(models []string) []string {
	for i, name := range models {
		if name != model.ModelExponential {
			continue
		}
		out := make([]string, 0, len(models)+1)
		out = append(out, models[:i]...)
		out = append(out, model.ModelExponentialM3, model.ModelExponentialM5)
		return append(out, models[i+1:]...)
	}
	return models
}

// AutoDegree is the highest degree tried when the user leaves degree at 0.
func AutoDegree(numGroups int) int {
	return min(max(numGroups-1, 2), MaxDegree)
}

// Degrees lists the degrees a frequentist model runs with. Models without
// a degree return a single entry holding the user's value.
func Degrees(name string, userDegree, numGroups int) []int {
	upper := userDegree
	if upper <= 0 {
		upper = AutoDegree(numGroups)
	}
	switch name {
	case model.ModelMultistage:
		return span(1, upper)
	case model.ModelPolynomial:
		if upper < 2 {
			return []int{2}
		}
		return span(2, upper)
	case model.ModelLinear:
		return []int{1}
	default:
		return []int{userDegree}
	}
}

func span(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for d := lo; d <= hi; d++ {
		out = append(out, d)
	}
	return out
}

func boolPtr(v bool) *bool { return &v }

func intVal(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func floatVal(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
