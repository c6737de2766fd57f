// Package session turns validated analysis inputs into engine requests.
package session

import (
	"slices"

	"github.com/rotisserie/eris"

	"github.com/bmds-online/bmds/internal/model"
)

// Plan holds the requests for one dataset × option pair. A half is nil
// when no model of that kind was selected.
type Plan struct {
	DatasetIndex int
	OptionIndex  int
	Frequentist  *model.SessionRequest
	Bayesian     *model.SessionRequest
}

// Plans enumerates the plans for every enabled dataset and option,
// dataset-major. Multi-tumor analyses get one plan per option spanning all
// enabled datasets.
func Plans(in *model.Inputs) ([]*Plan, error) {
	var plans []*Plan
	if in.DatasetType == model.DatasetMultiTumor {
		if len(EnabledDatasets(in)) == 0 {
			return nil, nil
		}
		for oi := range in.Options {
			p, err := BuildMultiTumor(in, oi)
			if err != nil {
				return nil, err
			}
			plans = append(plans, p)
		}
		return plans, nil
	}
	for _, di := range EnabledDatasets(in) {
		for oi := range in.Options {
			p, err := Build(in, di, oi)
			if err != nil {
				return nil, err
			}
			plans = append(plans, p)
		}
	}
	return plans, nil
}

// EnabledDatasets returns the indexes of datasets not disabled in their
// dataset options.
func EnabledDatasets(in *model.Inputs) []int {
	var out []int
	for i := range in.Datasets {
		if in.DatasetOption(i).IsEnabled() {
			out = append(out, i)
		}
	}
	return out
}

// Build creates the plan for one dataset and option.
func Build(in *model.Inputs, datasetIndex, optionIndex int) (*Plan, error) {
	if datasetIndex < 0 || datasetIndex >= len(in.Datasets) {
		return nil, eris.Errorf("session: dataset index %d out of range", datasetIndex)
	}
	if optionIndex < 0 || optionIndex >= len(in.Options) {
		return nil, eris.Errorf("session: option index %d out of range", optionIndex)
	}
	if in.DatasetType == model.DatasetMultiTumor {
		return nil, eris.New("session: multi-tumor analyses span all datasets")
	}

	dataset := in.Datasets[datasetIndex]
	dsOpt := in.DatasetOption(datasetIndex)
	opt := in.Options[optionIndex]
	selection := model.ModelSelection{}
	if in.Models != nil {
		selection = *in.Models
	}

	plan := &Plan{DatasetIndex: datasetIndex, OptionIndex: optionIndex}
	lognormal := in.DatasetType.IsContinuous() && opt.DistType != nil && *opt.DistType == model.DistLognormal

	var freq []model.ModelSpec
	for _, class := range []struct {
		prior  model.PriorClass
		models []string
	}{
		{model.PriorFrequentistRestricted, selection.FrequentistRestricted},
		{model.PriorFrequentistUnrestricted, selection.FrequentistUnrestricted},
	} {
		names := RemapExponential(class.models)
		if lognormal {
			names = exponentialsOnly(names)
		}
		for _, name := range names {
			settings, err := BuildModelSettings(in.DatasetType, class.prior, opt, dsOpt)
			if err != nil {
				return nil, err
			}
			for _, degree := range Degrees(name, dsOpt.Degree, dataset.NumDoseGroups()) {
				s := settings
				if in.DatasetType != model.DatasetNestedDichotomous {
					s.Degree = degree
				}
				freq = append(freq, model.ModelSpec{Name: name, Settings: s})
			}
		}
	}
	if len(freq) > 0 {
		req := &model.SessionRequest{
			DatasetType: in.DatasetType,
			Datasets:    []model.Dataset{dataset},
			Models:      freq,
		}
		if in.Recommender.IsEnabled() {
			req.Recommender = in.Recommender
		}
		plan.Frequentist = req
	}

	bayes, err := bayesianModels(in.DatasetType, selection.Bayesian, opt, dsOpt, lognormal)
	if err != nil {
		return nil, err
	}
	if len(bayes) > 0 {
		plan.Bayesian = &model.SessionRequest{
			DatasetType:  in.DatasetType,
			Datasets:     []model.Dataset{dataset},
			Models:       bayes,
			ModelAverage: len(bayes) > 1,
		}
	}
	return plan, nil
}

// bayesianModels expands the bayesian selection. An Exponential entry
// splits its prior weight evenly between M3 and M5; degree-bearing models
// run at degree 2.
func bayesianModels(dt model.DatasetType, selected []model.BayesianModel, opt model.OptionSet, dsOpt model.DatasetOption, lognormal bool) ([]model.ModelSpec, error) {
	var out []model.ModelSpec
	for _, b := range selected {
		names := RemapExponential([]string{b.Model})
		if lognormal {
			names = exponentialsOnly(names)
		}
		for _, name := range names {
			settings, err := BuildModelSettings(dt, model.PriorBayesian, opt, dsOpt)
			if err != nil {
				return nil, err
			}
			switch name {
			case model.ModelMultistage, model.ModelPolynomial:
				settings.Degree = 2
			case model.ModelLinear:
				settings.Degree = 1
			}
			weight := b.PriorWeight / float64(len(names))
			out = append(out, model.ModelSpec{Name: name, Settings: settings, PriorWeight: &weight})
		}
	}
	return out, nil
}

// BuildMultiTumor creates the plan for one option across every enabled
// dataset of a multi-tumor analysis.
func BuildMultiTumor(in *model.Inputs, optionIndex int) (*Plan, error) {
	if in.DatasetType != model.DatasetMultiTumor {
		return nil, eris.Errorf("session: %s is not a multi-tumor analysis", in.DatasetType)
	}
	if optionIndex < 0 || optionIndex >= len(in.Options) {
		return nil, eris.Errorf("session: option index %d out of range", optionIndex)
	}
	enabled := EnabledDatasets(in)
	if len(enabled) == 0 {
		return nil, eris.New("session: no enabled datasets")
	}

	settings, err := BuildModelSettings(in.DatasetType, model.PriorFrequentistRestricted, in.Options[optionIndex], model.DatasetOption{})
	if err != nil {
		return nil, err
	}
	req := &model.SessionRequest{DatasetType: model.DatasetMultiTumor}
	for _, di := range enabled {
		req.Datasets = append(req.Datasets, in.Datasets[di])
		req.Degrees = append(req.Degrees, in.DatasetOption(di).Degree)
	}
	req.Models = []model.ModelSpec{{Name: model.ModelMultistage, Settings: settings}}
	return &Plan{DatasetIndex: enabled[0], OptionIndex: optionIndex, Frequentist: req}, nil
}

func exponentialsOnly(names []string) []string {
	return slices.DeleteFunc(slices.Clone(names), func(n string) bool {
		return n != model.ModelExponentialM3 && n != model.ModelExponentialM5
	})
}
