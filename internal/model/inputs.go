package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Prior classes a model can be fit under.
type PriorClass string

const (
	PriorFrequentistRestricted   PriorClass = "frequentist_restricted"
	PriorFrequentistUnrestricted PriorClass = "frequentist_unrestricted"
	PriorBayesian                PriorClass = "bayesian"
)

// Model names accepted in a ModelSelection.
const (
	ModelDichotomousHill = "Dichotomous-Hill"
	ModelGamma           = "Gamma"
	ModelLogistic        = "Logistic"
	ModelLogLogistic     = "LogLogistic"
	ModelLogProbit       = "LogProbit"
	ModelMultistage      = "Multistage"
	ModelProbit          = "Probit"
	ModelQuantalLinear   = "Quantal Linear"
	ModelWeibull         = "Weibull"

	ModelExponential   = "Exponential"
	ModelExponentialM3 = "Exponential 3"
	ModelExponentialM5 = "Exponential 5"
	ModelHill          = "Hill"
	ModelLinear        = "Linear"
	ModelPolynomial    = "Polynomial"
	ModelPower         = "Power"

	ModelNestedLogistic = "Nested Logistic"
	ModelNCTR           = "NCTR"
)

// Continuous distribution types.
const (
	DistNormal    = 1
	DistNormalNCV = 2
	DistLognormal = 3
)

// BayesianModel is a model choice with its model-averaging prior weight.
type BayesianModel struct {
	Model       string  `json:"model"`
	PriorWeight float64 `json:"prior_weight"`
}

// ModelSelection lists the chosen models per prior class.
type ModelSelection struct {
	FrequentistRestricted   []string        `json:"frequentist_restricted,omitempty"`
	FrequentistUnrestricted []string        `json:"frequentist_unrestricted,omitempty"`
	Bayesian                []BayesianModel `json:"bayesian,omitempty"`
}

// Count returns the number of selected models across all prior classes.
func (m ModelSelection) Count() int {
	return len(m.FrequentistRestricted) + len(m.FrequentistUnrestricted) + len(m.Bayesian)
}

// OptionSet is one BMR/confidence configuration. Fields are pointers so a
// missing value can be told apart from a zero value during validation.
type OptionSet struct {
	BmrType                 *int     `json:"bmr_type,omitempty"`
	BmrValue                *float64 `json:"bmr_value,omitempty"`
	ConfidenceLevel         *float64 `json:"confidence_level,omitempty"`
	TailProbability         *float64 `json:"tail_probability,omitempty"`
	DistType                *int     `json:"dist_type,omitempty"`
	LitterSpecificCovariate *int     `json:"litter_specific_covariate,omitempty"`
	EstimateBackground      *bool    `json:"estimate_background,omitempty"`
	BootstrapIterations     *int     `json:"bootstrap_iterations,omitempty"`
	BootstrapSeed           *int     `json:"bootstrap_seed,omitempty"`
}

// RecommenderRule configures one model-recommendation rule.
type RecommenderRule struct {
	RuleClass          string   `json:"rule_class" validate:"required"`
	EnabledDichotomous bool     `json:"enabled_dichotomous"`
	EnabledContinuous  bool     `json:"enabled_continuous"`
	EnabledNested      bool     `json:"enabled_nested"`
	Threshold          *float64 `json:"threshold,omitempty"`
	FailureBin         int      `json:"failure_bin" validate:"oneof=0 1 2"`
}

// RecommenderSettings configures the model recommendation step.
type RecommenderSettings struct {
	Enabled               *bool             `json:"enabled" validate:"required"`
	RecommendQuestionable bool              `json:"recommend_questionable"`
	RecommendViable       bool              `json:"recommend_viable"`
	SufficientlyCloseBmdl float64           `json:"sufficiently_close_bmdl" validate:"gte=0"`
	Rules                 []RecommenderRule `json:"rules" validate:"required,dive"`
}

// IsEnabled reports whether recommendation should run.
func (r *RecommenderSettings) IsEnabled() bool {
	return r != nil && r.Enabled != nil && *r.Enabled
}

// Inputs is the parsed form of an analysis specification. The raw JSON is
// what gets persisted; Inputs is derived from it on demand.
type Inputs struct {
	BmdsVersion         string               `json:"bmds_version"`
	DatasetType         DatasetType          `json:"dataset_type"`
	AnalysisName        string               `json:"analysis_name,omitempty"`
	AnalysisDescription string               `json:"analysis_description,omitempty"`
	Datasets            []Dataset            `json:"datasets,omitempty"`
	DatasetOptions      []DatasetOption      `json:"dataset_options,omitempty"`
	Models              *ModelSelection      `json:"models,omitempty"`
	Options             []OptionSet          `json:"options,omitempty"`
	Recommender         *RecommenderSettings `json:"recommender,omitempty"`
}

// ParseInputs decodes raw analysis inputs.
func ParseInputs(raw json.RawMessage) (*Inputs, error) {
	if len(raw) == 0 {
		return &Inputs{}, nil
	}
	var in Inputs
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, eris.Wrap(err, "model: parse inputs")
	}
	return &in, nil
}

// DatasetOption returns the options for the dataset at index i, matched by
// metadata ID first and position second.
func (in *Inputs) DatasetOption(i int) DatasetOption {
	if i < 0 || i >= len(in.Datasets) {
		return DatasetOption{}
	}
	key := in.Datasets[i].Metadata.Key()
	if key != "" {
		for _, o := range in.DatasetOptions {
			if o.Key() == key {
				return o
			}
		}
	}
	if i < len(in.DatasetOptions) {
		return in.DatasetOptions[i]
	}
	return DatasetOption{}
}
