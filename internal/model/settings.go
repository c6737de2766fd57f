package model

// ModelSettings is the per-model configuration handed to the engine.
type ModelSettings struct {
	BmrType                 int        `json:"bmr_type"`
	Bmr                     float64    `json:"bmr"`
	Alpha                   float64    `json:"alpha"`
	TailProb                *float64   `json:"tail_prob,omitempty"`
	DistType                *int       `json:"disttype,omitempty"`
	Degree                  int        `json:"degree"`
	IsIncreasing            *bool      `json:"is_increasing,omitempty"`
	Priors                  PriorClass `json:"priors"`
	Restricted              *bool      `json:"restricted,omitempty"`
	LitterSpecificCovariate *int       `json:"litter_specific_covariate,omitempty"`
	EstimateBackground      *bool      `json:"estimate_background,omitempty"`
	BootstrapIterations     *int       `json:"bootstrap_iterations,omitempty"`
	BootstrapSeed           *int       `json:"bootstrap_seed,omitempty"`
}

// ModelSpec is one concrete model run.
type ModelSpec struct {
	Name        string        `json:"name"`
	Settings    ModelSettings `json:"settings"`
	PriorWeight *float64      `json:"prior_weight,omitempty"`
}

// SessionRequest is one half (frequentist or bayesian) of an executable
// session, ready to be sent to the engine.
type SessionRequest struct {
	DatasetType  DatasetType          `json:"dataset_type"`
	Datasets     []Dataset            `json:"datasets"`
	Models       []ModelSpec          `json:"models"`
	Degrees      []int                `json:"degrees,omitempty"`
	Recommender  *RecommenderSettings `json:"recommender,omitempty"`
	ModelAverage bool                 `json:"model_average"`
}
