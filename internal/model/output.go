package model

import "encoding/json"

// SchemaVersion is the current analysis output schema version.
const SchemaVersion = "1.1"

// VersionInfo describes the engine build that produced an output.
type VersionInfo struct {
	String   string `json:"string"`
	Pybmds   string `json:"pybmds"`
	Bmdscore string `json:"bmdscore"`
	Python   string `json:"python"`
}

// SelectedModel is the user's pick within a session.
type SelectedModel struct {
	ModelIndex *int   `json:"model_index"`
	Notes      string `json:"notes"`
}

// ModelOutput holds the settings and opaque engine results for one model.
type ModelOutput struct {
	Name     string          `json:"name"`
	Settings ModelSettings   `json:"settings"`
	Results  json.RawMessage `json:"results,omitempty"`
}

// SessionOutput is the engine result for one request half.
type SessionOutput struct {
	Dataset      *Dataset        `json:"dataset,omitempty"`
	Datasets     []Dataset       `json:"datasets,omitempty"`
	Models       []ModelOutput   `json:"models"`
	Recommender  json.RawMessage `json:"recommender,omitempty"`
	ModelAverage json.RawMessage `json:"model_average,omitempty"`
	Selected     SelectedModel   `json:"selected"`
}

// SessionResult is one dataset × option entry of an analysis output.
type SessionResult struct {
	DatasetIndex int            `json:"dataset_index"`
	OptionIndex  int            `json:"option_index"`
	Frequentist  *SessionOutput `json:"frequentist"`
	Bayesian     *SessionOutput `json:"bayesian"`
	Error        *string        `json:"error"`
}

// AnalysisOutput is the envelope stored on an executed analysis.
type AnalysisOutput struct {
	AnalysisID            string          `json:"analysis_id" validate:"required"`
	AnalysisSchemaVersion string          `json:"analysis_schema_version" validate:"required"`
	BmdsUIVersion         string          `json:"bmds_ui_version" validate:"required"`
	BmdsPythonVersion     *VersionInfo    `json:"bmds_python_version"`
	Outputs               []SessionResult `json:"outputs" validate:"required"`
}

// ExecutionError records a failed session.
type ExecutionError struct {
	DatasetIndex int    `json:"dataset_index"`
	OptionIndex  int    `json:"option_index"`
	Error        string `json:"error"`
}
