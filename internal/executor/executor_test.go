package executor

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmds-online/bmds/internal/engine"
	"github.com/bmds-online/bmds/internal/model"
	"github.com/bmds-online/bmds/internal/resilience"
)

func ptr[T any](v T) *T { return &v }

func dataset(id float64, incidence float64) model.Dataset {
	return model.Dataset{
		Dtype:      model.DatasetDichotomous,
		Metadata:   model.DatasetMetadata{ID: id},
		Doses:      []float64{0, 10, 50, 150},
		Ns:         []float64{20, 20, 20, 20},
		Incidences: []float64{0, 1, incidence, 12},
	}
}

func inputs() *model.Inputs {
	return &model.Inputs{
		BmdsVersion: "25.1",
		DatasetType: model.DatasetDichotomous,
		Datasets:    []model.Dataset{dataset(1, 4), dataset(2, 6), dataset(3, 8)},
		DatasetOptions: []model.DatasetOption{
			{DatasetID: float64(1), Degree: 1},
			{DatasetID: float64(2), Degree: 1, Enabled: ptr(false)},
			{DatasetID: float64(3), Degree: 1},
		},
		Models: &model.ModelSelection{
			FrequentistRestricted: []string{model.ModelLogLogistic},
			Bayesian:              []model.BayesianModel{{Model: model.ModelLogistic, PriorWeight: 1}},
		},
		Options: []model.OptionSet{
			{BmrType: ptr(1), BmrValue: ptr(0.1), ConfidenceLevel: ptr(0.95)},
			{BmrType: ptr(0), BmrValue: ptr(0.05), ConfidenceLevel: ptr(0.9)},
		},
	}
}

func TestRun_DatasetMajorOrder(t *testing.T) {
	fake := &engine.Fake{Info: model.VersionInfo{String: "25.1", Python: "3.12"}}
	ex := New(fake, 4, "2025.03")

	res, err := ex.Run(context.Background(), "abc", inputs())
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	out := res.Output
	assert.Equal(t, "abc", out.AnalysisID)
	assert.Equal(t, model.SchemaVersion, out.AnalysisSchemaVersion)
	assert.Equal(t, "2025.03", out.BmdsUIVersion)
	require.NotNil(t, out.BmdsPythonVersion)
	assert.Equal(t, "3.12", out.BmdsPythonVersion.Python)

	require.Len(t, out.Outputs, 4)
	var order [][2]int
	for _, s := range out.Outputs {
		order = append(order, [2]int{s.DatasetIndex, s.OptionIndex})
		assert.NotNil(t, s.Frequentist)
		assert.NotNil(t, s.Bayesian)
		assert.Nil(t, s.Error)
	}
	assert.Equal(t, [][2]int{{0, 0}, {0, 1}, {2, 0}, {2, 1}}, order)
	assert.Len(t, fake.Calls(), 8)
	assert.False(t, res.Ended.Before(res.Started))
}

func TestRun_FailingSessionIsolated(t *testing.T) {
	fake := &engine.Fake{ExecuteFunc: func(req *model.SessionRequest) (*model.SessionOutput, error) {
		if req.Datasets[0].Incidences[2] == 8 && req.Models[0].PriorWeight == nil {
			return nil, &engine.ModelError{Detail: "dataset cannot be fit"}
		}
		return &model.SessionOutput{Models: []model.ModelOutput{{Name: req.Models[0].Name}}}, nil
	}}

	res, err := New(fake, 1, "dev").Run(context.Background(), "abc", inputs())
	require.NoError(t, err)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, model.ExecutionError{DatasetIndex: 2, OptionIndex: 0, Error: "dataset cannot be fit"}, res.Errors[0])
	assert.Equal(t, 1, res.Errors[1].OptionIndex)

	out := res.Output.Outputs
	require.Len(t, out, 4)
	assert.Nil(t, out[0].Error)
	assert.NotNil(t, out[1].Bayesian)
	require.NotNil(t, out[2].Error)
	assert.Equal(t, "dataset cannot be fit", *out[2].Error)
	assert.Nil(t, out[2].Frequentist)
	assert.Nil(t, out[2].Bayesian)
}

func TestRun_CircuitOpenMessage(t *testing.T) {
	fake := &engine.Fake{ExecuteFunc: func(*model.SessionRequest) (*model.SessionOutput, error) {
		return nil, resilience.ErrCircuitOpen
	}}
	in := inputs()
	in.Datasets = in.Datasets[:1]
	in.Options = in.Options[:1]

	res, err := New(fake, 1, "dev").Run(context.Background(), "abc", in)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error, "temporarily unavailable")
}

func TestRun_BoundedParallelism(t *testing.T) {
	var active, peak atomic.Int32
	fake := &engine.Fake{ExecuteFunc: func(req *model.SessionRequest) (*model.SessionOutput, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return &model.SessionOutput{}, nil
	}}

	_, err := New(fake, 2, "dev").Run(context.Background(), "abc", inputs())
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(&engine.Fake{}, 1, "dev").Run(ctx, "abc", inputs())
	require.Error(t, err)
}

func TestRun_MultiTumor(t *testing.T) {
	in := inputs()
	in.DatasetType = model.DatasetMultiTumor
	in.Models = nil

	fake := &engine.Fake{}
	res, err := New(fake, 1, "dev").Run(context.Background(), "mt", in)
	require.NoError(t, err)
	require.Len(t, res.Output.Outputs, 2)

	first := res.Output.Outputs[0]
	require.NotNil(t, first.Frequentist)
	assert.Len(t, first.Frequentist.Datasets, 2)
	assert.Nil(t, first.Bayesian)

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []int{1, 1}, calls[0].Degrees)
}

func TestRun_OutputEncodes(t *testing.T) {
	res, err := New(&engine.Fake{}, 1, "dev").Run(context.Background(), "abc", inputs())
	require.NoError(t, err)

	b, err := json.Marshal(res.Output)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"analysis_schema_version":"1.1"`)
	assert.Contains(t, string(b), `"error":null`)
}
