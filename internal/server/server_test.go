package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/bmds-online/bmds/internal/analysis"
	"github.com/bmds-online/bmds/internal/config"
	"github.com/bmds-online/bmds/internal/engine"
	"github.com/bmds-online/bmds/internal/executor"
	"github.com/bmds-online/bmds/internal/health"
	"github.com/bmds-online/bmds/internal/model"
	"github.com/bmds-online/bmds/internal/queue"
	"github.com/bmds-online/bmds/internal/store"
)

const dichotomousInputs = `{
	"bmds_version": "25.1",
	"dataset_type": "D",
	"datasets": [{
		"dtype": "D",
		"metadata": {"id": 1, "name": "liver tumors"},
		"doses": [0, 10, 50, 150, 400],
		"ns": [20, 20, 20, 20, 20],
		"incidences": [0, 0, 1, 4, 11]
	}],
	"dataset_options": [{"dataset_id": 1, "enabled": true, "degree": 1}],
	"models": {"frequentist_restricted": ["LogLogistic", "Weibull"]},
	"options": [{"bmr_type": 1, "bmr_value": 0.1, "confidence_level": 0.95}]
}`

type testServer struct {
	handler http.Handler
	svc     *analysis.Service
	engine  *engine.Fake
}

func newTestServer(t *testing.T, worker *health.Worker) *testServer {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	fake := &engine.Fake{Info: model.VersionInfo{String: "25.1", Python: "3.12"}}
	svc := analysis.NewService(st, executor.New(fake, 1, "2025.03"),
		config.AnalysisConfig{DaysToKeep: 365, MaxDatasetsServer: 10})
	svc.UseDispatcher(&queue.Eager{Runner: svc})

	srv := New(svc, fake, worker, config.ServerConfig{CORSOrigins: []string{"*"}}, "2025.03")
	return &testServer{handler: srv.Handler(), svc: svc, engine: fake}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

type createdBody struct {
	ID          string          `json:"id"`
	EditKey     string          `json:"editKey"`
	Inputs      json.RawMessage `json:"inputs"`
	Outputs     json.RawMessage `json:"outputs"`
	IsFinished  bool            `json:"is_finished"`
	HasErrors   bool            `json:"has_errors"`
	InputsValid bool            `json:"inputs_valid"`
	Starred     bool            `json:"starred"`
}

func (ts *testServer) create(t *testing.T, inputs string) createdBody {
	t.Helper()
	body := map[string]any{}
	if inputs != "" {
		body["inputs"] = json.RawMessage(inputs)
	}
	rr := ts.do(t, http.MethodPost, "/api/v1/analysis/", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeBody[createdBody](t, rr)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestVersion(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(t, http.MethodGet, "/api/v1/version/", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody[versionResponse](t, rr)
	assert.Equal(t, "2025.03", body.BmdsUIVersion)
	require.NotNil(t, body.BmdsPythonVersion)
	assert.Equal(t, "3.12", body.BmdsPythonVersion.Python)
}

type emptyLists struct{}

func (emptyLists) LPush(context.Context, string, ...any) *redis.IntCmd {
	return redis.NewIntResult(1, nil)
}
func (emptyLists) LTrim(context.Context, string, int64, int64) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}
func (emptyLists) LRange(context.Context, string, int64, int64) *redis.StringSliceCmd {
	return redis.NewStringSliceResult(nil, nil)
}
func (emptyLists) Del(context.Context, ...string) *redis.IntCmd {
	return redis.NewIntResult(0, nil)
}

func TestWorkerHealth(t *testing.T) {
	rr := newTestServer(t, nil).do(t, http.MethodGet, "/api/v1/healthcheck/worker/", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = newTestServer(t, health.NewWorker(emptyLists{})).do(t, http.MethodGet, "/api/v1/healthcheck/worker/", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"healthy":false}`, rr.Body.String())
}

func TestCreateAndGet(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.create(t, "")
	assert.NotEmpty(t, c.ID)
	assert.Len(t, c.EditKey, analysis.PasswordLength)

	rr := ts.do(t, http.MethodGet, "/api/v1/analysis/"+c.ID+"/", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), c.EditKey)
	assert.NotContains(t, rr.Body.String(), "editKey")

	rr = ts.do(t, http.MethodGet, "/api/v1/analysis/nope/", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPatchInputs_Auth(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.create(t, "")
	url := "/api/v1/analysis/" + c.ID + "/patch-inputs/"

	rr := ts.do(t, http.MethodPost, url, map[string]any{})
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.JSONEq(t, `{"detail": "Method \"POST\" not allowed."}`, rr.Body.String())

	rr = ts.do(t, http.MethodPatch, url, map[string]any{})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.JSONEq(t, `{"detail": "You do not have permission to perform this action."}`, rr.Body.String())

	rr = ts.do(t, http.MethodPatch, url, map[string]any{"editKey": c.EditKey[:2]})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, http.MethodPatch, url, map[string]any{"editKey": c.EditKey})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `["A `+"`data`"+` object is required"]`, rr.Body.String())
}

func TestPatchInputs_Partial(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.create(t, "")
	url := "/api/v1/analysis/" + c.ID + "/patch-inputs/"
	data := map[string]any{"bmds_version": "BMDS330", "dataset_type": "C"}

	rr := ts.do(t, http.MethodPatch, url, map[string]any{"editKey": c.EditKey, "data": data})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	outer := decodeBody[[]string](t, rr)
	require.Len(t, outer, 1)
	var errs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(outer[0]), &errs))
	assert.Equal(t, "missing", errs[0]["type"])
	assert.Equal(t, []any{"datasets"}, errs[0]["loc"])
	assert.Equal(t, "Field required", errs[0]["msg"])

	rr = ts.do(t, http.MethodPatch, url, map[string]any{"editKey": c.EditKey, "data": data, "partial": true})
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody[createdBody](t, rr)
	assert.JSONEq(t, `{"bmds_version": "BMDS330", "dataset_type": "C"}`, string(body.Inputs))
	assert.False(t, body.InputsValid)
}

func TestExecuteResetAndSelect(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.create(t, dichotomousInputs)
	base := "/api/v1/analysis/" + c.ID

	rr := ts.do(t, http.MethodPost, base+"/execute/", map[string]any{"editKey": c.EditKey + "123"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, http.MethodPost, base+"/execute/", map[string]any{"editKey": c.EditKey})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody[createdBody](t, rr)
	assert.True(t, body.IsFinished)
	assert.False(t, body.HasErrors)
	assert.True(t, body.InputsValid)

	payload := map[string]any{
		"editKey": c.EditKey,
		"data": map[string]any{
			"dataset_index": 0, "option_index": 0,
			"selected": map[string]any{"model_index": 0, "notes": "notes"},
		},
	}
	rr = ts.do(t, http.MethodPost, base+"/select-model/", payload)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var doc struct {
		Outputs model.AnalysisOutput `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	sel := doc.Outputs.Outputs[0].Frequentist.Selected
	require.NotNil(t, sel.ModelIndex)
	assert.Equal(t, 0, *sel.ModelIndex)
	assert.Equal(t, "notes", sel.Notes)

	payload["data"].(map[string]any)["selected"] = map[string]any{"model_index": nil, "notes": "no notes"}
	rr = ts.do(t, http.MethodPost, base+"/select-model/", payload)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"selected":{"model_index":null,"notes":"no notes"}`)

	rr = ts.do(t, http.MethodPost, base+"/execute-reset/", map[string]any{"editKey": c.EditKey})
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeBody[createdBody](t, rr)
	assert.False(t, body.IsFinished)
	assert.JSONEq(t, `{}`, string(body.Outputs))
}

func TestStarRenewDeleteList(t *testing.T) {
	ts := newTestServer(t, nil)
	a := ts.create(t, `{"dataset_type":"D","analysis_name":"Kidney"}`)
	ts.create(t, `{"dataset_type":"C","analysis_name":"Liver"}`)
	base := "/api/v1/analysis/" + a.ID

	rr := ts.do(t, http.MethodPost, base+"/star/", map[string]any{"editKey": a.EditKey})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeBody[createdBody](t, rr).Starred)

	rr = ts.do(t, http.MethodPost, base+"/renew/", map[string]any{"editKey": a.EditKey})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, http.MethodGet, "/api/v1/analysis/?starred=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decodeBody[[]summary](t, rr)
	require.Len(t, list, 1)
	assert.Equal(t, "Kidney", list[0].AnalysisName)
	assert.Equal(t, "D", list[0].DatasetType)

	rr = ts.do(t, http.MethodGet, "/api/v1/analysis/?search=liv", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list = decodeBody[[]summary](t, rr)
	require.Len(t, list, 1)
	assert.Equal(t, "Liver", list[0].AnalysisName)

	rr = ts.do(t, http.MethodGet, "/api/v1/analysis/?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, http.MethodDelete, base+"/", map[string]any{"editKey": "wrong"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = ts.do(t, http.MethodDelete, base+"/?editKey="+a.EditKey, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = ts.do(t, http.MethodGet, base+"/", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestImport(t *testing.T) {
	ts := newTestServer(t, nil)
	doc := `{
		"id": "a0b8c0b4-3f56-4f38-9f3b-3a2d3b6f8c11",
		"inputs": {"dataset_type": "D"},
		"outputs": {
			"analysis_id": "a0b8c0b4-3f56-4f38-9f3b-3a2d3b6f8c11",
			"analysis_schema_version": "1.0",
			"bmds_server_version": "24.1",
			"outputs": []
		},
		"created": "2024-05-01T12:00:00Z"
	}`
	rr := ts.do(t, http.MethodPost, "/api/v1/analysis/import/", doc)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decodeBody[createdBody](t, rr)
	assert.NotEqual(t, "a0b8c0b4-3f56-4f38-9f3b-3a2d3b6f8c11", body.ID)
	assert.NotEmpty(t, body.EditKey)

	rr = ts.do(t, http.MethodPost, "/api/v1/analysis/import/", `{"outputs": {"analysis_schema_version": "9.9"}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid version")
}

func TestExcel(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.create(t, dichotomousInputs)

	rr := ts.do(t, http.MethodGet, "/api/v1/analysis/"+c.ID+"/excel/", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, xlsxContentType, rr.Header().Get("Content-Type"))
	wb, err := xlsx.OpenBinary(rr.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, wb.Sheets, 3)
}

func polyKDataset() string {
	var b strings.Builder
	b.WriteString("dose,day,has_tumor\n")
	for _, dose := range []string{"0", "10", "50"} {
		for i, day := range []string{"400", "540", "700", "730"} {
			tumor := "0"
			if i%2 == 1 {
				tumor = "1"
			}
			b.WriteString(dose + "\t" + day + "  " + tumor + "\n")
		}
	}
	return b.String()
}

func TestPolyK(t *testing.T) {
	ts := newTestServer(t, nil)
	in := map[string]any{"dataset": polyKDataset(), "dose_units": "ppm", "power": 3}

	rr := ts.do(t, http.MethodPost, "/api/v1/polyk/", in)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body, 2)
	assert.Contains(t, body, "df")
	assert.Contains(t, body, "df2")

	rr = ts.do(t, http.MethodPost, "/api/v1/polyk/excel/", in)
	require.Equal(t, http.StatusOK, rr.Code)
	wb, err := xlsx.OpenBinary(rr.Body.Bytes())
	require.NoError(t, err)
	assert.Contains(t, wb.Sheet, "adjusted")
	assert.Contains(t, wb.Sheet, "summary")

	rr = ts.do(t, http.MethodPost, "/api/v1/polyk/", map[string]any{"dataset": "a,b,c\n1,2,3"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Bad column names")
}

func TestRaoScott(t *testing.T) {
	ts := newTestServer(t, nil)
	in := map[string]any{"dataset": "dose,n,incidence\n0,20,1\n10,20,5", "species": "rat"}

	rr := ts.do(t, http.MethodPost, "/api/v1/rao-scott/", in)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"doses":[0,10]`)

	rr = ts.do(t, http.MethodPost, "/api/v1/rao-scott/excel/", in)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, http.MethodPost, "/api/v1/rao-scott/", map[string]any{"dataset": "dose,n,incidence\n0,20,1\n10,20,5", "species": "dog"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBadJSON(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(t, http.MethodPost, "/api/v1/polyk/", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "JSON parse error")
}

func TestRateLimit(t *testing.T) {
	l := newIPLimiter(1, 2, time.Hour)
	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}
