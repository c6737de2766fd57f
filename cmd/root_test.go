package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmds-online/bmds/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "bmds.sqlite3")
	c.Server.Port = 8000
	c.Queue.Mode = "eager"
	c.Executor.MaxParallel = 1
	c.Analysis.DaysToKeep = 365
	c.Analysis.DaysToKeepUnexecuted = 30
	c.Analysis.MaxDatasetsServer = 10
	c.Housekeeping.HangingAfterMins = 15
	return c
}

func TestRootCmd_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{
		"serve", "worker", "migrate", "housekeeping",
		"execute", "import", "polyk", "rao-scott", "desktop",
	} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCmd_Flags(t *testing.T) {
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	f := rootCmd.Flags().Lookup("version")
	require.NotNil(t, f)
	assert.Equal(t, "V", f.Shorthand)
}

func TestRootCmd_ShowVersion(t *testing.T) {
	showVersion = true
	defer func() { showVersion = false }()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)

	require.NoError(t, rootCmd.PersistentPreRunE(rootCmd, nil))
	require.NoError(t, rootCmd.RunE(rootCmd, nil))
	assert.Equal(t, version+"\n", out.String())
}

func TestIsDesktop(t *testing.T) {
	assert.True(t, isDesktop(desktopStartCmd))
	assert.True(t, isDesktop(projectsListCmd))
	assert.False(t, isDesktop(serveCmd))
	assert.False(t, isDesktop(rootCmd))
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = testConfig(t)
	cfg.Store.Driver = "mysql"

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitApp_Eager(t *testing.T) {
	cfg = testConfig(t)

	env, err := initApp(context.Background(), "serve")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Analyses)
	assert.Nil(t, env.Temporal)
	assert.Nil(t, env.Worker)
}

func TestInitApp_InvalidConfig(t *testing.T) {
	cfg = testConfig(t)
	cfg.Queue.Mode = "celery"

	_, err := initApp(context.Background(), "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.mode must be eager or temporal")
}

func TestMigrateCmd(t *testing.T) {
	cfg = testConfig(t)

	var out bytes.Buffer
	migrateCmd.SetOut(&out)
	migrateCmd.SetContext(context.Background())
	defer migrateCmd.SetContext(nil)

	require.NoError(t, migrateCmd.RunE(migrateCmd, nil))
	assert.Contains(t, out.String(), "migrated sqlite store")
}

func TestHousekeepingCmd_Once(t *testing.T) {
	cfg = testConfig(t)

	var out bytes.Buffer
	housekeepingCmd.SetOut(&out)
	housekeepingCmd.SetContext(context.Background())
	defer housekeepingCmd.SetContext(nil)

	require.NoError(t, housekeepingCmd.RunE(housekeepingCmd, nil))

	var rep map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Contains(t, rep, "expired")
}

func TestReadInputs(t *testing.T) {
	dir := t.TempDir()

	bare := filepath.Join(dir, "inputs.json")
	require.NoError(t, os.WriteFile(bare, []byte(`{"dataset_type":"D"}`), 0o644))
	raw, err := readInputs(bare)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dataset_type":"D"}`, string(raw))

	doc := filepath.Join(dir, "analysis.json")
	require.NoError(t, os.WriteFile(doc, []byte(`{"id":"x","inputs":{"dataset_type":"C"}}`), 0o644))
	raw, err = readInputs(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dataset_type":"C"}`, string(raw))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{nope`), 0o644))
	_, err = readInputs(bad)
	assert.Error(t, err)
}

const exportedAnalysis = `{
	"id": "a0b8c0b4-3f56-4f38-9f3b-3a2d3b6f8c11",
	"inputs": {"dataset_type": "D", "bmds_version": "24.1a"},
	"outputs": {
		"analysis_id": "a0b8c0b4-3f56-4f38-9f3b-3a2d3b6f8c11",
		"analysis_schema_version": "1.0",
		"bmds_server_version": "24.1",
		"bmds_python_version": {"python": "3.12", "pybmds": "24.1", "bmdscore": "24.1"},
		"outputs": [{"dataset_index": 0, "option_index": 0, "frequentist": {"models": []}, "bayesian": null, "error": null}]
	},
	"errors": [],
	"created": "2024-05-01T12:00:00Z",
	"started": "2024-05-01T12:00:01Z",
	"ended": "2024-05-01T12:00:05Z",
	"starred": false
}`

func TestImportCmd(t *testing.T) {
	cfg = testConfig(t)
	doc := filepath.Join(t.TempDir(), "analysis.json")
	require.NoError(t, os.WriteFile(doc, []byte(exportedAnalysis), 0o644))

	var out bytes.Buffer
	importCmd.SetOut(&out)
	importCmd.SetContext(context.Background())
	defer importCmd.SetContext(nil)

	require.NoError(t, importCmd.RunE(importCmd, []string{doc}))
	assert.Contains(t, out.String(), "id:")
	assert.Contains(t, out.String(), "editKey:")
	assert.NotContains(t, out.String(), "a0b8c0b4-3f56-4f38-9f3b-3a2d3b6f8c11")
}

func TestImportCmd_InvalidDocument(t *testing.T) {
	cfg = testConfig(t)
	doc := filepath.Join(t.TempDir(), "analysis.json")
	require.NoError(t, os.WriteFile(doc, []byte(`{"inputs":{"dataset_type":"D"}}`), 0o644))

	importCmd.SetContext(context.Background())
	defer importCmd.SetContext(nil)

	assert.Error(t, importCmd.RunE(importCmd, []string{doc}))
}
