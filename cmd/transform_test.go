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

	"github.com/bmds-online/bmds/internal/report"
)

const polyKText = "dose,day,has_tumor\n0,452,0\n0,535,1\n0,730,0\n1,730,1\n1,600,0\n"

func TestReadDataset_CSV(t *testing.T) {
	p := filepath.Join(t.TempDir(), "polyk.csv")
	require.NoError(t, os.WriteFile(p, []byte(polyKText), 0o644))

	text, err := readDataset(p)
	require.NoError(t, err)
	assert.Equal(t, polyKText, text)
}

func TestReadDataset_XLSX(t *testing.T) {
	b, err := report.Workbook(report.Sheet{
		Name:   "data",
		Header: []string{"dose", "day", "has_tumor"},
		Rows:   [][]any{{"0", "452", "0"}, {"1", "730", "1"}},
	})
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "polyk.xlsx")
	require.NoError(t, os.WriteFile(p, b, 0o644))

	text, err := readDataset(p)
	require.NoError(t, err)
	assert.Equal(t, "dose,day,has_tumor\n0,452,0\n1,730,1\n", text)
}

func TestReadDataset_Missing(t *testing.T) {
	_, err := readDataset(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestPolyKCmd(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "polyk.csv")
	require.NoError(t, os.WriteFile(p, []byte(polyKText), 0o644))
	xlsxPath := filepath.Join(dir, "polyk.xlsx")

	transformExcel = xlsxPath
	polyKDoseUnits = "mg/kg"
	defer func() { transformExcel, polyKDoseUnits = "", "" }()

	var out bytes.Buffer
	polyKCmd.SetOut(&out)
	polyKCmd.SetContext(context.Background())
	defer polyKCmd.SetContext(nil)

	require.NoError(t, polyKCmd.RunE(polyKCmd, []string{p}))

	var res struct {
		Power     float64          `json:"power"`
		MaxDay    float64          `json:"max_day"`
		DoseUnits string           `json:"dose_units"`
		Summary   []map[string]any `json:"df2"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, 3.0, res.Power)
	assert.Equal(t, 730.0, res.MaxDay)
	assert.Equal(t, "mg/kg", res.DoseUnits)
	assert.Len(t, res.Summary, 2)

	info, err := os.Stat(xlsxPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
