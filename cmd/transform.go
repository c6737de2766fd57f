package main

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bmds-online/bmds/internal/engine"
	"github.com/bmds-online/bmds/internal/report"
	"github.com/bmds-online/bmds/internal/tabular"
	"github.com/bmds-online/bmds/internal/transforms"
)

var (
	polyKPower      float64
	polyKDuration   float64
	polyKDoseUnits  string
	transformExcel  string
	raoScottSpecies string
)

var polyKCmd = &cobra.Command{
	Use:   "polyk <file>",
	Short: "Apply the Poly-K adjustment to a CSV or XLSX tumor dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readDataset(args[0])
		if err != nil {
			return err
		}
		in := transforms.PolyKInput{Dataset: text, DoseUnits: polyKDoseUnits}
		if cmd.Flags().Changed("power") {
			in.Power = &polyKPower
		}
		if cmd.Flags().Changed("duration") {
			in.Duration = &polyKDuration
		}

		res, err := transforms.PolyK(cmd.Context(), in)
		if err != nil {
			return err
		}
		if transformExcel != "" {
			b, err := report.PolyK(res)
			if err != nil {
				return err
			}
			if err := os.WriteFile(transformExcel, b, 0o644); err != nil {
				return eris.Wrapf(err, "write %s", transformExcel)
			}
		}
		return printJSON(cmd, res)
	},
}

var raoScottCmd = &cobra.Command{
	Use:   "rao-scott <file>",
	Short: "Apply the Rao-Scott adjustment to a CSV or XLSX dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readDataset(args[0])
		if err != nil {
			return err
		}
		in := transforms.RaoScottInput{Dataset: text, Species: raoScottSpecies}

		res, err := transforms.RaoScott(cmd.Context(), engine.NewFromConfig(cfg.Engine), in)
		if err != nil {
			return err
		}
		if transformExcel != "" {
			b, err := report.RaoScott(res)
			if err != nil {
				return err
			}
			if err := os.WriteFile(transformExcel, b, 0o644); err != nil {
				return eris.Wrapf(err, "write %s", transformExcel)
			}
		}
		return printJSON(cmd, res)
	},
}

// readDataset returns the calculator text for path. Workbooks are flattened
// to CSV from their first sheet.
func readDataset(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "read %s", path)
	}
	if !tabular.IsXLSX(b) {
		return tabular.DecodeText(b)
	}

	rows, err := tabular.ReadXLSX(b, tabular.XLSXOptions{})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.WriteAll(rows); err != nil {
		return "", eris.Wrap(err, "flatten workbook")
	}
	return sb.String(), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	polyKCmd.Flags().Float64Var(&polyKPower, "power", 3, "Poly-K power")
	polyKCmd.Flags().Float64Var(&polyKDuration, "duration", 0, "study duration in days (default: last observed day)")
	polyKCmd.Flags().StringVar(&polyKDoseUnits, "dose-units", "", "dose units label")
	polyKCmd.Flags().StringVar(&transformExcel, "excel", "", "also write the result workbook to this path")

	raoScottCmd.Flags().StringVar(&raoScottSpecies, "species", "rat", "species: mouse, rat or rabbit")
	raoScottCmd.Flags().StringVar(&transformExcel, "excel", "", "also write the result workbook to this path")

	rootCmd.AddCommand(polyKCmd)
	rootCmd.AddCommand(raoScottCmd)
}
