package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/bmds-online/bmds/internal/engine"
	"github.com/bmds-online/bmds/internal/executor"
	"github.com/bmds-online/bmds/internal/model"
	"github.com/bmds-online/bmds/internal/report"
	"github.com/bmds-online/bmds/internal/validate"
)

var executeExcel string

var executeCmd = &cobra.Command{
	Use:   "execute <file>",
	Short: "Validate and run an analysis file without storing it",
	Long: "Reads analysis inputs (or an exported analysis document with an \"inputs\" key), " +
		"runs every session through the engine and prints the outputs as JSON.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := readInputs(args[0])
		if err != nil {
			return err
		}
		in, err := validate.Inputs(raw, cfg.Analysis.MaxDatasets())
		if err != nil {
			return err
		}

		exec := executor.New(engine.NewFromConfig(cfg.Engine), cfg.Executor.MaxParallel, version)
		res, err := exec.Run(ctx, "", in)
		if err != nil {
			return eris.Wrap(err, "execute analysis")
		}
		for _, e := range res.Errors {
			zap.L().Warn("session failed",
				zap.Int("dataset_index", e.DatasetIndex),
				zap.Int("option_index", e.OptionIndex),
				zap.String("error", e.Error),
			)
		}

		if executeExcel != "" {
			if err := writeAnalysisExcel(executeExcel, in, res.Output); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Outputs *model.AnalysisOutput  `json:"outputs"`
			Errors  []model.ExecutionError `json:"errors"`
		}{res.Output, res.Errors})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import an exported analysis into the configured store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		doc, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		a, err := newService(st, engine.NewFromConfig(cfg.Engine)).Import(ctx, doc)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "id:      %s\neditKey: %s\n", a.ID, a.Password)
		return nil
	},
}

// readInputs returns the analysis inputs in path. A full analysis document
// is unwrapped to its "inputs" object.
func readInputs(path string) (json.RawMessage, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	if !gjson.ValidBytes(b) {
		return nil, eris.Errorf("%s: invalid JSON", path)
	}
	if inner := gjson.GetBytes(b, "inputs"); inner.IsObject() {
		return json.RawMessage(inner.Raw), nil
	}
	return json.RawMessage(b), nil
}

func writeAnalysisExcel(path string, in *model.Inputs, out *model.AnalysisOutput) error {
	b, err := report.Analysis(in, out)
	if err != nil {
		return err
	}
	return eris.Wrapf(os.WriteFile(path, b, 0o644), "write %s", path)
}

func init() {
	executeCmd.Flags().StringVar(&executeExcel, "excel", "", "also write the summary workbook to this path")
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(importCmd)
}
