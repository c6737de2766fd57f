package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bmds-online/bmds/internal/analysis"
	"github.com/bmds-online/bmds/internal/engine"
	"github.com/bmds-online/bmds/internal/housekeeping"
)

var housekeepingLoop bool

var housekeepingCmd = &cobra.Command{
	Use:   "housekeeping",
	Short: "Delete expired analyses and close hanging runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("housekeeping"); err != nil {
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

		var failer housekeeping.Failer = newService(st, engine.NewFromConfig(cfg.Engine))
		janitor := housekeeping.New(st, failer, cfg.Analysis, cfg.Housekeeping)
		if housekeepingLoop {
			janitor.Run(ctx)
			return nil
		}

		rep, err := janitor.RunOnce(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

var _ housekeeping.Failer = (*analysis.Service)(nil)

func init() {
	housekeepingCmd.Flags().BoolVar(&housekeepingLoop, "loop", false, "run on the configured interval until interrupted")
	rootCmd.AddCommand(housekeepingCmd)
}
