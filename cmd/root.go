package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bmds-online/bmds/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "25.1"

var (
	cfg         *config.Config
	cfgFile     string
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "bmds",
	Short: "Benchmark dose modeling server and desktop runner",
	Long: "Stores dose-response analyses, validates their inputs, runs modeling sessions through " +
		"the pybmds engine and serves the results over HTTP or from a local desktop project.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			return nil
		}
		file := cfgFile
		if isDesktop(cmd) {
			// --config names the desktop config there.
			file = ""
		}
		c, err := config.Load(file)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		if isDesktop(cmd) {
			cfg.Analysis.Desktop = true
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		}
		return cmd.Help()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (desktop: desktop config file)")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "V", false, "show version")
}

func isDesktop(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c == desktopCmd {
			return true
		}
	}
	return false
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
