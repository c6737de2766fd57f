package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bmds-online/bmds/internal/desktop"
	"github.com/bmds-online/bmds/internal/engine"
	"github.com/bmds-online/bmds/internal/queue"
	"github.com/bmds-online/bmds/internal/server"
	"github.com/bmds-online/bmds/internal/store"
)

var (
	desktopHost        string
	desktopPort        int
	projectDescription string
)

var desktopCmd = &cobra.Command{
	Use:   "desktop",
	Short: "Manage and serve local desktop projects",
}

var desktopStartCmd = &cobra.Command{
	Use:   "start [project-id]",
	Short: "Serve a project locally (default: most recently added)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		home, cf, err := loadDesktop()
		if err != nil {
			return err
		}

		db, err := pickProject(home, cf, args)
		if err != nil {
			return err
		}
		if err := cf.Config.Touch(db.ID); err != nil {
			return err
		}
		if err := cf.Sync(); err != nil {
			return err
		}

		web := cf.Config.Server
		if desktopHost != "" {
			web.Host = desktopHost
		}
		if desktopPort != 0 {
			web.Port = desktopPort
		}

		runner := desktop.NewRunner(desktopHandler)
		url, err := runner.Start(ctx, web, db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Serving %s at %s\n", db.Name, url)

		waitErr := runner.Wait(ctx)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := runner.Stop(shutdownCtx); err != nil {
			return err
		}
		return waitErr
	},
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List, add or remove desktop projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cf, err := loadDesktop()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tPATH\tLAST ACCESSED")
		for _, db := range cf.Config.Databases {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", db.ID, db.Name, db.Path, db.LastAccessed.Format(time.DateTime))
		}
		return tw.Flush()
	},
}

var projectsAddCmd = &cobra.Command{
	Use:   "add <name> <path>",
	Short: "Register a project database (created on first start)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cf, err := loadDesktop()
		if err != nil {
			return err
		}
		path, err := filepath.Abs(args[1])
		if err != nil {
			return eris.Wrap(err, "resolve project path")
		}
		db := desktop.NewDatabase(args[0], projectDescription, path)
		cf.Config.AddDB(db)
		if err := cf.Sync(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), db.ID)
		return nil
	},
}

var projectsRemoveCmd = &cobra.Command{
	Use:   "remove <project-id>",
	Short: "Forget a project; the database file is kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cf, err := loadDesktop()
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrapf(err, "invalid project id %q", args[0])
		}
		if err := cf.Config.RemoveDB(id); err != nil {
			return err
		}
		return cf.Sync()
	},
}

var checkUpdateCmd = &cobra.Command{
	Use:   "check-update",
	Short: "Compare this version with the latest published release",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hc := &http.Client{Timeout: 10 * time.Second}
		rel, err := desktop.LatestRelease(cmd.Context(), hc, desktop.ReleaseIndexURL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), desktop.VersionMessage(version, *rel))
		return nil
	},
}

func loadDesktop() (string, *desktop.ConfigFile, error) {
	home, err := desktop.AppHome(version)
	if err != nil {
		return "", nil, err
	}
	cf, err := desktop.LoadConfig(home, cfgFile)
	if err != nil {
		return "", nil, err
	}
	return home, cf, nil
}

// pickProject returns the project named by args, the most recent project,
// or a new default project in home when none exist.
func pickProject(home string, cf *desktop.ConfigFile, args []string) (desktop.Database, error) {
	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return desktop.Database{}, eris.Wrapf(err, "invalid project id %q", args[0])
		}
		db, err := cf.Config.GetDB(id)
		if err != nil {
			return desktop.Database{}, err
		}
		return *db, nil
	}
	if len(cf.Config.Databases) > 0 {
		return cf.Config.Databases[0], nil
	}

	db := desktop.NewDatabase("Default project", "", filepath.Join(home, "bmds.sqlite3"))
	cf.Config.AddDB(db)
	zap.L().Info("created default project", zap.String("path", db.Path))
	return db, nil
}

// desktopHandler serves one project with inline execution and no rate
// limit.
func desktopHandler(st store.Store) (http.Handler, error) {
	eng := engine.NewFromConfig(cfg.Engine)
	svc := newService(st, eng)
	svc.UseDispatcher(&queue.Eager{Runner: svc, Timeout: queueTimeout()})

	srvCfg := cfg.Server
	srvCfg.RateLimit = 0
	return server.New(svc, eng, nil, srvCfg, version).Handler(), nil
}

func init() {
	desktopStartCmd.Flags().StringVar(&desktopHost, "host", "", "override the configured host")
	desktopStartCmd.Flags().IntVar(&desktopPort, "port", 0, "override the configured port")
	projectsAddCmd.Flags().StringVar(&projectDescription, "description", "", "project description")

	projectsCmd.AddCommand(projectsListCmd, projectsAddCmd, projectsRemoveCmd)
	desktopCmd.AddCommand(desktopStartCmd, projectsCmd, checkUpdateCmd)
	rootCmd.AddCommand(desktopCmd)
}
