package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aretw0/tilvault/internal/platform"
	"github.com/aretw0/tilvault/pkg/config"
	"github.com/aretw0/tilvault/pkg/core"
	"github.com/aretw0/tilvault/pkg/migrate"
)

var (
	migrateTo         string
	migrateToConfig   string
	migrateDryRun     bool
	migrateSwitch     bool
	migrateMetricAddr string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy every note into another backend",
	Long: `Copy every note from the configured backend into another one, keeping
ids, tags and timestamps. Notes already present in the target are skipped, so
an interrupted or partially failed run can simply be repeated.

The target is described by --to (a backend whose section exists in the same
config file) or by a separate config file (--to-config). With --switch the
config file is rewritten to use the target once every note made it.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		path, from := loadConfig()
		to := targetConfig(from)
		if to.Backend == from.Backend && to.Dir == from.Dir && migrateToConfig == "" {
			fatal("Invalid target", fmt.Errorf("%w: source and target are both %s", core.ErrValidation, from.Backend))
		}

		if migrateMetricAddr != "" {
			stop := serveMetrics(ctx, migrateMetricAddr)
			defer stop()
		}

		report, err := platform.Migrate(ctx, from, to, migrateDryRun, platform.WithLogger(slog.Default()))
		printReport(report)
		if err != nil {
			fatal("Migration stopped", err)
		}
		if !report.OK() {
			fmt.Fprintf(os.Stderr, "%d notes were not migrated; run the command again to retry them.\n", len(report.Failed))
			os.Exit(1)
		}

		if migrateSwitch && !migrateDryRun {
			if err := config.Save(path, to); err != nil {
				fatal("Failed to switch backend", err)
			}
			fmt.Fprintf(os.Stderr, "Switched %s to the %s backend.\n", path, to.Backend)
		}
	},
}

func targetConfig(from config.Config) config.Config {
	to := from
	if migrateToConfig != "" {
		var err error
		if to, err = config.Load(migrateToConfig); err != nil {
			fatal("Failed to load target config", fmt.Errorf("%w: %w", core.ErrValidation, err))
		}
	}
	if migrateTo != "" {
		to.Backend = migrateTo
	}
	if err := to.Validate(); err != nil {
		fatal("Invalid target", fmt.Errorf("%w: %w", core.ErrValidation, err))
	}
	return to
}

// serveMetrics exposes Prometheus metrics while the migration runs.
func serveMetrics(ctx context.Context, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lifecycle.Go(ctx, func(ctx context.Context) error {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		slog.Error("metrics server failed", "error", err)
	}))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printReport(r migrate.Report) {
	if jsonOutput {
		printJSON(r)
		return
	}

	t := newTable()
	title := fmt.Sprintf("Migration %s -> %s", r.Source, r.Target)
	if r.DryRun {
		title += " (dry run)"
	}
	t.SetTitle(title)
	rows := []table.Row{{"Notes", r.Total}}
	if r.DryRun {
		rows = append(rows, table.Row{"Would migrate", r.WouldMigrate})
	} else {
		rows = append(rows, table.Row{"Migrated", r.Migrated})
	}
	rows = append(rows,
		table.Row{"Already present", r.Skipped},
		table.Row{"Failed", len(r.Failed)},
		table.Row{"Duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)},
	)
	t.AppendRows(rows)
	t.Render()

	if len(r.Failed) == 0 {
		return
	}
	f := newTable()
	f.AppendHeader(header("ID", "Title", "Reason"))
	for _, fail := range r.Failed {
		f.AppendRow(table.Row{fail.ID, fail.Title, text.FgRed.Sprint(fail.Reason)})
	}
	f.Render()
}

func init() {
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "Target backend")
	migrateCmd.Flags().StringVar(&migrateToConfig, "to-config", "", "Config file describing the target")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "Report what would be copied without writing")
	migrateCmd.Flags().BoolVar(&migrateSwitch, "switch", false, "Use the target backend from now on")
	migrateCmd.Flags().StringVar(&migrateMetricAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	migrateCmd.MarkFlagsOneRequired("to", "to-config")
	rootCmd.AddCommand(migrateCmd)
}
