package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/evanofslack/instance-dns-sync/internal/config"
	"github.com/evanofslack/instance-dns-sync/internal/hostname"
	"github.com/evanofslack/instance-dns-sync/internal/job"
	"github.com/evanofslack/instance-dns-sync/internal/metrics"
	"github.com/evanofslack/instance-dns-sync/internal/reconcile"
	"github.com/evanofslack/instance-dns-sync/internal/state"
)

// RunCommand returns the "run" subcommand.
func RunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation cycle",
		Long: `Run one reconciliation cycle and exit. Intended for an external scheduler
that guarantees runs do not overlap.

Exits non-zero when instances or records cannot be fetched, or when any
update fails.`,
		Args: cobra.NoArgs,
		RunE: runOnce,
	}

	cmd.Flags().Bool("dry-run", false, "Plan and log updates without applying them")

	return cmd
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.Reconcile.DryRun, _ = cmd.Flags().GetBool("dry-run")
	}

	m := metrics.New(true)
	runner, archive, err := newRunner(cfg, m)
	if err != nil {
		return err
	}
	if archive != nil {
		defer archive.Close()
	}

	_, runErr := runner.Run(cmd.Context())

	if cfg.Metrics.Pushgateway != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Push(ctx, cfg.Metrics.Pushgateway, cfg.Metrics.Job); err != nil {
			slog.Warn("Failed to push metrics", "url", cfg.Metrics.Pushgateway, "error", err)
		}
	}
	return runErr
}

func newRunner(cfg *config.Config, m *metrics.Metrics) (*job.Runner, state.Archive, error) {
	dir, err := newDirectory(cfg, m)
	if err != nil {
		return nil, nil, err
	}
	dp, err := newProvider(cfg, m)
	if err != nil {
		return nil, nil, err
	}
	out, archive, err := sinks(cfg, m)
	if err != nil {
		return nil, nil, err
	}

	resolver := hostname.New(cfg.Domain, cfg.Instances.ServerSuffix)
	engine := reconcile.NewEngine(dp, resolver, cfg.Reconcile, m)
	return job.New(dir, dp, engine, resolver.Domain(), cfg.Timeout, m, out...), archive, nil
}
