package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/evanofslack/instance-dns-sync/internal/backup"
	"github.com/evanofslack/instance-dns-sync/internal/config"
	"github.com/evanofslack/instance-dns-sync/internal/hostname"
	"github.com/evanofslack/instance-dns-sync/internal/job"
	"github.com/evanofslack/instance-dns-sync/internal/logger"
	"github.com/evanofslack/instance-dns-sync/internal/metrics"
	"github.com/evanofslack/instance-dns-sync/internal/provider"
	"github.com/evanofslack/instance-dns-sync/internal/reconcile"
)

// ErrVerificationFailed is returned when a restored record does not hold the
// expected address after apply.
var ErrVerificationFailed = errors.New("restore verification failed")

// RestoreCommand returns the "restore" subcommand.
func RestoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore [file]",
		Short: "Replay a DNS snapshot against the live zone",
		Long: `Replay a snapshot produced by a previous cycle. Records whose address differs
from the snapshot are updated; records missing from the zone are reported
and never created.

Examples:
  instance-dns-sync restore backup.json --dry-run
  instance-dns-sync restore backup.csv --verify
  instance-dns-sync restore --from-archive --verify`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRestore,
	}

	cmd.Flags().Bool("dry-run", false, "Report the restore plan without applying it")
	cmd.Flags().Bool("verify", false, "Re-fetch records after apply and check each update took effect")
	cmd.Flags().String("format", "auto", "Snapshot format: auto, json or csv")
	cmd.Flags().Bool("from-archive", false, "Restore the newest snapshot from the local archive")

	return cmd
}

func runRestore(cmd *cobra.Command, args []string) error {
	fromArchive, _ := cmd.Flags().GetBool("from-archive")
	if fromArchive == (len(args) == 1) {
		return errors.New("exactly one of a snapshot file or --from-archive is required")
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	verify, _ := cmd.Flags().GetBool("verify")
	formatFlag, _ := cmd.Flags().GetString("format")
	format, err := backup.ParseFormat(formatFlag)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	m := metrics.New(true)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	defer cancel()
	log := slog.Default().With("run_id", uuid.NewString())
	ctx = logger.WithLogger(ctx, log)

	var snap backup.Snapshot
	if fromArchive {
		snap, err = latestArchived(ctx, cfg, m)
	} else {
		snap, err = readSnapshot(args[0], format)
	}
	if err != nil {
		return err
	}
	resolver := hostname.New(cfg.Domain, cfg.Instances.ServerSuffix)
	want := inZone(log, snap.Records, resolver.Domain())
	log.Info("Loaded snapshot", "records", len(want), "snapshot_domain", snap.Domain, "snapshot_time", snap.Timestamp)

	dp, err := newProvider(cfg, m)
	if err != nil {
		return err
	}
	live, err := dp.GetRecords(ctx, resolver.Domain())
	if err != nil {
		return fmt.Errorf("get records: %w", err)
	}

	rcfg := cfg.Reconcile
	rcfg.DryRun = dryRun
	engine := reconcile.NewEngine(dp, resolver, rcfg, m)
	plan := engine.PlanRestore(want, live)
	reconcile.LogDecisions(ctx, plan)
	results := engine.Apply(ctx, plan)

	out := cmd.OutOrStdout()
	s := results.Summary()
	if dryRun {
		fmt.Fprintf(out, "Dry run: %d would update, %d unchanged, %d without record\n", s.WouldUpdate, s.Unchanged, s.NoRecord)
	} else {
		fmt.Fprintf(out, "Restoration complete: %d updated, %d unchanged, %d without record, %d failed\n", s.Updated, s.Unchanged, s.NoRecord, s.Failed)
	}
	log.Info("Restore completed", "summary", s)

	var errs []error
	if results.Partial() {
		errs = append(errs, fmt.Errorf("%w: %d updates failed", job.ErrPartialSuccess, len(results.Failures)))
	}

	switch {
	case verify && dryRun:
		log.Info("Skipping verification in dry run mode")
	case verify:
		if err := verifyRestore(ctx, out, dp, resolver.Domain(), results); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func readSnapshot(path string, format backup.Format) (backup.Snapshot, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return backup.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := backup.Parse(content, format)
	if err != nil {
		return backup.Snapshot{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return snap, nil
}

func latestArchived(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (backup.Snapshot, error) {
	if cfg.Backup.ArchivePath == "" {
		return backup.Snapshot{}, errors.New("--from-archive requires backup.archivePath")
	}
	archive, err := newArchive(cfg, m)
	if err != nil {
		return backup.Snapshot{}, fmt.Errorf("open snapshot archive: %w", err)
	}
	defer archive.Close()
	return archive.Latest(ctx)
}

// inZone drops snapshot records outside the managed domain.
func inZone(log *slog.Logger, records []provider.Record, domain string) []provider.Record {
	out := make([]provider.Record, 0, len(records))
	for _, r := range records {
		if !hostname.InZone(r.Hostname, domain) {
			log.Warn("Ignoring snapshot record outside managed zone", "hostname", r.Hostname, "zone", domain)
			continue
		}
		out = append(out, r)
	}
	return out
}

func verifyRestore(ctx context.Context, out io.Writer, dp provider.Provider, zone string, results reconcile.Results) error {
	log := logger.FromContext(ctx)
	live, err := dp.GetRecords(ctx, zone)
	if err != nil {
		return fmt.Errorf("verify: get records: %w", err)
	}

	outcomes := reconcile.Verify(results, live)
	var mismatched, missing int
	for _, o := range outcomes {
		switch o.Status {
		case reconcile.VerifyConfirmed:
			log.Debug("Verified record", "hostname", o.Hostname, "ip", o.Actual)
		case reconcile.VerifyStillMismatched:
			mismatched++
			log.Warn("Record still mismatched", "hostname", o.Hostname, "record_id", o.RecordID, "expected", o.Expected, "actual", o.Actual)
		case reconcile.VerifyRecordMissing:
			missing++
			log.Warn("Record missing", "hostname", o.Hostname, "expected", o.Expected)
		}
	}

	fmt.Fprintf(out, "Verification: %d confirmed, %d mismatched, %d missing\n", len(outcomes)-mismatched-missing, mismatched, missing)
	if !reconcile.Verified(outcomes) {
		return fmt.Errorf("%w: %d mismatched, %d missing", ErrVerificationFailed, mismatched, missing)
	}
	return nil
}
