package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evanofslack/instance-dns-sync/internal/backup"
	"github.com/evanofslack/instance-dns-sync/internal/config"
	"github.com/evanofslack/instance-dns-sync/internal/logger"
	"github.com/evanofslack/instance-dns-sync/internal/metrics"
	"github.com/evanofslack/instance-dns-sync/internal/provider"
	"github.com/evanofslack/instance-dns-sync/internal/provider/cloudflare"
	"github.com/evanofslack/instance-dns-sync/internal/source"
	"github.com/evanofslack/instance-dns-sync/internal/source/ec2"
	"github.com/evanofslack/instance-dns-sync/internal/source/hetzner"
	"github.com/evanofslack/instance-dns-sync/internal/state"
)

// Constructors for external collaborators. Tests replace them with fakes.
var (
	newProvider = func(cfg *config.Config, m *metrics.Metrics) (provider.Provider, error) {
		p, err := cloudflare.New(cfg.Domain, cfg.DNS, cfg.Timeout, m)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	newDirectory = func(cfg *config.Config, m *metrics.Metrics) (source.Directory, error) {
		filter := source.Filter{TagKey: cfg.Instances.TagKey, TagValue: cfg.Instances.TagValue}
		switch cfg.Instances.Provider {
		case "aws":
			d, err := ec2.New(cfg.Instances.Region, filter, cfg.Timeout, m)
			if err != nil {
				return nil, err
			}
			return d, nil
		case "hetzner":
			d, err := hetzner.New(cfg.Instances.HetznerToken, filter, cfg.Timeout, m)
			if err != nil {
				return nil, err
			}
			return d, nil
		}
		return nil, fmt.Errorf("unknown instance provider %q", cfg.Instances.Provider)
	}

	newArchive = func(cfg *config.Config, m *metrics.Metrics) (state.Archive, error) {
		return state.New(cfg.Backup.ArchivePath, cfg.Backup.Retain, m)
	}
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Env)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// sinks returns the configured backup sinks. The caller closes the archive
// when it is non-nil.
func sinks(cfg *config.Config, m *metrics.Metrics) ([]backup.Sink, state.Archive, error) {
	var out []backup.Sink
	if cfg.Backup.LogBackups() {
		out = append(out, backup.LogSink{})
	}
	if cfg.Backup.ArchivePath == "" {
		return out, nil, nil
	}
	archive, err := newArchive(cfg, m)
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot archive: %w", err)
	}
	return append(out, archive), archive, nil
}
