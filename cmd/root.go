package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X .../cmd.version=...".
var version = "dev"

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance-dns-sync",
		Short: "Keep DNS A records in line with compute instance public IPs",
		Long: `instance-dns-sync discovers eligible compute instances, maps each to a
hostname under the managed domain and updates A records whose address has
drifted. Records are never created or deleted.

Quick start:
  instance-dns-sync run --dry-run           # Show what would change
  instance-dns-sync run                     # One reconciliation cycle
  instance-dns-sync serve                   # Reconcile on an interval
  instance-dns-sync restore backup.json     # Replay a snapshot`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "config.yaml", "Path to the configuration file")

	cmd.AddCommand(RunCommand())
	cmd.AddCommand(ServeCommand())
	cmd.AddCommand(RestoreCommand())
	cmd.AddCommand(VersionCommand())

	return cmd
}

// Execute runs the command tree and exits non-zero on any error.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func VersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
