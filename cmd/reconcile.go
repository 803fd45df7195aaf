package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/boostorg/boost-archives/internal/config"
	"github.com/boostorg/boost-archives/internal/release"
	"github.com/boostorg/boost-archives/internal/storage"
	"github.com/boostorg/boost-archives/pkg/helper"
	"github.com/boostorg/boost-archives/pkg/logger"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	reconcileRelease string
	reconcileVerify  bool
)

var ReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Find artifacts without a sidecar and sidecars without an artifact",
	Long: `Scans stored release files and reports inconsistencies left by interrupted imports.
With --verify, every artifact is re-hashed and compared with the sha256 in its sidecar.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		log := logger.NewLogger("reconcile")
		return helper.Guard(log, cmd.Name(), func() error {
			return runReconcile(ctx, Cfg, reconcileRelease, reconcileVerify, cmd.OutOrStdout(), log)
		})
	},
}

func init() {
	ReconcileCmd.Flags().StringVar(&reconcileRelease, "release", "", "release to scan, e.g. 1.60.0 (default: all)")
	ReconcileCmd.Flags().BoolVar(&reconcileVerify, "verify", false, "re-hash artifacts against their sidecar")
	RootCmd.AddCommand(ReconcileCmd)
}

func runReconcile(ctx context.Context, cfg *config.Config, rel string, verify bool, out io.Writer, log *logger.Logger) error {
	store, err := storage.New(ctx, cfg.Storage, logger.NewLogger("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	report, err := release.NewReconciler(store, cfg.Storage.Prefix, log).Run(ctx, rel, verify)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Checked %d artifacts", report.Artifacts)
	if verify {
		fmt.Fprintf(out, ", verified %d", report.Verified)
	}
	fmt.Fprintln(out)

	warn := color.New(color.FgYellow)
	for _, k := range report.MissingSidecar {
		warn.Fprintf(out, "missing sidecar: %s\n", k)
	}
	for _, k := range report.OrphanSidecars {
		warn.Fprintf(out, "orphan sidecar:  %s\n", k)
	}
	for _, k := range report.Mismatched {
		color.New(color.FgRed, color.Bold).Fprintf(out, "sha256 mismatch: %s\n", k)
	}

	if report.Clean() {
		color.New(color.FgGreen).Fprintln(out, "Storage is consistent")
		return nil
	}
	return fmt.Errorf("storage has %d inconsistencies",
		len(report.MissingSidecar)+len(report.OrphanSidecars)+len(report.Mismatched))
}
