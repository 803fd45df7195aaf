package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/boostorg/boost-archives/internal/config"
	"github.com/boostorg/boost-archives/internal/release"
	"github.com/boostorg/boost-archives/internal/storage"
	"github.com/boostorg/boost-archives/internal/versions"
	"github.com/boostorg/boost-archives/pkg/helper"
	"github.com/boostorg/boost-archives/pkg/logger"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type hostOptions struct {
	release string
	dryRun  bool
	format  string
	tempDir string
}

var hostOpts hostOptions

var HostReleaseFilesCmd = &cobra.Command{
	Use:   "host-release-files",
	Short: "Import Boost release archives into blob storage",
	Long: `Lists the archives published on SourceForge for each selected version, downloads
them, checks the published MD5 when there is one, and uploads each archive with a JSON
metadata sidecar. Without --release, versions up to release.threshold are processed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		log := logger.NewLogger("release")
		return helper.Guard(log, cmd.Name(), func() error {
			return runHostReleaseFiles(ctx, Cfg, hostOpts, cmd.OutOrStdout(), log)
		})
	},
}

func init() {
	HostReleaseFilesCmd.Flags().StringVar(&hostOpts.release, "release", "", "only versions whose name contains this string")
	HostReleaseFilesCmd.Flags().BoolVar(&hostOpts.dryRun, "dry-run", false, "list the files without downloading or uploading")
	HostReleaseFilesCmd.Flags().StringVar(&hostOpts.format, "format", "", "listing format, html or rss (overrides config file)")
	HostReleaseFilesCmd.Flags().StringVar(&hostOpts.tempDir, "temp-dir", "", "directory for download spool files")
	RootCmd.AddCommand(HostReleaseFilesCmd)
}

func runHostReleaseFiles(ctx context.Context, cfg *config.Config, opts hostOptions, out io.Writer, log *logger.Logger) error {
	format := cfg.Release.Format
	if opts.format != "" {
		format = opts.format
	}

	all, err := loadVersions(ctx, cfg)
	if err != nil {
		return err
	}
	selected := versions.Select(all, opts.release, cfg.Release.Threshold)
	log.WithFields(logger.Fields{
		"known":    len(all),
		"selected": len(selected),
		"format":   format,
	}).Info("Versions selected")
	if len(selected) == 0 {
		fmt.Fprintln(out, "No versions selected")
		return nil
	}

	client := newHTTPClient(cfg)
	lister, err := release.NewLister(format, cfg.SourceForge, client, log)
	if err != nil {
		return err
	}

	var (
		fetcher  release.Downloader
		uploader release.Publisher
	)
	// A dry run never touches storage, so it needs no credentials.
	if !opts.dryRun {
		store, err := storage.New(ctx, cfg.Storage, logger.NewLogger("storage"))
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		fetcher = release.NewFetcher(client, opts.tempDir, log)
		uploader = release.NewUploader(store, cfg.Storage.Prefix, log)
	}

	report, err := release.NewImporter(lister, fetcher, uploader, out, log).
		Run(ctx, selected, release.Options{DryRun: opts.dryRun})
	if report != nil {
		printReport(out, report)
	}
	return err
}

func printReport(out io.Writer, report *release.Report) {
	fmt.Fprintf(out, "\nRun %s", report.RunID)
	if report.DryRun {
		fmt.Fprint(out, " (dry run)")
	}
	fmt.Fprintln(out)

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Version", "Discovered", "Uploaded", "Mismatched", "Failed", "Size"})
	for _, v := range report.Versions {
		if v.Skipped {
			table.Append([]string{v.Version, "listing failed", "-", "-", "-", "-"})
			continue
		}
		table.Append(reportRow(v.Version, *v))
	}
	table.SetFooter(reportRow("Total", report.Totals()))
	table.Render()
}

func reportRow(label string, v release.VersionReport) []string {
	return []string{
		label,
		strconv.Itoa(v.Discovered),
		strconv.Itoa(v.Uploaded),
		strconv.Itoa(v.Mismatched),
		strconv.Itoa(v.Failed),
		humanize.IBytes(uint64(v.Bytes)),
	}
}
