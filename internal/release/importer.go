package release

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/boostorg/boost-archives/internal/versions"
	"github.com/boostorg/boost-archives/pkg/helper"
	"github.com/boostorg/boost-archives/pkg/logger"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
)

// Downloader fetches and validates one artifact.
type Downloader interface {
	Download(ctx context.Context, d *Descriptor) (*Payload, error)
}

// Publisher persists one validated artifact.
type Publisher interface {
	Upload(ctx context.Context, d *Descriptor, p *Payload) error
}

// Options controls a batch run.
type Options struct {
	// DryRun stops after listing: nothing is downloaded or written.
	DryRun bool
}

// VersionReport counts what happened to one version.
type VersionReport struct {
	Version    string
	Release    string
	Discovered int
	Uploaded   int
	Mismatched int
	Failed     int
	// Skipped is set when the listing could not be fetched.
	Skipped bool
	Bytes   int64
}

// Report summarises a batch run.
type Report struct {
	RunID    string
	DryRun   bool
	Versions []*VersionReport
}

// Totals sums the per-version counts.
func (r *Report) Totals() VersionReport {
	var t VersionReport
	for _, v := range r.Versions {
		t.Discovered += v.Discovered
		t.Uploaded += v.Uploaded
		t.Mismatched += v.Mismatched
		t.Failed += v.Failed
		t.Bytes += v.Bytes
	}
	return t
}

// SkippedVersions counts versions whose listing failed.
func (r *Report) SkippedVersions() int {
	n := 0
	for _, v := range r.Versions {
		if v.Skipped {
			n++
		}
	}
	return n
}

type outcome int

const (
	outcomeUploaded outcome = iota
	outcomeMismatch
	outcomeFailed
)

// Importer walks versions sequentially: list, then download, validate and
// upload each file. A failure affects only its own version or file.
type Importer struct {
	lister     Lister
	downloader Downloader
	publisher  Publisher
	out        io.Writer
	logger     *logger.Logger
	alert      *color.Color
}

// NewImporter wires the pipeline stages. Progress lines go to out.
func NewImporter(lister Lister, downloader Downloader, publisher Publisher, out io.Writer, log *logger.Logger) *Importer {
	if log == nil {
		log = logger.Nop()
	}
	if out == nil {
		out = io.Discard
	}
	return &Importer{
		lister:     lister,
		downloader: downloader,
		publisher:  publisher,
		out:        out,
		logger:     log,
		alert:      color.New(color.FgRed, color.Bold),
	}
}

// Run processes vs in order. It returns early only when ctx is cancelled,
// together with the report gathered so far.
func (im *Importer) Run(ctx context.Context, vs []versions.Version, opts Options) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), DryRun: opts.DryRun}
	log := im.logger.WithFields(logger.Fields{"run_id": report.RunID, "dry_run": opts.DryRun})
	log.WithField("versions", len(vs)).Info("Starting release import")

	for _, v := range vs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		vr := &VersionReport{Version: v.Name, Release: v.Release()}
		report.Versions = append(report.Versions, vr)

		fmt.Fprintf(im.out, "\nGathering download file data for %s\n", v.Name)
		files, err := im.lister.List(ctx, v)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			vr.Skipped = true
			fmt.Fprintf(im.out, "Skipping %s, error retrieving file data\n", v.Name)
			log.WithFields(logger.Fields{"version": v.Name, "error": err}).Warn("Listing failed, skipping version")
			continue
		}

		vr.Discovered = len(files)
		fmt.Fprintf(im.out, "Found %d files for %s\n", len(files), v.Name)

		if opts.DryRun {
			for _, d := range files {
				fmt.Fprintf(im.out, "  would import %s\n", d.File)
			}
			continue
		}

		for _, d := range files {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			result := outcomeFailed
			var size int64
			err := helper.Guard(im.logger, "import "+d.File, func() error {
				var err error
				result, size, err = im.transfer(ctx, d)
				return err
			})
			switch result {
			case outcomeUploaded:
				vr.Uploaded++
				vr.Bytes += size
			case outcomeMismatch:
				vr.Mismatched++
			default:
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				vr.Failed++
				fmt.Fprintf(im.out, "Skipping %s, %v\n", d.File, err)
				log.WithFields(logger.Fields{"file": d.File, "error": err}).Error("File import failed")
			}
		}
	}

	t := report.Totals()
	log.WithFields(logger.Fields{
		"discovered": t.Discovered,
		"uploaded":   t.Uploaded,
		"mismatched": t.Mismatched,
		"failed":     t.Failed,
		"skipped":    report.SkippedVersions(),
	}).Info("Release import finished")

	return report, nil
}

// transfer downloads, validates and uploads one file.
func (im *Importer) transfer(ctx context.Context, d *Descriptor) (outcome, int64, error) {
	fmt.Fprintf(im.out, "\nDownloading %s\n", d.File)

	payload, err := im.downloader.Download(ctx, d)
	if err != nil {
		var mismatch *ChecksumMismatchError
		if errors.As(err, &mismatch) {
			im.alert.Fprintf(im.out, "CHECKSUM MISMATCH for %s: expected %s %s, got %s; not uploading\n",
				d.File, mismatch.Algorithm, mismatch.Expected, mismatch.Actual)
			return outcomeMismatch, 0, err
		}
		return outcomeFailed, 0, err
	}
	defer payload.Close()

	fmt.Fprintf(im.out, "Uploading %s (%s)\n", d.File, humanize.IBytes(uint64(payload.Size)))
	if err := im.publisher.Upload(ctx, d, payload); err != nil {
		return outcomeFailed, 0, err
	}

	fmt.Fprintf(im.out, "SHA256 Hash: %s\n", d.SHA256)
	return outcomeUploaded, payload.Size, nil
}
