package reviews

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/boostorg/boost-archives/pkg/logger"
	"github.com/fatih/color"
)

// Getter fetches a URL; *httpclient.Client satisfies it.
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// Options controls an import run.
type Options struct {
	// DryRun parses and counts only.
	DryRun bool
	// DryRunUsers saves reviews but only reports the people it would link.
	DryRunUsers bool
}

// Summary reports what an import run found and did.
type Summary struct {
	Upcoming int
	Past     int
	Links    []Link
	Saved    bool
}

// Importer fetches the review schedule page and stores it.
type Importer struct {
	client Getter
	store  *Store
	url    string
	out    io.Writer
	logger *logger.Logger
}

// NewImporter creates an importer for the page at url. store may be nil for
// dry runs.
func NewImporter(client Getter, store *Store, url string, out io.Writer, log *logger.Logger) *Importer {
	if log == nil {
		log = logger.Nop()
	}
	if out == nil {
		out = io.Discard
	}
	return &Importer{client: client, store: store, url: url, out: out, logger: log}
}

// Run fetches, parses and, unless DryRun is set, saves and links.
func (im *Importer) Run(ctx context.Context, opts Options) (*Summary, error) {
	im.logger.WithField("url", im.url).Info("Fetching review schedule")
	resp, err := im.client.Get(ctx, im.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", im.url, err)
	}
	defer resp.Body.Close()

	upcoming, past, err := Parse(resp.Body)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Upcoming: len(upcoming), Past: len(past)}
	fmt.Fprintf(im.out, "Found %d upcoming and %d past reviews\n", len(upcoming), len(past))

	if opts.DryRun {
		fmt.Fprintln(im.out, "Dry run - no changes made")
		return summary, nil
	}
	if im.store == nil {
		return nil, fmt.Errorf("review store is not configured")
	}

	if err := im.store.Save(ctx, upcoming, past); err != nil {
		return nil, err
	}
	summary.Saved = true
	color.New(color.FgGreen).Fprintln(im.out, "\nFinished importing reviews")
	fmt.Fprintln(im.out, "Attempting to parse users")

	links, err := im.store.LinkPeople(ctx, opts.DryRunUsers)
	if err != nil {
		return summary, err
	}
	summary.Links = links

	if opts.DryRunUsers {
		for _, l := range links {
			switch l.Role {
			case RoleManager:
				fmt.Fprintf(im.out, "Would set manager: %s for %s\n", l.Name, l.Submission)
			default:
				fmt.Fprintf(im.out, "Would link submitter: %s to %s\n", l.Name, l.Submission)
			}
		}
	}

	color.New(color.FgGreen).Fprintln(im.out, "\nDone!")
	return summary, nil
}
