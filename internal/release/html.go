package release

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/boostorg/boost-archives/internal/versions"
	"github.com/boostorg/boost-archives/pkg/logger"
)

// sourceForgeDateLayout is the format of the title attribute on the date
// column of a SourceForge file table.
const sourceForgeDateLayout = "2006-01-02 15:04:05 UTC"

// HTMLLister scrapes the SourceForge "files" page of a release.
type HTMLLister struct {
	baseURL string
	client  Getter
	logger  *logger.Logger
}

// NewHTMLLister creates a lister reading <baseURL>/<release>/.
func NewHTMLLister(baseURL string, client Getter, log *logger.Logger) *HTMLLister {
	if log == nil {
		log = logger.Nop()
	}
	return &HTMLLister{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  log,
	}
}

// URL returns the listing page for a release.
func (l *HTMLLister) URL(release string) string {
	return fmt.Sprintf("%s/%s/", l.baseURL, release)
}

// List implements Lister.
func (l *HTMLLister) List(ctx context.Context, v versions.Version) ([]*Descriptor, error) {
	release := v.Release()
	url := l.URL(release)
	l.logger.WithField("url", url).Debug("Fetching release listing")

	resp, err := l.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing %s: %w", url, err)
	}

	table := doc.Find("#files_list")
	if table.Length() == 0 {
		return nil, fmt.Errorf("%s: %w", url, ErrListingNotFound)
	}

	files := []*Descriptor{}
	table.Find("tr.file").Each(func(_ int, row *goquery.Selection) {
		name := strings.TrimSpace(row.AttrOr("title", ""))
		if !HasArchiveExtension(name) {
			l.logger.WithField("file", name).Debug("Skipping file with unsupported extension")
			return
		}

		link, ok := row.Find("th a").First().Attr("href")
		if !ok || link == "" {
			l.logger.WithField("file", name).Warn("Skipping file without download link")
			return
		}

		raw := row.Find("td[headers='files_date_h'] abbr").First().AttrOr("title", "")
		created, err := time.Parse(sourceForgeDateLayout, raw)
		if err != nil {
			l.logger.WithFields(logger.Fields{"file": name, "date": raw}).Warn("Skipping file with unparsable date")
			return
		}

		files = append(files, &Descriptor{
			Commit:       v.Commit,
			File:         name,
			Created:      created.UTC().Format(CreatedLayout),
			DownloadLink: link,
			Release:      release,
		})
	})

	return files, nil
}
