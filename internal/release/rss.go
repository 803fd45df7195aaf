package release

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/boostorg/boost-archives/internal/versions"
	"github.com/boostorg/boost-archives/pkg/logger"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// pubDateLayouts are tried when the feed parser could not parse an item date
// itself; SourceForge uses the obsolete "UT" zone name.
var pubDateLayouts = []string{
	"Mon, 02 Jan 2006 15:04:05 UT",
	time.RFC1123Z,
	time.RFC1123,
}

// RSSLister reads the SourceForge RSS feed for a release folder.
type RSSLister struct {
	feedURL    string
	pathPrefix string
	client     Getter
	logger     *logger.Logger
}

// NewRSSLister creates a lister reading <feedURL>?path=<pathPrefix>/<release>.
func NewRSSLister(feedURL, pathPrefix string, client Getter, log *logger.Logger) *RSSLister {
	if log == nil {
		log = logger.Nop()
	}
	return &RSSLister{
		feedURL:    feedURL,
		pathPrefix: strings.TrimRight(pathPrefix, "/"),
		client:     client,
		logger:     log,
	}
}

// URL returns the feed location for a release.
func (l *RSSLister) URL(release string) (string, error) {
	u, err := url.Parse(l.feedURL)
	if err != nil {
		return "", fmt.Errorf("invalid rss url %q: %w", l.feedURL, err)
	}
	q := u.Query()
	q.Set("path", l.pathPrefix+"/"+release)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// List implements Lister.
func (l *RSSLister) List(ctx context.Context, v versions.Version) ([]*Descriptor, error) {
	release := v.Release()
	feedURL, err := l.URL(release)
	if err != nil {
		return nil, err
	}
	l.logger.WithField("url", feedURL).Debug("Fetching release feed")

	resp, err := l.client.Get(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", feedURL, err)
	}

	files := []*Descriptor{}
	for _, item := range feed.Items {
		title := strings.TrimSpace(item.Title)
		name := path.Base(title)
		if title == "" || !HasArchiveExtension(name) {
			l.logger.WithField("file", name).Debug("Skipping file with unsupported extension")
			continue
		}

		link := strings.TrimSpace(item.Link)
		if link == "" {
			l.logger.WithField("file", name).Warn("Skipping file without download link")
			continue
		}

		created, ok := itemTime(item)
		if !ok {
			l.logger.WithFields(logger.Fields{"file": name, "date": item.Published}).Warn("Skipping file with unparsable date")
			continue
		}

		files = append(files, &Descriptor{
			Commit:       v.Commit,
			File:         name,
			Created:      created.UTC().Format(CreatedLayout),
			DownloadLink: link,
			Release:      release,
			MD5:          mediaHash(item.Extensions, "md5"),
		})
	}

	return files, nil
}

func itemTime(item *gofeed.Item) (time.Time, bool) {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed, true
	}
	raw := strings.TrimSpace(item.Published)
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// mediaHash finds <media:content><media:hash algo="..."> in an item's
// extensions. The namespace key depends on how the feed declares the media
// prefix, so every namespace is searched.
func mediaHash(exts ext.Extensions, algo string) string {
	for _, elements := range exts {
		for _, content := range elements["content"] {
			if h := hashFrom(content.Children["hash"], algo); h != "" {
				return h
			}
		}
		if h := hashFrom(elements["hash"], algo); h != "" {
			return h
		}
	}
	return ""
}

func hashFrom(hashes []ext.Extension, algo string) string {
	for _, h := range hashes {
		if strings.EqualFold(h.Attrs["algo"], algo) {
			return strings.ToLower(strings.TrimSpace(h.Value))
		}
	}
	return ""
}
