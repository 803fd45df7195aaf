package release

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/boostorg/boost-archives/internal/config"
	"github.com/boostorg/boost-archives/internal/versions"
	"github.com/boostorg/boost-archives/pkg/logger"
)

// ErrListingNotFound is returned when a listing page has no file table.
var ErrListingNotFound = errors.New("release listing not found")

// Getter fetches a URL. *httpclient.Client satisfies it; a returned response
// always has a 2xx status.
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// Lister discovers the archives published for one version.
type Lister interface {
	List(ctx context.Context, v versions.Version) ([]*Descriptor, error)
}

// NewLister returns the lister for the given listing format ("html" or "rss").
func NewLister(format string, cfg config.SourceForgeConfig, client Getter, log *logger.Logger) (Lister, error) {
	switch format {
	case "html", "":
		return NewHTMLLister(cfg.BaseURL, client, log), nil
	case "rss":
		return NewRSSLister(cfg.RSSURL, cfg.RSSPathPrefix, client, log), nil
	default:
		return nil, fmt.Errorf("unknown listing format %q", format)
	}
}
