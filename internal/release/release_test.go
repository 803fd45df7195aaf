package release

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/boostorg/boost-archives/internal/storage"
	"github.com/boostorg/boost-archives/internal/versions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	abcSHA256 = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	abcMD5    = "900150983cd24fb0d6963f7d28e17f72"
)

// plainGetter is a minimal Getter that rejects non-2xx responses.
type plainGetter struct{}

func (plainGetter) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return resp, nil
}

// memStore is an in-memory BlobStore that can be told to fail on some keys.
type memStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	puts   []string
	failOn func(key string) error
}

func newMemStore() *memStore {
	return &memStore{blobs: map[string][]byte{}}
}

func (m *memStore) Put(_ context.Context, obj storage.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, obj.Key)
	if m.failOn != nil {
		if err := m.failOn(obj.Key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return err
	}
	m.blobs[obj.Key] = data
	return nil
}

func (m *memStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := []string{}
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func htmlRow(name, href, date string) string {
	return fmt.Sprintf(`<tr title="%s" class="file">
  <th headers="files_name_h"><a href="%s" class="name">%s</a></th>
  <td headers="files_date_h"><abbr title="%s">2015-12-17</abbr></td>
  <td headers="files_size_h">1 MB</td>
</tr>`, name, href, name, date)
}

func htmlListing(rows ...string) string {
	return `<html><body><table id="files_list"><thead><tr>
<th id="files_name_h">Name</th><th id="files_date_h">Modified</th><th id="files_size_h">Size</th>
</tr></thead><tbody>` + strings.Join(rows, "\n") + `</tbody></table></body></html>`
}

const rssTemplate = `<?xml version="1.0" encoding="utf-8"?>
<rss xmlns:media="http://video.search.yahoo.com/mrss/" version="2.0">
<channel>
<title>Boost files</title>
<link>https://sourceforge.net/projects/boost/files/</link>
%s
</channel>
</rss>`

func rssItem(title, link, md5 string) string {
	return fmt.Sprintf(`<item>
<title><![CDATA[%s]]></title>
<link>%s</link>
<pubDate>Thu, 17 Dec 2015 04:23:11 UT</pubDate>
<media:content url="%s" type="application/octet-stream" filesize="3"><media:hash algo="md5">%s</media:hash></media:content>
</item>`, title, link, link, md5)
}

var v160 = versions.Version{Name: "boost-1.60.0", Commit: "abc123"}

func TestHTMLListerFiltersExtensions(t *testing.T) {
	page := htmlListing(
		htmlRow("boost_1_60_0.zip", "https://dl/boost_1_60_0.zip", "2015-12-17 04:23:11 UTC"),
		htmlRow("boost_1_60_0.tar.gz", "https://dl/boost_1_60_0.tar.gz", "2015-12-17 04:23:11 UTC"),
		htmlRow("boost_1_60_0.tar.bz2", "https://dl/boost_1_60_0.tar.bz2", "2015-12-17 04:23:11 UTC"),
		htmlRow("boost_1_60_0.7z", "https://dl/boost_1_60_0.7z", "2015-12-17 04:23:11 UTC"),
		htmlRow("README.md", "https://dl/README.md", "2015-12-17 04:23:11 UTC"),
		htmlRow("boost_1_60_0-msvc-14.0-64.exe", "https://dl/installer.exe", "2015-12-17 04:23:11 UTC"),
	)

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	lister := NewHTMLLister(srv.URL+"/", plainGetter{}, nil)
	files, err := lister.List(context.Background(), v160)
	require.NoError(t, err)

	assert.Equal(t, "/1.60.0/", gotPath)
	require.Len(t, files, 4)

	names := []string{}
	for _, d := range files {
		names = append(names, d.File)
		assert.Equal(t, "abc123", d.Commit)
		assert.Equal(t, "1.60.0", d.Release)
		assert.Equal(t, "2015-12-17T04:23:11Z", d.Created)
		assert.Empty(t, d.MD5)
		assert.False(t, d.Validated())
	}
	assert.Equal(t, []string{"boost_1_60_0.zip", "boost_1_60_0.tar.gz", "boost_1_60_0.tar.bz2", "boost_1_60_0.7z"}, names)
	assert.Equal(t, "https://dl/boost_1_60_0.zip", files[0].DownloadLink)
}

func TestHTMLListerSkipsBadRows(t *testing.T) {
	page := htmlListing(
		htmlRow("boost_1_60_0.zip", "https://dl/boost_1_60_0.zip", "yesterday"),
		`<tr title="boost_1_60_0.7z" class="file"><th headers="files_name_h">no link</th></tr>`,
		htmlRow("boost_1_60_0.tar.gz", "https://dl/boost_1_60_0.tar.gz", "2015-12-17 04:23:11 UTC"),
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	files, err := NewHTMLLister(srv.URL, plainGetter{}, nil).List(context.Background(), v160)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "boost_1_60_0.tar.gz", files[0].File)
}

func TestHTMLListerMissingTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><p>Nothing here</p></body></html>")
	}))
	defer srv.Close()

	_, err := NewHTMLLister(srv.URL, plainGetter{}, nil).List(context.Background(), v160)
	assert.ErrorIs(t, err, ErrListingNotFound)
}

func TestRSSListerParsesItems(t *testing.T) {
	feed := fmt.Sprintf(rssTemplate, strings.Join([]string{
		rssItem("/boost/1.60.0/boost_1_60_0.zip", "https://dl/boost_1_60_0.zip/download", "ABCDEF0123"),
		rssItem("/boost/1.60.0/boost_1_60_0.tar.bz2", "https://dl/boost_1_60_0.tar.bz2/download", "99aa"),
		rssItem("/boost/1.60.0/README.md", "https://dl/README.md/download", "00"),
	}, "\n"))

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("path")
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	lister := NewRSSLister(srv.URL+"/rss", "/boost/", plainGetter{}, nil)
	files, err := lister.List(context.Background(), v160)
	require.NoError(t, err)

	assert.Equal(t, "/boost/1.60.0", gotQuery)
	require.Len(t, files, 2)
	assert.Equal(t, "boost_1_60_0.zip", files[0].File)
	assert.Equal(t, "https://dl/boost_1_60_0.zip/download", files[0].DownloadLink)
	assert.Equal(t, "abcdef0123", files[0].MD5)
	assert.Equal(t, "2015-12-17T04:23:11Z", files[0].Created)
	assert.Equal(t, "1.60.0", files[0].Release)
	assert.Equal(t, "boost_1_60_0.tar.bz2", files[1].File)
	assert.Equal(t, "99aa", files[1].MD5)
}

func TestRSSListerURL(t *testing.T) {
	l := NewRSSLister("https://sourceforge.net/projects/boost/rss", "/boost/release", nil, nil)
	u, err := l.URL("1.62.0")
	require.NoError(t, err)
	assert.Equal(t, "https://sourceforge.net/projects/boost/rss?path=%2Fboost%2Frelease%2F1.62.0", u)
}

func TestNewListerRejectsUnknownFormat(t *testing.T) {
	_, err := NewLister("json", configForTest(), plainGetter{}, nil)
	assert.Error(t, err)

	l, err := NewLister("rss", configForTest(), plainGetter{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RSSLister{}, l)
}

func TestDigestKnownValue(t *testing.T) {
	var out bytes.Buffer
	d, err := Digest(context.Background(), strings.NewReader("abc"), &out)
	require.NoError(t, err)
	assert.Equal(t, abcSHA256, d.SHA256)
	assert.Equal(t, abcMD5, d.MD5)
	assert.EqualValues(t, 3, d.Size)
	assert.Equal(t, "abc", out.String())
}

func TestDigestLargerThanChunk(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, ChunkSize*3+17)
	d, err := Digest(context.Background(), bytes.NewReader(data), nil)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), d.Size)
}

func TestDigestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Digest(ctx, strings.NewReader("abc"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidate(t *testing.T) {
	got := Digests{MD5: abcMD5}
	assert.NoError(t, Validate(&Descriptor{File: "a.zip"}, got))
	assert.NoError(t, Validate(&Descriptor{File: "a.zip", MD5: strings.ToUpper(abcMD5)}, got))

	err := Validate(&Descriptor{File: "a.zip", MD5: "deadbeef"}, got)
	var mismatch *ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "deadbeef", mismatch.Expected)
	assert.Equal(t, abcMD5, mismatch.Actual)
}

func TestSpoolRemovesFileOnClose(t *testing.T) {
	dir := t.TempDir()
	p, err := Spool(context.Background(), dir, strings.NewReader("abc"))
	require.NoError(t, err)

	r, err := p.Reader()
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(body))

	require.NoError(t, p.Close())
	entries, err := readDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMetadataJSON(t *testing.T) {
	d := &Descriptor{
		Commit:       "abc123",
		File:         "boost_1_60_0.zip",
		Created:      "2015-12-17T04:23:11Z",
		DownloadLink: "https://dl/boost_1_60_0.zip",
		Release:      "1.60.0",
		MD5:          abcMD5,
		SHA256:       abcSHA256,
	}
	raw, err := d.Metadata().JSON()
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, map[string]string{
		"commit":  "abc123",
		"file":    "boost_1_60_0.zip",
		"created": "2015-12-17T04:23:11Z",
		"sha256":  abcSHA256,
	}, fields)
	assert.Contains(t, string(raw), "\n    \"commit\"")
}

func TestKeys(t *testing.T) {
	key := ArtifactKey("test/boost-archives/release", "1.60.0", "boost_1_60_0.zip")
	assert.Equal(t, "test/boost-archives/release/1.60.0/source/boost_1_60_0.zip", key)
	assert.Equal(t, key+".json", SidecarKey(key))
}

func TestFetcherChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "abc")
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := &Descriptor{File: "boost_1_60_0.zip", DownloadLink: srv.URL, MD5: "0000"}
	p, err := NewFetcher(plainGetter{}, dir, nil).Download(context.Background(), d)

	var mismatch *ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Nil(t, p)
	assert.False(t, d.Validated())

	entries, err := readDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "spool file must be removed")
}

func TestFetcherWithoutMD5(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "abc")
	}))
	defer srv.Close()

	d := &Descriptor{File: "boost_1_60_0.zip", DownloadLink: srv.URL}
	p, err := NewFetcher(plainGetter{}, t.TempDir(), nil).Download(context.Background(), d)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, abcSHA256, d.SHA256)
	assert.EqualValues(t, 3, p.Size)
}

func TestFetcherDownloadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := &Descriptor{File: "boost_1_60_0.zip", DownloadLink: srv.URL}
	_, err := NewFetcher(plainGetter{}, t.TempDir(), nil).Download(context.Background(), d)
	assert.Error(t, err)
	assert.False(t, d.Validated())
}

func TestUploaderRejectsUnvalidated(t *testing.T) {
	store := newMemStore()
	p, err := Spool(context.Background(), t.TempDir(), strings.NewReader("abc"))
	require.NoError(t, err)
	defer p.Close()

	err = NewUploader(store, "prefix", nil).Upload(context.Background(), &Descriptor{File: "a.zip", Release: "1.60.0"}, p)
	assert.ErrorIs(t, err, ErrNotValidated)
	assert.Empty(t, store.puts)
}

func TestUploaderPartialUpload(t *testing.T) {
	store := newMemStore()
	store.failOn = func(key string) error {
		if strings.HasSuffix(key, ".json") {
			return errors.New("quota exceeded")
		}
		return nil
	}
	p, err := Spool(context.Background(), t.TempDir(), strings.NewReader("abc"))
	require.NoError(t, err)
	defer p.Close()

	d := &Descriptor{File: "a.zip", Release: "1.60.0", SHA256: abcSHA256}
	err = NewUploader(store, "prefix", nil).Upload(context.Background(), d, p)

	var partial *PartialUploadError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "prefix/1.60.0/source/a.zip", partial.ArtifactKey)
	assert.Contains(t, store.blobs, "prefix/1.60.0/source/a.zip")
	assert.NotContains(t, store.blobs, "prefix/1.60.0/source/a.zip.json")
}
