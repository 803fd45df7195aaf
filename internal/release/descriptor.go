package release

import (
	"encoding/json"
	"path"
	"strings"
)

// ArchiveExtensions lists the file suffixes that are imported. Anything else
// on a release page (readmes, signatures, installers) is ignored.
var ArchiveExtensions = []string{".tar.bz2", ".tar.gz", ".7z", ".zip"}

// CreatedLayout is the ISO-8601 UTC layout used for Descriptor.Created.
const CreatedLayout = "2006-01-02T15:04:05Z"

// Descriptor describes one release artifact discovered on a listing page.
// SHA256 stays empty until the download has been validated.
type Descriptor struct {
	Commit       string
	File         string
	Created      string
	DownloadLink string
	Release      string
	// MD5 is the upstream checksum, when the listing provides one.
	MD5    string
	SHA256 string
}

// Validated reports whether the content digest has been recorded.
func (d *Descriptor) Validated() bool {
	return d.SHA256 != ""
}

// Metadata is the sidecar stored next to each artifact.
type Metadata struct {
	Commit  string `json:"commit"`
	File    string `json:"file"`
	Created string `json:"created"`
	SHA256  string `json:"sha256"`
}

// Metadata returns the persisted subset of the descriptor.
func (d *Descriptor) Metadata() Metadata {
	return Metadata{
		Commit:  d.Commit,
		File:    d.File,
		Created: d.Created,
		SHA256:  d.SHA256,
	}
}

// JSON encodes the sidecar with four-space indentation.
func (m Metadata) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "    ")
}

// HasArchiveExtension reports whether name ends in one of ArchiveExtensions.
func HasArchiveExtension(name string) bool {
	for _, ext := range ArchiveExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// ArtifactKey is the storage key of an artifact:
// <prefix>/<release>/source/<file>.
func ArtifactKey(prefix, release, file string) string {
	return path.Join(prefix, release, "source", file)
}

// SidecarKey is the storage key of an artifact's metadata.
func SidecarKey(artifactKey string) string {
	return artifactKey + ".json"
}
