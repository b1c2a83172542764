package cache

import (
	"strings"

	"github.com/pkg/errors"

	cuttererr "github.com/cuttercd/cutter/pkg/errors"
)

var ErrNotCached = &cuttererr.Error{
	Type: cuttererr.Missing,
	Err:  errors.New("item not in cache"),
	Help: `Artifact digest not yet cached

The artifact for this commit has not been packaged before (or the
cache entry has been evicted). The pipeline will build and publish it,
then record the digest.
`,
}

type Reader interface {
	// GetKey gets the value at a key.
	GetKey(k Keyer) ([]byte, error)
}

type Writer interface {
	// SetKey sets the value at a key.
	SetKey(k Keyer, v []byte) error
}

type Client interface {
	Reader
	Writer
}

// An interface to provide the key under which to store the data.
// Use the full image name in the key because the same commit may be
// packaged for images in different registries.
type Keyer interface {
	Key() string
}

type artifactKey struct {
	image, commitID string
}

// NewArtifactKey is the key under which the digest of the artifact
// packaged from a commit, for a given image, is stored.
func NewArtifactKey(image, commitID string) Keyer {
	return &artifactKey{image, commitID}
}

func (k *artifactKey) Key() string {
	return strings.Join([]string{
		"artifactdigestv1", // Bump the version number if the cache format changes
		k.image,
		k.commitID,
	}, "|")
}
