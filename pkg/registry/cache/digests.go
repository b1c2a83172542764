package cache

import (
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// Digests is a typed view over a cache Client, recording which digest
// was published for the artifact packaged from a given commit. A hit
// lets the pipeline skip rebuilding an artifact it has already pushed.
type Digests struct {
	Client Client
}

// Lookup returns the digest recorded for image at commitID, or
// ErrNotCached.
func (d Digests) Lookup(image, commitID string) (digest.Digest, error) {
	v, err := d.Client.GetKey(NewArtifactKey(image, commitID))
	if err != nil {
		return "", err
	}
	dgst, err := digest.Parse(string(v))
	if err != nil {
		return "", errors.Wrapf(err, "parsing cached digest for %s at %s", image, commitID)
	}
	return dgst, nil
}

// Store records the digest published for image at commitID.
func (d Digests) Store(image, commitID string, dgst digest.Digest) error {
	return d.Client.SetKey(NewArtifactKey(image, commitID), []byte(dgst))
}
