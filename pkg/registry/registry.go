package registry

import (
	"context"
	"errors"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/opencontainers/go-digest"
)

var ErrPushDisabled = errors.New("cannot publish, artifact push is disabled")

// Registry stores packaged release artifacts as container images.
type Registry interface {
	// Publish pushes the artifact archive at artifactPath to ref, and
	// returns the digest of what was pushed.
	Publish(ctx context.Context, ref string, artifactPath string) (digest.Digest, error)
	// Exists reports whether ref is present in the registry.
	Exists(ctx context.Context, ref string) (bool, error)
}

// Pinned gives the digest-pinned form of a tagged reference, so that
// what gets deployed can't move when the tag does.
func Pinned(ref string, dgst digest.Digest) (string, error) {
	r, err := name.ParseReference(ref, name.WeakValidation)
	if err != nil {
		return "", err
	}
	return r.Context().Name() + "@" + dgst.String(), nil
}

// PushDisabledRegistry is used when artifact push is disabled.
type PushDisabledRegistry struct{}

func (PushDisabledRegistry) Publish(context.Context, string, string) (digest.Digest, error) {
	return "", ErrPushDisabled
}

func (PushDisabledRegistry) Exists(context.Context, string) (bool, error) {
	return false, ErrPushDisabled
}
