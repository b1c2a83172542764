// Package oci pushes packaged artifacts to an OCI image registry.
package oci

import (
	"context"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/cuttercd/cutter/pkg/registry"
	"github.com/cuttercd/cutter/pkg/registry/middleware"
)

// Client publishes artifact archives as container images, using
// whatever credentials the ambient docker config provides.
type Client struct {
	keychain authn.Keychain
	limiters *middleware.RateLimiters
	insecure bool
	logger   log.Logger
}

var _ registry.Registry = &Client{}

type Option func(*Client)

// WithKeychain overrides the credential source, which defaults to the
// docker config file.
func WithKeychain(k authn.Keychain) Option {
	return func(c *Client) { c.keychain = k }
}

// WithRateLimiters applies per-host request rate limits to registry
// traffic.
func WithRateLimiters(rl *middleware.RateLimiters) Option {
	return func(c *Client) { c.limiters = rl }
}

// WithInsecure allows plain HTTP registries. Meant for test rigs and
// in-cluster registries not exposed beyond localhost.
func WithInsecure() Option {
	return func(c *Client) { c.insecure = true }
}

func NewClient(logger log.Logger, opts ...Option) *Client {
	c := &Client{
		keychain: authn.DefaultKeychain,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Publish(ctx context.Context, ref, artifactPath string) (digest.Digest, error) {
	tag, err := name.NewTag(ref, c.nameOptions()...)
	if err != nil {
		return "", errors.Wrapf(err, "parsing reference %q", ref)
	}
	img, err := tarball.ImageFromPath(artifactPath, nil)
	if err != nil {
		return "", errors.Wrapf(err, "loading artifact %s", artifactPath)
	}
	h, err := img.Digest()
	if err != nil {
		return "", errors.Wrap(err, "computing artifact digest")
	}
	dgst, err := digest.Parse(h.String())
	if err != nil {
		return "", errors.Wrap(err, "computing artifact digest")
	}

	if err := remote.Write(tag, img, c.remoteOptions(ctx, tag.Context().RegistryStr())...); err != nil {
		return "", errors.Wrapf(err, "pushing %s", ref)
	}
	c.logger.Log("info", "pushed artifact", "ref", ref, "digest", dgst)
	return dgst, nil
}

func (c *Client) Exists(ctx context.Context, ref string) (bool, error) {
	r, err := name.ParseReference(ref, c.nameOptions()...)
	if err != nil {
		return false, errors.Wrapf(err, "parsing reference %q", ref)
	}
	_, err = remote.Head(r, c.remoteOptions(ctx, r.Context().RegistryStr())...)
	if err != nil {
		if terr, ok := err.(*transport.Error); ok && terr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, errors.Wrapf(err, "checking %s", ref)
	}
	return true, nil
}

func (c *Client) nameOptions() []name.Option {
	opts := []name.Option{name.WeakValidation}
	if c.insecure {
		opts = append(opts, name.Insecure)
	}
	return opts
}

func (c *Client) remoteOptions(ctx context.Context, host string) []remote.Option {
	var rt http.RoundTripper = http.DefaultTransport
	if c.limiters != nil {
		rt = c.limiters.RoundTripper(rt, host)
	}
	return []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(c.keychain),
		remote.WithTransport(rt),
	}
}
