package oci

import (
	"context"
	"io/ioutil"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/google/go-containerregistry/pkg/name"
	ggcrregistry "github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/stretchr/testify/assert"

	"github.com/cuttercd/cutter/pkg/registry"
	"github.com/cuttercd/cutter/pkg/registry/middleware"
)

// testArtifact writes a random single-image tarball, as the package
// phase would leave behind, and returns its path.
func testArtifact(t *testing.T, dir, ref string) string {
	img, err := random.Image(1024, 1)
	assert.NoError(t, err)
	tag, err := name.NewTag(ref, name.WeakValidation, name.Insecure)
	assert.NoError(t, err)
	path := filepath.Join(dir, "artifact.tar")
	assert.NoError(t, tarball.WriteToFile(path, tag, img))
	return path
}

func TestPublishAndExists(t *testing.T) {
	s := httptest.NewServer(ggcrregistry.New())
	defer s.Close()
	u, err := url.Parse(s.URL)
	assert.NoError(t, err)

	dir, err := ioutil.TempDir("", "oci-test")
	assert.NoError(t, err)
	defer os.RemoveAll(dir)

	ref := u.Host + "/acme/rocket:v1.2.3"
	path := testArtifact(t, dir, ref)

	c := NewClient(log.NewNopLogger(), WithInsecure())
	dgst, err := c.Publish(context.Background(), ref, path)
	assert.NoError(t, err)

	ok, err := c.Exists(context.Background(), ref)
	assert.NoError(t, err)
	assert.True(t, ok)

	// the pinned form names the same manifest
	pinned, err := registry.Pinned(ref, dgst)
	assert.NoError(t, err)
	ok, err = c.Exists(context.Background(), pinned)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(context.Background(), u.Host+"/acme/rocket:other")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestPublishRateLimited(t *testing.T) {
	s := httptest.NewServer(ggcrregistry.New())
	defer s.Close()
	u, err := url.Parse(s.URL)
	assert.NoError(t, err)

	dir, err := ioutil.TempDir("", "oci-test")
	assert.NoError(t, err)
	defer os.RemoveAll(dir)

	ref := u.Host + "/acme/rocket:v1.2.4"
	path := testArtifact(t, dir, ref)

	limiters := &middleware.RateLimiters{RPS: 100, Burst: 100, Logger: log.NewNopLogger()}
	c := NewClient(log.NewNopLogger(), WithInsecure(), WithRateLimiters(limiters))
	_, err = c.Publish(context.Background(), ref, path)
	assert.NoError(t, err)
}

func TestPublishMissingArtifact(t *testing.T) {
	c := NewClient(log.NewNopLogger(), WithInsecure())
	_, err := c.Publish(context.Background(), "registry.test/acme/rocket:v1.2.3", "/does/not/exist.tar")
	assert.Error(t, err)
}
