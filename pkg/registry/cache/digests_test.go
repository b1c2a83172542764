package cache

import (
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
)

func TestDigestsRoundTrip(t *testing.T) {
	d := Digests{Client: NewMem()}

	_, err := d.Lookup("registry.test/acme/rocket", "commit1")
	assert.Equal(t, ErrNotCached, err)

	want := digest.FromString("artifact contents")
	assert.NoError(t, d.Store("registry.test/acme/rocket", "commit1", want))

	got, err := d.Lookup("registry.test/acme/rocket", "commit1")
	assert.NoError(t, err)
	assert.Equal(t, want, got)

	// the same commit packaged for another image is a distinct entry
	_, err = d.Lookup("registry.test/other/rocket", "commit1")
	assert.Equal(t, ErrNotCached, err)
}

func TestDigestsRejectsCorruptEntry(t *testing.T) {
	mem := NewMem()
	assert.NoError(t, mem.SetKey(NewArtifactKey("registry.test/acme/rocket", "commit1"), []byte("not a digest")))

	d := Digests{Client: mem}
	_, err := d.Lookup("registry.test/acme/rocket", "commit1")
	assert.Error(t, err)
}
