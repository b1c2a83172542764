package mock

import (
	"context"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/cuttercd/cutter/pkg/registry"
)

// Registry is a test double for registry.Registry. Publishes are
// recorded so tests can ask what was pushed; by default the digest of
// a push is derived from the reference, and Exists answers for
// anything published through the mock (by tag or pinned form).
type Registry struct {
	PublishFunc func(ctx context.Context, ref, artifactPath string) (digest.Digest, error)
	ExistsFunc  func(ctx context.Context, ref string) (bool, error)

	mu        sync.Mutex
	published map[string]digest.Digest
}

var _ registry.Registry = &Registry{}

func (m *Registry) Publish(ctx context.Context, ref, artifactPath string) (digest.Digest, error) {
	dgst := digest.FromString(ref)
	if m.PublishFunc != nil {
		var err error
		dgst, err = m.PublishFunc(ctx, ref, artifactPath)
		if err != nil {
			return dgst, err
		}
	}
	m.mu.Lock()
	if m.published == nil {
		m.published = map[string]digest.Digest{}
	}
	m.published[ref] = dgst
	m.mu.Unlock()
	return dgst, nil
}

func (m *Registry) Exists(ctx context.Context, ref string) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, ref)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.published[ref]; ok {
		return true, nil
	}
	for tag, dgst := range m.published {
		if pinned, err := registry.Pinned(tag, dgst); err == nil && pinned == ref {
			return true, nil
		}
	}
	return false, nil
}

// Published returns the digest recorded for a reference pushed through
// the mock.
func (m *Registry) Published(ref string) (digest.Digest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dgst, ok := m.published[ref]
	return dgst, ok
}
