package mock

import (
	"context"
	"sync"
	"time"

	"github.com/cuttercd/cutter/pkg/cluster"
)

// Mock is a test double for cluster.Cluster. Each method delegates to
// the corresponding Func field when set, and records the images it was
// asked to deploy either way.
type Mock struct {
	SetDesiredImageFunc func(ctx context.Context, target cluster.DeployTarget, imageRef string) error
	WaitForRolloutFunc  func(ctx context.Context, target cluster.DeployTarget, timeout time.Duration) (cluster.RolloutStatus, error)
	PingFunc            func(ctx context.Context) error

	mu       sync.Mutex
	deployed map[string]string
}

var _ cluster.Cluster = &Mock{}

func (m *Mock) SetDesiredImage(ctx context.Context, target cluster.DeployTarget, imageRef string) error {
	m.mu.Lock()
	if m.deployed == nil {
		m.deployed = map[string]string{}
	}
	m.deployed[target.String()] = imageRef
	m.mu.Unlock()
	if m.SetDesiredImageFunc != nil {
		return m.SetDesiredImageFunc(ctx, target, imageRef)
	}
	return nil
}

func (m *Mock) WaitForRollout(ctx context.Context, target cluster.DeployTarget, timeout time.Duration) (cluster.RolloutStatus, error) {
	if m.WaitForRolloutFunc != nil {
		return m.WaitForRolloutFunc(ctx, target, timeout)
	}
	return cluster.RolloutStatus{}, nil
}

func (m *Mock) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Deployed returns the image most recently set for the given target, if
// any.
func (m *Mock) Deployed(target cluster.DeployTarget) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.deployed[target.String()]
	return ref, ok
}
