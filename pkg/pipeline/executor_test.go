package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"

	"github.com/cuttercd/cutter/pkg/cluster"
	clustermock "github.com/cuttercd/cutter/pkg/cluster/mock"
	"github.com/cuttercd/cutter/pkg/registry/cache"
	registrymock "github.com/cuttercd/cutter/pkg/registry/mock"
	vcsmock "github.com/cuttercd/cutter/pkg/vcs/mock"
)

var deployTarget = cluster.DeployTarget{Namespace: "prod", Workload: "rocket", Container: "app"}

// scriptRunner records the commands it ran; commands can be scripted
// to fail permanently or for the first n calls.
type scriptRunner struct {
	mu     sync.Mutex
	ran    []string
	calls  map[string]int
	flaky  map[string]int
	broken map[string]error
	onRun  func(command string)
}

func (r *scriptRunner) Run(_ context.Context, workdir, command string) error {
	r.mu.Lock()
	r.ran = append(r.ran, command)
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[command]++
	calls := r.calls[command]
	hook := r.onRun
	r.mu.Unlock()

	if hook != nil {
		hook(command)
	}
	if err, ok := r.broken[command]; ok {
		return err
	}
	if n, ok := r.flaky[command]; ok && calls <= n {
		return errors.New("flaked")
	}
	return nil
}

func (r *scriptRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ran))
	copy(out, r.ran)
	return out
}

func testExecutor(runner Runner) (*Executor, *registrymock.Registry, *clustermock.Mock, Run) {
	src := vcsmock.NewSource()
	c := src.CommitFilesOn("master", "feat: liftoff", map[string][]byte{
		"main.go": []byte("package main\n"),
	})
	reg := &registrymock.Registry{}
	clus := &clustermock.Mock{}
	x := &Executor{
		Source:   src,
		Runner:   runner,
		Registry: reg,
		Cache:    cache.Digests{Client: cache.NewMem()},
		Cluster:  clus,
		Logger:   log.NewNopLogger(),
	}
	run := Run{
		ID:        "run-1",
		Branch:    "master",
		CommitID:  c.ID,
		Tag:       "v1.0.0",
		Phase:     Detecting,
		StartedAt: time.Now(),
	}
	return x, reg, clus, run
}

func testConfig(t *testing.T) *Config {
	cfg, err := ParseConfig([]byte(fullConfig))
	assert.NoError(t, err)
	return cfg
}

func TestExecuteHappyPath(t *testing.T) {
	runner := &scriptRunner{}
	x, reg, clus, run := testExecutor(runner)

	out := x.Execute(context.Background(), run, testConfig(t), nil)

	assert.Equal(t, Succeeded, out.Phase)
	assert.False(t, out.EndedAt.IsZero())
	assert.Equal(t, []string{"make build", "make test", "make image"}, runner.commands())

	dgst, ok := reg.Published("registry.test/acme/rocket:v1.0.0")
	assert.True(t, ok)
	assert.Equal(t, "registry.test/acme/rocket@"+dgst.String(), out.ImageRef)

	deployed, ok := clus.Deployed(deployTarget)
	assert.True(t, ok)
	assert.Equal(t, out.ImageRef, deployed)
}

func TestExecuteBuildFailureIsTerminal(t *testing.T) {
	runner := &scriptRunner{broken: map[string]error{"make build": errors.New("compile error")}}
	x, reg, clus, run := testExecutor(runner)

	out := x.Execute(context.Background(), run, testConfig(t), nil)

	assert.Equal(t, Failed, out.Phase)
	assert.Equal(t, Building, out.FailedPhase)
	assert.Contains(t, out.Err, "compile error")
	// nothing after the build ran
	assert.Equal(t, []string{"make build"}, runner.commands())
	_, ok := reg.Published("registry.test/acme/rocket:v1.0.0")
	assert.False(t, ok)
	_, ok = clus.Deployed(deployTarget)
	assert.False(t, ok)
}

func TestExecuteTestsFailFast(t *testing.T) {
	runner := &scriptRunner{broken: map[string]error{"make test": errors.New("assertion blew up")}}
	x, _, _, run := testExecutor(runner)
	cfg := testConfig(t)
	cfg.Test.Flaky = false

	out := x.Execute(context.Background(), run, cfg, nil)

	assert.Equal(t, Failed, out.Phase)
	assert.Equal(t, Testing, out.FailedPhase)
	assert.Equal(t, 1, out.Attempts)
}

func TestExecuteRetriesFlakyTests(t *testing.T) {
	runner := &scriptRunner{flaky: map[string]int{"make test": 1}}
	x, _, _, run := testExecutor(runner)

	out := x.Execute(context.Background(), run, testConfig(t), nil)

	assert.Equal(t, Succeeded, out.Phase)
	assert.Equal(t, 2, out.Attempts)
}

func TestExecuteFlakyTestsExhaustRetries(t *testing.T) {
	runner := &scriptRunner{broken: map[string]error{"make test": errors.New("flaked")}}
	x, _, _, run := testExecutor(runner)

	out := x.Execute(context.Background(), run, testConfig(t), nil)

	assert.Equal(t, Failed, out.Phase)
	assert.Equal(t, Testing, out.FailedPhase)
	assert.Equal(t, 2, out.Attempts)
}

func TestExecuteCachedArtifactSkipsPackaging(t *testing.T) {
	runner := &scriptRunner{}
	x, reg, clus, run := testExecutor(runner)

	// a previous run published this commit's artifact and cached it
	ref := "registry.test/acme/rocket:v1.0.0"
	dgst, err := reg.Publish(context.Background(), ref, "")
	assert.NoError(t, err)
	assert.NoError(t, x.Cache.Store("registry.test/acme/rocket", run.CommitID, dgst))

	out := x.Execute(context.Background(), run, testConfig(t), nil)

	assert.Equal(t, Succeeded, out.Phase)
	assert.NotContains(t, runner.commands(), "make image")
	assert.Equal(t, "registry.test/acme/rocket@"+dgst.String(), out.ImageRef)

	deployed, _ := clus.Deployed(deployTarget)
	assert.Equal(t, out.ImageRef, deployed)
}

func TestExecuteTimeoutReported(t *testing.T) {
	slow := slowRunner{}
	x, _, _, run := testExecutor(slow)
	cfg := testConfig(t)
	cfg.Build.Timeout = Duration(20 * time.Millisecond)

	out := x.Execute(context.Background(), run, cfg, nil)

	assert.Equal(t, Failed, out.Phase)
	assert.Equal(t, Building, out.FailedPhase)
	assert.Equal(t, ReasonTimeout, out.Reason)
	assert.Contains(t, out.Err, "timed out")
}

func TestExecuteCancelBetweenPhases(t *testing.T) {
	cancelled := make(chan struct{})
	runner := &scriptRunner{}
	runner.onRun = func(command string) {
		if command == "make build" {
			close(cancelled)
		}
	}
	x, _, clus, run := testExecutor(runner)

	out := x.Execute(context.Background(), run, testConfig(t), cancelled)

	assert.Equal(t, Failed, out.Phase)
	assert.Equal(t, ReasonCancelled, out.Reason)
	// the build finished; nothing after it started
	assert.Equal(t, []string{"make build"}, runner.commands())
	_, ok := clus.Deployed(deployTarget)
	assert.False(t, ok)
}

func TestExecuteDeployFailure(t *testing.T) {
	runner := &scriptRunner{}
	x, reg, clus, run := testExecutor(runner)
	clus.WaitForRolloutFunc = func(context.Context, cluster.DeployTarget, time.Duration) (cluster.RolloutStatus, error) {
		return cluster.RolloutStatus{Messages: []string{"quota exceeded"}}, errors.New("rollout cannot progress")
	}

	out := x.Execute(context.Background(), run, testConfig(t), nil)

	assert.Equal(t, Failed, out.Phase)
	assert.Equal(t, Deploying, out.FailedPhase)
	// the artifact still went out; only the rollout failed
	_, ok := reg.Published("registry.test/acme/rocket:v1.0.0")
	assert.True(t, ok)
}

func TestExecuteSkipsUnconfiguredPhases(t *testing.T) {
	runner := &scriptRunner{}
	x, _, clus, run := testExecutor(runner)
	cfg, err := ParseConfig([]byte("version: 1\nbuild:\n  command: make\n"))
	assert.NoError(t, err)

	out := x.Execute(context.Background(), run, cfg, nil)

	assert.Equal(t, Succeeded, out.Phase)
	assert.Equal(t, []string{"make"}, runner.commands())
	assert.Empty(t, out.ImageRef)
	_, ok := clus.Deployed(deployTarget)
	assert.False(t, ok)
}

// slowRunner blocks until its context expires.
type slowRunner struct{}

func (slowRunner) Run(ctx context.Context, workdir, command string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return nil
	}
}
