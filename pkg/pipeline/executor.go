package pipeline

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/cuttercd/cutter/pkg/cluster"
	"github.com/cuttercd/cutter/pkg/registry"
	"github.com/cuttercd/cutter/pkg/registry/cache"
	"github.com/cuttercd/cutter/pkg/vcs"
)

// Executor runs the build/test/package/deploy pipeline for one tagged
// commit. Executors hold no state of their own, so runs for different
// commits can execute concurrently.
type Executor struct {
	Source   vcs.Source
	Runner   Runner
	Registry registry.Registry
	Cache    cache.Digests
	Cluster  cluster.Cluster
	Logger   log.Logger

	// OnUpdate, when set, receives a snapshot of the run after every
	// phase transition, called from the run's own goroutine. Set it
	// before the first Execute; the daemon uses it to keep run status
	// current while a run is in flight.
	OnUpdate func(Run)
}

// Execute drives run through the pipeline phases and returns it in a
// terminal phase. The context bounds the whole run (the daemon's
// lifecycle); each phase additionally gets its own timeout from cfg.
// A signal on cancelled stops the run between phases, never in the
// middle of one, so a deploy that has started is left to converge.
func (x *Executor) Execute(ctx context.Context, run Run, cfg *Config, cancelled <-chan struct{}) Run {
	logger := log.With(x.logger(), "run", run.ID, "branch", run.Branch, "tag", run.Tag)
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if cfg == nil {
		return x.fail(logger, run, errors.New("no pipeline config for run"))
	}

	workdir, err := ioutil.TempDir("", "cutter-run-")
	if err != nil {
		return x.fail(logger, run, errors.Wrap(err, "creating working directory"))
	}
	defer os.RemoveAll(workdir)

	// Building: export the tagged tree and run the build command. A
	// failure here means the commit is broken; it is never retried.
	if stopped(cancelled) {
		return x.cancel(logger, run)
	}
	run = x.enter(logger, run, Building)
	start := time.Now()
	err = withTimeout(ctx, cfg.Build.timeout(), func(ctx context.Context) error {
		if err := x.Source.Export(ctx, run.CommitID, workdir); err != nil {
			return errors.Wrapf(err, "exporting %s", run.CommitID)
		}
		if err := x.Runner.Run(ctx, workdir, cfg.Build.Command); err != nil {
			return buildFailedError(err)
		}
		return nil
	})
	observePhase(Building, start, err == nil)
	if err != nil {
		return x.fail(logger, run, err)
	}

	// Testing: fail fast unless the suite is marked flaky, in which
	// case attempts are bounded and backed off. The phase timeout
	// covers all attempts together.
	if cfg.Test != nil {
		if stopped(cancelled) {
			return x.cancel(logger, run)
		}
		run = x.enter(logger, run, Testing)
		start = time.Now()
		policy := RetryPolicy{Max: cfg.Test.retries(), Backoff: time.Second}
		attempts := 0
		err = withTimeout(ctx, cfg.Test.timeout(), func(ctx context.Context) error {
			var ferr error
			attempts, ferr = policy.Do(ctx, func(ctx context.Context) error {
				return x.Runner.Run(ctx, workdir, cfg.Test.Command)
			})
			return ferr
		})
		run.Attempts = attempts
		observePhase(Testing, start, err == nil)
		if err != nil {
			if !isTimeout(err) {
				err = testsFailedError(err, attempts)
			}
			return x.fail(logger, run, err)
		}
	}

	// Packaging: content-addressed by commit, so a commit whose
	// artifact is already in the registry is not packaged again.
	if cfg.Package != nil {
		if stopped(cancelled) {
			return x.cancel(logger, run)
		}
		run = x.enter(logger, run, Packaging)
		start = time.Now()
		ref := cfg.Package.Image + ":" + run.Tag
		var pinned string
		err = withTimeout(ctx, cfg.Package.timeout(), func(ctx context.Context) error {
			var perr error
			pinned, perr = x.ensurePackaged(ctx, logger, run, cfg.Package, workdir, ref)
			return perr
		})
		observePhase(Packaging, start, err == nil)
		if err != nil {
			return x.fail(logger, run, err)
		}
		run.ImageRef = pinned
	}

	// Deploying: declarative set-image plus rollout wait, safe to
	// re-invoke. Once entered, the phase always finishes; only the
	// rollout timeout can end it early.
	if cfg.Deploy != nil {
		if stopped(cancelled) {
			return x.cancel(logger, run)
		}
		run = x.enter(logger, run, Deploying)
		start = time.Now()
		target := cluster.DeployTarget{
			Namespace: cfg.Deploy.namespace(),
			Workload:  cfg.Deploy.Workload,
			Container: cfg.Deploy.Container,
		}
		err = x.deploy(ctx, target, run.ImageRef, cfg.Deploy.timeout())
		observePhase(Deploying, start, err == nil)
		if err != nil {
			return x.fail(logger, run, err)
		}
	}

	run.Phase = Succeeded
	run.EndedAt = time.Now()
	logger.Log("phase", Succeeded, "image", run.ImageRef, "took", time.Since(run.StartedAt).String())
	observeRun(run.StartedAt, true)
	x.notify(run)
	return run
}

// ensurePackaged returns the digest-pinned image for this commit,
// reusing a previously published artifact when the cache has its
// digest and the registry still serves it.
func (x *Executor) ensurePackaged(ctx context.Context, logger log.Logger, run Run, cfg *PackageConfig, workdir, ref string) (string, error) {
	if dgst := x.cachedDigest(logger, cfg.Image, run.CommitID); dgst != "" {
		pinned, err := registry.Pinned(ref, dgst)
		if err == nil {
			if ok, err := x.Registry.Exists(ctx, pinned); err == nil && ok {
				logger.Log("msg", "artifact already published", "image", pinned)
				return pinned, nil
			}
		}
	}

	if err := x.Runner.Run(ctx, workdir, cfg.Command); err != nil {
		return "", packageFailedError(err)
	}
	dgst, err := x.Registry.Publish(ctx, ref, filepath.Join(workdir, cfg.Artifact))
	if err != nil {
		return "", errors.Wrapf(err, "publishing %s", ref)
	}
	if x.Cache.Client != nil {
		if err := x.Cache.Store(cfg.Image, run.CommitID, dgst); err != nil {
			logger.Log("warning", "artifact digest not cached", "err", err)
		}
	}
	return registry.Pinned(ref, dgst)
}

// cachedDigest is best-effort: the cache must never fail a run.
func (x *Executor) cachedDigest(logger log.Logger, image, commitID string) digest.Digest {
	if x.Cache.Client == nil {
		return ""
	}
	dgst, err := x.Cache.Lookup(image, commitID)
	if err != nil {
		if err != cache.ErrNotCached {
			logger.Log("warning", "artifact cache unavailable", "err", err)
		}
		return ""
	}
	return dgst
}

func (x *Executor) deploy(ctx context.Context, target cluster.DeployTarget, imageRef string, timeout time.Duration) error {
	if x.Cluster == nil {
		return errors.New("no cluster configured to deploy to")
	}
	if err := x.Cluster.SetDesiredImage(ctx, target, imageRef); err != nil {
		return errors.Wrapf(err, "setting image on %s", target)
	}
	if _, err := x.Cluster.WaitForRollout(ctx, target, timeout); err != nil {
		return err
	}
	return nil
}

func (x *Executor) fail(logger log.Logger, run Run, err error) Run {
	run.FailedPhase = run.Phase
	run.Phase = Failed
	run.Err = err.Error()
	if isTimeout(err) {
		run.Reason = ReasonTimeout
	}
	run.EndedAt = time.Now()
	logger.Log("phase", Failed, "failed_phase", run.FailedPhase, "err", err)
	observeRun(run.StartedAt, false)
	x.notify(run)
	return run
}

func (x *Executor) cancel(logger log.Logger, run Run) Run {
	run.Phase = Failed
	run.Reason = ReasonCancelled
	run.Err = "run cancelled"
	run.EndedAt = time.Now()
	logger.Log("phase", Failed, "reason", ReasonCancelled)
	observeRun(run.StartedAt, false)
	x.notify(run)
	return run
}

func (x *Executor) logger() log.Logger {
	if x.Logger == nil {
		return log.NewNopLogger()
	}
	return x.Logger
}

func (x *Executor) enter(logger log.Logger, run Run, phase Phase) Run {
	run.Phase = phase
	logger.Log("phase", phase)
	x.notify(run)
	return run
}

func (x *Executor) notify(run Run) {
	if x.OnUpdate != nil {
		x.OnUpdate(run)
	}
}

func stopped(cancelled <-chan struct{}) bool {
	if cancelled == nil {
		return false
	}
	select {
	case <-cancelled:
		return true
	default:
		return false
	}
}

// withTimeout bounds one phase. An error that arrives together with
// the deadline is reported as the timeout, so the run shows
// Failed(Timeout) rather than whatever the interrupted command said.
func withTimeout(ctx context.Context, d time.Duration, f func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := f(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return timeoutError{d}
	}
	return err
}

type timeoutError struct {
	after time.Duration
}

func (e timeoutError) Error() string {
	return "timed out after " + e.after.String()
}

func isTimeout(err error) bool {
	cause := errors.Cause(err)
	if _, ok := cause.(timeoutError); ok {
		return true
	}
	return cause == context.DeadlineExceeded
}
