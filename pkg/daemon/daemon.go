package daemon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/cuttercd/cutter/pkg/api"
	"github.com/cuttercd/cutter/pkg/cluster"
	"github.com/cuttercd/cutter/pkg/convention"
	cuttererr "github.com/cuttercd/cutter/pkg/errors"
	"github.com/cuttercd/cutter/pkg/event"
	"github.com/cuttercd/cutter/pkg/guid"
	"github.com/cuttercd/cutter/pkg/job"
	"github.com/cuttercd/cutter/pkg/ledger"
	"github.com/cuttercd/cutter/pkg/pipeline"
	"github.com/cuttercd/cutter/pkg/policy"
	"github.com/cuttercd/cutter/pkg/release"
	"github.com/cuttercd/cutter/pkg/vcs"
)

// Daemon is the orchestrator. It watches the repository for new
// commits and release tags, decides per branch whether a release is
// due, cuts releases through the Cutter, and hands tagged commits to
// the Executor for the pipeline. It implements the API the HTTP
// transport exposes.
type Daemon struct {
	V              string
	Source         vcs.Source
	Origin         vcs.Remote
	Ledger         ledger.Store
	Cutter         *release.Cutter
	Executor       *pipeline.Executor
	Cluster        cluster.Cluster
	Branches       policy.Set
	JobStatusCache *job.StatusCache
	EventWriter    event.EventWriter
	Logger         log.Logger
	// bookkeeping
	*LoopVars

	setupOnce sync.Once

	mu      sync.Mutex
	seeded  bool
	stop    chan struct{}
	wg      *sync.WaitGroup
	workers map[string]*branchWorker
	// active runs, once by dedup key and once by run ID
	active map[string]*runState
	byID   map[string]*runState
	locks  map[string]chan struct{}
	// lastHead and seenTags are ratchets: a commit or tag is dispatched
	// at most once per daemon lifetime, however often scans see it.
	lastHead map[string]string
	seenTags map[string]struct{}

	runWG sync.WaitGroup
}

// Invariant.
var _ api.Server = &Daemon{}

type runState struct {
	key    string
	run    pipeline.Run
	cancel chan struct{}
	once   sync.Once
}

func runKey(commitID, tag string) string {
	return commitID + "|" + tag
}

type jobFunc func(ctx context.Context, jobID job.ID, logger log.Logger) (job.Result, error)

func (d *Daemon) Version(ctx context.Context) (string, error) {
	return d.V, nil
}

func (d *Daemon) Ping(ctx context.Context) error {
	if err := d.Source.Ready(ctx); err != nil {
		return err
	}
	if d.Cluster != nil {
		return d.Cluster.Ping(ctx)
	}
	return nil
}

// NotifyChange gets the daemon to skip the wait until the next scan;
// webhooks land here. A change to a branch nobody watches is noted and
// dropped.
func (d *Daemon) NotifyChange(ctx context.Context, change api.Change) error {
	switch change.Kind {
	case api.GitChange:
		if change.URL != "" && d.Origin.URL != "" && !d.Origin.Equivalent(change.URL) {
			d.Logger.Log("msg", "notified about unrelated repo", "url", change.URL, "origin", d.Origin.SafeURL())
			break
		}
		if change.Branch != "" && !d.Branches.Matches(change.Branch) {
			d.Logger.Log("msg", "notified about unrelated change", "url", change.URL, "branch", change.Branch)
			break
		}
		d.Source.Notify()
		d.AskForScan()
	default:
		d.Logger.Log("msg", "notified about unknown kind of change", "kind", change.Kind)
	}
	return nil
}

// ListRuns reports runs in flight along with recently finished ones
// still in the status cache, oldest first. An empty branch means all
// branches.
func (d *Daemon) ListRuns(ctx context.Context, branch string) ([]pipeline.Run, error) {
	var runs []pipeline.Run
	seen := map[string]bool{}
	d.mu.Lock()
	for _, st := range d.byID {
		if branch != "" && st.run.Branch != branch {
			continue
		}
		runs = append(runs, st.run)
		seen[st.run.ID] = true
	}
	d.mu.Unlock()
	d.JobStatusCache.ForEach(func(id job.ID, s job.Status) bool {
		run := s.Result.Run
		if run == nil || seen[run.ID] {
			return true
		}
		if branch != "" && run.Branch != branch {
			return true
		}
		runs = append(runs, *run)
		return true
	})
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

func (d *Daemon) RunStatus(ctx context.Context, id string) (pipeline.Run, error) {
	d.mu.Lock()
	st, ok := d.byID[id]
	d.mu.Unlock()
	if ok {
		return st.run, nil
	}
	if status, ok := d.JobStatusCache.Status(job.ID(id)); ok && status.Result.Run != nil {
		return *status.Result.Run, nil
	}
	return pipeline.Run{}, unknownRunError(id)
}

// CancelRun asks a pipeline run to stop. The run winds down at the
// next phase boundary; a phase already underway finishes first.
func (d *Daemon) CancelRun(ctx context.Context, id string) error {
	d.mu.Lock()
	st, ok := d.byID[id]
	d.mu.Unlock()
	if ok {
		if st.cancel == nil {
			return notCancellableError(id)
		}
		st.once.Do(func() { close(st.cancel) })
		d.LogEvent(event.Event{
			Type:     event.EventCancel,
			Branch:   st.run.Branch,
			RunID:    id,
			LogLevel: event.LogLevelWarn,
			Metadata: &event.CancelEventMetadata{By: "api"},
		})
		return nil
	}
	if _, ok := d.JobStatusCache.Status(job.ID(id)); ok {
		return runFinishedError(id)
	}
	return unknownRunError(id)
}

// SyncStatus describes where a branch stands: its head, the latest
// release if any, and how many commits have piled up since.
func (d *Daemon) SyncStatus(ctx context.Context, branch string) (api.BranchStatus, error) {
	head, err := d.Source.BranchHead(ctx, branch)
	if err != nil {
		return api.BranchStatus{}, errors.Wrapf(err, "resolving head of %s", branch)
	}
	status := api.BranchStatus{Branch: branch, Head: head}
	rec, ok, err := d.Ledger.Latest(ctx, branch)
	if err != nil {
		return api.BranchStatus{}, errors.Wrap(err, "consulting ledger")
	}
	from := ""
	if ok {
		status.Latest = &rec
		from = rec.CommitID
	}
	if from != head {
		commits, err := d.Source.CommitsBetween(ctx, branch, from, head)
		if err != nil {
			return api.BranchStatus{}, errors.Wrap(err, "counting unreleased commits")
		}
		status.Pending = len(commits)
	}
	return status, nil
}

func (d *Daemon) ListReleases(ctx context.Context, branch string) ([]ledger.Record, error) {
	return d.Ledger.List(ctx, branch)
}

// LogEvent hands an event to the sink. A sink failure is logged so the
// event is at least visible somewhere.
func (d *Daemon) LogEvent(ev event.Event) {
	if d.EventWriter == nil {
		return
	}
	if err := d.EventWriter.LogEvent(ev); err != nil {
		d.Logger.Log("err", errors.Wrap(err, "logging event"))
	}
}

// RunUpdated is for the Executor to report phase transitions while a
// run is in flight. Terminal states are recorded where the run is
// retired, so only progress lands here.
func (d *Daemon) RunUpdated(run pipeline.Run) {
	if run.Phase.Terminal() {
		return
	}
	d.mu.Lock()
	st, ok := d.byID[run.ID]
	d.mu.Unlock()
	if !ok {
		return
	}
	d.noteRun(st, run)
}

func (d *Daemon) noteRun(st *runState, run pipeline.Run) {
	d.mu.Lock()
	st.run = run
	d.mu.Unlock()
	d.LogEvent(event.Event{
		Type:     event.EventPhase,
		Branch:   run.Branch,
		RunID:    run.ID,
		LogLevel: event.LogLevelDebug,
		Metadata: &event.PhaseEventMetadata{
			Revision: run.CommitID,
			Tag:      run.Tag,
			Phase:    string(run.Phase),
			Attempt:  run.Attempts,
		},
	})
}

// claim registers a run under its dedup key. It refuses when a run for
// the same commit and tag is underway or recently finished; that is
// what keeps redelivered and rescanned events from doubling work.
func (d *Daemon) claim(st *runState) bool {
	d.init()
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[st.key]; ok {
		return false
	}
	if d.recentlyHandled(st.key) {
		return false
	}
	d.active[st.key] = st
	d.byID[st.run.ID] = st
	activeRuns.Set(float64(len(d.byID)))
	return true
}

func (d *Daemon) recentlyHandled(key string) bool {
	handled := false
	d.JobStatusCache.ForEach(func(_ job.ID, s job.Status) bool {
		if s.Result.Run != nil && runKey(s.Result.Run.CommitID, s.Result.Run.Tag) == key {
			handled = true
			return false
		}
		return true
	})
	return handled
}

// retire takes a run out of the active table once it is terminal. The
// status cache is written first so a rescan of the same commit always
// sees the run in one table or the other.
func (d *Daemon) retire(st *runState, final pipeline.Run, result job.Result) {
	d.mu.Lock()
	st.run = final
	d.mu.Unlock()

	statusString := job.StatusSucceeded
	if final.Phase == pipeline.Failed {
		statusString = job.StatusFailed
	}
	d.JobStatusCache.SetStatus(job.ID(final.ID), job.Status{
		StatusString: statusString,
		Err:          final.Err,
		Result:       result,
	})

	d.mu.Lock()
	delete(d.active, st.key)
	delete(d.byID, final.ID)
	n := len(d.byID)
	d.mu.Unlock()
	activeRuns.Set(float64(n))

	d.LogEvent(terminalEvent(final))
}

// dispatchCommit starts the decision half of the cycle for one new
// commit. A commit already carrying one of our release tags has
// nothing to decide; the tag observation starts its pipeline run
// instead.
func (d *Daemon) dispatchCommit(ctx context.Context, branch string, c vcs.Commit, logger log.Logger) {
	d.LogEvent(event.Event{
		Type:     event.EventCommit,
		Branch:   branch,
		LogLevel: event.LogLevelDebug,
		Metadata: &event.CommitEventMetadata{Revision: c.ID, Subject: c.Subject()},
	})
	if tag, ours := d.ownReleaseTag(ctx, c); ours {
		logger.Log("msg", "commit already tagged, nothing to decide", "commit", c.ShortID(), "tag", tag)
		return
	}
	st := &runState{
		key: runKey(c.ID, ""),
		run: pipeline.Run{
			ID:        guid.New(),
			Branch:    branch,
			CommitID:  c.ID,
			Phase:     pipeline.Detecting,
			StartedAt: time.Now().UTC(),
		},
	}
	if !d.claim(st) {
		logger.Log("msg", "commit already being handled", "commit", c.ShortID())
		return
	}
	d.queueDecision(st, logger)
}

func (d *Daemon) ownReleaseTag(ctx context.Context, c vcs.Commit) (string, bool) {
	for _, tag := range c.Tags {
		if !convention.IsReleaseTag(tag) {
			continue
		}
		if _, ok, err := d.Ledger.ByTag(ctx, tag); err == nil && ok {
			return tag, true
		}
	}
	return "", false
}

// queueDecision puts a decision job on the branch's worker queue. One
// queue per branch keeps a branch's decisions strictly ordered while
// branches proceed independently of each other.
func (d *Daemon) queueDecision(st *runState, logger log.Logger) {
	id := job.ID(st.run.ID)
	enqueuedAt := time.Now()
	w := d.worker(st.run.Branch)
	w.jobs.Enqueue(&job.Job{
		ID: id,
		Do: func(jobLogger log.Logger) error {
			queueDuration.Observe(time.Since(enqueuedAt).Seconds())
			_, err := d.executeJob(id, d.decide(st), jobLogger)
			return err
		},
	})
	queueLength.Set(float64(d.queueLen()))
	d.JobStatusCache.SetStatus(id, job.Status{StatusString: job.StatusQueued})
	logger.Log("msg", "decision queued", "commit", shortRevision(st.run.CommitID), "jobID", id)
}

// executeJob runs a job, keeping the status cache informed along the
// way. The job gets a deadline; deciding and cutting are meant to be
// quick, and a wedged job must not hold its branch queue forever.
func (d *Daemon) executeJob(id job.ID, do jobFunc, logger log.Logger) (job.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.decideTimeout())
	defer cancel()
	d.JobStatusCache.SetStatus(id, job.Status{StatusString: job.StatusRunning})
	result, err := do(ctx, id, logger)
	if err != nil {
		d.JobStatusCache.SetStatus(id, job.Status{StatusString: job.StatusFailed, Err: err.Error(), Result: result})
		return result, err
	}
	d.JobStatusCache.SetStatus(id, job.Status{StatusString: job.StatusSucceeded, Result: result})
	return result, nil
}

// decide is the decision half of the release cycle: under the branch
// lock, ask the decision engine what the unreleased commits warrant,
// and cut a release if one is due. A failed decision is surfaced and
// then left alone; the next commit restarts the cycle.
func (d *Daemon) decide(st *runState) jobFunc {
	return func(ctx context.Context, jobID job.ID, logger log.Logger) (job.Result, error) {
		run := st.run
		result := job.Result{Revision: run.CommitID}
		started := time.Now().UTC()

		finish := func(final pipeline.Run, err error) (job.Result, error) {
			if err != nil {
				final.FailedPhase = final.Phase
				final.Phase = pipeline.Failed
				final.Err = err.Error()
			} else if !final.Phase.Terminal() {
				final.Phase = pipeline.Succeeded
			}
			final.EndedAt = time.Now().UTC()
			result.Run = &final
			d.retire(st, final, result)
			return result, err
		}

		unlock, err := d.lockBranch(ctx, run.Branch)
		if err != nil {
			return finish(run, err)
		}
		defer unlock()

		dec, err := release.Decide(ctx, d.Source, d.Ledger, run.Branch, run.CommitID)
		if err != nil {
			return finish(run, errors.Wrap(err, "deciding"))
		}
		d.LogEvent(decisionEvent(run, dec, started))

		if !dec.ShouldRelease() {
			result.Decision = event.DecisionSkip
			logger.Log("decision", "skip", "commit", shortRevision(run.CommitID), "reason", dec.Reason())
			return finish(run, nil)
		}

		result.Decision = event.DecisionCut
		logger.Log("decision", "cut", "commit", shortRevision(run.CommitID), "bump", dec.Bump.String(), "tag", dec.Tag(), "commits", len(dec.Commits))
		run.Tag = dec.Tag()
		run.Phase = pipeline.Releasing
		d.noteRun(st, run)

		rel, err := d.Cutter.Cut(ctx, dec)
		switch {
		case err != nil && cuttererr.IsConflict(err):
			// Another cut got there while this decision was in hand.
			// Nothing happened here; the winner's tag carries the
			// cycle on.
			d.LogEvent(releaseEvent(run, rel, err, started))
			logger.Log("msg", "decision went stale", "err", err)
			return finish(run, nil)
		case err != nil:
			d.LogEvent(releaseEvent(run, rel, err, started))
			return finish(run, errors.Wrap(err, "cutting release"))
		}
		if rel.AlreadyCut {
			logger.Log("msg", "release was already cut", "tag", rel.Record.Tag, "by", rel.Record.CreatedBy)
		}
		d.LogEvent(releaseEvent(run, rel, nil, started))
		return finish(run, nil)
	}
}

// dispatchTag starts the pipeline half of the cycle for a release tag
// the scan has not seen before. Only tags with a ledger record are
// ours to build; anything else somebody pushed by hand.
func (d *Daemon) dispatchTag(ctx context.Context, tag, commitID string, logger log.Logger) {
	rec, ok, err := d.Ledger.ByTag(ctx, tag)
	if err != nil {
		logger.Log("tag", tag, "err", errors.Wrap(err, "consulting ledger"))
		d.forgetTag(tag)
		return
	}
	if !ok {
		logger.Log("msg", "ignoring release tag not cut by this daemon", "tag", tag, "commit", shortRevision(commitID))
		return
	}
	if rec.CommitID != commitID {
		logger.Log("err", "release tag does not point at its recorded commit", "tag", tag, "commit", shortRevision(commitID), "recorded", shortRevision(rec.CommitID))
		return
	}
	d.LogEvent(event.Event{
		Type:     event.EventCommit,
		Branch:   rec.Branch,
		LogLevel: event.LogLevelInfo,
		Metadata: &event.CommitEventMetadata{Revision: commitID, Tag: tag},
	})
	st := &runState{
		key: runKey(commitID, tag),
		run: pipeline.Run{
			ID:        guid.New(),
			Branch:    rec.Branch,
			CommitID:  commitID,
			Tag:       tag,
			Phase:     pipeline.Building,
			StartedAt: time.Now().UTC(),
		},
		cancel: make(chan struct{}),
	}
	if !d.claim(st) {
		logger.Log("msg", "run already underway for tag", "tag", tag)
		return
	}
	logger.Log("msg", "starting pipeline run", "run", st.run.ID, "tag", tag, "commit", shortRevision(commitID))
	d.runWG.Add(1)
	go d.executeRun(st)
}

// executeRun drives one pipeline run to a terminal state. It loads the
// pipeline config from the tagged commit, then hands over to the
// Executor.
func (d *Daemon) executeRun(st *runState) {
	defer d.runWG.Done()
	run := st.run
	logger := log.With(d.Logger, "run", run.ID, "branch", run.Branch, "tag", run.Tag)

	ctx, cancel := context.WithTimeout(context.Background(), d.vcsTimeout())
	cfg, err := pipeline.LoadConfig(ctx, d.Source, run.CommitID)
	cancel()
	if err != nil {
		logger.Log("err", errors.Wrap(err, "loading pipeline config"))
		final := run
		final.Phase = pipeline.Failed
		final.Err = err.Error()
		final.EndedAt = time.Now().UTC()
		d.retire(st, final, job.Result{Revision: run.CommitID, Run: &final})
		return
	}

	final := d.Executor.Execute(context.Background(), run, cfg, st.cancel)
	d.retire(st, final, job.Result{Revision: run.CommitID, Run: &final})
}

// lockBranch serializes deciding and cutting per branch. The wait is
// bounded by ctx so a wedged cut cannot back its queue up forever.
func (d *Daemon) lockBranch(ctx context.Context, branch string) (func(), error) {
	d.init()
	d.mu.Lock()
	l, ok := d.locks[branch]
	if !ok {
		l = make(chan struct{}, 1)
		d.locks[branch] = l
	}
	d.mu.Unlock()
	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for release lock on %s", branch)
	}
}

func decisionEvent(run pipeline.Run, dec release.Decision, started time.Time) event.Event {
	md := &event.DecisionEventMetadata{
		Revision: run.CommitID,
		Bump:     dec.Bump,
		Commits:  len(dec.Commits),
		Reason:   dec.Reason(),
	}
	if dec.ShouldRelease() {
		md.Decision = event.DecisionCut
		md.Tag = dec.Tag()
	} else {
		md.Decision = event.DecisionSkip
	}
	return event.Event{
		Type:      event.EventDecision,
		Branch:    run.Branch,
		RunID:     run.ID,
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
		LogLevel:  event.LogLevelInfo,
		Metadata:  md,
	}
}

func releaseEvent(run pipeline.Run, rel release.Release, err error, started time.Time) event.Event {
	ev := event.Event{
		Type:      event.EventRelease,
		Branch:    run.Branch,
		RunID:     run.ID,
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
		LogLevel:  event.LogLevelInfo,
	}
	if rel.Record.Tag != "" {
		md := &event.ReleaseEventMetadata{Record: rel.Record, MarkerRevision: rel.MarkerID}
		if err != nil {
			md.Error = err.Error()
			ev.LogLevel = event.LogLevelError
		}
		ev.Metadata = md
		return ev
	}
	ev.LogLevel = event.LogLevelWarn
	ev.Message = fmt.Sprintf("Release %s not cut: %v", run.Tag, err)
	return ev
}

func terminalEvent(run pipeline.Run) event.Event {
	md := &event.PhaseEventMetadata{
		Revision: run.CommitID,
		Tag:      run.Tag,
		Attempt:  run.Attempts,
		Error:    run.Err,
	}
	level := event.LogLevelInfo
	if run.Phase == pipeline.Failed {
		level = event.LogLevelError
		md.Phase = string(run.FailedPhase)
		if run.Reason == pipeline.ReasonCancelled {
			level = event.LogLevelWarn
		}
	} else {
		md.Phase = string(run.Phase)
	}
	return event.Event{
		Type:      event.EventPhase,
		Branch:    run.Branch,
		RunID:     run.ID,
		StartedAt: run.StartedAt,
		EndedAt:   run.EndedAt,
		LogLevel:  level,
		Metadata:  md,
	}
}

func shortRevision(rev string) string {
	if len(rev) <= 7 {
		return rev
	}
	return rev[:7]
}
