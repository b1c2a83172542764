package daemon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/cuttercd/cutter/pkg/job"
	"github.com/cuttercd/cutter/pkg/metrics"
	"github.com/cuttercd/cutter/pkg/vcs"
)

const (
	defaultScanInterval  = 5 * time.Minute
	defaultVCSTimeout    = 40 * time.Second
	defaultDecideTimeout = 1 * time.Minute
)

// LoopVars are the daemon's timing knobs, plus the plumbing the loop
// needs so it can be prodded from outside.
type LoopVars struct {
	ScanInterval  time.Duration
	VCSTimeout    time.Duration
	DecideTimeout time.Duration

	initOnce sync.Once
	scanSoon chan struct{}
}

func (loop *LoopVars) ensureInit() {
	loop.initOnce.Do(func() {
		loop.scanSoon = make(chan struct{}, 1)
	})
}

// Ask for a scan, or if there's one waiting, let that happen.
func (loop *LoopVars) AskForScan() {
	loop.ensureInit()
	select {
	case loop.scanSoon <- struct{}{}:
	default:
	}
}

func (loop *LoopVars) scanInterval() time.Duration {
	if loop.ScanInterval > 0 {
		return loop.ScanInterval
	}
	return defaultScanInterval
}

func (loop *LoopVars) vcsTimeout() time.Duration {
	if loop.VCSTimeout > 0 {
		return loop.VCSTimeout
	}
	return defaultVCSTimeout
}

func (loop *LoopVars) decideTimeout() time.Duration {
	if loop.DecideTimeout > 0 {
		return loop.DecideTimeout
	}
	return defaultDecideTimeout
}

func (d *Daemon) Loop(stop chan struct{}, wg *sync.WaitGroup, logger log.Logger) {
	defer wg.Done()
	d.init()
	d.ensureInit()
	d.mu.Lock()
	d.stop = stop
	d.wg = wg
	d.mu.Unlock()
	if d.Executor != nil && d.Executor.OnUpdate == nil {
		d.Executor.OnUpdate = d.RunUpdated
	}

	// No scanning before the mirror is ready; everything hangs off
	// what it shows us.
	if err := d.waitReady(stop, logger); err != nil {
		logger.Log("stopping", "true", "err", err)
		return
	}

	// We want to scan at least every `ScanInterval`. Being told about
	// a change, or the mirror refreshing, may intervene (in which
	// case, reschedule the next scan).
	scanTimer := time.NewTimer(d.scanInterval())
	d.AskForScan()

	for {
		select {
		case <-stop:
			logger.Log("stopping", "true")
			d.cancelActiveRuns()
			d.runWG.Wait()
			return
		case <-d.scanSoon:
			if !scanTimer.Stop() {
				select {
				case <-scanTimer.C:
				default:
				}
			}
			started := time.Now().UTC()
			err := d.scan(logger)
			scanDuration.With(
				metrics.LabelSuccess, fmt.Sprint(err == nil),
			).Observe(time.Since(started).Seconds())
			if err != nil {
				logger.Log("err", err)
			}
			scanTimer.Reset(d.scanInterval())
		case <-scanTimer.C:
			d.AskForScan()
		case <-d.Source.C():
			d.AskForScan()
		}
	}
}

func (d *Daemon) init() {
	d.setupOnce.Do(func() {
		d.workers = map[string]*branchWorker{}
		d.active = map[string]*runState{}
		d.byID = map[string]*runState{}
		d.locks = map[string]chan struct{}{}
		d.lastHead = map[string]string{}
		d.seenTags = map[string]struct{}{}
	})
}

func (d *Daemon) waitReady(stop chan struct{}, logger log.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := d.Source.Ready(ctx); err != nil {
		return errors.Wrap(err, "waiting for repo mirror")
	}
	return nil
}

// scan is one pass over the watched branches and the release tags:
// dispatch a decision for each commit that arrived since last time,
// and a pipeline run for each new tag of ours.
func (d *Daemon) scan(logger log.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.vcsTimeout())
	defer cancel()

	first := !d.isSeeded()

	branches, err := d.Source.Branches(ctx)
	if err != nil {
		return errors.Wrap(err, "listing branches")
	}
	sort.Strings(branches)
	for _, branch := range branches {
		if !d.Branches.Matches(branch) {
			continue
		}
		d.scanBranch(ctx, branch, logger)
	}

	tags, err := d.Source.ReleaseTags(ctx)
	if err != nil {
		return errors.Wrap(err, "listing release tags")
	}
	var names []string
	for tag := range tags {
		names = append(names, tag)
	}
	sort.Strings(names)
	for _, tag := range names {
		if d.tagSeen(tag) {
			continue
		}
		d.markTagSeen(tag)
		if first {
			// Tags present before the first scan are history, not
			// triggers.
			continue
		}
		d.dispatchTag(ctx, tag, tags[tag], logger)
	}
	d.markSeeded()
	return nil
}

func (d *Daemon) scanBranch(ctx context.Context, branch string, logger log.Logger) {
	head, err := d.Source.BranchHead(ctx, branch)
	if err != nil {
		logger.Log("branch", branch, "err", err)
		return
	}
	last := d.lastSeen(branch)
	if head == last {
		return
	}
	commits, err := d.newCommits(ctx, branch, last, head, logger)
	if err != nil {
		logger.Log("branch", branch, "err", err)
		return
	}
	d.setLastSeen(branch, head)
	logger.Log("event", "refreshed", "branch", branch, "HEAD", head, "commits", len(commits))
	for _, c := range commits {
		d.dispatchCommit(ctx, branch, c, logger)
	}
}

// newCommits lists what arrived on a branch since the last scan,
// oldest first. A branch seen for the first time, or one whose
// history was rewritten, yields just its head; there is no contiguous
// range to walk.
func (d *Daemon) newCommits(ctx context.Context, branch, last, head string, logger log.Logger) ([]vcs.Commit, error) {
	if last != "" {
		commits, err := d.Source.CommitsBetween(ctx, branch, last, head)
		if err == nil {
			return commits, nil
		}
		logger.Log("warning", "could not walk from last seen commit, picking up from head", "branch", branch, "err", err)
	}
	c, err := d.Source.Commit(ctx, head)
	if err != nil {
		return nil, err
	}
	return []vcs.Commit{c}, nil
}

// cancelActiveRuns tells every in-flight pipeline run to stop at its
// next phase boundary. Shutdown waits for them so nothing is left
// half-reported.
func (d *Daemon) cancelActiveRuns() {
	d.mu.Lock()
	var states []*runState
	for _, st := range d.byID {
		if st.cancel != nil {
			states = append(states, st)
		}
	}
	d.mu.Unlock()
	for _, st := range states {
		st.once.Do(func() { close(st.cancel) })
	}
}

func (d *Daemon) lastSeen(branch string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastHead[branch]
}

func (d *Daemon) setLastSeen(branch, head string) {
	d.mu.Lock()
	d.lastHead[branch] = head
	d.mu.Unlock()
}

func (d *Daemon) tagSeen(tag string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seenTags[tag]
	return ok
}

func (d *Daemon) markTagSeen(tag string) {
	d.mu.Lock()
	d.seenTags[tag] = struct{}{}
	d.mu.Unlock()
}

// forgetTag lets a tag be dispatched again, for when attributing it
// failed for a transient reason.
func (d *Daemon) forgetTag(tag string) {
	d.mu.Lock()
	delete(d.seenTags, tag)
	d.mu.Unlock()
}

func (d *Daemon) isSeeded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seeded
}

func (d *Daemon) markSeeded() {
	d.mu.Lock()
	d.seeded = true
	d.mu.Unlock()
}

type branchWorker struct {
	branch string
	jobs   *job.Queue
	stop   chan struct{}
}

// worker returns the decision worker for a branch, starting one the
// first time the branch shows up.
func (d *Daemon) worker(branch string) *branchWorker {
	d.init()
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.workers[branch]; ok {
		return w
	}
	w := &branchWorker{branch: branch, jobs: job.NewQueue(d.stop, d.wg), stop: d.stop}
	d.workers[branch] = w
	d.wg.Add(1)
	go d.runWorker(w)
	return w
}

// runWorker drains one branch's decision queue, in order.
func (d *Daemon) runWorker(w *branchWorker) {
	defer d.wg.Done()
	logger := log.With(d.Logger, "component", "worker", "branch", w.branch)
	for {
		select {
		case <-w.stop:
			return
		case jb := <-w.jobs.Ready():
			queueLength.Set(float64(d.queueLen()))
			jobLogger := log.With(logger, "jobID", jb.ID)
			jobLogger.Log("state", "in-progress")
			start := time.Now()
			err := jb.Do(jobLogger)
			jobDuration.With(
				metrics.LabelSuccess, fmt.Sprint(err == nil),
			).Observe(time.Since(start).Seconds())
			if err != nil {
				jobLogger.Log("state", "done", "success", "false", "err", err)
			} else {
				jobLogger.Log("state", "done", "success", "true")
			}
		}
	}
}

func (d *Daemon) queueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, w := range d.workers {
		n += w.jobs.Len()
	}
	return n
}
