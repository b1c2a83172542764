// Package gogit mirrors the watched repository with go-git and
// implements vcs.Source on top of the mirror. The mirror is a bare
// clone in a temp directory, kept fresh by a background loop; all
// reads are answered locally, and writes (tags, marker commits) are
// pushed straight upstream.
package gogit

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"time"

	gogit "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing/transport"

	"github.com/cuttercd/cutter/pkg/vcs"
)

const (
	defaultInterval = 5 * time.Minute
	defaultTimeout  = 20 * time.Second

	CheckPushTag = "cutter-write-check"
)

var (
	ErrNoConfig   = errors.New("git repo has no origin URL configured")
	ErrNotCloned  = errors.New("git repo has not been cloned yet")
	ErrClonedOnly = errors.New("git repo has been cloned but not yet checked for write access")
)

type NotReadyError struct {
	underlying error
}

func (err NotReadyError) Unwrap() error { return err.underlying }

func (err NotReadyError) Error() string {
	return "git repo not ready: " + err.underlying.Error()
}

// Status represents the progress made synchronising with the upstream
// repo. These are given below in expected order, but the status may go
// backwards if e.g., a deploy key is deleted.
type Status string

const (
	RepoNoConfig Status = "unconfigured" // configuration is empty
	RepoNew      Status = "new"          // no attempt made to clone it yet
	RepoCloned   Status = "cloned"       // has been read (cloned); no attempt made to write
	RepoReady    Status = "ready"        // has been written to, so ready to use
)

var _ vcs.Source = &Repo{}

type Repo struct {
	// As supplied to constructor
	origin    vcs.Remote
	interval  time.Duration
	timeout   time.Duration
	readonly  bool
	userName  string
	userEmail string
	auth      transport.AuthMethod

	// State
	mu     sync.RWMutex
	status Status
	err    error
	dir    string
	repo   *gogit.Repository

	notify     chan struct{}
	refreshedC chan struct{}
}

type Option interface {
	apply(*Repo)
}

type optionFunc func(*Repo)

func (f optionFunc) apply(r *Repo) {
	f(r)
}

type PollInterval time.Duration

func (p PollInterval) apply(r *Repo) {
	r.interval = time.Duration(p)
}

type Timeout time.Duration

func (t Timeout) apply(r *Repo) {
	r.timeout = time.Duration(t)
}

type IsReadOnly bool

func (ro IsReadOnly) apply(r *Repo) {
	r.readonly = bool(ro)
}

var ReadOnly IsReadOnly = true

// Committer sets the name and email recorded on tags and marker
// commits made through this repo.
func Committer(name, email string) Option {
	return optionFunc(func(r *Repo) {
		r.userName = name
		r.userEmail = email
	})
}

// Auth supplies credentials for fetching from and pushing to the
// upstream. Local paths need none.
func Auth(method transport.AuthMethod) Option {
	return optionFunc(func(r *Repo) {
		r.auth = method
	})
}

// NewRepo constructs a repo mirror which will sync itself.
func NewRepo(origin vcs.Remote, opts ...Option) *Repo {
	status := RepoNew
	if origin.URL == "" {
		status = RepoNoConfig
	}
	r := &Repo{
		origin:     origin,
		status:     status,
		interval:   defaultInterval,
		timeout:    defaultTimeout,
		userName:   "cutterd",
		userEmail:  "cutterd@cluster.local",
		err:        ErrNotCloned,
		notify:     make(chan struct{}, 1), // `1` so that Notify doesn't block
		refreshedC: make(chan struct{}, 1), // `1` so we don't block on completing a refresh
	}
	for _, opt := range opts {
		opt.apply(r)
	}
	return r
}

// Origin returns the Remote with which the Repo was constructed.
func (r *Repo) Origin() vcs.Remote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.origin
}

// Readonly returns `true` if the repo was marked as readonly, `false`
// otherwise
func (r *Repo) Readonly() bool {
	return r.readonly
}

// Dir returns the local directory into which the repo has been
// mirrored, if it has been.
func (r *Repo) Dir() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dir
}

// Clean removes the mirror. Syncing may continue with a new
// directory, so you may need to stop that first.
func (r *Repo) Clean() {
	r.mu.Lock()
	if r.dir != "" {
		os.RemoveAll(r.dir)
	}
	r.dir = ""
	r.repo = nil
	r.status = RepoNew
	r.mu.Unlock()
}

// Status reports the readiness status of the mirror: whether it has
// been cloned and is writable, and if not, the error stopping it
// getting to the next state.
func (r *Repo) Status() (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status, r.err
}

func (r *Repo) setUnready(s Status, err error) {
	r.mu.Lock()
	r.status = s
	r.err = err
	r.mu.Unlock()
}

func (r *Repo) setReady() {
	r.mu.Lock()
	r.status = RepoReady
	r.err = nil
	r.mu.Unlock()
}

// Notify tells the repo that it should fetch from the origin as soon
// as possible. It does not block.
func (r *Repo) Notify() {
	select {
	case r.notify <- struct{}{}:
		// duly notified
	default:
		// notification already pending
	}
}

// refreshed indicates that the repo has fetched something new from
// upstream.
func (r *Repo) refreshed() {
	select {
	case r.refreshedC <- struct{}{}:
	default:
	}
}

// C delivers a signal for each refresh that changed anything.
func (r *Repo) C() <-chan struct{} {
	return r.refreshedC
}

// errorIfNotReady returns the appropriate error if the repo is not
// ready, and `nil` otherwise.
func (r *Repo) errorIfNotReady() error {
	switch r.status {
	case RepoReady:
		return nil
	case RepoNoConfig:
		return ErrNoConfig
	default:
		return NotReadyError{r.err}
	}
}

// step attempts to advance the repo state machine, and returns `true`
// if it has made progress, `false` otherwise.
func (r *Repo) step(bg context.Context) bool {
	r.mu.RLock()
	url := r.origin.URL
	status := r.status
	r.mu.RUnlock()

	switch status {

	case RepoNoConfig:
		// this is not going to change in the lifetime of this
		// process, so just exit.
		return false

	case RepoNew:
		rootdir, err := ioutil.TempDir(os.TempDir(), "cutter-gitclone")
		if err != nil {
			panic(err)
		}

		ctx, cancel := context.WithTimeout(bg, r.timeout)
		repo, dir, err := r.mirror(ctx, rootdir, url)
		cancel()
		if err == nil {
			r.mu.Lock()
			r.dir = dir
			r.repo = repo
			r.mu.Unlock()
			r.setUnready(RepoCloned, ErrClonedOnly)
			return true
		}
		os.RemoveAll(rootdir)
		r.setUnready(RepoNew, vcs.CloningError(r.origin.SafeURL(), err))
		return false

	case RepoCloned:
		ctx, cancel := context.WithTimeout(bg, r.timeout)
		defer cancel()

		// The remote may have changed between `RepoNew` and this
		// iteration of `RepoCloned`. Fetch again to pick up any
		// changes that may have been made.
		r.mu.Lock()
		_, err := r.fetch(ctx)
		r.mu.Unlock()
		if err != nil {
			r.setUnready(RepoCloned, err)
			return false
		}

		names, err := r.Branches(ctx)
		if err != nil {
			r.setUnready(RepoCloned, err)
			return false
		}
		if len(names) == 0 {
			r.setUnready(RepoCloned, fmt.Errorf("repository at %s has no branches", r.origin.SafeURL()))
			return false
		}

		if !r.readonly {
			if err := r.checkPush(ctx); err != nil {
				r.setUnready(RepoCloned, err)
				return false
			}
		}

		r.setReady()
		// Treat every transition to ready as a refresh, so
		// that any listeners can respond in the same way.
		r.refreshed()
		return true

	case RepoReady:
		return false
	}

	return false
}

// Ready tries to advance the cloning process along as far as
// possible, and returns an error if it is not able to get to a ready
// state.
func (r *Repo) Ready(ctx context.Context) error {
	for r.step(ctx) {
		// keep going!
	}
	_, err := r.Status()
	return err
}

// Start begins synchronising the repo by cloning it, then fetching
// the required refs on a timer and on Notify.
func (r *Repo) Start(shutdown <-chan struct{}, done *sync.WaitGroup) error {
	defer done.Done()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		advanced := r.step(ctx)
		cancel()

		if advanced {
			continue
		}

		status, _ := r.Status()
		if status == RepoReady {
			if err := r.refreshLoop(shutdown); err != nil {
				r.setUnready(RepoNew, err)
				continue // with new status, skipping timer
			}
		} else if status == RepoNoConfig {
			return nil
		}

		tryAgain := time.NewTimer(10 * time.Second)
		select {
		case <-shutdown:
			if !tryAgain.Stop() {
				<-tryAgain.C
			}
			return nil
		case <-tryAgain.C:
			continue
		}
	}
}

// Refresh fetches from upstream immediately, and signals listeners if
// anything new arrived.
func (r *Repo) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if err := r.errorIfNotReady(); err != nil {
		r.mu.Unlock()
		return err
	}
	changed, err := r.fetch(ctx)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		r.refreshed()
	}
	return nil
}

func (r *Repo) refreshLoop(shutdown <-chan struct{}) error {
	gitPoll := time.NewTimer(r.interval)
	for {
		select {
		case <-shutdown:
			if !gitPoll.Stop() {
				<-gitPoll.C
			}
			return nil
		case <-gitPoll.C:
			r.Notify()
		case <-r.notify:
			if !gitPoll.Stop() {
				select {
				case <-gitPoll.C:
				default:
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			err := r.Refresh(ctx)
			cancel()
			if err != nil {
				return err
			}
			gitPoll.Reset(r.interval)
		}
	}
}
