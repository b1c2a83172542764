// Package release decides whether a branch head warrants a release,
// and cuts the release when it does. Deciding is a read-only walk of
// the unreleased commits; cutting reserves the release in the ledger
// first and only then touches the repository, so that any number of
// concurrent attempts for the same commit collapse into one.
package release

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/cuttercd/cutter/pkg/convention"
	"github.com/cuttercd/cutter/pkg/ledger"
	"github.com/cuttercd/cutter/pkg/vcs"
)

// A Decision is the outcome of looking at a branch head and asking
// whether it warrants a release. It carries everything the cutter
// needs, so deciding and cutting can happen under a single hold of
// the branch lock without re-reading history.
type Decision struct {
	Branch string
	Head   string

	// AlreadyReleased is set when the head itself has a ledger record,
	// in which case there is nothing to decide.
	AlreadyReleased bool

	// Base is the most recent release on the branch, when there is
	// one. With no base, the whole history back to the root counts as
	// unreleased and versions start from zero.
	Base    ledger.Record
	HasBase bool

	// Commits are the unreleased commits from base (exclusive) to head
	// (inclusive), oldest first. Bump is the highest severity among
	// them; None means no release.
	Commits []vcs.Commit
	Bump    convention.BumpKind

	// NextVersion is the version a cut would create. Only meaningful
	// when ShouldRelease.
	NextVersion semver.Version
}

func (d Decision) ShouldRelease() bool {
	return !d.AlreadyReleased && d.Bump != convention.None
}

// Tag is the release tag a cut would push.
func (d Decision) Tag() string {
	return convention.FormatTag(d.NextVersion)
}

// Reason says in words why the decision came out the way it did. It
// ends up in decision events, so operators can see why nothing
// happened as well as why something did.
func (d Decision) Reason() string {
	switch {
	case d.AlreadyReleased:
		return "head commit is already released"
	case len(d.Commits) == 0:
		return "no unreleased commits"
	case d.Bump == convention.None:
		return fmt.Sprintf("none of %d unreleased commits call for a release", len(d.Commits))
	default:
		return fmt.Sprintf("%s bump over %d commits", d.Bump, len(d.Commits))
	}
}

// Decide walks the unreleased commits of a branch and classifies them.
// It reads from the source and the ledger but changes nothing; acting
// on the decision is the cutter's job, under the branch lock.
//
// The walk runs from the latest release on the branch, exclusive, to
// head, inclusive, along first parents. An empty ledger means the
// whole history is unreleased. The bump is the highest severity any
// commit calls for; if no commit calls for one, the decision is to do
// nothing.
func Decide(ctx context.Context, src vcs.Source, store ledger.Store, branch, head string) (d Decision, err error) {
	defer func(start time.Time) {
		observeDecide(start, err, d.ShouldRelease())
	}(time.Now())

	d = Decision{Branch: branch, Head: head}

	if _, ok, err := store.ByCommit(ctx, head); err != nil {
		return d, errors.Wrap(err, "consulting ledger")
	} else if ok {
		d.AlreadyReleased = true
		return d, nil
	}

	var from string
	base, ok, err := store.Latest(ctx, branch)
	if err != nil {
		return d, errors.Wrap(err, "consulting ledger")
	}
	if ok {
		d.Base, d.HasBase = base, true
		from = base.CommitID
	}

	commits, err := src.CommitsBetween(ctx, branch, from, head)
	if err != nil {
		return d, errors.Wrapf(err, "walking history of %s", branch)
	}
	d.Commits = commits

	messages := make([]string, len(commits))
	for i := range commits {
		messages[i] = commits[i].Message
	}
	d.Bump = convention.ClassifyAll(messages)
	if d.Bump == convention.None {
		return d, nil
	}

	baseVersion := semver.Version{}
	if d.HasBase {
		baseVersion, err = d.Base.Version()
		if err != nil {
			return d, errors.Wrapf(err, "ledger record for commit %s has a malformed tag", d.Base.CommitID)
		}
	}
	d.NextVersion = convention.Bump(baseVersion, d.Bump)
	return d, nil
}
