package release

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/cuttercd/cutter/pkg/convention"
	"github.com/cuttercd/cutter/pkg/ledger"
	"github.com/cuttercd/cutter/pkg/vcs"
)

const (
	defaultActor         = "cutterd"
	defaultChangelogFile = "CHANGELOG.md"

	publishAttempts = 3
	publishBackoff  = 1 * time.Second
)

// MetadataPublisher sends release metadata somewhere people look, a
// GitHub release page for instance. Publishing must be idempotent:
// the cutter retries it, and a resumed cut publishes again.
type MetadataPublisher interface {
	PublishRelease(ctx context.Context, rec ledger.Record, notes string) error
}

// Release is what came of a Cut call.
type Release struct {
	Record ledger.Record
	// AlreadyCut means another cut got to this commit first. Record is
	// theirs, and nothing was done here beyond making sure the tag and
	// metadata are in place.
	AlreadyCut bool
	// MarkerID is the changelog marker commit, when one was pushed.
	MarkerID string
	// Notes is the changelog section for this release.
	Notes string
}

// Cutter cuts releases: ledger record, release tag, changelog marker
// commit, published metadata, in that order. The ledger append comes
// first because it is the atomic step; everything after it is
// idempotent, so an interrupted cut can be finished by whoever tries
// next.
//
// Callers must hold the branch lock across Decide and Cut.
type Cutter struct {
	Source     vcs.Source
	Store      ledger.Store
	Publishers []MetadataPublisher
	Logger     log.Logger

	// Actor is recorded as the ledger record's creator; defaults to
	// "cutterd".
	Actor string
	// ChangelogFile is the path of the changelog maintained on the
	// branch; defaults to CHANGELOG.md.
	ChangelogFile string
	// Now is replaceable for tests.
	Now func() time.Time
}

// Cut acts on a release decision. Exactly one of any number of
// concurrent cuts for the same commit does the work; the others come
// back with AlreadyCut set and the winner's record, which callers
// should treat as the release having happened, not as a failure.
//
// An error after the ledger append means the release exists but is
// incomplete; the returned Release says how far it got, and a later
// cut of the same commit finishes the job.
func (c *Cutter) Cut(ctx context.Context, d Decision) (rel Release, err error) {
	defer func(start time.Time) {
		observeCut(start, err == nil, d.Bump)
	}(time.Now())

	if !d.ShouldRelease() {
		return rel, errors.New("decision does not call for a release")
	}

	logger := log.With(c.logger(), "branch", d.Branch, "tag", d.Tag(), "commit", d.Head)

	rec := ledger.Record{
		Tag:       d.Tag(),
		Branch:    d.Branch,
		CommitID:  d.Head,
		Bump:      d.Bump,
		Commits:   len(d.Commits),
		CreatedAt: c.now(),
		CreatedBy: c.actor(),
	}
	if d.HasBase {
		rec.BaseTag = d.Base.Tag
	}

	timer := NewStageTimer("append_ledger")
	err = c.Store.AppendIfAbsent(ctx, rec)
	timer.ObserveDuration()
	switch {
	case err == ledger.ErrAlreadyExists:
		return c.resume(ctx, d, logger)
	case err != nil:
		return rel, errors.Wrap(err, "appending to ledger")
	}
	logger.Log("msg", "release recorded", "bump", d.Bump, "commits", len(d.Commits))

	rel = Release{Record: rec, Notes: Notes(d.NextVersion, rec.CreatedAt, d.Commits)}

	if err := c.pushTag(ctx, rec, convention.ReleaseTagMessage(d.NextVersion)); err != nil {
		return rel, err
	}

	markerID, err := c.pushMarker(ctx, d, rel.Notes, logger)
	if err != nil {
		return rel, err
	}
	rel.MarkerID = markerID

	if err := c.publish(ctx, rec, rel.Notes, logger); err != nil {
		return rel, publishFailedError(err)
	}
	return rel, nil
}

// resume handles the ledger refusing the record. Either another cut
// got this commit first, in which case the work is theirs and we only
// make sure it finished; or this decision was made against a ledger
// that has since moved on, and cannot be acted on.
func (c *Cutter) resume(ctx context.Context, d Decision, logger log.Logger) (Release, error) {
	existing, ok, err := c.Store.ByCommit(ctx, d.Head)
	if err != nil {
		return Release{}, errors.Wrap(err, "consulting ledger")
	}
	if !ok {
		// The commit is unreleased, so the refusal was about the tag:
		// the version this decision chose has gone to another commit
		// in the meantime.
		taken, _, terr := c.Store.ByTag(ctx, d.Tag())
		if terr != nil {
			return Release{}, errors.Wrap(terr, "consulting ledger")
		}
		return Release{}, staleDecisionError(d, taken)
	}

	logger.Log("msg", "release already cut", "by", existing.CreatedBy)
	rel := Release{Record: existing, AlreadyCut: true}

	// Finish whatever the original cut may not have got to. Both
	// steps are no-ops when the work is already done. The changelog
	// marker is deliberately left to the original cut; pushing it
	// here as well would put two marker commits on the branch.
	v, err := existing.Version()
	if err != nil {
		return rel, errors.Wrapf(err, "ledger record for commit %s has a malformed tag", existing.CommitID)
	}
	if err := c.pushTag(ctx, existing, convention.ReleaseTagMessage(v)); err != nil {
		return rel, err
	}
	rel.Notes = Notes(v, existing.CreatedAt, d.Commits)
	if err := c.publish(ctx, existing, rel.Notes, logger); err != nil {
		return rel, publishFailedError(err)
	}
	return rel, nil
}

func (c *Cutter) pushTag(ctx context.Context, rec ledger.Record, message string) error {
	timer := NewStageTimer("push_tag")
	defer timer.ObserveDuration()

	err := c.Source.PushTag(ctx, rec.Tag, rec.CommitID, message)
	if vcs.IsTagConflict(err) {
		return tagOwnershipError(err)
	}
	if err != nil {
		return errors.Wrapf(err, "pushing tag %s", rec.Tag)
	}
	return nil
}

// pushMarker prepends the release notes to the changelog and commits
// the result on the branch. The marker's message classifies as no
// release, which is what keeps the cut from triggering another cut.
func (c *Cutter) pushMarker(ctx context.Context, d Decision, notes string, logger log.Logger) (string, error) {
	timer := NewStageTimer("push_marker")
	defer timer.ObserveDuration()

	message := convention.ReleaseCommitMessage(d.NextVersion)

	head, err := c.Source.BranchHead(ctx, d.Branch)
	if err != nil {
		return "", errors.Wrapf(err, "resolving head of %s", d.Branch)
	}
	if headCommit, err := c.Source.Commit(ctx, head); err == nil && headCommit.Subject() == message {
		// A marker for this release is already at the head, left by an
		// interrupted earlier attempt.
		return head, nil
	}

	changelog := notes
	if existing, err := c.Source.FileAt(ctx, head, c.changelogFile()); err == nil {
		changelog = notes + "\n" + string(existing)
	} else if !vcs.IsFileNotFound(err) {
		return "", errors.Wrap(err, "reading changelog")
	}

	markerID, err := c.Source.PushMarker(ctx, d.Branch, message, map[string][]byte{
		c.changelogFile(): []byte(changelog),
	})
	if err != nil {
		return "", errors.Wrap(err, "pushing changelog marker")
	}
	logger.Log("msg", "pushed changelog marker", "marker", markerID)
	return markerID, nil
}

// publish sends the release to each publisher, retrying each a few
// times. The release exists whether or not this succeeds; a failure
// here leaves metadata for a later cut of the same commit to fill in.
func (c *Cutter) publish(ctx context.Context, rec ledger.Record, notes string, logger log.Logger) error {
	if len(c.Publishers) == 0 {
		return nil
	}
	timer := NewStageTimer("publish_metadata")
	defer timer.ObserveDuration()

	var firstErr error
	for _, p := range c.Publishers {
		if err := publishWithRetry(ctx, p, rec, notes); err != nil {
			logger.Log("msg", "publishing release metadata failed", "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func publishWithRetry(ctx context.Context, p MetadataPublisher, rec ledger.Record, notes string) error {
	backoff := publishBackoff
	var err error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = p.PublishRelease(ctx, rec, notes); err == nil {
			return nil
		}
	}
	return err
}

func (c *Cutter) logger() log.Logger {
	if c.Logger == nil {
		return log.NewNopLogger()
	}
	return c.Logger
}

func (c *Cutter) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Cutter) actor() string {
	if c.Actor == "" {
		return defaultActor
	}
	return c.Actor
}

func (c *Cutter) changelogFile() string {
	if c.ChangelogFile == "" {
		return defaultChangelogFile
	}
	return c.ChangelogFile
}
