// Package ledger is the record of every release this system has ever
// cut. It is the authority on "has this commit been released" and on
// what the latest version of a branch is; the append-if-absent
// operation is the point where concurrent release attempts for the
// same commit are collapsed into one.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/cuttercd/cutter/pkg/convention"
)

// ErrAlreadyExists is returned by AppendIfAbsent when the tag, or the
// commit, already has a record. Losing a race to another appender
// looks exactly the same as retrying a release that already happened,
// which is the point.
var ErrAlreadyExists = errors.New("release already recorded")

// Record is one cut release.
type Record struct {
	Tag       string              `json:"tag"`
	Branch    string              `json:"branch"`
	CommitID  string              `json:"commit_id"`
	Bump      convention.BumpKind `json:"bump"`
	BaseTag   string              `json:"base_tag,omitempty"`
	Commits   int                 `json:"commits,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	CreatedBy string              `json:"created_by,omitempty"`
}

// Version parses the version the record's tag names.
func (r Record) Version() (semver.Version, error) {
	return convention.ParseTag(r.Tag)
}

// Store holds release records. Implementations must make
// AppendIfAbsent atomic: of any number of concurrent appends for the
// same tag or commit, exactly one succeeds and the rest get
// ErrAlreadyExists.
type Store interface {
	AppendIfAbsent(ctx context.Context, rec Record) error
	Latest(ctx context.Context, branch string) (Record, bool, error)
	ByTag(ctx context.Context, tag string) (Record, bool, error)
	ByCommit(ctx context.Context, commitID string) (Record, bool, error)
	// List returns the records for a branch in append order, oldest
	// first; an empty branch name means all branches.
	List(ctx context.Context, branch string) ([]Record, error)
}
