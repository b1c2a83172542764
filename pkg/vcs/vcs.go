// Package vcs defines how the rest of the daemon sees the watched
// repository: commits, branch heads, release tags, and the handful of
// write operations release cutting needs. The git implementation lives
// in the gogit subpackage; tests use the mock subpackage.
package vcs

import (
	"context"
	"time"
)

// Commit is one commit as observed on the watched repository.
type Commit struct {
	ID        string    `json:"id"`
	ParentIDs []string  `json:"parent_ids,omitempty"`
	Branch    string    `json:"branch,omitempty"`
	Message   string    `json:"message"`
	Author    string    `json:"author,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	At        time.Time `json:"at"`
}

// ShortID is the abbreviated commit ID used in logs and status output.
func (c Commit) ShortID() string {
	if len(c.ID) > 7 {
		return c.ID[:7]
	}
	return c.ID
}

// Subject is the first line of the commit message.
func (c Commit) Subject() string {
	for i := 0; i < len(c.Message); i++ {
		if c.Message[i] == '\n' {
			return c.Message[:i]
		}
	}
	return c.Message
}

// Source is the daemon's view of the watched repository. The mirror
// keeps itself fresh in the background; Notify asks it to refresh
// sooner, and C delivers a signal after each refresh that changed
// anything.
type Source interface {
	// Ready blocks until the source has a usable view of the
	// repository, or the context is done.
	Ready(ctx context.Context) error

	// Branches lists the branch names present on the remote.
	Branches(ctx context.Context) ([]string, error)

	// BranchHead resolves a branch name to its head commit ID.
	BranchHead(ctx context.Context, branch string) (string, error)

	// Commit looks up a single commit by ID.
	Commit(ctx context.Context, id string) (Commit, error)

	// CommitsBetween returns the commits reachable from `to` but not
	// from `from`, following first parents only, oldest first. An
	// empty `from` walks all the way back to the root.
	CommitsBetween(ctx context.Context, branch, from, to string) ([]Commit, error)

	// ReleaseTags returns all tags that name releases, mapped to the
	// commit they point at. Tags in other formats are not included.
	ReleaseTags(ctx context.Context) (map[string]string, error)

	// PushTag creates an annotated tag on the given commit and pushes
	// it upstream. Pushing a tag that already exists on the same
	// commit is a no-op; on a different commit it is a TagConflictError.
	PushTag(ctx context.Context, tag, commitID, message string) error

	// PushMarker commits the given files on top of the branch head and
	// pushes the branch upstream, returning the new commit ID. The
	// message is used verbatim.
	PushMarker(ctx context.Context, branch, message string, files map[string][]byte) (string, error)

	// FileAt reads one file from the tree of the given commit. A
	// missing file is reported with ErrFileNotFound as the cause.
	FileAt(ctx context.Context, commitID, path string) ([]byte, error)

	// Export materializes the tree of the given commit under dir.
	Export(ctx context.Context, commitID, dir string) error

	// Refresh fetches from upstream immediately.
	Refresh(ctx context.Context) error

	// Notify requests an asynchronous refresh, e.g., on a webhook.
	Notify()

	// C delivers a signal each time a refresh observed new commits or
	// tags. It is never closed.
	C() <-chan struct{}
}
