// Package api is the surface the daemon exposes over HTTP: webhook
// notifications in, run and release status out. The daemon implements
// Server; pkg/http carries it over the wire.
package api

import (
	"context"

	"github.com/cuttercd/cutter/pkg/ledger"
	"github.com/cuttercd/cutter/pkg/pipeline"
)

// Kinds of Change.
const (
	GitChange = "git"
)

// Change is a notification from outside that something the daemon
// watches may have moved, usually delivered by a repository webhook.
// The daemon treats it as a hint to look sooner; correctness never
// depends on receiving one.
type Change struct {
	Kind   string `json:"kind"`
	URL    string `json:"url,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// BranchStatus relates a branch head to the ledger: the most recent
// release on the branch, and how far the head has moved past it.
type BranchStatus struct {
	Branch string `json:"branch"`
	Head   string `json:"head"`
	// Latest is nil when the branch has never had a release.
	Latest *ledger.Record `json:"latest,omitempty"`
	// Pending counts commits after the latest release up to and
	// including the head. Zero means the head itself is released, or
	// nothing has happened since.
	Pending int `json:"pending"`
}

// Server is everything the daemon must answer for. All methods are
// safe for concurrent use.
type Server interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)

	// NotifyChange tells the daemon its watched repository may have
	// changed. It never fails on unrelated changes; those are dropped.
	NotifyChange(ctx context.Context, change Change) error

	// ListRuns returns the active and recently finished runs, oldest
	// first; an empty branch name means all branches.
	ListRuns(ctx context.Context, branch string) ([]pipeline.Run, error)

	// RunStatus returns one run by ID. Runs that finished long enough
	// ago to have been evicted report as missing.
	RunStatus(ctx context.Context, id string) (pipeline.Run, error)

	// CancelRun asks an active run to stop at its next phase boundary.
	// Cancelling a finished run is a conflict, not a no-op, so callers
	// learn the run completed.
	CancelRun(ctx context.Context, id string) error

	// SyncStatus describes where a branch stands relative to the
	// ledger.
	SyncStatus(ctx context.Context, branch string) (BranchStatus, error)

	// ListReleases returns the ledger records for a branch in the
	// order they were cut; an empty branch name means all branches.
	ListReleases(ctx context.Context, branch string) ([]ledger.Record, error)
}
