// Package pipeline turns a tagged commit into a deployed artifact:
// build, test, package, deploy, each phase bounded by its own timeout
// and recorded on the run. The phases and what may retry are described
// in the project's .cutter.yaml.
package pipeline

import (
	"time"
)

// Phase of a pipeline run. Detecting and Releasing belong to the
// decision side of the cycle; Building through Deploying are the
// executor's.
type Phase string

const (
	Detecting Phase = "Detecting"
	Releasing Phase = "Releasing"
	Building  Phase = "Building"
	Testing   Phase = "Testing"
	Packaging Phase = "Packaging"
	Deploying Phase = "Deploying"
	Succeeded Phase = "Succeeded"
	Failed    Phase = "Failed"
)

// Terminal reports whether a run in this phase is finished. Terminal
// phases are never re-entered; a failed run needs a new commit and a
// new release cycle.
func (p Phase) Terminal() bool {
	return p == Succeeded || p == Failed
}

// Reasons attached to failed runs alongside the causal error.
const (
	ReasonTimeout   = "Timeout"
	ReasonCancelled = "Cancelled"
)

// Run is one pass through the pipeline for one commit. A run is owned
// by a single goroutine, so only its owner writes to it; everyone else
// sees snapshots by value.
type Run struct {
	ID       string `json:"id"`
	Branch   string `json:"branch"`
	CommitID string `json:"commitID"`
	// Tag is set for runs triggered by one of our release tags.
	Tag   string `json:"tag,omitempty"`
	Phase Phase  `json:"phase"`
	// FailedPhase records which phase a failed run died in.
	FailedPhase Phase  `json:"failedPhase,omitempty"`
	Reason      string `json:"reason,omitempty"`
	// Attempts counts test executions, when the suite is marked flaky.
	Attempts int `json:"attempts,omitempty"`
	// ImageRef is the digest-pinned image handed to the cluster.
	ImageRef  string    `json:"imageRef,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
	Err       string    `json:"err,omitempty"`
}
