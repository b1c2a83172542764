// Package cluster is the deployment side of the pipeline: somewhere
// that runs workloads and can be told, declaratively, which image a
// workload should be running.
package cluster

import (
	"context"
	"fmt"
	"time"
)

// DeployTarget names the workload container a release is deployed
// into.
type DeployTarget struct {
	Namespace string `json:"namespace"`
	Workload  string `json:"workload"`
	Container string `json:"container"`
}

func (t DeployTarget) String() string {
	return fmt.Sprintf("%s:deployment/%s", t.Namespace, t.Workload)
}

// RolloutStatus describes the progress of a deployment's rollout.
// A rollout might be:
// - in progress: Updated, Ready or Available numbers are not equal to Desired, or Outdated not equal to 0
// - stuck: Messages contains info if the rollout cannot make progress without intervention
// - complete: Updated, Ready and Available numbers are equal to Desired and Outdated equal to 0
type RolloutStatus struct {
	// Desired number of pods as defined in spec.
	Desired int32
	// Updated number of pods that are on the desired pod spec.
	Updated int32
	// Ready number of pods targeted by this deployment.
	Ready int32
	// Available number of available pods (ready for at least minReadySeconds) targeted by this deployment.
	Available int32
	// Outdated number of pods that are on a different pod spec.
	Outdated int32
	// Messages about unexpected rollout progress; if there's a message
	// here, the rollout will not make progress without intervention.
	Messages []string
}

// Complete is true when every pod is on the desired spec and
// available.
func (s RolloutStatus) Complete() bool {
	return s.Updated == s.Desired && s.Ready == s.Desired && s.Available == s.Desired && s.Outdated == 0
}

// Cluster is what the Deploying phase needs from a runtime platform.
// SetDesiredImage must be declarative: deploying the same image twice
// converges instead of duplicating anything, which is what makes the
// phase safe to re-invoke.
type Cluster interface {
	SetDesiredImage(ctx context.Context, target DeployTarget, imageRef string) error
	WaitForRollout(ctx context.Context, target DeployTarget, timeout time.Duration) (RolloutStatus, error)
	Ping(ctx context.Context) error
}
