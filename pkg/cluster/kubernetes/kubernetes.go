// Package kubernetes deploys releases by patching the image of a
// Deployment's container and watching the rollout converge.
package kubernetes

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	apiapps "k8s.io/api/apps/v1"
	apiv1 "k8s.io/api/core/v1"
	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	k8sclient "k8s.io/client-go/kubernetes"

	"github.com/cuttercd/cutter/pkg/cluster"
)

const defaultPollInterval = 5 * time.Second

type Cluster struct {
	client       k8sclient.Interface
	allowed      cluster.Includer
	pollInterval time.Duration
	logger       log.Logger
}

var _ cluster.Cluster = &Cluster{}

// NewCluster wraps a Kubernetes client as a deploy target. The
// includer restricts which namespaces may be deployed into.
func NewCluster(client k8sclient.Interface, allowed cluster.Includer, logger log.Logger) *Cluster {
	if allowed == nil {
		allowed = cluster.AlwaysInclude
	}
	return &Cluster{
		client:       client,
		allowed:      allowed,
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

// SetDesiredImage patches the named container's image on the target
// Deployment. A strategic merge patch on the container is the
// declarative move here: applying the same patch twice is a no-op, so
// a retried deploy converges.
func (c *Cluster) SetDesiredImage(ctx context.Context, target cluster.DeployTarget, imageRef string) error {
	if !c.allowed.IsIncluded(target.Namespace) {
		return namespaceNotAllowedError(target.Namespace)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	patch := fmt.Sprintf(
		`{"spec":{"template":{"spec":{"containers":[{"name":%q,"image":%q}]}}}}`,
		target.Container, imageRef,
	)
	_, err := c.client.AppsV1().Deployments(target.Namespace).
		Patch(target.Workload, types.StrategicMergePatchType, []byte(patch))
	if err != nil {
		return errors.Wrapf(err, "patching %s", target)
	}
	c.logger.Log("msg", "set desired image", "target", target.String(), "image", imageRef)
	return nil
}

// WaitForRollout polls the Deployment until its rollout completes, the
// timeout passes, or the rollout reports that it cannot progress.
func (c *Cluster) WaitForRollout(ctx context.Context, target cluster.DeployTarget, timeout time.Duration) (cluster.RolloutStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last cluster.RolloutStatus
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		d, err := c.client.AppsV1().Deployments(target.Namespace).Get(target.Workload, meta_v1.GetOptions{})
		if err != nil {
			return last, errors.Wrapf(err, "getting %s", target)
		}
		// Only trust the status once the controller has seen the
		// patched spec; until then the numbers describe the old
		// generation.
		if d.Status.ObservedGeneration >= d.Generation {
			last = makeRolloutStatus(d)
			if len(last.Messages) != 0 {
				return last, errors.Errorf("rollout of %s cannot progress: %s", target, last.Messages[0])
			}
			if last.Complete() {
				return last, nil
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return last, errors.Wrapf(ctx.Err(), "waiting for rollout of %s", target)
		}
	}
}

func (c *Cluster) Ping(ctx context.Context) error {
	_, err := c.client.Discovery().ServerVersion()
	return err
}

// Deployments may get stuck trying to deploy their newest ReplicaSet
// without ever completing. One way to detect this condition is
// specifying a deadline in .spec.progressDeadlineSeconds; see
// https://kubernetes.io/docs/concepts/workloads/controllers/deployment/#failed-deployment
func deploymentErrors(d *apiapps.Deployment) []string {
	var errs []string
	for _, cond := range d.Status.Conditions {
		if (cond.Type == apiapps.DeploymentProgressing && cond.Status == apiv1.ConditionFalse) ||
			(cond.Type == apiapps.DeploymentReplicaFailure && cond.Status == apiv1.ConditionTrue) {
			errs = append(errs, cond.Message)
		}
	}
	return errs
}

func makeRolloutStatus(d *apiapps.Deployment) cluster.RolloutStatus {
	status := cluster.RolloutStatus{
		Updated:   d.Status.UpdatedReplicas,
		Ready:     d.Status.ReadyReplicas,
		Available: d.Status.AvailableReplicas,
		Outdated:  d.Status.Replicas - d.Status.UpdatedReplicas,
		Messages:  deploymentErrors(d),
	}
	if d.Spec.Replicas != nil {
		status.Desired = *d.Spec.Replicas
	}
	return status
}
