package kubernetes

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	apiapps "k8s.io/api/apps/v1"
	apiv1 "k8s.io/api/core/v1"
	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/cuttercd/cutter/pkg/cluster"
)

var target = cluster.DeployTarget{Namespace: "default", Workload: "rocket", Container: "app"}

func deployment(replicas int32, status apiapps.DeploymentStatus) *apiapps.Deployment {
	return &apiapps.Deployment{
		ObjectMeta: meta_v1.ObjectMeta{
			Namespace:  "default",
			Name:       "rocket",
			Generation: 1,
		},
		Spec: apiapps.DeploymentSpec{
			Replicas: &replicas,
			Template: apiv1.PodTemplateSpec{
				Spec: apiv1.PodSpec{
					Containers: []apiv1.Container{
						{Name: "app", Image: "registry.test/acme/rocket@sha256:old"},
					},
				},
			},
		},
		Status: status,
	}
}

func TestSetDesiredImage(t *testing.T) {
	client := fake.NewSimpleClientset(deployment(2, apiapps.DeploymentStatus{}))
	c := NewCluster(client, nil, log.NewNopLogger())

	err := c.SetDesiredImage(context.Background(), target, "registry.test/acme/rocket@sha256:new")
	assert.NoError(t, err)

	d, err := client.AppsV1().Deployments("default").Get("rocket", meta_v1.GetOptions{})
	assert.NoError(t, err)
	assert.Equal(t, "registry.test/acme/rocket@sha256:new", d.Spec.Template.Spec.Containers[0].Image)
}

func TestSetDesiredImageExcludedNamespace(t *testing.T) {
	client := fake.NewSimpleClientset(deployment(2, apiapps.DeploymentStatus{}))
	c := NewCluster(client, cluster.ExcludeIncludeGlob{Exclude: []string{"default"}}, log.NewNopLogger())

	err := c.SetDesiredImage(context.Background(), target, "registry.test/acme/rocket@sha256:new")
	assert.Error(t, err)
}

func TestWaitForRolloutComplete(t *testing.T) {
	client := fake.NewSimpleClientset(deployment(2, apiapps.DeploymentStatus{
		ObservedGeneration: 1,
		Replicas:           2,
		UpdatedReplicas:    2,
		ReadyReplicas:      2,
		AvailableReplicas:  2,
	}))
	c := NewCluster(client, nil, log.NewNopLogger())

	status, err := c.WaitForRollout(context.Background(), target, time.Second)
	assert.NoError(t, err)
	assert.True(t, status.Complete())
}

func TestWaitForRolloutStuck(t *testing.T) {
	client := fake.NewSimpleClientset(deployment(2, apiapps.DeploymentStatus{
		ObservedGeneration: 1,
		Replicas:           2,
		UpdatedReplicas:    1,
		Conditions: []apiapps.DeploymentCondition{
			{
				Type:    apiapps.DeploymentProgressing,
				Status:  apiv1.ConditionFalse,
				Message: "deadline exceeded",
			},
		},
	}))
	c := NewCluster(client, nil, log.NewNopLogger())

	status, err := c.WaitForRollout(context.Background(), target, time.Second)
	assert.Error(t, err)
	assert.Contains(t, status.Messages, "deadline exceeded")
}

func TestWaitForRolloutTimeout(t *testing.T) {
	client := fake.NewSimpleClientset(deployment(2, apiapps.DeploymentStatus{
		ObservedGeneration: 1,
		Replicas:           2,
		UpdatedReplicas:    1,
		ReadyReplicas:      1,
		AvailableReplicas:  1,
	}))
	c := NewCluster(client, nil, log.NewNopLogger())
	c.pollInterval = 10 * time.Millisecond

	_, err := c.WaitForRollout(context.Background(), target, 50*time.Millisecond)
	assert.Error(t, err)
}
