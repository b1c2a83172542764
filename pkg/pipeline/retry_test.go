package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	calls := 0
	attempts, err := RetryPolicy{Max: 3, Backoff: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicyExhausts(t *testing.T) {
	attempts, err := RetryPolicy{Max: 3, Backoff: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		return errors.New("still broken")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicyNonRetryable(t *testing.T) {
	attempts, err := RetryPolicy{
		Max:       3,
		Backoff:   time.Millisecond,
		Retryable: func(error) bool { return false },
	}.Do(context.Background(), func(context.Context) error {
		return errors.New("hard failure")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicyZeroMaxRunsOnce(t *testing.T) {
	calls := 0
	attempts, err := RetryPolicy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := RetryPolicy{Max: 5, Backoff: time.Hour}.Do(ctx, func(context.Context) error {
		return errors.New("flaky")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
