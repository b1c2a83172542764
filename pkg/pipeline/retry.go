package pipeline

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a step may be re-run and how long to
// wait in between. The wait doubles after each failed attempt.
type RetryPolicy struct {
	Max     int
	Backoff time.Duration
	// Retryable filters which errors are worth another attempt; nil
	// means all of them are.
	Retryable func(error) bool
}

// Do runs f until it succeeds, attempts run out, or the context ends.
// It reports how many attempts were made along with the last error.
func (p RetryPolicy) Do(ctx context.Context, f func(ctx context.Context) error) (int, error) {
	max := p.Max
	if max < 1 {
		max = 1
	}
	backoff := p.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		err = f(ctx)
		if err == nil {
			return attempt, nil
		}
		if attempt == max || (p.Retryable != nil && !p.Retryable(err)) {
			return attempt, err
		}
		select {
		case <-ctx.Done():
			return attempt, err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
