package middleware

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	minLimit  = 0.1
	backOffBy = 2.0
	recoverBy = 1.5
)

// RateLimiters keeps track of per-host rate limiting for an arbitrary
// set of registry hosts.
//
// Use `*RateLimiters.RoundTripper(host)` to obtain a rate limited HTTP
// transport for an operation. The RoundTripper reacts to a `HTTP 429
// Too Many Requests` response by reducing the limit for that host, and
// to the first successful response by raising it modestly back towards
// the configured rate. It does each at most once, so that the many
// requests of a single push don't compound the adjustment.
type RateLimiters struct {
	RPS     float64
	Burst   int
	Logger  log.Logger
	perHost map[string]*rate.Limiter
	mu      sync.Mutex
}

func (limiters *RateLimiters) clip(limit float64) float64 {
	if limit < minLimit {
		return minLimit
	}
	if limit > limiters.RPS {
		return limiters.RPS
	}
	return limit
}

// callers must hold mu
func (limiters *RateLimiters) limiterFor(host string) *rate.Limiter {
	if limiters.perHost == nil {
		limiters.perHost = map[string]*rate.Limiter{}
	}
	if _, ok := limiters.perHost[host]; !ok {
		limiters.perHost[host] = rate.NewLimiter(rate.Limit(limiters.RPS), limiters.Burst)
	}
	return limiters.perHost[host]
}

func (limiters *RateLimiters) backOff(host string) {
	limiters.mu.Lock()
	defer limiters.mu.Unlock()

	limiter := limiters.limiterFor(host)
	oldLimit := float64(limiter.Limit())
	newLimit := limiters.clip(oldLimit / backOffBy)
	if oldLimit != newLimit && limiters.Logger != nil {
		limiters.Logger.Log("info", "reducing rate limit", "host", host, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
	}
	limiter.SetLimit(rate.Limit(newLimit))
}

func (limiters *RateLimiters) recover(host string) {
	limiters.mu.Lock()
	defer limiters.mu.Unlock()

	limiter := limiters.limiterFor(host)
	oldLimit := float64(limiter.Limit())
	newLimit := limiters.clip(oldLimit * recoverBy)
	if oldLimit != newLimit && limiters.Logger != nil {
		limiters.Logger.Log("info", "increasing rate limit", "host", host, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
	}
	limiter.SetLimit(rate.Limit(newLimit))
}

// RoundTripper returns a rate limited HTTP transport for a particular
// host. We expect to do a number of requests to a particular host at a
// time.
func (limiters *RateLimiters) RoundTripper(rt http.RoundTripper, host string) http.RoundTripper {
	limiters.mu.Lock()
	limiter := limiters.limiterFor(host)
	limiters.mu.Unlock()

	var slowOnce, recoverOnce sync.Once
	return &roundTripRateLimiter{
		rl:   limiter,
		next: rt,
		slowDown: func() {
			slowOnce.Do(func() { limiters.backOff(host) })
		},
		speedUp: func() {
			recoverOnce.Do(func() { limiters.recover(host) })
		},
	}
}

type roundTripRateLimiter struct {
	rl       *rate.Limiter
	next     http.RoundTripper
	slowDown func()
	speedUp  func()
}

func (t *roundTripRateLimiter) RoundTrip(r *http.Request) (*http.Response, error) {
	// Wait errors out if the request cannot be processed within
	// the deadline. This is pre-emptive, instead of waiting the
	// entire duration.
	if err := t.rl.Wait(r.Context()); err != nil {
		return nil, errors.Wrap(err, "rate limited")
	}
	resp, err := t.next.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		t.slowDown()
	case resp.StatusCode < 300:
		t.speedUp()
	}
	return resp, nil
}
