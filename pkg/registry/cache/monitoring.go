package cache

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	cuttermetrics "github.com/cuttercd/cutter/pkg/metrics"
)

var (
	cacheRequestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cutter",
		Subsystem: "cache",
		Name:      "request_duration_seconds",
		Help:      "Duration of cache requests, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{cuttermetrics.LabelMethod, cuttermetrics.LabelSuccess})
)

type instrumentedClient struct {
	next Client
}

func InstrumentClient(c Client) Client {
	return &instrumentedClient{
		next: c,
	}
}

func (i *instrumentedClient) GetKey(k Keyer) (_ []byte, err error) {
	defer func(begin time.Time) {
		cacheRequestDuration.With(
			cuttermetrics.LabelMethod, "GetKey",
			cuttermetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())
	return i.next.GetKey(k)
}

func (i *instrumentedClient) SetKey(k Keyer, v []byte) (err error) {
	defer func(begin time.Time) {
		cacheRequestDuration.With(
			cuttermetrics.LabelMethod, "SetKey",
			cuttermetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())
	return i.next.SetKey(k, v)
}
