package registry

// Monitoring middlewares for registry interfaces

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/opencontainers/go-digest"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	cuttermetrics "github.com/cuttercd/cutter/pkg/metrics"
)

const (
	LabelRequestKind   = "kind"
	RequestKindPublish = "publish"
	RequestKindCheck   = "check"
)

var (
	requestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cutter",
		Subsystem: "registry",
		Name:      "request_duration_seconds",
		Help:      "Duration of artifact registry requests, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{LabelRequestKind, cuttermetrics.LabelSuccess})
)

type instrumentedRegistry struct {
	next Registry
}

func NewInstrumentedRegistry(next Registry) Registry {
	return &instrumentedRegistry{
		next: next,
	}
}

func (m *instrumentedRegistry) Publish(ctx context.Context, ref, artifactPath string) (res digest.Digest, err error) {
	start := time.Now()
	res, err = m.next.Publish(ctx, ref, artifactPath)
	requestDuration.With(
		LabelRequestKind, RequestKindPublish,
		cuttermetrics.LabelSuccess, strconv.FormatBool(err == nil),
	).Observe(time.Since(start).Seconds())
	return
}

func (m *instrumentedRegistry) Exists(ctx context.Context, ref string) (res bool, err error) {
	start := time.Now()
	res, err = m.next.Exists(ctx, ref)
	requestDuration.With(
		LabelRequestKind, RequestKindCheck,
		cuttermetrics.LabelSuccess, strconv.FormatBool(err == nil),
	).Observe(time.Since(start).Seconds())
	return
}
