package release

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/cuttercd/cutter/pkg/convention"
	cuttermetrics "github.com/cuttercd/cutter/pkg/metrics"
)

var (
	cutDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cutter",
		Subsystem: "release",
		Name:      "cut_duration_seconds",
		Help:      "Duration in seconds of cutting a release.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{cuttermetrics.LabelSuccess, cuttermetrics.LabelBump})
	decideDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cutter",
		Subsystem: "release",
		Name:      "decide_duration_seconds",
		Help:      "Duration in seconds of deciding whether a branch head warrants a release.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{cuttermetrics.LabelDecision})
	stageDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cutter",
		Subsystem: "release",
		Name:      "stage_duration_seconds",
		Help:      "Duration in seconds of each stage of cutting a release.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{cuttermetrics.LabelStage})
)

func NewStageTimer(stage string) *metrics.Timer {
	return metrics.NewTimer(stageDuration.With(cuttermetrics.LabelStage, stage))
}

func observeCut(start time.Time, success bool, bump convention.BumpKind) {
	cutDuration.With(
		cuttermetrics.LabelSuccess, fmt.Sprint(success),
		cuttermetrics.LabelBump, bump.String(),
	).Observe(time.Since(start).Seconds())
}

func observeDecide(start time.Time, err error, cut bool) {
	decision := "no-release"
	switch {
	case err != nil:
		decision = "error"
	case cut:
		decision = "cut-release"
	}
	decideDuration.With(
		cuttermetrics.LabelDecision, decision,
	).Observe(time.Since(start).Seconds())
}
