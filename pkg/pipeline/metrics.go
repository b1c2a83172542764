package pipeline

import (
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	cuttermetrics "github.com/cuttercd/cutter/pkg/metrics"
)

var (
	phaseDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cutter",
		Subsystem: "pipeline",
		Name:      "phase_duration_seconds",
		Help:      "Duration of pipeline phases, in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{cuttermetrics.LabelPhase, cuttermetrics.LabelSuccess})
	runDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cutter",
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Duration of whole pipeline runs, in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{cuttermetrics.LabelSuccess})
)

func observePhase(phase Phase, start time.Time, success bool) {
	phaseDuration.With(
		cuttermetrics.LabelPhase, string(phase),
		cuttermetrics.LabelSuccess, strconv.FormatBool(success),
	).Observe(time.Since(start).Seconds())
}

func observeRun(start time.Time, success bool) {
	runDuration.With(
		cuttermetrics.LabelSuccess, strconv.FormatBool(success),
	).Observe(time.Since(start).Seconds())
}
