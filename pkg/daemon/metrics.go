package daemon

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/cuttercd/cutter/pkg/metrics"
)

var (
	// A scan walks every watched branch and the tag list; against a
	// local mirror that is fast, against a cold remote less so.
	scanDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cutter",
		Subsystem: "daemon",
		Name:      "scan_duration_seconds",
		Help:      "Duration of branch and tag scans, in seconds.",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 20, 40},
	}, []string{metrics.LabelSuccess})

	// For most decision jobs the majority of the time is spent pushing
	// the tag and the marker commit upstream.
	jobDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cutter",
		Subsystem: "daemon",
		Name:      "job_duration_seconds",
		Help:      "Duration of decision job execution, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 20, 30, 45, 60, 120},
	}, []string{metrics.LabelSuccess})

	// Same buckets as above (on the rough and ready assumption that
	// jobs will wait for some small multiple of job execution times)
	queueDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cutter",
		Subsystem: "daemon",
		Name:      "queue_duration_seconds",
		Help:      "Duration of time spent in the job queue before execution, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 20, 30, 45, 60, 120},
	}, []string{})

	queueLength = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "cutter",
		Subsystem: "daemon",
		Name:      "queue_length_count",
		Help:      "Count of decision jobs waiting in the queue to be run.",
	}, []string{})

	activeRuns = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "cutter",
		Subsystem: "daemon",
		Name:      "active_runs_count",
		Help:      "Number of decision and pipeline runs currently in progress.",
	}, []string{})
)
