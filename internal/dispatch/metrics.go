package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "ghqueue"

const (
	statusLabel = "status"
	laneLabel   = "lane"
	resultLabel = "result"
)

type metricCollector struct {
	jobsByStatus   *prometheus.GaugeVec
	processedJobs  *prometheus.CounterVec
	claimedJobs    *prometheus.CounterVec
	mergeConflicts prometheus.Counter
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		jobsByStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "jobs_number",
				Help:      "number of jobs per status",
			},
			[]string{statusLabel},
		),
		processedJobs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "processed_jobs_total",
				Help:      "count of executed jobs per lane and result",
			},
			[]string{laneLabel, resultLabel},
		),
		claimedJobs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "claimed_jobs_total",
				Help:      "count of claimed jobs per lane",
			},
			[]string{laneLabel},
		),
		mergeConflicts: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "dashboard_merge_conflicts_total",
				Help:      "count of dashboard merges that exhausted their retries",
			},
		),
	}
}

func (m *metricCollector) JobsByStatusSet(status string, val float64) {
	m.jobsByStatus.WithLabelValues(status).Set(val)
}

func (m *metricCollector) ProcessedJobsInc(lane, result string) {
	m.processedJobs.WithLabelValues(lane, result).Inc()
}

func (m *metricCollector) ClaimedJobsInc(lane string) {
	m.claimedJobs.WithLabelValues(lane).Inc()
}

func (m *metricCollector) MergeConflictsInc() {
	m.mergeConflicts.Inc()
}
