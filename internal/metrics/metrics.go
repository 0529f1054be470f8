package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	RunCount        prometheus.Counter
	JobsProcessed   prometheus.Counter
	ItemsFound      prometheus.Counter
	ItemsNotified   prometheus.Counter
	DigestFailures  prometheus.Counter
	ProviderErrors  *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	ActiveJobs      prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RunCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketscout_run_count",
			Help: "Total number of agent runs",
		}),
		JobsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketscout_jobs_processed",
			Help: "Total number of search jobs processed",
		}),
		ItemsFound: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketscout_items_found",
			Help: "Total number of items returned by aggregation",
		}),
		ItemsNotified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketscout_items_notified",
			Help: "Total number of items included in dispatched digests",
		}),
		DigestFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketscout_digest_failures",
			Help: "Total number of failed digest dispatches",
		}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "marketscout_provider_errors",
			Help: "Provider query failures by provider",
		}, []string{"provider"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketscout_run_duration_seconds",
			Help:    "Wall-clock time of one agent run",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "marketscout_active_jobs",
			Help: "Number of currently enabled search jobs",
		}),
	}
}
