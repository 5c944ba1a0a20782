package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const namespace = "paddle"

// Collector records snapshot service metrics.
type Collector struct {
	apiRequests     *prometheus.CounterVec
	apiDuration     *prometheus.HistogramVec
	appends         prometheus.Counter
	rejections      *prometheus.CounterVec
	storedSnapshots prometheus.Gauge
	latestEpisode   prometheus.Gauge
	historyStale    prometheus.Gauge

	logger zerolog.Logger
}

// NewCollector registers the service collectors on reg.
func NewCollector(reg prometheus.Registerer, logger zerolog.Logger) *Collector {
	f := promauto.With(reg)
	return &Collector{
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		apiDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		appends: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_appended_total",
			Help:      "Snapshots accepted by the service",
		}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_rejected_total",
			Help:      "Append requests that were not stored",
		}, []string{"reason"}),
		storedSnapshots: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshots_stored",
			Help:      "Records currently held in the history",
		}),
		latestEpisode: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshots_latest_episode",
			Help:      "Episode number of the newest record",
		}),
		historyStale: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshots_history_stale",
			Help:      "1 when the newest record is older than the stale threshold",
		}),
		logger: logger,
	}
}

// APIRequest tracks one served HTTP request.
func (c *Collector) APIRequest(method, route string, statusCode int, duration time.Duration) {
	c.apiRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.apiDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SnapshotAppended tracks a stored record and the resulting history size.
func (c *Collector) SnapshotAppended(episode float64, stored int) {
	c.appends.Inc()
	c.latestEpisode.Set(episode)
	c.storedSnapshots.Set(float64(stored))
}

// AppendRejected tracks an append that was not stored.
func (c *Collector) AppendRejected(reason string) {
	c.rejections.WithLabelValues(reason).Inc()
}

// HistoryStatus tracks staleness transitions.
func (c *Collector) HistoryStatus(status string, age time.Duration) {
	if status == "stale" {
		c.historyStale.Set(1)
		c.logger.Warn().
			Str("metric", "history_status").
			Str("status", status).
			Dur("age", age).
			Msg("Snapshot history stale")
		return
	}
	c.historyStale.Set(0)
}
