package syncer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the sync engine.
type Metrics struct {
	Registry        *prometheus.Registry
	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	PagesTotal      *prometheus.CounterVec
	RecordsTotal    *prometheus.CounterVec
	PageRetries     prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	EventsTotal     *prometheus.CounterVec
	LastSuccessTime prometheus.Gauge
	ShipCount       prometheus.Gauge
}

// NewMetrics registers everything on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsync_runs_total",
		Help: "Sync runs by trigger and final status.",
	}, []string{"trigger", "status"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetsync_run_duration_seconds",
		Help:    "Wall-clock duration of finished sync runs.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
	pages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsync_pages_total",
		Help: "Catalog pages by result.",
	}, []string{"result"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsync_records_total",
		Help: "Catalog records by classification.",
	}, []string{"kind"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetsync_page_retries_total",
		Help: "Repeated page fetch attempts.",
	})
	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsync_errors_total",
		Help: "Run errors by type.",
	}, []string{"error_type"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsync_events_total",
		Help: "Published Kafka events by topic and result.",
	}, []string{"topic", "result"})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetsync_last_published_timestamp_seconds",
		Help: "Unix time of the last published status snapshot.",
	})
	shipCount := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetsync_ship_count",
		Help: "Ship documents in storage after the last run.",
	})

	registry.MustRegister(runs, duration, pages, records, retries, errorsTotal, events, lastSuccess, shipCount)

	return &Metrics{
		Registry:        registry,
		RunsTotal:       runs,
		RunDuration:     duration,
		PagesTotal:      pages,
		RecordsTotal:    records,
		PageRetries:     retries,
		ErrorsTotal:     errorsTotal,
		EventsTotal:     events,
		LastSuccessTime: lastSuccess,
		ShipCount:       shipCount,
	}
}

func (m *Metrics) ObserveRun(trigger, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(trigger, status).Inc()
	if d > 0 {
		m.RunDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncPage(result string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) AddRecords(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.PageRetries.Inc()
}

func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) IncEvent(topic, result string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) SetPublished(at time.Time, ships int) {
	if m == nil {
		return
	}
	m.LastSuccessTime.Set(float64(at.Unix()))
	m.ShipCount.Set(float64(ships))
}
