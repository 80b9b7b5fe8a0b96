package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors for the monitor. All methods are
// safe on a nil receiver so metrics can be left out.
type Metrics struct {
	Registry           *prometheus.Registry
	CyclesTotal        *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	ListingsFound      prometheus.Counter
	ListingsNew        prometheus.Counter
	ListingsSuppressed prometheus.Counter
	SearchErrors       prometheus.Counter
	Notifications      *prometheus.CounterVec
	SendDuration       *prometheus.HistogramVec
	RetryCount         prometheus.Gauge
	StoreRecords       prometheus.Gauge
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	cycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketwatch_cycles_total",
			Help: "Check cycles run, by result.",
		},
		[]string{"result"},
	)
	cycleDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketwatch_cycle_duration_seconds",
			Help:    "Wall time of a check cycle.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)
	found := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_listings_found_total",
		Help: "Listings returned by the source after in-batch dedup.",
	})
	fresh := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_listings_new_total",
		Help: "Listings not seen before.",
	})
	suppressed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_listings_suppressed_total",
		Help: "New listings rejected by the item rule.",
	})
	searchErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_search_errors_total",
		Help: "Per-term source failures.",
	})
	notifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketwatch_notifications_total",
			Help: "Notification sends by channel and result.",
		},
		[]string{"channel", "result"},
	)
	sendDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketwatch_send_duration_seconds",
			Help:    "Latency of a single notification send.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)
	retryCount := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketwatch_retry_count",
		Help: "Consecutive failed cycles.",
	})
	storeRecords := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketwatch_store_records",
		Help: "Records in the seen store after the last cycle.",
	})

	registry.MustRegister(cycles, cycleDuration, found, fresh, suppressed, searchErrors,
		notifications, sendDuration, retryCount, storeRecords)

	return &Metrics{
		Registry:           registry,
		CyclesTotal:        cycles,
		CycleDuration:      cycleDuration,
		ListingsFound:      found,
		ListingsNew:        fresh,
		ListingsSuppressed: suppressed,
		SearchErrors:       searchErrors,
		Notifications:      notifications,
		SendDuration:       sendDuration,
		RetryCount:         retryCount,
		StoreRecords:       storeRecords,
	}
}

func (m *Metrics) ObserveCycle(ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) AddFound(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ListingsFound.Add(float64(n))
}

func (m *Metrics) AddNew(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ListingsNew.Add(float64(n))
}

func (m *Metrics) AddSuppressed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ListingsSuppressed.Add(float64(n))
}

func (m *Metrics) IncSearchError() {
	if m == nil {
		return
	}
	m.SearchErrors.Inc()
}

// ObserveSend records one channel send.
func (m *Metrics) ObserveSend(channel string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.Notifications.WithLabelValues(channel, result).Inc()
	m.SendDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
}

func (m *Metrics) SetRetryCount(n int) {
	if m == nil {
		return
	}
	m.RetryCount.Set(float64(n))
}

func (m *Metrics) SetStoreRecords(n int) {
	if m == nil {
		return
	}
	m.StoreRecords.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
