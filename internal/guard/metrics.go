package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла обработка (включая хендлер)
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во запросов
	TotalRequests *prometheus.CounterVec

	// Errors: классификация отказов гарда
	DenialsTotal *prometheus.CounterVec

	// Эффективность кэша запросов
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Saturation: заполненность буфера рекордера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без регистра метрики уходят в локальный реестр
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "esm_request_duration_seconds",
			Help:    "Histogram of guarded request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"route", "status"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "esm_requests_total",
			Help: "Total number of guarded requests.",
		}, []string{"route", "method"}),

		DenialsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "esm_denials_total",
			Help: "Total number of request denials by type.",
		}, []string{"type"}), // типы: rate_limit, unauthenticated, forbidden, validation, internal

		CacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "esm_query_cache_hits_total",
			Help: "Query cache hits.",
		}),

		CacheMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "esm_query_cache_misses_total",
			Help: "Query cache misses.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "esm_audit_buffer_utilization",
			Help: "Current number of events in the recorder buffer.",
		}),
	}
}
