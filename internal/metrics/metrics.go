package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	engineOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carrierwave",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by outcome. result is ok or an error code.",
		},
		[]string{"op", "result"},
	)

	engineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carrierwave",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine transactions.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"op"},
	)

	settled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carrierwave",
			Subsystem: "engine",
			Name:      "settled_amount_total",
			Help:      "Smallest currency units moved, by transfer kind.",
		},
		[]string{"kind"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carrierwave",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carrierwave",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	relayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carrierwave",
			Subsystem: "mirror",
			Name:      "events_total",
			Help:      "Outbox events processed by the mirror relay.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		engineOps,
		engineDuration,
		settled,
		httpRequests,
		httpDuration,
		relayed,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordOperation records one engine transaction. result is "ok" or the error code.
func RecordOperation(op, result string, d time.Duration) {
	engineOps.WithLabelValues(op, result).Inc()
	engineDuration.WithLabelValues(op).Observe(d.Seconds())
}

func RecordTransfer(kind string, amount uint64) {
	settled.WithLabelValues(kind).Add(float64(amount))
}

func RecordRelay(result string) {
	relayed.WithLabelValues(result).Inc()
}

// InstrumentHandler records request counts and latency by chi route pattern.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
