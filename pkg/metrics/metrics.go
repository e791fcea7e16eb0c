package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dokon",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dokon",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	prometheus.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// OrderMetrics counts outcomes of the order workflow so the stock-contention
// behavior is visible without log digging.
type OrderMetrics struct {
	Created           prometheus.Counter
	InsufficientStock prometheus.Counter
	Compensations     prometheus.Counter
}

func NewOrderMetrics(service string) *OrderMetrics {
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dokon",
		Subsystem: service,
		Name:      "orders_created_total",
		Help:      "Successfully created orders.",
	})
	insufficient := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dokon",
		Subsystem: service,
		Name:      "orders_insufficient_stock_total",
		Help:      "Order attempts rejected for insufficient stock.",
	})
	compensations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dokon",
		Subsystem: service,
		Name:      "order_compensations_total",
		Help:      "Compensating stock releases executed after a failed build or persist.",
	})

	prometheus.MustRegister(created, insufficient, compensations)
	return &OrderMetrics{Created: created, InsufficientStock: insufficient, Compensations: compensations}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
