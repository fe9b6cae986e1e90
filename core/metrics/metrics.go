package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch status label values.
const (
	StatusSuccess      = "success"
	StatusFailed       = "failed"
	StatusUnregistered = "unregistered"
)

var (
	// FetchCounter counts FetchAndPublish calls by topic and outcome.
	FetchCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashcore_fetches_total",
		Help: "Total number of fetch-and-publish calls.",
	}, []string{"topic", "status"})

	// FetchDuration measures the remote fetch latency per topic.
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashcore_fetch_duration_seconds",
		Help:    "Duration of dataset fetches in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})

	// DeliveryCounter counts handler invocations during fan-out.
	DeliveryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashcore_deliveries_total",
		Help: "Total number of subscriber deliveries.",
	}, []string{"topic"})

	// HandlerPanicCounter counts subscriber handlers and event listeners that panicked.
	HandlerPanicCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashcore_handler_panics_total",
		Help: "Total number of recovered panics in subscriber handlers and event listeners.",
	}, []string{"kind", "name"})

	// Subscribers tracks live subscriptions per topic.
	Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dashcore_subscribers",
		Help: "Number of live subscriptions per topic.",
	}, []string{"topic"})

	// ActiveIntervals tracks running refresh timers per page.
	ActiveIntervals = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dashcore_active_intervals",
		Help: "Number of running refresh timers per page.",
	}, []string{"page"})

	// TickErrors counts failed scheduled refreshes.
	TickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashcore_tick_errors_total",
		Help: "Total number of scheduled refreshes that failed.",
	}, []string{"page", "topic"})

	// ServiceStartCounter counts kernel service start attempts by outcome.
	ServiceStartCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashcore_service_starts_total",
		Help: "Total number of service start attempts.",
	}, []string{"service", "status"})

	// ServiceStopCounter counts kernel service stop attempts by outcome.
	ServiceStopCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashcore_service_stops_total",
		Help: "Total number of service stop attempts.",
	}, []string{"service", "status"})
)

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
