package telemetry

import "github.com/prometheus/client_golang/prometheus"

const algoloungeNamespace string = "algolounge"

var (
	promSessionTotal        prometheus.Gauge
	ServiceOperationCounter *prometheus.CounterVec
)

func init() {
	promSessionTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: algoloungeNamespace,
		Subsystem: "voice_session",
		Name:      "total",
	})

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: algoloungeNamespace,
			Subsystem: "voice_client",
			Name:      "service_operation",
		},
		[]string{"type", "status", "error_type"},
	)

	prometheus.MustRegister(promSessionTotal)
	prometheus.MustRegister(ServiceOperationCounter)
}

func SessionStarted() {
	promSessionTotal.Inc()
}

func SessionStopped() {
	promSessionTotal.Dec()
}
