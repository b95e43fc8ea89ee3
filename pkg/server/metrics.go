package server

import "github.com/prometheus/client_golang/prometheus"

var (
	metricRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "securesession",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Requests handled by the reference server, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"})
)

func init() {
	prometheus.MustRegister(metricRequests)
}
