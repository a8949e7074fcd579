package registry

import "github.com/prometheus/client_golang/prometheus"

// Prometheus lifecycle metrics.
var (
	pluginsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stbemu_plugins",
			Help: "Number of registered plugins per lifecycle state.",
		},
		[]string{"state"},
	)
	pluginInitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stbemu_plugin_init_duration_seconds",
			Help:    "Time spent in plugin Initialize calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin", "result"},
	)
)

func init() {
	prometheus.MustRegister(pluginsByState)
	prometheus.MustRegister(pluginInitDuration)
}
