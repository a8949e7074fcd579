package profile

import "github.com/prometheus/client_golang/prometheus"

// Prometheus profile metrics.
var (
	profilesKnown = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stbemu_profiles",
		Help: "Number of known profiles.",
	})
	profileSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stbemu_profile_switches_total",
			Help: "Profile activations by class and outcome.",
		},
		[]string{"class", "result"},
	)
)

func init() {
	prometheus.MustRegister(profilesKnown)
	prometheus.MustRegister(profileSwitches)
}
