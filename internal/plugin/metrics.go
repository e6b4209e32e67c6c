package plugin

import "github.com/prometheus/client_golang/prometheus"

// Package-level lifecycle metrics. The observability server registers them
// so the manager can record events without holding a server reference.
var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vybe_plugin_loads_total",
			Help: "Total number of plugin load attempts by result",
		},
		[]string{"result"},
	)

	activationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vybe_plugin_activations_total",
			Help: "Total number of plugin activation attempts by result",
		},
		[]string{"result"},
	)

	installsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vybe_plugin_installs_total",
			Help: "Total number of plugin install attempts by result",
		},
		[]string{"result"},
	)

	updateRollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vybe_plugin_update_rollbacks_total",
			Help: "Total number of plugin updates rolled back to the previous version",
		},
	)

	pluginsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vybe_plugins_loaded",
			Help: "Number of plugins currently loaded",
		},
	)
)

// RegisterMetrics registers the plugin lifecycle metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(loadsTotal, activationsTotal, installsTotal, updateRollbacksTotal, pluginsLoaded)
}

func recordResult(vec *prometheus.CounterVec, err error) {
	if err != nil {
		vec.WithLabelValues("failure").Inc()
		return
	}
	vec.WithLabelValues("success").Inc()
}
