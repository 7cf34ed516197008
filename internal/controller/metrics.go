package controller

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var metricsConfig = struct {
	tunnelsProvisioned prometheus.Counter
	tunnelFailures     prometheus.Counter
	routesConfigured   prometheus.Counter
	routeFailures      prometheus.Counter
	ingressPushes      prometheus.Counter
	setMetrics         sync.Once
}{
	tunnelsProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tunnel_provisioner",
		Name:      "tunnels_provisioned_total",
		Help:      "Tunnels that reached the running state.",
	}),
	tunnelFailures: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tunnel_provisioner",
		Name:      "tunnel_failures_total",
		Help:      "Tunnels that reached the failed state.",
	}),
	routesConfigured: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tunnel_provisioner",
		Name:      "routes_configured_total",
		Help:      "Routes that reached the finished state.",
	}),
	routeFailures: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tunnel_provisioner",
		Name:      "route_failures_total",
		Help:      "Routes that reached the failed state.",
	}),
	ingressPushes: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tunnel_provisioner",
		Name:      "ingress_pushes_total",
		Help:      "Full ingress table replace operations.",
	}),
}

// EnableMetrics registers the controller metrics with the registerer,
// once per process.
func EnableMetrics(reg prometheus.Registerer) {
	metricsConfig.setMetrics.Do(func() {
		reg.MustRegister(
			metricsConfig.tunnelsProvisioned,
			metricsConfig.tunnelFailures,
			metricsConfig.routesConfigured,
			metricsConfig.routeFailures,
			metricsConfig.ingressPushes,
		)
	})
}
