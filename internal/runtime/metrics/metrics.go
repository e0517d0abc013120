// Package metrics holds the Prometheus collectors for the communication
// layer. Collectors are registered on an injected registerer so tests can
// use isolated registries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hrmesh"

// Metrics bundles the collectors shared by the gateway, breaker set,
// limiter, and bridge.
type Metrics struct {
	ProxyRequests       *prometheus.CounterVec
	BreakerTransitions  *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
	BridgePending       prometheus.Gauge
	BridgeTimeouts      prometheus.Counter
	BridgeOrphanReplies prometheus.Counter
}

// New registers the hrmesh collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProxyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Requests handled by the reverse proxy, by service and result code.",
		}, []string{"service", "code"}),
		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"service", "from", "to"}),
		RateLimitRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejections_total",
			Help:      "Requests rejected by the adaptive rate limiter, by category.",
		}, []string{"category"}),
		BridgePending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_pending_requests",
			Help:      "Correlated requests currently awaiting a reply.",
		}),
		BridgeTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_timeouts_total",
			Help:      "Correlated requests that hit their deadline.",
		}),
		BridgeOrphanReplies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_orphan_replies_total",
			Help:      "Replies dropped because no pending request matched.",
		}),
	}
}

// Nop returns metrics backed by a throwaway registry, for components
// constructed without observability.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
