package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbound_breaker_state",
			Help: "Current breaker state per outbound target: 0=closed,1=open,2=half-open",
		},
		[]string{"target"},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_breaker_transition_total",
			Help: "Count of breaker state transitions per outbound target",
		},
		[]string{"target", "from", "to"},
	)
	OutboundAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_http_attempt_total",
			Help: "Outbound HTTP attempts by target and outcome",
		},
		[]string{"target", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, OutboundAttempts)
}
