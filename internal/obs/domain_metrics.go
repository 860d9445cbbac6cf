package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutTransitions counts controller state transitions.
	CheckoutTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_transition_total",
		Help: "Checkout flow state transitions.",
	}, []string{"from", "to"})
	// CheckoutAttempts counts finished checkout attempts by result and failure reason.
	CheckoutAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_attempt_total",
		Help: "Finished checkout attempts by result.",
	}, []string{"result", "reason"})
	// WidgetScriptLoads counts checkout script load outcomes.
	WidgetScriptLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "widget_script_load_total",
		Help: "Checkout script load outcomes.",
	}, []string{"result"})
	// BackendCalls counts commerce backend calls by operation and result.
	BackendCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_call_total",
		Help: "Commerce backend calls by operation and result.",
	}, []string{"operation", "result"})
	// BackendCallLatency records commerce backend latency in milliseconds.
	BackendCallLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backend_call_duration_ms",
		Help:    "Commerce backend call latency in milliseconds.",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"operation"})
	// CheckoutTasks counts processed background tasks.
	CheckoutTasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_task_total",
		Help: "Checkout background task outcomes.",
	}, []string{"type", "result"})
)

// MustRegisterDomainMetrics registers the checkout collectors once. Collectors
// stay usable without registration, which keeps unit tests independent of a
// registry.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if namespace != "" {
			reg = prometheus.WrapRegistererWithPrefix(namespace+"_", reg)
		}
		for _, c := range []prometheus.Collector{
			CheckoutTransitions,
			CheckoutAttempts,
			WidgetScriptLoads,
			BackendCalls,
			BackendCallLatency,
			CheckoutTasks,
		} {
			mustRegisterCollector(reg, c)
		}
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector) {
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
