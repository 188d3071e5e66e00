// Package metrics counts operation lifecycles passing through a store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zircuit-labs/zkr-go-thunk/action"
	"github.com/zircuit-labs/zkr-go-thunk/store"
	"github.com/zircuit-labs/zkr-go-thunk/thunk"
)

const defaultNamespace = "thunk"

type options struct {
	namespace string
}

// Option is an option func for NewCollector.
type Option func(options *options)

// WithNamespace sets the metric name prefix (default "thunk").
func WithNamespace(namespace string) Option {
	return func(options *options) {
		options.namespace = namespace
	}
}

// Collector holds the lifecycle metrics.
type Collector struct {
	lifecycle *prometheus.CounterVec
	inFlight  *prometheus.GaugeVec
	other     prometheus.Counter
}

// NewCollector registers the metrics with reg.
func NewCollector(reg prometheus.Registerer, opts ...Option) *Collector {
	options := options{namespace: defaultNamespace}
	for _, opt := range opts {
		opt(&options)
	}

	factory := promauto.With(reg)
	return &Collector{
		lifecycle: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: options.namespace,
			Name:      "lifecycle_actions_total",
			Help:      "Lifecycle actions dispatched, by operation type and phase",
		}, []string{"action_type", "phase"}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: options.namespace,
			Name:      "operations_in_flight",
			Help:      "Operations started but not yet done or failed",
		}, []string{"action_type"}),
		other: factory.NewCounter(prometheus.CounterOpts{
			Namespace: options.namespace,
			Name:      "other_actions_total",
			Help:      "Dispatched actions that are not part of a lifecycle",
		}),
	}
}

// Observe records a.
func (c *Collector) Observe(a action.Action) {
	base, phase := action.Lifecycle(a)
	switch phase {
	case action.PhaseNone:
		c.other.Inc()
		return
	case action.PhaseStarted:
		c.inFlight.WithLabelValues(base).Inc()
	case action.PhaseDone, action.PhaseFailed:
		c.inFlight.WithLabelValues(base).Dec()
	}
	c.lifecycle.WithLabelValues(base, phase.String()).Inc()
}

// Middleware returns store middleware observing every action before
// passing it on.
func Middleware[S any](c *Collector) store.Middleware[S] {
	return func(_ func() S, next thunk.Dispatch) thunk.Dispatch {
		return func(a action.Action) any {
			c.Observe(a)
			return next(a)
		}
	}
}
