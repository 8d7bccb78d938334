package dwc

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the store's collectors.
type metrics struct {
	registered     prometheus.Gauge
	registryEvents *prometheus.CounterVec
	gatewayCalls   *prometheus.CounterVec
	traceEntries   prometheus.Counter
	bindingPasses  *prometheus.CounterVec
	renders        *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dwc",
			Name:      "components_registered",
			Help:      "Number of components currently in the registry.",
		}),
		registryEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwc",
			Subsystem: "registry",
			Name:      "events_total",
			Help:      "Registry mutations by operation (register, deregister).",
		}, []string{"op"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwc",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Cross-component calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		traceEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dwc",
			Subsystem: "trace",
			Name:      "entries_total",
			Help:      "Trace log entries built and emitted.",
		}),
		bindingPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwc",
			Subsystem: "binding",
			Name:      "passes_total",
			Help:      "Binding resolution passes by component name.",
		}, []string{"component"}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwc",
			Name:      "renders_total",
			Help:      "Render callback invocations by component name.",
		}, []string{"component"}),
	}

	m.registered = register(reg, m.registered)
	m.registryEvents = register(reg, m.registryEvents)
	m.gatewayCalls = register(reg, m.gatewayCalls)
	m.traceEntries = register(reg, m.traceEntries)
	m.bindingPasses = register(reg, m.bindingPasses)
	m.renders = register(reg, m.renders)
	return m
}

// register adds c to reg, returning the collector already registered under
// the same descriptor when there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(fmt.Sprintf("dwc: failed to register metrics: %v", err))
	}
	return c
}
