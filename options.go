package dwc

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pthm/dwc/lib/eventbus"
)

// DefaultDebounce is the quiet period applied to binding passes triggered by
// a source property change.
const DefaultDebounce = 250 * time.Millisecond

// Option configures a Store.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	debounce   time.Duration
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	busOpts    []eventbus.Option
}

// WithLogger sets the logger shared by the registry, the bus and every
// component mounted on the store. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDebounce overrides DefaultDebounce. A zero or negative value keeps the
// default.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithRegisterer registers the store metrics with reg instead of a private
// registry. Use this to expose dwc metrics on an existing /metrics endpoint.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
		if g, ok := reg.(prometheus.Gatherer); ok {
			o.gatherer = g
		}
	}
}

// WithBusOptions passes extra options to the store's event bus.
func WithBusOptions(opts ...eventbus.Option) Option {
	return func(o *options) {
		o.busOpts = append(o.busOpts, opts...)
	}
}

func buildOptions(opts []Option) *options {
	o := &options{debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.registerer == nil {
		reg := prometheus.NewRegistry()
		o.registerer = reg
		o.gatherer = reg
	}
	return o
}
