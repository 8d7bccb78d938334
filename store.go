package dwc

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pthm/dwc/lib/eventbus"
)

// Scope is a place a Store can be published in so that every caller holding
// the same scope observes the same store. The zero value is an empty scope.
type Scope struct {
	store atomic.Pointer[Store]
}

// processScope is the scope used by Instance.
var processScope Scope

// Store is the shared context every discoverable component is attached to.
// It owns the registry and the event bus. Its fields are fixed at
// construction; the registry contents are not.
type Store struct {
	registry *Registry
	bus      *eventbus.Bus
	logger   *slog.Logger
	metrics  *metrics
	gatherer prometheus.Gatherer
	debounce time.Duration
}

// GetInstance returns the store published in scope, creating and publishing
// one if the scope is empty. Concurrent callers racing on an empty scope all
// get the same store; the losers' stores are closed and discarded.
//
// Options only apply when this call creates the store.
//
// A nil scope returns ErrNoSharedScope.
func GetInstance(scope *Scope, opts ...Option) (*Store, error) {
	if scope == nil {
		return nil, ErrNoSharedScope
	}
	if s := scope.store.Load(); s != nil {
		return s, nil
	}

	s := NewStore(opts...)
	if !scope.store.CompareAndSwap(nil, s) {
		_ = s.Close()
		return scope.store.Load(), nil
	}
	return s, nil
}

// Instance returns the process-wide store, creating it on first use.
//
//	store := dwc.Instance()
//	broker := NewBroker(store)
func Instance() *Store {
	s, err := GetInstance(&processScope)
	if err != nil {
		panic(fmt.Sprintf("dwc: %v", err))
	}
	return s
}

// NewStore creates a store that is not published anywhere. Use it to inject
// a store explicitly, and in tests.
func NewStore(opts ...Option) *Store {
	o := buildOptions(opts)

	busOpts := append([]eventbus.Option{
		eventbus.WithLogger(o.logger),
		eventbus.WithRegisterer(o.registerer),
	}, o.busOpts...)

	s := &Store{
		bus:      eventbus.New(busOpts...),
		logger:   o.logger,
		metrics:  newMetrics(o.registerer),
		gatherer: o.gatherer,
		debounce: o.debounce,
	}
	s.registry = newRegistry(s)
	return s
}

// Registry returns the component registry.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Bus returns the event bus carrying registry, property and trace topics.
func (s *Store) Bus() *eventbus.Bus {
	return s.bus
}

// Logger returns the store logger.
func (s *Store) Logger() *slog.Logger {
	return s.logger
}

// Gatherer returns the registry the store metrics are registered with, or
// nil if a Registerer that cannot gather was supplied.
func (s *Store) Gatherer() prometheus.Gatherer {
	return s.gatherer
}

// Debounce returns the delay applied to property-change binding passes.
func (s *Store) Debounce() time.Duration {
	return s.debounce
}

// Close stops the event bus. Components still mounted keep their registry
// entries but receive no further notifications.
func (s *Store) Close() error {
	return s.bus.Close()
}
