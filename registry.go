package dwc

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pthm/dwc/lib/eventbus"
)

// Event bus topics used by the registry.
const (
	// TopicRegistryUpdated is emitted after every registration and every
	// deregistration that removed something.
	TopicRegistryUpdated = "cmp:reg:updated"
	// TopicTraceLog carries TraceLogEntry values.
	TopicTraceLog = "cmp:trace:log"

	topicPrefix         = "cmp:"
	topicPropertySuffix = ":prop:changed"
)

// PropertyChangedTopic returns the topic a component emits on when one of
// its properties changes. Receivers get the property key and new value.
func PropertyChangedTopic(id string) string {
	return topicPrefix + id + topicPropertySuffix
}

// Descriptor is the registry entry for one mounted component.
type Descriptor struct {
	Identifier string
	// Instance is the component. The registry does not own it.
	Instance Discoverable
	Class    *Class
	// Properties and Methods are copies of the class metadata taken at
	// registration.
	Properties   []MemberMetadata
	Methods      []MemberMetadata
	RegisteredAt time.Time
}

// Name returns the class name of the described component.
func (d Descriptor) Name() string {
	if d.Class == nil {
		return ""
	}
	return d.Class.info.Name
}

// Component returns the embedded base of the described component.
func (d Descriptor) Component() *Component {
	return baseOf(d.Instance)
}

func (d Descriptor) exposesProperty(name string) bool {
	return containsMember(d.Properties, name)
}

func (d Descriptor) exposesMethod(name string) bool {
	return containsMember(d.Methods, name)
}

// Registry tracks mounted components by identifier, in registration order.
// It also hosts the cross-component gateway; see SetProperty and
// InvokeMethod.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Descriptor
	order   []string

	bus     *eventbus.Bus
	logger  *slog.Logger
	metrics *metrics
}

func newRegistry(s *Store) *Registry {
	return &Registry{
		entries: make(map[string]*Descriptor),
		bus:     s.bus,
		logger:  s.logger.With("subsystem", "registry"),
		metrics: s.metrics,
	}
}

// Register adds desc, replacing any entry with the same identifier, and
// emits TopicRegistryUpdated. The class metadata is copied onto the entry.
//
// Components register themselves from Mount; call Register directly only
// when building tooling. A descriptor without an identifier or without a
// component instance is logged at debug level and dropped.
func (r *Registry) Register(desc Descriptor) {
	_ = r.add(desc, false)
}

// add registers desc. With unique set it fails instead when a component of
// the same class name is already registered.
func (r *Registry) add(desc Descriptor, unique bool) error {
	if desc.Identifier == "" || desc.Component() == nil {
		r.logger.Debug("register: rejected descriptor", "component", desc.Name(), "id", desc.Identifier)
		return fmt.Errorf("register %s %q: %w", desc.Name(), desc.Identifier, ErrInvalidComponent)
	}
	if desc.Class != nil {
		desc.Properties = desc.Class.Properties()
		desc.Methods = desc.Class.Methods()
	}
	if desc.RegisteredAt.IsZero() {
		desc.RegisteredAt = time.Now()
	}

	r.mu.Lock()
	if unique && r.findByNameLocked(desc.Name()) != nil {
		r.mu.Unlock()
		return ErrSingleInstanceViolation
	}
	if _, exists := r.entries[desc.Identifier]; !exists {
		r.order = append(r.order, desc.Identifier)
	}
	r.entries[desc.Identifier] = &desc
	n := len(r.entries)
	r.mu.Unlock()

	r.metrics.registered.Set(float64(n))
	r.metrics.registryEvents.WithLabelValues("register").Inc()
	r.logger.Debug("registered", "component", desc.Name(), "id", desc.Identifier)
	r.bus.Emit(TopicRegistryUpdated)
	return nil
}

// Deregister removes the entry for id. Nothing is emitted if there was no
// such entry.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	if _, ok := r.entries[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	r.order = slices.DeleteFunc(r.order, func(x string) bool { return x == id })
	n := len(r.entries)
	r.mu.Unlock()

	r.metrics.registered.Set(float64(n))
	r.metrics.registryEvents.WithLabelValues("deregister").Inc()
	r.logger.Debug("deregistered", "id", id)
	r.bus.Emit(TopicRegistryUpdated)
}

// All returns the registered descriptors in registration order. The slice
// is a snapshot.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.entries[id])
	}
	return out
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Lookup returns the descriptor registered under id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.entries[id]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// FindByName returns the earliest registered component whose class is
// named name.
func (r *Registry) FindByName(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d := r.findByNameLocked(name)
	if d == nil {
		return Descriptor{}, false
	}
	return *d, true
}

func (r *Registry) findByNameLocked(name string) *Descriptor {
	for _, id := range r.order {
		if d := r.entries[id]; d.Name() == name {
			return d
		}
	}
	return nil
}

// SubscribeRegistryUpdate subscribes recv to registry updates and returns
// the topic.
func (r *Registry) SubscribeRegistryUpdate(recv *eventbus.Receiver) string {
	r.bus.Subscribe(TopicRegistryUpdated, recv)
	return TopicRegistryUpdated
}

// UnsubscribeRegistryUpdate removes recv from registry updates.
func (r *Registry) UnsubscribeRegistryUpdate(recv *eventbus.Receiver) {
	if recv == nil {
		return
	}
	r.bus.Unsubscribe(TopicRegistryUpdated, recv)
}

// SubscribePropertyChange subscribes recv to property changes of the
// component id and returns the topic.
func (r *Registry) SubscribePropertyChange(id string, recv *eventbus.Receiver) string {
	topic := PropertyChangedTopic(id)
	r.bus.Subscribe(topic, recv)
	return topic
}

// UnsubscribePropertyChange removes recv from property changes of id.
func (r *Registry) UnsubscribePropertyChange(id string, recv *eventbus.Receiver) {
	if recv == nil {
		return
	}
	r.bus.Unsubscribe(PropertyChangedTopic(id), recv)
}

// SubscribeTraceLog subscribes recv to the trace log. See TraceReceiver.
func (r *Registry) SubscribeTraceLog(recv *eventbus.Receiver) {
	r.bus.Subscribe(TopicTraceLog, recv)
}

// UnsubscribeTraceLog removes recv from the trace log, or every trace log
// receiver if recv is nil.
func (r *Registry) UnsubscribeTraceLog(recv *eventbus.Receiver) {
	r.bus.Unsubscribe(TopicTraceLog, recv)
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry(%d)", r.Len())
}
