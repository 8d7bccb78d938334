package dwc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/a-h/templ"
	"github.com/google/uuid"

	"github.com/pthm/dwc/lib/eventbus"
)

// State is the lifecycle state of a component instance.
type State int

const (
	// Unmounted components are not in the registry.
	Unmounted State = iota
	// Mounted components are registered and declare no bindings.
	Mounted
	// BindingsPending components have at least one binding whose source is
	// not registered.
	BindingsPending
	// BindingsResolved components found a source for every binding.
	BindingsResolved
)

func (s State) String() string {
	switch s {
	case Unmounted:
		return "unmounted"
	case Mounted:
		return "mounted"
	case BindingsPending:
		return "bindings-pending"
	case BindingsResolved:
		return "bindings-resolved"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Component is the base type embedded by discoverable components.
//
// Components embed *Component and construct it with New, passing
// themselves as the parent:
//
//	type List struct {
//	    *dwc.Component
//	}
//
//	func NewList(store *dwc.Store) *List {
//	    l := &List{}
//	    l.Component = dwc.New(store, listClass, l)
//	    return l
//	}
//
// Properties live in a property bag read with Get and written with Set.
// Mount registers the instance and resolves its bindings; Unmount reverses
// it. A component that is never unmounted keeps its subscriptions alive for
// the lifetime of the store.
type Component struct {
	store  *Store
	class  *Class
	parent Discoverable

	// passMu serializes Mount, Unmount and binding passes.
	passMu sync.Mutex

	mu       sync.Mutex
	id       string
	state    State
	props    map[string]any
	binders  []Binding
	mirrors  map[string]mirror
	subs     map[string]*eventbus.Receiver
	out      io.Writer
	logger   *slog.Logger
	debounce *debouncer
	ctx      context.Context

	onRegistry *eventbus.Receiver
	onSource   *eventbus.Receiver
}

// New creates the base for parent, an instance of class. It panics with
// ErrInvalidComponent if parent is not of the type class was declared for.
func New(store *Store, class *Class, parent Discoverable) *Component {
	if store == nil || class == nil {
		panic(&DeclarationError{Err: fmt.Errorf("%w: store and class are required", ErrInvalidComponent)})
	}
	if parent == nil || reflect.TypeOf(parent) != class.typ {
		declarationPanic(class.info.Name, "", fmt.Errorf("%w: parent is %T, class is declared for %s", ErrInvalidComponent, parent, class.typ))
	}

	c := &Component{
		store:   store,
		class:   class,
		parent:  parent,
		props:   make(map[string]any),
		mirrors: make(map[string]mirror),
		subs:    make(map[string]*eventbus.Receiver),
		out:     io.Discard,
		logger:  store.logger.With("component", class.info.Name),
	}
	c.debounce = newDebouncer(store.debounce, c.resolveDebounced)
	c.onRegistry = eventbus.NewReceiver(class.info.Name+":registry", func(ctx context.Context, _ ...any) error {
		c.resolve(ctx)
		return nil
	})
	c.onSource = eventbus.NewReceiver(class.info.Name+":source", func(context.Context, ...any) error {
		c.debounce.Trigger()
		return nil
	})
	return c
}

func (c *Component) base() *Component {
	return c
}

// baseOf returns the embedded base of v, or nil when v is nil or a nil
// pointer.
func baseOf(v interface{ base() *Component }) *Component {
	if v == nil {
		return nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	return v.base()
}

// ID returns the identifier assigned at mount, or "" while unmounted.
func (c *Component) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Name returns the class name.
func (c *Component) Name() string {
	return c.class.info.Name
}

// Class returns the component's class.
func (c *Component) Class() *Class {
	return c.class
}

// Store returns the store the component belongs to.
func (c *Component) Store() *Store {
	return c.store
}

// State returns the lifecycle state.
func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Logger returns a logger annotated with the component name and, once
// mounted, its identifier.
func (c *Component) Logger() *slog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// Subscriptions returns the topics the instance is subscribed to, sorted.
func (c *Component) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.subs))
}

// RenderTo sets where Render writes. Defaults to io.Discard.
func (c *Component) RenderTo(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w == nil {
		w = io.Discard
	}
	c.out = w
}

// Get returns a property value, or nil if it was never set.
func (c *Component) Get(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.props[key]
}

// Set stores a property value. When the component is mounted and the value
// is not the same as the previous one, a property-changed event is emitted
// for the instance.
func (c *Component) Set(key string, value any) {
	c.mu.Lock()
	old, had := c.props[key]
	c.props[key] = value
	id, state := c.id, c.state
	c.mu.Unlock()

	if state == Unmounted || (had && sameValue(old, value)) {
		return
	}
	c.store.bus.Emit(PropertyChangedTopic(id), key, value)
}

// lookupProperty reads a property for a binding. A property the class does
// not expose and that was never set does not exist.
func (c *Component) lookupProperty(key string) (any, bool) {
	c.mu.Lock()
	v, ok := c.props[key]
	c.mu.Unlock()
	if ok {
		return v, true
	}
	return nil, c.class.exposesProperty(key)
}

// Prop returns property key of c as a T. It returns the zero T if the
// property is unset or holds another type.
//
//	items := dwc.Prop[[]string](list, "items")
func Prop[T any](c Discoverable, key string) T {
	v, _ := c.base().Get(key).(T)
	return v
}

// BindInstance adds a binding from target to property of the exact instance
// id. Instance bindings belong to this instance only and are resolved before
// class bindings. If the component is mounted the binding is resolved
// immediately.
func (c *Component) BindInstance(target, id, property string) error {
	b := Binding{TargetProperty: target, InstanceIdentifier: id, SourceProperty: property}
	if err := validateBinding(b); err != nil {
		return err
	}

	c.passMu.Lock()
	defer c.passMu.Unlock()

	c.mu.Lock()
	c.binders = append(c.binders, b)
	mounted := c.state != Unmounted
	ctx := c.ctx
	c.mu.Unlock()

	if !mounted {
		return nil
	}
	c.watchRegistry()
	if c.resolveLocked(ctx) {
		c.render(ctx)
	}
	return nil
}

// Mount registers the component and resolves its bindings.
//
// The first binding pass runs before Mount returns, so a component whose
// sources are already registered renders with their values. Components
// that declare bindings then follow registry updates until unmounted.
//
// Mount returns ErrAlreadyMounted if the component is mounted, and
// ErrSingleInstanceViolation if its class allows a single instance and one
// is already registered.
func (c *Component) Mount(ctx context.Context) error {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	c.mu.Lock()
	if c.state != Unmounted {
		id := c.id
		c.mu.Unlock()
		return fmt.Errorf("mount %s %s: %w", c.Name(), id, ErrAlreadyMounted)
	}
	c.mu.Unlock()

	reg := c.store.registry
	if c.class.info.SingleInstance {
		if _, exists := reg.FindByName(c.class.info.Name); exists {
			return fmt.Errorf("mount %s: %w", c.Name(), ErrSingleInstanceViolation)
		}
	}

	id := uuid.NewString()
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	c.id = id
	c.state = Mounted
	c.ctx = ctx
	c.logger = c.store.logger.With("component", c.class.info.Name, "id", id)
	c.mu.Unlock()
	c.debounce.Start()

	changed := c.resolveLocked(ctx)
	if c.hasBinders() {
		c.watchRegistry()
	}

	desc := Descriptor{Identifier: id, Instance: c.parent, Class: c.class}
	if err := reg.add(desc, c.class.info.SingleInstance); err != nil {
		c.teardown()
		return fmt.Errorf("mount %s: %w", c.Name(), err)
	}
	c.Logger().Debug("mounted")

	if changed {
		c.render(ctx)
	}

	if m, ok := c.parent.(Mounter); ok {
		if err := m.OnMount(ctx); err != nil {
			c.teardown()
			reg.Deregister(id)
			return fmt.Errorf("mount %s: %w", c.Name(), err)
		}
	}
	return nil
}

// Unmount deregisters the component. Every subscription the instance holds
// is released and a pending debounced binding pass is cancelled before
// Unmount returns. Unmounting an unmounted component is a no-op.
func (c *Component) Unmount(ctx context.Context) error {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	c.mu.Lock()
	if c.state == Unmounted {
		c.mu.Unlock()
		return nil
	}
	id := c.id
	c.mu.Unlock()

	c.teardown()
	c.store.registry.Deregister(id)
	c.Logger().Debug("unmounted", "id", id)

	if u, ok := c.parent.(Unmounter); ok {
		u.OnUnmount(ctx)
	}
	return nil
}

// teardown releases subscriptions, stops the debouncer and resets the
// instance to Unmounted. Callers hold passMu.
func (c *Component) teardown() {
	c.debounce.Stop()

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*eventbus.Receiver)
	c.mirrors = make(map[string]mirror)
	c.state = Unmounted
	c.id = ""
	c.logger = c.store.logger.With("component", c.class.info.Name)
	c.mu.Unlock()

	for topic, r := range subs {
		c.store.bus.Unsubscribe(topic, r)
	}
}

// Render calls the class renderer and writes the result to the configured
// writer. Components without a renderer render nothing.
func (c *Component) Render(ctx context.Context) error {
	name := c.class.RendererName()
	if name == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := reflect.ValueOf(c.parent).MethodByName(name)
	out := method.Call([]reflect.Value{reflect.ValueOf(ctx)})
	cmp, _ := out[0].Interface().(templ.Component)
	c.store.metrics.renders.WithLabelValues(c.class.info.Name).Inc()
	if cmp == nil {
		return nil
	}

	c.mu.Lock()
	w := c.out
	c.mu.Unlock()
	return cmp.Render(ctx, w)
}

func (c *Component) render(ctx context.Context) {
	if err := c.Render(ctx); err != nil {
		c.Logger().Error("render failed", "error", err)
	}
}

// watchRegistry subscribes to registry updates once.
func (c *Component) watchRegistry() {
	c.subscribe(TopicRegistryUpdated, c.onRegistry)
}

func (c *Component) subscribe(topic string, r *eventbus.Receiver) {
	c.mu.Lock()
	if _, ok := c.subs[topic]; ok {
		c.mu.Unlock()
		return
	}
	c.subs[topic] = r
	c.mu.Unlock()
	c.store.bus.Subscribe(topic, r)
}

func (c *Component) unsubscribe(topic string) {
	c.mu.Lock()
	r, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if ok {
		c.store.bus.Unsubscribe(topic, r)
	}
}
