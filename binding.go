package dwc

import (
	"context"
	"strings"
)

// mirror remembers the source value a target property was last copied
// from. The target itself holds a shallow copy, so change detection
// compares against this instead.
type mirror struct {
	source string
	value  any
}

// bindings returns the instance bindings followed by the class bindings,
// instance-bound ones first.
func (c *Component) bindings() []Binding {
	c.mu.Lock()
	own := append([]Binding(nil), c.binders...)
	c.mu.Unlock()

	all := append(own, c.class.Binders()...)
	out := make([]Binding, 0, len(all))
	for _, b := range all {
		if b.InstanceBound() {
			out = append(out, b)
		}
	}
	for _, b := range all {
		if !b.InstanceBound() {
			out = append(out, b)
		}
	}
	return out
}

func (c *Component) hasBinders() bool {
	c.mu.Lock()
	n := len(c.binders)
	c.mu.Unlock()
	return n > 0 || len(c.class.Binders()) > 0
}

// resolve runs a binding pass and renders if anything changed.
func (c *Component) resolve(ctx context.Context) {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	if c.State() == Unmounted {
		return
	}
	if c.resolveLocked(ctx) {
		c.render(ctx)
	}
}

func (c *Component) resolveDebounced() {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	c.resolve(ctx)
}

// resolveLocked mirrors every bound source property into its target and
// reports whether any target changed. Callers hold passMu.
//
// A binding whose source is not registered clears its target. A source
// that does not have the property leaves the target alone. Sources are
// watched for property changes from the first time they resolve, and
// sources no binding resolves to any more are released.
func (c *Component) resolveLocked(ctx context.Context) bool {
	binders := c.bindings()
	if len(binders) == 0 {
		return false
	}
	c.store.metrics.bindingPasses.WithLabelValues(c.class.info.Name).Inc()

	reg := c.store.registry
	used := make(map[string]struct{})
	changed, pending := false, false

	for _, b := range binders {
		var (
			src Descriptor
			ok  bool
		)
		if b.InstanceBound() {
			src, ok = reg.Lookup(b.InstanceIdentifier)
		} else {
			src, ok = reg.FindByName(b.SourceComponentName)
		}
		if !ok {
			pending = true
			c.Logger().DebugContext(ctx, "binding source not available",
				"target", b.TargetProperty, "source", bindingSource(b))
			if c.clearTarget(b.TargetProperty) {
				changed = true
			}
			continue
		}

		used[src.Identifier] = struct{}{}
		c.subscribe(PropertyChangedTopic(src.Identifier), c.onSource)

		value, has := src.Component().lookupProperty(b.SourceProperty)
		if !has {
			continue
		}
		if c.mirrorValue(b.TargetProperty, src.Identifier, value) {
			changed = true
		}
	}

	c.releaseSources(used)

	c.mu.Lock()
	if c.state != Unmounted {
		if pending {
			c.state = BindingsPending
		} else {
			c.state = BindingsResolved
		}
	}
	c.mu.Unlock()
	return changed
}

// mirrorValue copies value into target unless it is the value last copied
// from the same source.
func (c *Component) mirrorValue(target, source string, value any) bool {
	c.mu.Lock()
	last, seen := c.mirrors[target]
	current := c.props[target]
	c.mu.Unlock()

	if seen && last.source == source {
		if sameValue(last.value, value) {
			return false
		}
	} else if sameValue(current, value) {
		c.mu.Lock()
		c.mirrors[target] = mirror{source: source, value: value}
		c.mu.Unlock()
		return false
	}

	c.mu.Lock()
	c.mirrors[target] = mirror{source: source, value: value}
	c.mu.Unlock()
	c.Set(target, shallowCopy(value))
	return true
}

// clearTarget resets target to nil and reports whether it held a value.
func (c *Component) clearTarget(target string) bool {
	c.mu.Lock()
	delete(c.mirrors, target)
	current := c.props[target]
	c.mu.Unlock()

	if isNil(current) {
		return false
	}
	c.Set(target, nil)
	return true
}

// releaseSources drops property-change subscriptions to sources not in used.
func (c *Component) releaseSources(used map[string]struct{}) {
	for _, topic := range c.Subscriptions() {
		id, ok := sourceOfTopic(topic)
		if !ok {
			continue
		}
		if _, keep := used[id]; !keep {
			c.unsubscribe(topic)
		}
	}
}

func bindingSource(b Binding) string {
	if b.InstanceBound() {
		return b.InstanceIdentifier
	}
	return b.SourceComponentName
}

func sourceOfTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, topicPrefix) || !strings.HasSuffix(topic, topicPropertySuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(topic, topicPrefix), topicPropertySuffix)
	return id, id != ""
}
