package dwc

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/dwc/lib/eventbus"
)

// countingReceiver counts deliveries.
func countingReceiver(name string) (*eventbus.Receiver, *atomic.Int32) {
	var n atomic.Int32
	return eventbus.NewReceiver(name, func(context.Context, ...any) error {
		n.Add(1)
		return nil
	}), &n
}

func TestRegistry_RegistrationUniqueness(t *testing.T) {
	s := newTestStore(t)
	reg := s.Registry()
	ctx := context.Background()

	a, b, c := newController(s), newController(s), newController(s)
	mount(t, a, b, c)
	assert.Equal(t, 3, reg.Len())

	require.NoError(t, b.Unmount(ctx))
	require.NoError(t, b.Mount(ctx))
	require.NoError(t, a.Unmount(ctx))

	all := reg.All()
	require.Len(t, all, 2)
	seen := map[string]bool{}
	for _, d := range all {
		assert.False(t, seen[d.Identifier], "identifier %s registered twice", d.Identifier)
		seen[d.Identifier] = true
	}
	assert.Equal(t, []string{c.ID(), b.ID()}, []string{all[0].Identifier, all[1].Identifier})
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.registered))
}

func TestRegistry_RemountGetsNewIdentifier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := newController(s)

	mount(t, c)
	first := c.ID()
	require.NoError(t, c.Unmount(ctx))
	assert.Empty(t, c.ID())
	require.NoError(t, c.Mount(ctx))

	assert.NotEqual(t, first, c.ID())
	_, ok := s.Registry().Lookup(first)
	assert.False(t, ok)
}

func TestRegistry_Register_SnapshotsClassMetadata(t *testing.T) {
	s := newTestStore(t)
	b := newBroker(s)
	mount(t, b)

	d, ok := s.Registry().Lookup(b.ID())
	require.True(t, ok)
	assert.Equal(t, "Broker", d.Name())
	assert.Same(t, b.Component, d.Component())
	assert.Equal(t, brokerClass.Properties(), d.Properties)
	assert.Equal(t, brokerClass.Methods(), d.Methods)
	assert.False(t, d.RegisteredAt.IsZero())
}

func TestRegistry_Register_EmitsUpdate(t *testing.T) {
	s := newTestStore(t)
	r, n := countingReceiver("updates")
	assert.Equal(t, TopicRegistryUpdated, s.Registry().SubscribeRegistryUpdate(r))

	mount(t, newController(s))
	waitIdle(t, s)

	assert.Equal(t, int32(1), n.Load())
}

func TestRegistry_Deregister_Idempotent(t *testing.T) {
	s := newTestStore(t)
	reg := s.Registry()
	c := newController(s)
	mount(t, c)
	id := c.ID()

	r, n := countingReceiver("updates")
	reg.SubscribeRegistryUpdate(r)

	reg.Deregister(id)
	waitIdle(t, s)
	require.Equal(t, int32(1), n.Load())

	reg.Deregister(id)
	reg.Deregister("never-registered")
	waitIdle(t, s)

	assert.Equal(t, int32(1), n.Load(), "deregistering a missing identifier must not emit")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.registryEvents.WithLabelValues("deregister")))
}

func TestRegistry_UnsubscribeRegistryUpdate(t *testing.T) {
	s := newTestStore(t)
	r, n := countingReceiver("updates")
	s.Registry().SubscribeRegistryUpdate(r)
	s.Registry().UnsubscribeRegistryUpdate(r)

	mount(t, newController(s))
	waitIdle(t, s)

	assert.Equal(t, int32(0), n.Load())
}

func TestRegistry_FindByName_FirstRegistered(t *testing.T) {
	s := newTestStore(t)
	first, second := newBroker(s), newBroker(s)
	mount(t, first, second)

	d, ok := s.Registry().FindByName("Broker")
	require.True(t, ok)
	assert.Equal(t, first.ID(), d.Identifier)

	_, ok = s.Registry().FindByName("Nope")
	assert.False(t, ok)
}

func TestRegistry_All_IsSnapshot(t *testing.T) {
	s := newTestStore(t)
	mount(t, newController(s))

	all := s.Registry().All()
	mount(t, newController(s))

	assert.Len(t, all, 1)
	assert.Len(t, s.Registry().All(), 2)
}

func TestRegistry_PropertyChangeSubscription(t *testing.T) {
	s := newTestStore(t)
	b := newBroker(s)
	mount(t, b)

	var got []any
	r := eventbus.NewReceiver("watch", func(_ context.Context, args ...any) error {
		got = args
		return nil
	})
	topic := s.Registry().SubscribePropertyChange(b.ID(), r)
	assert.Equal(t, "cmp:"+b.ID()+":prop:changed", topic)

	b.Set("title", "groceries")
	waitIdle(t, s)
	assert.Equal(t, []any{"title", "groceries"}, got)

	s.Registry().UnsubscribePropertyChange(b.ID(), r)
	assert.Equal(t, 0, s.Bus().SubscriberCount(topic))
}

func TestRegistry_Register_RejectsIncompleteDescriptor(t *testing.T) {
	s := newTestStore(t)
	reg := s.Registry()
	recv, updates := countingReceiver("updates")
	reg.SubscribeRegistryUpdate(recv)

	tests := []struct {
		name string
		desc Descriptor
	}{
		{"no instance", Descriptor{Identifier: "tool", Class: brokerClass}},
		{"nil pointer instance", Descriptor{Identifier: "tool", Instance: (*broker)(nil), Class: brokerClass}},
		{"instance without base", Descriptor{Identifier: "tool", Instance: &broker{}, Class: brokerClass}},
		{"no identifier", Descriptor{Instance: newBroker(s), Class: brokerClass}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() { reg.Register(tt.desc) })
			assert.ErrorIs(t, reg.add(tt.desc, false), ErrInvalidComponent)
			_, ok := reg.Lookup(tt.desc.Identifier)
			assert.False(t, ok)
		})
	}

	waitIdle(t, s)
	assert.Zero(t, reg.Len())
	assert.Zero(t, updates.Load())
}

func TestBinding_IncompleteSourceIsNotAvailable(t *testing.T) {
	s := newTestStore(t)
	s.Registry().Register(Descriptor{Identifier: "ghost", Class: brokerClass})

	l := newList(s)
	require.NotPanics(t, func() { mount(t, l) })
	assert.Equal(t, BindingsPending, l.State())
	assert.Nil(t, l.Get("items"))
}
