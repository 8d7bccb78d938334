package devtools

import (
	"testing"

	"github.com/pthm/dwc"
	"github.com/pthm/dwc/lib/encoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RecordsOnlyWhileStarted(t *testing.T) {
	ctx := testContext(t)
	s := newTestStore(t)
	c := mountCounter(t, ctx, s)
	reg := s.Registry()
	rec := NewRecorder(s)

	require.NoError(t, reg.SetProperty(ctx, dwc.DevTools, c.ID(), "label", "before"))
	require.NoError(t, dwc.WaitIdle(ctx, s))
	assert.Zero(t, rec.Len())

	rec.Start()
	rec.Start()
	assert.True(t, rec.Recording())
	assert.Equal(t, 1, s.Bus().SubscriberCount(dwc.TopicTraceLog))

	require.NoError(t, reg.SetProperty(ctx, dwc.DevTools, c.ID(), "label", "during"))
	_, err := reg.InvokeMethod(ctx, dwc.DevTools, c.ID(), "Add", 3)
	require.NoError(t, err)
	require.NoError(t, dwc.WaitIdle(ctx, s))

	entries := rec.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, dwc.TracePropertyChange, entries[0].Type)
	assert.Equal(t, dwc.TraceMethodCall, entries[1].Type)
	m, ok := entries[1].Method()
	require.True(t, ok)
	assert.Equal(t, 3, m.Result)

	rec.Stop()
	assert.False(t, rec.Recording())
	require.NoError(t, reg.SetProperty(ctx, dwc.DevTools, c.ID(), "label", "after"))
	require.NoError(t, dwc.WaitIdle(ctx, s))
	assert.Equal(t, 2, rec.Len())
}

func TestRecorder_Ring(t *testing.T) {
	ctx := testContext(t)
	s := newTestStore(t)
	c := mountCounter(t, ctx, s)
	rec := NewRecorder(s, WithLimit(2))
	rec.Start()

	for _, label := range []string{"a", "b", "c"} {
		require.NoError(t, s.Registry().SetProperty(ctx, dwc.DevTools, c.ID(), "label", label))
	}
	require.NoError(t, dwc.WaitIdle(ctx, s))

	var got []any
	for _, e := range rec.Entries() {
		p, _ := e.Property()
		got = append(got, p.Value)
	}
	assert.Equal(t, []any{"b", "c"}, got)

	rec.Clear()
	assert.Zero(t, rec.Len())
	assert.Empty(t, rec.Entries())
}

func TestRecorder_History(t *testing.T) {
	ctx := testContext(t)
	s := newTestStore(t)
	a := mountCounter(t, ctx, s)
	b := mountCounter(t, ctx, s)
	rec := NewRecorder(s)
	rec.Start()

	reg := s.Registry()
	require.NoError(t, reg.SetProperty(ctx, dwc.DevTools, a.ID(), "label", "first"))
	require.NoError(t, reg.SetProperty(ctx, b, a.ID(), "label", "second"))
	require.NoError(t, reg.SetProperty(ctx, dwc.DevTools, b.ID(), "label", "other"))
	require.NoError(t, dwc.WaitIdle(ctx, s))

	history := rec.History(a.ID())
	require.Len(t, history, 2)
	p, _ := history[0].Property()
	assert.Equal(t, "second", p.Value, "newest first")
	assert.Equal(t, b.ID(), history[0].SourceID)
	assert.Equal(t, dwc.DevToolsSourceID, history[1].SourceID)
}

func TestRecorder_ExportImport(t *testing.T) {
	ctx := testContext(t)
	s := newTestStore(t)
	c := mountCounter(t, ctx, s)
	rec := NewRecorder(s)
	rec.Start()

	require.NoError(t, s.Registry().SetProperty(ctx, dwc.DevTools, c.ID(), "label", "x"))
	require.NoError(t, dwc.WaitIdle(ctx, s))

	codec, err := encoding.NewCodec([]byte("devtools-test"))
	require.NoError(t, err)

	for _, mode := range []encoding.Mode{encoding.Signed, encoding.Sealed} {
		t.Run(mode.String(), func(t *testing.T) {
			out, err := rec.Export(codec, mode)
			require.NoError(t, err)

			entries, err := Import(codec, out, mode)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, dwc.TracePropertyChange, entries[0].Type)
			assert.Equal(t, c.ID(), entries[0].TargetID)
			assert.Equal(t, map[string]any{"property": "label", "value": "x"}, entries[0].Payload)
		})
	}

	_, err = Import(codec, "garbage", encoding.Signed)
	assert.ErrorIs(t, err, encoding.ErrInvalidFormat)
}
