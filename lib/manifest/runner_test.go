package manifest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pthm/dwc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunner(t *testing.T, src string, opts ...RunnerOption) (*Runner, *dwc.Store) {
	t.Helper()
	m, err := Parse([]byte(src), "test.hcl")
	require.NoError(t, err)
	return newRunnerFor(t, m, opts...)
}

func newRunnerFor(t *testing.T, m *Manifest, opts ...RunnerOption) (*Runner, *dwc.Store) {
	t.Helper()
	storeOpts, err := m.StoreOptions()
	require.NoError(t, err)
	storeOpts = append(storeOpts, dwc.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s := dwc.NewStore(storeOpts...)
	t.Cleanup(func() { s.Close() })

	r, err := NewRunner(m, s, opts...)
	require.NoError(t, err)
	return r, s
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunner_ShopScenario(t *testing.T) {
	m, err := Load("testdata/shop.hcl")
	require.NoError(t, err)

	var renders, traces bytes.Buffer
	r, s := newRunnerFor(t, m, WithOutput(&renders), WithTraceOutput(&traces))
	ctx := testContext(t)

	require.NoError(t, r.Run(ctx))

	list, ok := r.Element("list")
	require.True(t, ok)
	assert.Equal(t, []any{"bread"}, list.Get("items"))
	assert.Equal(t, dwc.BindingsResolved, list.State())

	mirror, _ := r.Element("mirror")
	assert.Equal(t, []any{"bread"}, mirror.Get("copy"))

	broker, _ := r.Element("broker")
	assert.Equal(t, 3, s.Registry().Len())
	assert.Contains(t, renders.String(), `label="list">items=[milk,eggs]`)
	assert.Contains(t, renders.String(), `label="list">items=[bread]`)
	assert.Contains(t, renders.String(), `dwc-id="`+broker.ID()+`"`)

	var entries []map[string]any
	sc := bufio.NewScanner(&traces)
	for sc.Scan() {
		var e map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, string(dwc.TraceMethodCall), entries[0]["type"])
	assert.Equal(t, string(dwc.TracePropertyChange), entries[1]["type"])
	for _, e := range entries {
		assert.Equal(t, dwc.DevToolsSourceID, e["sourceId"])
		assert.Equal(t, broker.ID(), e["targetId"])
	}

	require.NoError(t, r.Close(ctx))
	assert.Zero(t, s.Registry().Len())
	assert.Zero(t, s.Bus().SubscriberCount(dwc.TopicTraceLog))
}

func TestRunner_DeferredSource(t *testing.T) {
	r, _ := newRunner(t, `
runtime { debounce = "10ms" }
component "Broker" {
  property "list" { default = ["milk"] }
}
component "List" {
  property "items" {}
  bind "items" {
    source   = "Broker"
    property = "list"
  }
}
instance "list" { component = "List" }
instance "broker" {
  component = "Broker"
  deferred  = true
}
step "mount" { target = "broker" }
`)
	ctx := testContext(t)
	require.NoError(t, r.Run(ctx))

	list, _ := r.Element("list")
	assert.Equal(t, []any{"milk"}, list.Get("items"))
	assert.Equal(t, dwc.BindingsResolved, list.State())
}

func TestRunner_UnmountSourceClearsTarget(t *testing.T) {
	r, _ := newRunner(t, `
runtime { debounce = "10ms" }
component "Broker" {
  property "list" { default = ["milk"] }
}
component "List" {
  property "items" {}
  bind "items" {
    source   = "Broker"
    property = "list"
  }
}
instance "broker" { component = "Broker" }
instance "list" { component = "List" }
step "unmount" { target = "broker" }
`)
	ctx := testContext(t)
	require.NoError(t, r.Run(ctx))

	list, _ := r.Element("list")
	assert.Nil(t, list.Get("items"))
	assert.Equal(t, dwc.BindingsPending, list.State())
}

func TestRunner_SingleInstance(t *testing.T) {
	r, _ := newRunner(t, `
component "Broker" { single_instance = true }
instance "a" { component = "Broker" }
instance "b" { component = "Broker" }
`)
	err := r.Run(testContext(t))
	assert.ErrorIs(t, err, dwc.ErrSingleInstanceViolation)
	assert.Contains(t, err.Error(), `"b"`)
}

func TestRunner_InstanceBindNeedsMountedSource(t *testing.T) {
	r, _ := newRunner(t, `
component "A" { property "x" {} }
instance "src" {
  component = "A"
  deferred  = true
}
instance "dst" {
  component = "A"
  bind "x" {
    instance = "src"
    property = "x"
  }
}
`)
	err := r.Run(testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not mounted")
}

func TestRunner_InvokeFailure(t *testing.T) {
	r, _ := newRunner(t, `
component "A" { property "x" {} }
instance "a" { component = "A" }
step "invoke" {
  target = "a"
  method = "Push"
  args   = ["x"]
}
`)
	err := r.Run(testContext(t))
	assert.ErrorIs(t, err, dwc.ErrInvalidArguments)
	assert.Contains(t, err.Error(), "step 1 (invoke)")
}

func TestRunner_ResetAndWaitDuration(t *testing.T) {
	r, _ := newRunner(t, `
component "A" {
  property "x" { default = [1, 2] }
}
instance "a" { component = "A" }
step "invoke" {
  component = "A"
  method    = "Reset"
  args      = ["x"]
}
step "wait" { duration = "5ms" }
`)
	require.NoError(t, r.Run(testContext(t)))
	a, _ := r.Element("a")
	assert.Nil(t, a.Get("x"))
}

func TestDeclareClass(t *testing.T) {
	m, err := Parse([]byte(`
component "Broker" {
  description     = "owns the list"
  single_instance = true
  property "list" {
    description = "items"
    default     = []
  }
  property "title" { default = "Groceries" }
  property "count" { default = 2 }
  property "free" {}
  bind "free" {
    source   = "Other"
    property = "value"
  }
}
`), "test.hcl")
	require.NoError(t, err)

	cls, err := DeclareClass(m.Components[0])
	require.NoError(t, err)
	assert.Equal(t, dwc.ClassInfo{Name: "Broker", Description: "owns the list", SingleInstance: true}, cls.Info())
	assert.Equal(t, []dwc.MemberMetadata{
		{Name: "list", Description: "items", Type: "[]interface {}"},
		{Name: "title", Type: "string"},
		{Name: "count", Type: "int"},
		{Name: "free"},
	}, cls.Properties())
	assert.Equal(t, "View", cls.RendererName())
	assert.Len(t, cls.Methods(), 2)
	assert.Equal(t, []dwc.Binding{{TargetProperty: "free", SourceComponentName: "Other", SourceProperty: "value"}}, cls.Binders())
}

func TestDeclareClass_PropertyShadowsMethod(t *testing.T) {
	_, err := DeclareClass(&ComponentBlock{
		Name:       "Bad",
		Properties: []*PropertyBlock{{Name: "Push"}},
	})
	assert.ErrorIs(t, err, ErrInvalidManifest)
	assert.True(t, dwc.IsDeclarationError(err))
}

func TestElement_Push(t *testing.T) {
	r, _ := newRunner(t, `
component "A" {
  property "x" {}
}
instance "a" { component = "A" }
`)
	a, _ := r.Element("a")
	assert.Equal(t, 1, a.Push("x", "one"))
	first := a.Get("x")
	assert.Equal(t, 2, a.Push("x", "two"))
	assert.Equal(t, []any{"one"}, first, "push replaces the list")
	assert.Equal(t, []any{"one", "two"}, a.Get("x"))

	a.Set("x", []string{"s"})
	assert.Equal(t, 2, a.Push("x", "t"))
	assert.Equal(t, []any{"s", "t"}, a.Get("x"))

	a.Set("x", "scalar")
	assert.Equal(t, 2, a.Push("x", "u"))
}

func TestElement_View(t *testing.T) {
	r, _ := newRunner(t, `
component "A" {
  property "x" { default = ["<b>", 1] }
  property "y" { default = "plain" }
}
instance "a" { component = "A" }
`)
	a, _ := r.Element("a")
	res, err := dwc.TestRender(context.Background(), a)
	require.NoError(t, err)

	assert.True(t, res.HTMLContainsAll(`name="A"`, `label="a"`, "x=[&lt;b&gt;,1]; y=plain"))
	assert.True(t, strings.HasSuffix(res.HTML, "</dwc-element>\n"))
}
