package dwc

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/require"
)

// testDebounce keeps debounced passes fast in tests.
const testDebounce = 30 * time.Millisecond

// broker owns a list other components bind to.
type broker struct {
	*Component
	renders atomic.Int32
}

var brokerClass = Declare[*broker](ClassInfo{Name: "Broker", Description: "owns the shared list"}).
	ExposeProperty("list", TypeHint[[]string](), Describe("current items")).
	ExposeProperty("title").
	ExposeMethod("AddItem", Describe("append one item")).
	ExposeMethod("Count").
	ExposeMethod("Fail").
	ExposeMethod("Rename").
	Renderer("View")

func newBroker(s *Store) *broker {
	b := &broker{}
	b.Component = New(s, brokerClass, b)
	b.Set("list", []string{})
	return b
}

func (b *broker) AddItem(item string) int {
	next := append(slices.Clone(Prop[[]string](b, "list")), item)
	b.Set("list", next)
	return len(next)
}

func (b *broker) Count() int {
	return len(Prop[[]string](b, "list"))
}

func (b *broker) Fail() error {
	return errBrokerFailed
}

func (b *broker) Rename(ctx context.Context, title string) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("no context")
	}
	b.Set("title", title)
	return strings.ToUpper(title), nil
}

func (b *broker) View(context.Context) templ.Component {
	b.renders.Add(1)
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, strings.Join(Prop[[]string](b, "list"), ","))
		return err
	})
}

var errBrokerFailed = fmt.Errorf("broker failed")

// list mirrors the broker's list.
type list struct {
	*Component
	renders atomic.Int32
}

var listClass = Declare[*list](ClassInfo{Name: "List"}).
	ExposeProperty("items").
	Bind("items", Binding{SourceComponentName: "Broker", SourceProperty: "list"}).
	Renderer("View")

func newList(s *Store) *list {
	l := &list{}
	l.Component = New(s, listClass, l)
	return l
}

func (l *list) View(context.Context) templ.Component {
	l.renders.Add(1)
	items := Prop[[]string](l, "items")
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<ul>%d</ul>", len(items))
		return err
	})
}

// viewer has no class bindings; tests attach instance bindings.
type viewer struct {
	*Component
	renders atomic.Int32
}

var viewerClass = Declare[*viewer](ClassInfo{Name: "Viewer"}).
	Renderer("View")

func newViewer(s *Store) *viewer {
	v := &viewer{}
	v.Component = New(s, viewerClass, v)
	return v
}

func (v *viewer) View(context.Context) templ.Component {
	v.renders.Add(1)
	return templ.NopComponent
}

// controller is a plain caller with no bindings.
type controller struct {
	*Component
	mounted   int
	unmounted int
	failMount error
}

var controllerClass = Declare[*controller](ClassInfo{Name: "Controller"})

func newController(s *Store) *controller {
	c := &controller{}
	c.Component = New(s, controllerClass, c)
	return c
}

func (c *controller) OnMount(context.Context) error {
	c.mounted++
	return c.failMount
}

func (c *controller) OnUnmount(context.Context) {
	c.unmounted++
}

// singleton allows one live instance.
type singleton struct {
	*Component
}

var singletonClass = Declare[*singleton](ClassInfo{Name: "Singleton", SingleInstance: true})

func newSingleton(s *Store) *singleton {
	c := &singleton{}
	c.Component = New(s, singletonClass, c)
	return c
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := NewStore(append([]Option{WithDebounce(testDebounce)}, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mount(t *testing.T, cmps ...Discoverable) {
	t.Helper()
	for _, c := range cmps {
		require.NoError(t, c.base().Mount(context.Background()))
	}
}

func waitIdle(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, WaitIdle(ctx, s))
}

func settle(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, Settle(ctx, s))
}
