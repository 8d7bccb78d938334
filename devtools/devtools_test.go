package devtools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pthm/dwc"
	"github.com/stretchr/testify/require"
)

type counter struct {
	*dwc.Component
}

var counterClass = dwc.Declare[*counter](dwc.ClassInfo{Name: "Counter", Description: "counts things"}).
	ExposeProperty("count", dwc.TypeHint[int]()).
	ExposeProperty("label").
	ExposeMethod("Add", dwc.Describe("add n to count")).
	ExposeMethod("Boom")

func newCounter(s *dwc.Store) *counter {
	c := &counter{}
	c.Component = dwc.New(s, counterClass, c)
	c.Set("count", 0)
	return c
}

func (c *counter) Add(n int) int {
	v := dwc.Prop[int](c, "count") + n
	c.Set("count", v)
	return v
}

func (c *counter) Boom() error {
	return errors.New("boom")
}

func newTestStore(t *testing.T) *dwc.Store {
	t.Helper()
	s := dwc.NewStore(
		dwc.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		dwc.WithDebounce(10*time.Millisecond),
	)
	t.Cleanup(func() { s.Close() })
	return s
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mountCounter(t *testing.T, ctx context.Context, s *dwc.Store) *counter {
	t.Helper()
	c := newCounter(s)
	require.NoError(t, c.Mount(ctx))
	t.Cleanup(func() { c.Unmount(context.Background()) })
	return c
}
