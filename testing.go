package dwc

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pthm/dwc/lib/eventbus"
)

// TestResult holds the output of rendering a component for testing.
type TestResult struct {
	HTML string
}

// TestRender renders a component into a buffer.
//
// Use this for unit tests of rendering logic. It calls the class renderer
// directly and does not touch bindings or the registry:
//
//	result, err := dwc.TestRender(ctx, list)
//	if !result.HTMLContains("milk") {
//	    t.Fatal("missing item")
//	}
func TestRender(ctx context.Context, cmp Discoverable) (*TestResult, error) {
	c := cmp.base()

	var buf bytes.Buffer
	c.mu.Lock()
	prev := c.out
	c.out = &buf
	c.mu.Unlock()

	err := c.Render(ctx)

	c.mu.Lock()
	c.out = prev
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &TestResult{HTML: buf.String()}, nil
}

// HTMLContains checks if the HTML contains a substring.
func (r *TestResult) HTMLContains(substr string) bool {
	return strings.Contains(r.HTML, substr)
}

// HTMLContainsAll checks if the HTML contains all the given substrings.
func (r *TestResult) HTMLContainsAll(substrs ...string) bool {
	for _, s := range substrs {
		if !strings.Contains(r.HTML, s) {
			return false
		}
	}
	return true
}

// HTMLContainsAny checks if the HTML contains any of the given substrings.
func (r *TestResult) HTMLContainsAny(substrs ...string) bool {
	for _, s := range substrs {
		if strings.Contains(r.HTML, s) {
			return true
		}
	}
	return false
}

// WaitIdle blocks until every event emitted on the store's bus before the
// call has been delivered.
func WaitIdle(ctx context.Context, s *Store) error {
	return s.bus.Sync(ctx)
}

// Settle waits for bus deliveries, then for the debounce window, then for
// the deliveries the resulting binding passes caused. After Settle returns,
// bindings reflect every property change made before the call.
//
//	broker.Set("list", []string{"milk"})
//	if err := dwc.Settle(ctx, store); err != nil { ... }
func Settle(ctx context.Context, s *Store) error {
	if err := s.bus.Sync(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(2 * s.debounce)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.bus.Sync(ctx)
}

// TraceCollector records trace log entries. Subscribe it with
// Registry.SubscribeTraceLog(collector.Receiver()).
type TraceCollector struct {
	mu       sync.Mutex
	entries  []TraceLogEntry
	receiver *eventbus.Receiver
}

// NewTraceCollector creates an empty collector.
func NewTraceCollector() *TraceCollector {
	tc := &TraceCollector{}
	tc.receiver = TraceReceiver("trace-collector", func(_ context.Context, e TraceLogEntry) {
		tc.mu.Lock()
		tc.entries = append(tc.entries, e)
		tc.mu.Unlock()
	})
	return tc
}

// Receiver returns the collector's trace receiver.
func (tc *TraceCollector) Receiver() *eventbus.Receiver {
	return tc.receiver
}

// Entries returns a copy of the collected entries.
func (tc *TraceCollector) Entries() []TraceLogEntry {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]TraceLogEntry(nil), tc.entries...)
}

// HasEntry checks if an entry of type t targeting targetID was collected.
func (tc *TraceCollector) HasEntry(t TraceType, targetID string) bool {
	for _, e := range tc.Entries() {
		if e.Type == t && e.TargetID == targetID {
			return true
		}
	}
	return false
}
