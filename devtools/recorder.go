// Package devtools inspects a running dwc store: it records trace log
// entries, renders a discovery panel of registered components and serves
// both over HTTP together with privileged property writes and method calls.
//
// Recording is opt-in. Starting a Recorder subscribes it to the trace log,
// which is what makes the registry gateway produce trace entries at all.
//
//	rec := devtools.NewRecorder(store)
//	rec.Start()
//	defer rec.Stop()
//	http.Handle("/_dwc/", devtools.Handler(store, rec))
package devtools

import (
	"context"
	"sync"

	"github.com/pthm/dwc"
	"github.com/pthm/dwc/lib/encoding"
	"github.com/pthm/dwc/lib/eventbus"
)

// DefaultLimit is the number of entries a Recorder keeps by default.
const DefaultLimit = 500

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLimit sets how many entries are kept. Older entries are dropped
// first. Values below one are ignored.
func WithLimit(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.limit = n
		}
	}
}

// Recorder keeps the most recent trace log entries of a store in a ring.
type Recorder struct {
	store *dwc.Store
	limit int
	recv  *eventbus.Receiver

	mu      sync.Mutex
	entries []dwc.TraceLogEntry
	next    int
	full    bool
	started bool
}

// NewRecorder creates a recorder for store. It records nothing until
// Start.
func NewRecorder(store *dwc.Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store: store,
		limit: DefaultLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.entries = make([]dwc.TraceLogEntry, 0, r.limit)
	r.recv = dwc.TraceReceiver("devtools:recorder", r.record)
	return r
}

// Start subscribes the recorder to the trace log. Calling Start twice is a
// no-op.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.store.Registry().SubscribeTraceLog(r.recv)
}

// Stop unsubscribes the recorder. Recorded entries are kept.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.started = false
	r.store.Registry().UnsubscribeTraceLog(r.recv)
}

// Recording reports whether the recorder is subscribed.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *Recorder) record(_ context.Context, entry dwc.TraceLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full && len(r.entries) < r.limit {
		r.entries = append(r.entries, entry)
		if len(r.entries) == r.limit {
			r.full = true
		}
		return
	}
	r.entries[r.next] = entry
	r.next = (r.next + 1) % r.limit
}

// Entries returns the recorded entries, oldest first.
func (r *Recorder) Entries() []dwc.TraceLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]dwc.TraceLogEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}

// History returns the entries targeting id, newest first.
func (r *Recorder) History(id string) []dwc.TraceLogEntry {
	all := r.Entries()
	var out []dwc.TraceLogEntry
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].TargetID == id {
			out = append(out, all[i])
		}
	}
	return out
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear drops every recorded entry.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = r.entries[:0]
	r.next = 0
	r.full = false
}

// Export packs the recorded entries, oldest first, into a portable string.
func (r *Recorder) Export(codec *encoding.Codec, mode encoding.Mode) (string, error) {
	return codec.Encode(r.Entries(), mode)
}

// Import unpacks entries produced by Export. Payloads come back as
// map[string]any.
func Import(codec *encoding.Codec, exported string, mode encoding.Mode) ([]dwc.TraceLogEntry, error) {
	var entries []dwc.TraceLogEntry
	if err := codec.Decode(exported, mode, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
