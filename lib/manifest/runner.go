package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pthm/dwc"
	"github.com/pthm/dwc/lib/eventbus"
)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithOutput sets where element renders are written.
func WithOutput(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.out = &lockedWriter{w: w}
	}
}

// WithTraceOutput writes every trace log entry to w as a JSON line.
func WithTraceOutput(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.traceOut = &lockedWriter{w: w}
	}
}

// Runner mounts a manifest's instances into a store and plays its steps.
// Steps go through the registry gateway as dev tools.
type Runner struct {
	manifest *Manifest
	store    *dwc.Store
	logger   *slog.Logger
	out      io.Writer
	traceOut io.Writer

	classes  map[string]*dwc.Class
	elements map[string]*Element
	order    []string
	trace    *traceWriter
}

// NewRunner declares the manifest's classes and creates its instances.
// Nothing is mounted until Run.
func NewRunner(m *Manifest, store *dwc.Store, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{
		manifest: m,
		store:    store,
		logger:   store.Logger().With("manifest", m.Filename),
		out:      io.Discard,
		classes:  make(map[string]*dwc.Class, len(m.Components)),
		elements: make(map[string]*Element, len(m.Instances)),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, block := range m.Components {
		cls, err := DeclareClass(block)
		if err != nil {
			return nil, err
		}
		r.classes[block.Name] = cls
	}

	for _, inst := range m.Instances {
		block, _ := m.Component(inst.Component)
		e, err := NewElement(store, r.classes[inst.Component], block, inst.Label)
		if err != nil {
			return nil, fmt.Errorf("instance %q: %w", inst.Label, err)
		}
		e.RenderTo(r.out)
		r.elements[inst.Label] = e
		r.order = append(r.order, inst.Label)
	}
	return r, nil
}

// StoreOptions returns the store options the manifest's runtime block asks
// for.
func (m *Manifest) StoreOptions() ([]dwc.Option, error) {
	d, err := m.Debounce()
	if err != nil {
		return nil, err
	}
	var opts []dwc.Option
	if d > 0 {
		opts = append(opts, dwc.WithDebounce(d))
	}
	return opts, nil
}

// Element returns the instance labeled label.
func (r *Runner) Element(label string) (*Element, bool) {
	e, ok := r.elements[label]
	return e, ok
}

// Class returns the class declared for component name.
func (r *Runner) Class(name string) (*dwc.Class, bool) {
	cls, ok := r.classes[name]
	return cls, ok
}

// Run mounts every instance not marked deferred, applies instance bindings,
// plays the steps in order and waits for bindings to settle. Instances stay
// mounted until Close.
func (r *Runner) Run(ctx context.Context) error {
	if r.traceOut != nil && r.trace == nil {
		r.trace = newTraceWriter(r.traceOut, r.logger)
		r.store.Registry().SubscribeTraceLog(r.trace.receiver)
	}

	for _, label := range r.order {
		inst, _ := r.manifest.Instance(label)
		if inst.Deferred {
			continue
		}
		if err := r.mount(ctx, label); err != nil {
			return err
		}
	}

	for i, step := range r.manifest.Steps {
		r.logger.DebugContext(ctx, "running step", "index", i+1, "kind", step.Kind)
		if err := r.runStep(ctx, step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Kind, err)
		}
	}
	return dwc.Settle(ctx, r.store)
}

// Close unmounts every instance in reverse declaration order.
func (r *Runner) Close(ctx context.Context) error {
	for i := len(r.order) - 1; i >= 0; i-- {
		if err := r.elements[r.order[i]].Unmount(ctx); err != nil {
			return err
		}
	}
	if r.trace != nil {
		r.store.Registry().UnsubscribeTraceLog(r.trace.receiver)
		r.trace = nil
	}
	return nil
}

// mount mounts the instance labeled label and applies its instance
// bindings.
func (r *Runner) mount(ctx context.Context, label string) error {
	e := r.elements[label]
	if err := e.Mount(ctx); err != nil {
		return fmt.Errorf("mount %q: %w", label, err)
	}

	inst, _ := r.manifest.Instance(label)
	for _, b := range inst.Binds {
		id := r.elements[b.Instance].ID()
		if id == "" {
			return fmt.Errorf("instance %q: bind %q: source %q is not mounted", label, b.Target, b.Instance)
		}
		if err := e.BindInstance(b.Target, id, b.Property); err != nil {
			return fmt.Errorf("instance %q: bind %q: %w", label, b.Target, err)
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, step *StepBlock) error {
	reg := r.store.Registry()

	switch step.Kind {
	case StepSet:
		value, err := toNative(step.Value)
		if err != nil {
			return err
		}
		if step.Component != "" {
			return reg.SetPropertyByComponentName(ctx, dwc.DevTools, step.Component, step.Property, value)
		}
		return reg.SetProperty(ctx, dwc.DevTools, r.elements[step.Target].ID(), step.Property, value)

	case StepInvoke:
		args, err := toArgs(step.Args)
		if err != nil {
			return err
		}
		var result any
		if step.Component != "" {
			result, err = reg.InvokeMethodByComponentName(ctx, dwc.DevTools, step.Component, step.Method, args...)
		} else {
			result, err = reg.InvokeMethod(ctx, dwc.DevTools, r.elements[step.Target].ID(), step.Method, args...)
		}
		if err != nil {
			return err
		}
		r.logger.DebugContext(ctx, "invoked", "method", step.Method, "result", result)
		return nil

	case StepMount:
		return r.mount(ctx, step.Target)

	case StepUnmount:
		return r.elements[step.Target].Unmount(ctx)

	case StepWait:
		if step.Duration == "" {
			return dwc.Settle(ctx, r.store)
		}
		d, _ := time.ParseDuration(step.Duration)
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return dwc.WaitIdle(ctx, r.store)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("unknown step kind %q", step.Kind)
}

// traceWriter writes trace log entries as JSON lines.
type traceWriter struct {
	receiver *eventbus.Receiver
	w        io.Writer
	logger   *slog.Logger
}

func newTraceWriter(w io.Writer, logger *slog.Logger) *traceWriter {
	b := &traceWriter{w: w, logger: logger}
	b.receiver = dwc.TraceReceiver("manifest:trace", b.write)
	return b
}

func (b *traceWriter) write(ctx context.Context, entry dwc.TraceLogEntry) {
	line, err := json.Marshal(entry)
	if err != nil {
		b.logger.WarnContext(ctx, "trace entry not encodable", "error", err, "type", entry.Type)
		return
	}
	line = append(line, '\n')
	if _, err := b.w.Write(line); err != nil {
		b.logger.WarnContext(ctx, "trace write failed", "error", err)
	}
}

// lockedWriter serializes writes from renders running on different
// goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
