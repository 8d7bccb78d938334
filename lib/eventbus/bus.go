// Package eventbus is a topic-based publish/subscribe bus with asynchronous,
// per-receiver delivery.
//
// Receivers are identified by pointer: subscribing the same *Receiver to the
// same topic twice keeps a single subscription. Emit never blocks on
// receivers. Every (receiver, event) pair is queued as an independent task
// and run by a single dispatcher goroutine, so receivers of one topic are
// called in subscription order and never run concurrently with each other.
// A receiver that panics or returns an error is logged and skipped; the
// remaining receivers still get the event.
//
//	bus := eventbus.New()
//	defer bus.Close()
//
//	r := eventbus.NewReceiver("audit", func(ctx context.Context, args ...any) error {
//	    log.Println(args...)
//	    return nil
//	})
//	bus.Subscribe("user:created", r)
//	bus.Emit("user:created", user)
//
// Topics exist only while they have receivers.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrClosed is returned by Sync once the bus has been closed.
var ErrClosed = errors.New("eventbus: bus is closed")

// Receiver is a subscription handle. Two receivers are the same subscriber
// only if they are the same pointer.
type Receiver struct {
	name string
	fn   func(ctx context.Context, args ...any) error
}

// NewReceiver wraps fn in a receiver. The name is used in logs only.
func NewReceiver(name string, fn func(ctx context.Context, args ...any) error) *Receiver {
	return &Receiver{name: name, fn: fn}
}

// Name returns the receiver's log name.
func (r *Receiver) Name() string {
	return r.name
}

// Option configures a Bus.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// WithLogger sets the logger used for delivery failures and dropped events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer registers the bus delivery counters with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// task is one queued unit of work. A task with a non-nil done channel is a
// Sync barrier and carries no receiver.
type task struct {
	topic string
	recv  *Receiver
	args  []any
	done  chan struct{}
}

// Bus is a topic-based event bus. The zero value is not usable; use New.
type Bus struct {
	mu     sync.Mutex
	topics map[string][]*Receiver
	queue  []task
	closed bool

	wake    chan struct{}
	stopped chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	logger     *slog.Logger
	deliveries *prometheus.CounterVec
}

// New creates a bus and starts its dispatcher.
func New(opts ...Option) *Bus {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		topics:  make(map[string][]*Receiver),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  o.logger.With("subsystem", "eventbus"),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwc",
			Subsystem: "eventbus",
			Name:      "deliveries_total",
			Help:      "Receiver invocations by outcome (delivered, failed, skipped).",
		}, []string{"outcome"}),
	}
	if o.registerer != nil {
		b.deliveries = registerCounterVec(o.registerer, b.deliveries)
	}

	go b.run()
	return b
}

// registerCounterVec registers cv, reusing an identical collector that is
// already registered (several buses may share one registry).
func registerCounterVec(reg prometheus.Registerer, cv *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(cv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(fmt.Sprintf("eventbus: failed to register metrics: %v", err))
	}
	return cv
}

// Subscribe registers r under topic. Subscribing the same receiver to the
// same topic again is a no-op.
func (b *Bus) Subscribe(topic string, r *Receiver) {
	if r == nil {
		panic("eventbus: nil receiver")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	receivers := b.topics[topic]
	if slices.Contains(receivers, r) {
		return
	}
	b.topics[topic] = append(receivers, r)
	b.logger.Debug("subscribed", "topic", topic, "receiver", r.name)
}

// Unsubscribe removes r from topic. A nil receiver removes every receiver of
// the topic. The topic itself disappears with its last receiver.
func (b *Bus) Unsubscribe(topic string, r *Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()

	receivers, ok := b.topics[topic]
	if !ok {
		return
	}
	if r == nil {
		delete(b.topics, topic)
		return
	}

	remaining := slices.DeleteFunc(slices.Clone(receivers), func(x *Receiver) bool { return x == r })
	if len(remaining) == 0 {
		delete(b.topics, topic)
		return
	}
	b.topics[topic] = remaining
}

// Emit queues delivery of args to every current receiver of topic and
// returns without waiting. Receiver failures are never reported to the
// caller.
func (b *Bus) Emit(topic string, args ...any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Debug("emit on closed bus dropped", "topic", topic)
		return
	}
	for _, r := range b.topics[topic] {
		b.queue = append(b.queue, task{topic: topic, recv: r, args: args})
	}
	b.mu.Unlock()

	b.signal()
}

// SubscriberCount returns the number of receivers currently subscribed to
// topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Topics returns the topics that currently have receivers, sorted.
func (b *Bus) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	topics := make([]string, 0, len(b.topics))
	for t := range b.topics {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

// Sync blocks until every delivery queued before the call has run, or ctx
// is done. It must not be called from a receiver.
func (b *Bus) Sync(ctx context.Context) error {
	done := make(chan struct{})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.queue = append(b.queue, task{done: done})
	b.mu.Unlock()
	b.signal()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, runs what is already queued and stops the
// dispatcher. It must not be called from a receiver.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.signal()
	<-b.stopped
	b.cancel()
	return nil
}

func (b *Bus) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) run() {
	defer close(b.stopped)
	for {
		t, ok := b.next()
		if !ok {
			return
		}
		b.dispatch(t)
	}
}

// next pops the oldest task, waiting for one if the queue is empty. It
// reports false once the bus is closed and drained.
func (b *Bus) next() (task, bool) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			t := b.queue[0]
			b.queue[0] = task{}
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return t, true
		}
		if b.closed {
			b.mu.Unlock()
			return task{}, false
		}
		b.mu.Unlock()
		<-b.wake
	}
}

func (b *Bus) dispatch(t task) {
	if t.done != nil {
		close(t.done)
		return
	}

	// A receiver removed after the event was queued must not see it.
	b.mu.Lock()
	live := slices.Contains(b.topics[t.topic], t.recv)
	b.mu.Unlock()
	if !live {
		b.deliveries.WithLabelValues("skipped").Inc()
		return
	}

	defer func() {
		if p := recover(); p != nil {
			b.deliveries.WithLabelValues("failed").Inc()
			b.logger.Error("receiver panicked", "topic", t.topic, "receiver", t.recv.name, "panic", p)
		}
	}()

	if err := t.recv.fn(b.ctx, t.args...); err != nil {
		b.deliveries.WithLabelValues("failed").Inc()
		b.logger.Warn("receiver failed", "topic", t.topic, "receiver", t.recv.name, "error", err)
		return
	}
	b.deliveries.WithLabelValues("delivered").Inc()
}
