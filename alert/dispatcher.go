package alert

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Notifier delivers an event to one external channel.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }

// Channel is a registered notifier with its own severity floor.
type Channel struct {
	Name        string
	MinSeverity Severity
	Notifier    Notifier
}

// Accepts reports whether the channel takes events of severity s.
func (c Channel) Accepts(s Severity) bool { return s >= c.MinSeverity }

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// QueueSize bounds the number of undelivered events. Events beyond it are
	// dropped and counted.
	QueueSize int
	// Timeout bounds a single Notify call.
	Timeout time.Duration
	Logger  zerolog.Logger
	// Registerer exports the Stats counters as
	// anchorstore_alert_events_total{outcome}. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

const (
	defaultQueueSize     = 256
	defaultNotifyTimeout = 10 * time.Second
)

// Dispatcher fans events out to channels on a background goroutine.
// Dispatch never blocks and never reports delivery failures to the caller.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	log      zerolog.Logger

	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

var _ Sink = (*Dispatcher)(nil)

// NewDispatcher starts a dispatcher delivering to channels.
func NewDispatcher(opts DispatcherOptions, channels ...Channel) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultNotifyTimeout
	}
	d := &Dispatcher{
		channels: channels,
		timeout:  opts.Timeout,
		log:      opts.Logger.With().Str("component", "alert").Logger(),
		queue:    make(chan Event, opts.QueueSize),
		done:     make(chan struct{}),
	}
	d.register(opts.Registerer)
	go d.run()
	return d
}

func (d *Dispatcher) register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	f := promauto.With(reg)
	for outcome, n := range map[string]*atomic.Uint64{
		"delivered": &d.delivered,
		"failed":    &d.failed,
		"dropped":   &d.dropped,
	} {
		f.NewCounterFunc(prometheus.CounterOpts{
			Name:        "anchorstore_alert_events_total",
			Help:        "Alert deliveries by outcome; delivered and failed count per channel",
			ConstLabels: prometheus.Labels{"outcome": outcome},
		}, func() float64 { return float64(n.Load()) })
	}
}

// Dispatch queues e for delivery. A full queue or a closed dispatcher drops
// the event.
func (d *Dispatcher) Dispatch(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
		d.log.Warn().Str("type", string(e.Type)).Msg("alert queue full, event dropped")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		for _, ch := range d.channels {
			if ch.Notifier == nil || !ch.Accepts(e.Severity) {
				continue
			}
			if err := d.deliver(ch, e); err != nil {
				d.failed.Add(1)
				d.log.Error().Err(err).
					Str("channel", ch.Name).
					Str("type", string(e.Type)).
					Msg("alert delivery failed")
				continue
			}
			d.delivered.Add(1)
		}
	}
}

func (d *Dispatcher) deliver(ch Channel, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: channel %s panicked: %v", ErrDeliveryFailed, ch.Name, r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return ch.Notifier.Notify(ctx, e)
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatcherStats counts dispatcher outcomes. Delivered and Failed count
// per channel.
type DispatcherStats struct {
	Delivered uint64
	Failed    uint64
	Dropped   uint64
}

// Stats returns the running counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// Recorder keeps every event it receives. It is both a Sink and a Notifier.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var (
	_ Sink     = (*Recorder)(nil)
	_ Notifier = (*Recorder)(nil)
)

// Dispatch records e.
func (r *Recorder) Dispatch(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Notify records e.
func (r *Recorder) Notify(_ context.Context, e Event) error {
	r.Dispatch(e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many recorded events match severity s. Zero matches all.
func (r *Recorder) Count(s Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if s == 0 || e.Severity == s {
			n++
		}
	}
	return n
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
