package bar

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ivoronin/patiencebar/internal/queue"
)

// Serialized is a bar that accepts updates from any number of goroutines.
//
// # Concurrency Model
//
//  1. PRODUCERS (any goroutine)
//     - Update enqueues the event and returns; it never blocks
//     - Producers never touch bar state
//
//  2. CONSUMER (one goroutine per run)
//     - Started by Reset, owns the embedded Bar exclusively
//     - Blocks on the queue, applies one event, yields, repeats
//     - Exits when the bar completes, on Stop, or after Close drains
//
//  3. LIFECYCLE (Reset, Stop, Close, Wait)
//     - Reset stops and waits for the previous consumer before starting a new
//     one, so there is never more than one consumer per Serialized
//
// Events are rendered in queue arrival order. Events from different producers
// have no ordering beyond that.
type Serialized struct {
	bar   *Bar                    // owned by the consumer while one runs
	queue *queue.Unbounded[Event] // shared by all producers and all runs

	mu     sync.Mutex         // guards cancel and done
	cancel context.CancelFunc // wakes the consumer out of a blocking Get or yield
	done   chan struct{}      // closed when the consumer exits

	running  atomic.Bool
	draining atomic.Bool
	value    atomic.Uint64        // math.Float64bits of the bar value
	view     atomic.Pointer[view] // read-only snapshot for accessors
}

// view is the part of the bar producers and accessors may read while the
// consumer runs. Rebuilt on every Reset.
type view struct {
	cfg      Config
	width    int
	logger   *zap.Logger
	observer Observer
}

// NewSerialized creates a concurrent-safe bar and starts its consumer.
func NewSerialized(opts ...Option) *Serialized {
	s := &Serialized{
		bar:   &Bar{settings: defaultSettings()},
		queue: queue.NewUnbounded[Event](),
	}
	s.Reset(opts...)
	return s
}

// Reset stops the current consumer (if any), discards events still queued
// from the previous run, resets the bar with opts merged over the current
// settings, and starts a new consumer.
func (s *Serialized) Reset(opts ...Option) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running.Store(false)
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	s.bar.Reset(opts...)
	v := &view{
		cfg:      s.bar.Config(),
		width:    s.bar.Width(),
		logger:   s.bar.settings.logger,
		observer: s.bar.settings.observer,
	}
	s.view.Store(v)
	s.value.Store(math.Float64bits(0))

	if stale := s.queue.Drain(); len(stale) > 0 {
		v.logger.Debug("discarding events from previous run", zap.Int("count", len(stale)))
		v.observer.Discarded(ReasonStale, len(stale))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.draining.Store(false)
	s.running.Store(true)
	go s.consume(ctx, s.done, s.bar.settings.yield)
}

// Update enqueues ev for rendering. Safe for concurrent use; never blocks.
// Events submitted after the run ends stay queued until the next Reset
// discards them.
func (s *Serialized) Update(ev Event) {
	s.queue.Put(ev)
	s.view.Load().observer.Enqueued(ev.Kind())
}

// Stop asks the consumer to exit after the event it is applying. Queued
// events are left unrendered. Stop does not wait; use Wait for that.
func (s *Serialized) Stop() {
	s.running.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Close renders every event already queued and then stops the consumer.
// It returns early with an error if ctx ends first. The bar may be Reset
// again afterwards.
func (s *Serialized) Close(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.draining.Store(true)
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	return wait(ctx, done)
}

// Wait blocks until the consumer exits: the bar completed, or Stop or Close
// was called.
func (s *Serialized) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	return wait(ctx, done)
}

func wait(ctx context.Context, done <-chan struct{}) error {
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress bar wait: %w", ctx.Err())
	}
}

// consume is the only goroutine that touches s.bar while a run is active.
func (s *Serialized) consume(ctx context.Context, done chan<- struct{}, yield time.Duration) {
	defer close(done)
	defer s.running.Store(false)

	var timer *time.Timer
	if yield > 0 {
		timer = time.NewTimer(yield)
		timer.Stop()
		defer timer.Stop()
	}

	for s.running.Load() {
		ev, err := s.queue.Get(ctx)
		if err != nil {
			if s.draining.Load() {
				s.drain()
			}
			return
		}
		s.apply(ev)

		if timer != nil && s.running.Load() {
			timer.Reset(yield)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}
	}
}

// drain applies queued events without blocking or yielding.
func (s *Serialized) drain() {
	for s.running.Load() {
		ev, ok := s.queue.TryGet()
		if !ok {
			return
		}
		s.apply(ev)
	}
}

func (s *Serialized) apply(ev Event) {
	s.bar.Update(ev)
	s.value.Store(math.Float64bits(s.bar.Value()))
	s.bar.settings.observer.Applied(ev.Kind())
	if !s.bar.Running() {
		s.running.Store(false)
	}
}

// Config returns the configuration of the current run.
func (s *Serialized) Config() Config { return s.view.Load().cfg }

// Max returns the finish value.
func (s *Serialized) Max() float64 { return s.view.Load().cfg.Max }

// Width returns the effective bar width in characters.
func (s *Serialized) Width() int { return s.view.Load().width }

// Title returns the title, or "" if none.
func (s *Serialized) Title() string { return s.view.Load().cfg.Title }

// BarEnabled reports whether the bar is in bar mode.
func (s *Serialized) BarEnabled() bool { return s.view.Load().cfg.Bar }

// UpEvery returns the redraw throttle in percent.
func (s *Serialized) UpEvery() int { return s.view.Load().cfg.UpEvery }

// Running reports whether the consumer is active. It turns false when the
// bar completes or after Stop.
func (s *Serialized) Running() bool { return s.running.Load() }

// Value returns the progress value last applied by the consumer.
func (s *Serialized) Value() float64 { return math.Float64frombits(s.value.Load()) }

// pending reports how many events are queued but not yet applied.
func (s *Serialized) pending() int { return s.queue.Len() }
