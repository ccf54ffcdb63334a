package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// DefaultHeartbeatInterval is the keep-alive interval applied per observer.
const DefaultHeartbeatInterval = 15 * time.Second

// DefaultObserverBufferSize is the number of events queued per observer
// before Publish starts dropping events for it.
const DefaultObserverBufferSize = 256

// BroadcasterConfig configures a Broadcaster.
type BroadcasterConfig struct {
	// HeartbeatInterval is the per-observer keep-alive period
	// (default: DefaultHeartbeatInterval).
	HeartbeatInterval time.Duration

	// ObserverBufferSize is the event queue size per observer
	// (default: DefaultObserverBufferSize).
	ObserverBufferSize int

	// Now returns the timestamp stamped on hello and heartbeat events
	// (default: time.Now).
	Now func() time.Time

	Logger *slog.Logger
}

// Broadcaster maintains the set of subscribed observers and fans lifecycle
// events out to them. It is safe for concurrent use.
//
// Each observer has its own queue and writer goroutine, so Publish never
// waits on a write. When an observer's queue is full the event is dropped for
// that observer only. A failed or panicking write is logged and skipped.
// Broken observers stay subscribed until their transport notices the
// disconnect and calls Unsubscribe.
type Broadcaster struct {
	interval time.Duration
	bufSize  int
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.RWMutex
	observers map[*Observer]struct{}
	closed    bool
}

// NewBroadcaster creates a Broadcaster with the given configuration.
func NewBroadcaster(cfg BroadcasterConfig) *Broadcaster {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	bufSize := cfg.ObserverBufferSize
	if bufSize <= 0 {
		bufSize = DefaultObserverBufferSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		interval:  interval,
		bufSize:   bufSize,
		now:       now,
		logger:    logger,
		observers: make(map[*Observer]struct{}),
	}
}

// Subscribe registers w as an observer. A hello event is queued for w alone
// before it joins the broadcast set, and a heartbeat ticker starts for it.
//
// Subscribing to a closed Broadcaster returns an observer whose Done channel
// is already closed.
func (b *Broadcaster) Subscribe(w Writer) *Observer {
	obs := &Observer{
		w:     w,
		queue: make(chan Event, b.bufSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	// Hello goes in first so it precedes anything published later.
	obs.queue <- Event{Type: EventHello, At: b.now()}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		obs.stopOnce.Do(func() { close(obs.stop) })
		close(obs.done)
		return obs
	}
	b.observers[obs] = struct{}{}
	b.mu.Unlock()

	go b.run(obs)
	return obs
}

// Unsubscribe removes obs from the broadcast set, writes any events already
// queued for it and stops its heartbeat. No event is written to obs once
// Unsubscribe returns, so it waits for a write in progress to finish. It is
// safe to call more than once.
func (b *Broadcaster) Unsubscribe(obs *Observer) {
	if obs == nil {
		return
	}
	b.mu.Lock()
	delete(b.observers, obs)
	b.mu.Unlock()

	obs.signalStop()
	<-obs.done
}

// Publish queues event for every subscribed observer. It does not wait for
// any write.
func (b *Broadcaster) Publish(event Event) {
	if event.At.IsZero() {
		event.At = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for obs := range b.observers {
		select {
		case obs.queue <- event:
		default:
			b.logger.Debug("observer queue full, event dropped",
				"type", event.Type,
				"request_id", event.RequestID,
			)
		}
	}
}

// Len returns the number of subscribed observers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Close unsubscribes every observer without waiting for their writers; each
// observer's Done channel closes once its writer has exited. Later
// subscriptions are closed immediately. It is safe to call Close multiple
// times.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	b.closed = true
	observers := make([]*Observer, 0, len(b.observers))
	for obs := range b.observers {
		observers = append(observers, obs)
	}
	clear(b.observers)
	b.mu.Unlock()

	for _, obs := range observers {
		obs.signalStop()
	}
	return nil
}

// run is the observer's writer goroutine. It owns every call to the
// observer's Writer.
func (b *Broadcaster) run(obs *Observer) {
	defer close(obs.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-obs.stop:
			b.drain(obs)
			return
		case event := <-obs.queue:
			b.deliver(obs, event)
		case <-ticker.C:
			b.deliver(obs, Event{Type: EventHeartbeat, At: b.now()})
		}
	}
}

// drain writes the events queued before obs was stopped.
func (b *Broadcaster) drain(obs *Observer) {
	for {
		select {
		case event := <-obs.queue:
			b.deliver(obs, event)
		default:
			return
		}
	}
}

// deliver performs one guarded write to obs.
func (b *Broadcaster) deliver(obs *Observer, event Event) {
	err := obs.write(event)
	if err != nil {
		b.logger.Debug("event delivery failed",
			"type", event.Type,
			"request_id", event.RequestID,
			"error", err,
		)
	}
}

// Observer is the handle of one subscription.
type Observer struct {
	w     Writer
	queue chan Event

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Done is closed once the observer has been unsubscribed, either explicitly
// or because the Broadcaster was closed, and its writer has exited.
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

// write converts a panicking writer into an error.
func (o *Observer) write(event Event) error {
	var err error
	if recovered := panics.Try(func() { err = o.w.WriteEvent(event) }); recovered != nil {
		return recovered.AsError()
	}
	return err
}

func (o *Observer) signalStop() {
	o.stopOnce.Do(func() { close(o.stop) })
}
