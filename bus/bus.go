// Package bus distributes agent lifecycle events to connected observers. A
// Broadcaster owns the observer set; publishers (the dispatcher) and
// transports (the SSE handler) share one Broadcaster instance.
package bus

// Publisher fans an event out to every current observer.
type Publisher interface {
	Publish(event Event)
}

// Writer delivers events to one connected observer, typically a single
// event-stream connection. Implementations need not be safe for concurrent
// use: the Broadcaster serializes writes per observer.
type Writer interface {
	WriteEvent(event Event) error
}

// WriterFunc adapts a function to the Writer interface.
type WriterFunc func(event Event) error

// WriteEvent calls f(event).
func (f WriterFunc) WriteEvent(event Event) error {
	return f(event)
}
