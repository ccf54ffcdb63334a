package agent

import "time"

// Observation captures the outcome of one resolved dispatch.
type Observation struct {
	Action    string
	RequestID string
	Start     time.Time
	Duration  time.Duration
	Success   bool
	ErrorCode string
}

// Observer receives dispatch observations for metrics and tracing.
type Observer interface {
	ObserveDispatch(observation Observation)
}

type noopObserver struct{}

func (noopObserver) ObserveDispatch(Observation) {}
