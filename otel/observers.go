package otel

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// RegisterObserverGauge exports the number of connected event stream
// observers as the observable gauge agentrelay.observers. count is called on
// every collection.
func RegisterObserverGauge(meter metric.Meter, count func() int) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge(
		"agentrelay.observers",
		metric.WithDescription("Number of connected event stream observers"),
	)
	if err != nil {
		return nil, err
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(count()))
		return nil
	}, gauge)
}
