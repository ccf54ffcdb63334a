// Package otel records agent dispatch and event stream signals into
// OpenTelemetry.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/agentrelay/agent"
)

// DispatchObserver records one counter, failure counter, latency sample and
// span per resolved action.
type DispatchObserver struct {
	tracer trace.Tracer

	dispatches metric.Int64Counter
	failures   metric.Int64Counter
	latency    metric.Float64Histogram
}

// NewDispatchObserver creates a dispatch observer bound to the provided
// meter/tracer. A nil tracer disables spans.
func NewDispatchObserver(meter metric.Meter, tracer trace.Tracer) (*DispatchObserver, error) {
	dispatches, err := meter.Int64Counter(
		"agentrelay.dispatch.count",
		metric.WithDescription("Number of dispatched actions"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		"agentrelay.dispatch.failures",
		metric.WithDescription("Number of dispatched actions that ended in action_error"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"agentrelay.dispatch.latency",
		metric.WithDescription("Action latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &DispatchObserver{
		tracer:     tracer,
		dispatches: dispatches,
		failures:   failures,
		latency:    latency,
	}, nil
}

// ObserveDispatch records one dispatch outcome.
func (o *DispatchObserver) ObserveDispatch(observation agent.Observation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("action", observation.Action),
		attribute.Bool("success", observation.Success),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.dispatches.Add(ctx, 1, options)
	if !observation.Success {
		o.failures.Add(ctx, 1, options)
	}
	o.latency.Record(ctx, observation.Duration.Seconds(), options)

	if o.tracer == nil {
		return
	}
	spanAttrs := append(attrs, attribute.String("request_id", observation.RequestID))
	_, span := o.tracer.Start(ctx, "agent.dispatch",
		trace.WithTimestamp(observation.Start),
		trace.WithAttributes(spanAttrs...),
	)
	if !observation.Success {
		span.SetStatus(codes.Error, observation.ErrorCode)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(observation.Start.Add(observation.Duration)))
}

var _ agent.Observer = (*DispatchObserver)(nil)
