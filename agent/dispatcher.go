package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/petal-labs/agentrelay/bus"
	"github.com/petal-labs/agentrelay/tool"
)

// DefaultPreviewLimit is the maximum number of runes of a result carried in
// an action_result event.
const DefaultPreviewLimit = 160

// UnknownActionMessage is the failure message for unregistered actions.
const UnknownActionMessage = "Unknown action"

// Request is one incoming action call.
type Request struct {
	Action string `json:"action"`
	Input  any    `json:"input,omitempty"`
}

// Failure describes why an action did not produce a result.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of a dispatch: either Output (Failure == nil) or a
// Failure.
type Result struct {
	RequestID string   `json:"request_id,omitempty"`
	Action    string   `json:"action"`
	Output    string   `json:"output,omitempty"`
	Failure   *Failure `json:"failure,omitempty"`
}

// OK reports whether the dispatch succeeded.
func (r Result) OK() bool {
	return r.Failure == nil
}

// UnknownAction reports whether the dispatch failed because the action is
// not registered.
func (r Result) UnknownAction() bool {
	return r.Failure != nil && r.Failure.Code == tool.ToolErrorCodeActionNotFound
}

// Config configures a Dispatcher.
type Config struct {
	Registry *tool.Registry
	Events   bus.Publisher
	Observer Observer
	Logger   *slog.Logger

	// PreviewLimit bounds the preview in action_result events
	// (default: DefaultPreviewLimit).
	PreviewLimit int

	// NewRequestID generates the id correlating an action's events
	// (default: random UUID).
	NewRequestID func() string
}

// Dispatcher resolves an action, validates its input, runs the tool, and
// reports lifecycle events. It is safe for concurrent use.
type Dispatcher struct {
	registry     *tool.Registry
	events       bus.Publisher
	observer     Observer
	logger       *slog.Logger
	previewLimit int
	newRequestID func() string
}

// NewDispatcher creates a Dispatcher. A nil Events publisher discards events.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent: registry is nil")
	}
	events := cfg.Events
	if events == nil {
		events = discardPublisher{}
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	previewLimit := cfg.PreviewLimit
	if previewLimit <= 0 {
		previewLimit = DefaultPreviewLimit
	}
	newRequestID := cfg.NewRequestID
	if newRequestID == nil {
		newRequestID = uuid.NewString
	}
	return &Dispatcher{
		registry:     cfg.Registry,
		events:       events,
		observer:     observer,
		logger:       logger,
		previewLimit: previewLimit,
		newRequestID: newRequestID,
	}, nil
}

// Dispatch runs one action and returns its result. It never panics and never
// returns a Go error: every fault is reported as a Failure.
//
// Order of operations:
//  1. resolve the action; an unknown action fails with no event published
//  2. publish action_start
//  3. validate input against the tool contract
//  4. run the tool
//  5. publish exactly one of action_result or action_error
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	desc, ok := d.registry.Resolve(req.Action)
	if !ok {
		d.logger.Debug("unknown action", "action", req.Action)
		return Result{
			Action: req.Action,
			Failure: &Failure{
				Code:    tool.ToolErrorCodeActionNotFound,
				Message: UnknownActionMessage,
			},
		}
	}

	requestID := d.newRequestID()
	start := time.Now()

	startEvent := bus.NewEvent(bus.EventActionStart)
	startEvent.RequestID = requestID
	startEvent.Action = desc.Name
	startEvent.Input = echoInput(req.Input)
	d.events.Publish(startEvent)

	output, err := d.run(ctx, desc, req.Input)
	return d.finish(desc.Name, requestID, start, output, err)
}

// run validates and invokes the tool, converting a panicking handler into a
// ToolError.
func (d *Dispatcher) run(ctx context.Context, desc tool.Descriptor, input any) (string, error) {
	validated, err := tool.Validate(desc.Inputs, input)
	if err != nil {
		return "", err
	}

	var (
		output     string
		handlerErr error
	)
	if recovered := panics.Try(func() { output, handlerErr = desc.Handler(ctx, validated) }); recovered != nil {
		return "", tool.NewToolError(tool.ToolErrorCodeInvocationFailed, fmt.Sprintf("tool %s panicked: %v", desc.Name, recovered.Value), recovered.AsError())
	}
	return output, handlerErr
}

// finish is the single exit for resolved actions: it publishes the terminal
// event, reports the observation, and shapes the Result.
func (d *Dispatcher) finish(action, requestID string, start time.Time, output string, err error) Result {
	elapsed := time.Since(start)
	result := Result{RequestID: requestID, Action: action}

	if err != nil {
		code := tool.ErrorCode(err, tool.ToolErrorCodeInvocationFailed)
		message := tool.ErrorMessage(err)
		result.Failure = &Failure{Code: code, Message: message}

		event := bus.NewEvent(bus.EventActionError)
		event.RequestID = requestID
		event.Action = action
		event.Error = message
		event.Code = code
		d.events.Publish(event)

		d.logger.Warn("action failed",
			"action", action,
			"request_id", requestID,
			"code", code,
			"error", err,
			"elapsed", elapsed,
		)
	} else {
		result.Output = output

		length := len(output)
		preview := truncateRunes(output, d.previewLimit)
		event := bus.NewEvent(bus.EventActionResult)
		event.RequestID = requestID
		event.Action = action
		event.Length = &length
		event.Preview = &preview
		d.events.Publish(event)

		d.logger.Info("action completed",
			"action", action,
			"request_id", requestID,
			"length", length,
			"elapsed", elapsed,
		)
	}

	observation := Observation{
		Action:    action,
		RequestID: requestID,
		Start:     start,
		Duration:  elapsed,
		Success:   result.OK(),
	}
	if result.Failure != nil {
		observation.ErrorCode = result.Failure.Code
	}
	d.observer.ObserveDispatch(observation)

	return result
}

// echoInput returns the input for the action_start event. Non-object inputs
// are wrapped so the event stays a flat JSON object.
func echoInput(input any) map[string]any {
	switch v := input.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	default:
		return map[string]any{"value": v}
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

type discardPublisher struct{}

func (discardPublisher) Publish(bus.Event) {}
