package tool

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ToolErrorCodeActionNotFound is returned when an action name is missing or unknown.
	ToolErrorCodeActionNotFound = "ACTION_NOT_FOUND"
	// ToolErrorCodeConfiguration is returned when a required external setting is absent.
	ToolErrorCodeConfiguration = "CONFIGURATION_ERROR"
	// ToolErrorCodeValidationFailed is returned when input violates a tool contract.
	ToolErrorCodeValidationFailed = "VALIDATION_FAILED"
	// ToolErrorCodeInvalidRequest is returned when outbound request construction fails.
	ToolErrorCodeInvalidRequest = "INVALID_REQUEST"
	// ToolErrorCodeTransportFailure is returned when transport I/O fails.
	ToolErrorCodeTransportFailure = "TRANSPORT_FAILURE"
	// ToolErrorCodeTimeout is returned when the outbound call exceeds its deadline.
	ToolErrorCodeTimeout = "TIMEOUT"
	// ToolErrorCodeUpstreamFailure is returned for non-success upstream responses.
	ToolErrorCodeUpstreamFailure = "UPSTREAM_FAILURE"
	// ToolErrorCodeDecodeFailure is returned when an upstream response cannot be decoded.
	ToolErrorCodeDecodeFailure = "DECODE_FAILURE"
	// ToolErrorCodeInvocationFailed is a generic fallback for tool invocation failures.
	ToolErrorCodeInvocationFailed = "INVOCATION_FAILED"
)

// ToolError is a structured invocation error that can flow across the
// dispatcher, the HTTP API, and lifecycle events without losing its
// machine-readable code.
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "" && msg == "":
		return ToolErrorCodeInvocationFailed
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewToolError builds a ToolError. An empty message falls back to the cause's text.
func NewToolError(code, message string, cause error) *ToolError {
	cleanCode := strings.TrimSpace(code)
	if cleanCode == "" {
		cleanCode = ToolErrorCodeInvocationFailed
	}
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &ToolError{
		Code:    cleanCode,
		Message: cleanMsg,
		Cause:   cause,
	}
}

func withToolErrorDetails(err *ToolError, details map[string]any) *ToolError {
	if err == nil {
		return nil
	}
	if len(details) == 0 {
		return err
	}
	if err.Details == nil {
		err.Details = make(map[string]any, len(details))
	}
	for key, value := range details {
		err.Details[key] = value
	}
	return err
}

// AsToolError reports whether err wraps a *ToolError and returns it.
func AsToolError(err error) (*ToolError, bool) {
	if err == nil {
		return nil, false
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr != nil {
		return toolErr, true
	}
	return nil, false
}

// ErrorCode returns the ToolError code carried by err, or fallback when err
// does not wrap one.
func ErrorCode(err error, fallback string) string {
	if toolErr, ok := AsToolError(err); ok && strings.TrimSpace(toolErr.Code) != "" {
		return toolErr.Code
	}
	if strings.TrimSpace(fallback) == "" {
		return ToolErrorCodeInvocationFailed
	}
	return fallback
}

// ErrorMessage returns the human-readable part of err. For a ToolError this is
// the message without the code prefix.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if toolErr, ok := AsToolError(err); ok && strings.TrimSpace(toolErr.Message) != "" {
		return toolErr.Message
	}
	return err.Error()
}
