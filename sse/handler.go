// Package sse serves the agent lifecycle event stream as Server-Sent Events.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/petal-labs/agentrelay/bus"
)

// writeTimeout bounds each event write so a client that stops reading cannot
// hold its observer's writer forever.
const writeTimeout = 10 * time.Second

// Handler streams every event published on a Broadcaster to one HTTP client.
//
// SSE format, one message per event:
//
//	data: {json}
//
// The first message is always a hello event and heartbeat events follow at
// the Broadcaster's interval. The stream ends when the client disconnects or
// the Broadcaster is closed.
type Handler struct {
	broadcaster *bus.Broadcaster
	logger      *slog.Logger
}

// NewHandler creates a Handler bound to broadcaster.
func NewHandler(broadcaster *bus.Broadcaster, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{broadcaster: broadcaster, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	// The stream outlives any server-wide write timeout; each event write
	// sets its own deadline instead.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Debug("clearing write deadline failed", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream flush failed", "error", err)
		return
	}

	obs := h.broadcaster.Subscribe(&streamWriter{w: w, rc: rc, logger: h.logger})
	defer h.broadcaster.Unsubscribe(obs)

	h.logger.Debug("event stream opened", "remote", r.RemoteAddr)
	select {
	case <-r.Context().Done():
	case <-obs.Done():
	}
	h.logger.Debug("event stream closed", "remote", r.RemoteAddr)
}

// streamWriter frames events for one connection. The Broadcaster serializes
// calls, and none happen after Unsubscribe returns.
type streamWriter struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger
}

func (s *streamWriter) WriteEvent(event bus.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := s.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug("setting write deadline failed", "error", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.rc.Flush()
}
