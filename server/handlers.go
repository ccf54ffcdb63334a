package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/petal-labs/agentrelay/agent"
	"github.com/petal-labs/agentrelay/tool"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAct runs one action. Unknown actions and unreadable bodies are 400s;
// every other failure is a 500 with the failure message in the envelope.
func (s *Server) handleAct(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeActError(w, http.StatusInternalServerError, tool.ToolErrorCodeConfiguration, "dispatcher not configured")
		return
	}

	var req agent.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeActError(w, http.StatusRequestEntityTooLarge, tool.ToolErrorCodeInvalidRequest,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		writeActError(w, http.StatusBadRequest, tool.ToolErrorCodeInvalidRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	// A caller that disconnects mid-call still gets its terminal event
	// published to observers.
	res := s.dispatcher.Dispatch(context.WithoutCancel(r.Context()), req)
	if res.OK() {
		writeJSON(w, http.StatusOK, actResponse{OK: true, Result: res.Output, RequestID: res.RequestID})
		return
	}

	status := http.StatusInternalServerError
	if res.UnknownAction() {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, actResponse{
		OK:        false,
		Error:     res.Failure.Message,
		Code:      res.Failure.Code,
		RequestID: res.RequestID,
	})
}

type toolInfo struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Inputs      map[string]tool.FieldSpec `json:"inputs"`
}

// handleListTools returns the registered tools and their input contracts.
func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	tools := []toolInfo{}
	if s.registry != nil {
		for _, desc := range s.registry.List() {
			tools = append(tools, toolInfo{
				Name:        desc.Name,
				Description: desc.Description,
				Inputs:      desc.Inputs,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}
