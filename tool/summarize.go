package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SummarizeToolName is the action name of the summarization tool.
const SummarizeToolName = "summarize"

const (
	// DefaultSummarizeModel is the model requested when none is configured.
	DefaultSummarizeModel = "Qwen2.5:7b"
	// DefaultSummarizeTimeout bounds a single chat-completion call.
	DefaultSummarizeTimeout = 120 * time.Second
	// DefaultSummaryTokens is applied when max_tokens is absent.
	DefaultSummaryTokens = 256

	summarizerSystemPrompt = "You are a concise summarizer. Return a crisp summary."
	summarizerUserPrefix   = "Summarize the following text:\n\n"
)

// SummarizeConfig configures the summarize tool.
type SummarizeConfig struct {
	// Endpoint is the chat-completion base URL; requests go to Endpoint + "/chat".
	Endpoint string
	// Model is the model identifier sent upstream (default: DefaultSummarizeModel).
	Model string
	// Timeout bounds one upstream call (default: DefaultSummarizeTimeout).
	Timeout time.Duration
	// Client overrides the shared pooled client; Timeout is then ignored.
	Client *http.Client
}

// SummarizeInputs is the input contract of summarize.
func SummarizeInputs() map[string]FieldSpec {
	return map[string]FieldSpec{
		"text": {
			Type:        TypeString,
			Required:    true,
			NonEmpty:    true,
			Description: "The text to summarize",
		},
		"max_tokens": {
			Type:        TypeInteger,
			Default:     DefaultSummaryTokens,
			Min:         Bound(64),
			Max:         Bound(2048),
			Description: "Maximum tokens for the summary",
		},
	}
}

// NewSummarizeTool returns the descriptor of the summarize tool.
func NewSummarizeTool(cfg SummarizeConfig) Descriptor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSummarizeTimeout
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultSummarizeModel
	}
	s := &summarizer{
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		model:    model,
		client:   clientOrShared(cfg.Client, timeout),
	}
	return Descriptor{
		Name:        SummarizeToolName,
		Description: "Generate a concise summary of any text using the configured LLM endpoint",
		Inputs:      SummarizeInputs(),
		Handler:     s.summarize,
	}
}

type summarizer struct {
	endpoint string
	model    string
	client   *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	MaxTokens int           `json:"max_tokens"`
}

func (s *summarizer) summarize(ctx context.Context, input map[string]any) (string, error) {
	if s.endpoint == "" {
		return "", NewToolError(ToolErrorCodeConfiguration, "OLLAMA_API_URL not set", nil)
	}

	text, _ := input["text"].(string)
	maxTokens, ok := input["max_tokens"].(int)
	if !ok {
		maxTokens = DefaultSummaryTokens
	}

	body, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: summarizerSystemPrompt},
			{Role: "user", Content: summarizerUserPrefix + text},
		},
		Stream:    false,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", NewToolError(ToolErrorCodeInvalidRequest, "encode chat request", err)
	}

	url := s.endpoint + "/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", NewToolError(ToolErrorCodeInvalidRequest, fmt.Sprintf("build chat request: %v", err), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", transportError("LLM request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError("read LLM response", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", withToolErrorDetails(
			NewToolError(ToolErrorCodeUpstreamFailure, fmt.Sprintf("LLM error: %d %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil),
			map[string]any{"status_code": resp.StatusCode},
		)
	}

	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", NewToolError(ToolErrorCodeDecodeFailure, fmt.Sprintf("decode LLM response: %v", err), err)
	}
	return strings.TrimSpace(ExtractSummary(decoded)), nil
}

// SummaryExtractor pulls generated text out of one upstream response shape.
// It reports false when the shape does not match.
type SummaryExtractor func(response any) (string, bool)

// SummaryExtractors are tried in order against a chat-completion response.
// When none matches, the summary is the empty string rather than an error:
// the upstream response schema is not guaranteed, so extraction is lenient.
var SummaryExtractors = []SummaryExtractor{
	extractMessageContent,
	extractChoicesMessageContent,
}

// ExtractSummary applies SummaryExtractors in order and returns the first
// match, or "" when no extractor matches.
func ExtractSummary(response any) string {
	for _, extract := range SummaryExtractors {
		if content, ok := extract(response); ok {
			return content
		}
	}
	return ""
}

// extractMessageContent handles {"message": {"content": "..."}}.
func extractMessageContent(response any) (string, bool) {
	root, ok := response.(map[string]any)
	if !ok {
		return "", false
	}
	return messageContent(root["message"])
}

// extractChoicesMessageContent handles {"choices": [{"message": {"content": "..."}}]}.
func extractChoicesMessageContent(response any) (string, bool) {
	root, ok := response.(map[string]any)
	if !ok {
		return "", false
	}
	choices, ok := root["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	return messageContent(first["message"])
}

func messageContent(raw any) (string, bool) {
	message, ok := raw.(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := message["content"].(string)
	if !ok || content == "" {
		return "", false
	}
	return content, true
}
