package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// FetchURLToolName is the action name of the URL fetch tool.
const FetchURLToolName = "fetch_url"

// DefaultFetchTimeout bounds a single fetch_url request.
const DefaultFetchTimeout = 30 * time.Second

// FetchConfig configures the fetch_url tool.
type FetchConfig struct {
	// Timeout bounds the whole request including reading the body
	// (default: DefaultFetchTimeout).
	Timeout time.Duration
	// MaxBytes caps the accepted response body size (0 = unlimited).
	MaxBytes int64
	// Client overrides the shared pooled client; Timeout is then ignored.
	Client *http.Client
}

// FetchURLInputs is the input contract of fetch_url.
func FetchURLInputs() map[string]FieldSpec {
	return map[string]FieldSpec{
		"url": {
			Type:        TypeString,
			Required:    true,
			Format:      FormatURL,
			Description: "The URL to fetch content from",
		},
	}
}

// NewFetchURLTool returns the descriptor of the fetch_url tool. The tool issues
// a single GET and returns the response body verbatim, whatever its content type.
// It applies no allow/deny list to the target address.
func NewFetchURLTool(cfg FetchConfig) Descriptor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	f := &urlFetcher{
		client:   clientOrShared(cfg.Client, timeout),
		maxBytes: cfg.MaxBytes,
	}
	return Descriptor{
		Name:        FetchURLToolName,
		Description: "Fetch and retrieve the raw HTML/text content from any publicly accessible URL",
		Inputs:      FetchURLInputs(),
		Handler:     f.fetch,
	}
}

type urlFetcher struct {
	client   *http.Client
	maxBytes int64
}

func (f *urlFetcher) fetch(ctx context.Context, input map[string]any) (string, error) {
	target, _ := input["url"].(string)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", NewToolError(ToolErrorCodeInvalidRequest, fmt.Sprintf("build request for %s: %v", target, err), err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", transportError(fmt.Sprintf("failed to fetch %s", target), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", withToolErrorDetails(
			NewToolError(ToolErrorCodeUpstreamFailure, fmt.Sprintf("failed to fetch %s: %d", target, resp.StatusCode), nil),
			map[string]any{"status_code": resp.StatusCode, "url": target},
		)
	}

	body, err := readBody(resp.Body, f.maxBytes)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return "", withToolErrorDetails(
				NewToolError(ToolErrorCodeUpstreamFailure, fmt.Sprintf("response from %s exceeds %d bytes", target, f.maxBytes), err),
				map[string]any{"url": target, "max_bytes": f.maxBytes},
			)
		}
		return "", transportError(fmt.Sprintf("read response from %s", target), err)
	}
	return string(body), nil
}

var errBodyTooLarge = errors.New("response body too large")

func readBody(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// transportError classifies a network-level fault as TIMEOUT or TRANSPORT_FAILURE.
func transportError(prefix string, err error) *ToolError {
	code := ToolErrorCodeTransportFailure
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = ToolErrorCodeTimeout
	}
	return NewToolError(code, fmt.Sprintf("%s: %v", prefix, err), err)
}
