// Package httpclient speaks the engine HTTP contract (spec §6.2) and
// implements the retry/restart policy (spec §4.4): client errors are
// permanent, loading (503) is retried without restart up to a cumulative
// wait cap, and server errors (500, transport failures) trigger an engine
// restart between a bounded number of attempts.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/audiobook-maker/engine-core/internal/logging"
)

// HealthStatus mirrors the engine's /health response.
type HealthStatus struct {
	Status            string `json:"status"` // ready|loading|error
	CurrentEngineModel string `json:"currentEngineModel,omitempty"`
	PackageVersion     string `json:"packageVersion,omitempty"`
	Device             string `json:"device,omitempty"`
}

// EngineModelInfo is one entry of the /models response.
type EngineModelInfo struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"displayName"`
	Languages   []string          `json:"languages,omitempty"`
	Fields      map[string]any    `json:"fields,omitempty"`
}

// ModelsResponse is the full /models response.
type ModelsResponse struct {
	Models []EngineModelInfo `json:"models"`
}

// LoadRequest is the /load request body.
type LoadRequest struct {
	EngineModelName string `json:"engineModelName"`
}

// LoadResponse is the /load response body.
type LoadResponse struct {
	Status string `json:"status"` // loaded|error
	Error  string `json:"error,omitempty"`
}

// EngineClient talks to one running engine endpoint over HTTP, always
// JSON, always camelCase per the engine contract.
type EngineClient struct {
	baseURL string
	http    *http.Client
}

// NewEngineClient returns a client for the engine reachable at baseURL.
func NewEngineClient(baseURL string, timeout time.Duration) *EngineClient {
	return &EngineClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *EngineClient) do(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err // transport failure: caller classifies as server error
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp, data, nil
}

// Health performs GET /health.
func (c *EngineClient) Health(ctx context.Context) (*HealthStatus, error) {
	resp, data, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, &ServerError{Message: "health check transport failure", Cause: err}
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, &LoadingError{Message: "engine reports loading"}
	}
	var status HealthStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &status, nil
}

// Models performs GET /models.
func (c *EngineClient) Models(ctx context.Context) (*ModelsResponse, error) {
	resp, data, err := c.do(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, &ServerError{Message: "models transport failure", Cause: err}
	}
	if resp.StatusCode >= 500 {
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: "model scan failed"}
	}
	var out ModelsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}
	return &out, nil
}

// Load performs POST /load.
func (c *EngineClient) Load(ctx context.Context, modelName string) (*LoadResponse, error) {
	resp, data, err := c.do(ctx, http.MethodPost, "/load", LoadRequest{EngineModelName: modelName})
	if err != nil {
		return nil, &ServerError{Message: "load transport failure", Cause: err}
	}
	var out LoadResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode load response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: out.Error}
	}
	return &out, nil
}

// Generate performs POST /generate with an arbitrary engine-specific
// payload (TTS, STT, or analysis shaped per spec §6.2) and returns the raw
// response body alongside its content type, classified per the retry
// policy table.
func (c *EngineClient) Generate(ctx context.Context, payload any) (body []byte, contentType string, err error) {
	resp, data, err := c.do(ctx, http.MethodPost, "/generate", payload)
	if err != nil {
		return nil, "", &ServerError{Message: "generate transport failure", Cause: err}
	}
	if classErr := classifyStatus(resp.StatusCode, data); classErr != nil {
		return nil, "", classErr
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Shutdown performs a best-effort POST /shutdown; the engine is expected to
// exit shortly, so transport errors here are swallowed by the caller's
// runner-level process-exit wait, not retried.
func (c *EngineClient) Shutdown(ctx context.Context) error {
	_, _, err := c.do(ctx, http.MethodPost, "/shutdown", nil)
	if err != nil {
		logging.Debug().Err(err).Msg("shutdown request failed (best-effort)")
	}
	return nil
}

// classifyStatus maps an HTTP status code to the spec §4.4 classification.
// Returns nil for 200 OK.
func classifyStatus(statusCode int, body []byte) error {
	switch {
	case statusCode == http.StatusOK:
		return nil
	case statusCode == http.StatusBadRequest || statusCode == http.StatusNotFound:
		return &ClientError{StatusCode: statusCode, Message: string(body)}
	case statusCode == http.StatusServiceUnavailable:
		return &LoadingError{Message: string(body)}
	default:
		return &ServerError{StatusCode: statusCode, Message: string(body)}
	}
}
