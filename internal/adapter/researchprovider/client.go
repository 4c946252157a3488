// Package researchprovider implements provider.Client against a generic
// submit/poll JSON HTTP contract. The actual remote deep-research provider
// is out of scope for this module (see spec §1); this adapter targets the
// shape any such provider is expected to expose and is the one piece
// deliberately left thin and swappable.
package researchprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deepresearch-mcp/orchestrator/internal/provider"
	"github.com/deepresearch-mcp/orchestrator/internal/resilience"
	"github.com/deepresearch-mcp/orchestrator/internal/telemetry"
)

// Client talks to a research provider's submit/poll HTTP endpoints.
type Client struct {
	baseURL    string
	credential string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a provider HTTP client. credential is sent as a bearer
// token and is never logged.
func NewClient(baseURL, credential string) *Client {
	return &Client{
		baseURL:    baseURL,
		credential: credential,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type submitRequest struct {
	Query string `json:"query"`
	Model string `json:"model"`
}

type submitResponse struct {
	Handle       string `json:"handle"`
	InitialState string `json:"initial_state"`
}

// Submit starts a new research session. It may take up to single-digit
// seconds to return; the handle is usable for polling even if the session
// has not yet transitioned to running.
func (c *Client) Submit(ctx context.Context, query, model string) (provider.SubmitResult, error) {
	ctx, span := telemetry.StartSubmitSpan(ctx, "", model)
	defer span.End()

	body, err := json.Marshal(submitRequest{Query: query, Model: model})
	if err != nil {
		return provider.SubmitResult{}, fmt.Errorf("marshal submit request: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/v1/research/submit", body)
	if err != nil {
		return provider.SubmitResult{}, fmt.Errorf("submit: %w", err)
	}

	var resp submitResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return provider.SubmitResult{}, fmt.Errorf("unmarshal submit response: %w", err)
	}

	return provider.SubmitResult{
		Handle:       resp.Handle,
		InitialState: provider.State(resp.InitialState),
	}, nil
}

type pollResponse struct {
	State         string              `json:"state"`
	Progress      *int                `json:"progress,omitempty"`
	CurrentAction string              `json:"current_action,omitempty"`
	Tokens        *tokensJSON         `json:"tokens,omitempty"`
	Result        *pollResultJSON     `json:"result,omitempty"`
	Error         string              `json:"error,omitempty"`
}

type tokensJSON struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

type pollResultJSON struct {
	Report  string           `json:"report"`
	Sources []sourceJSON     `json:"sources,omitempty"`
}

type sourceJSON struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Snippet        string  `json:"snippet,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Poll is idempotent: repeated calls with the same handle are safe and
// expected. completed polls carry the full result; failed polls carry an
// error message; expired signals the provider discarded the session.
func (c *Client) Poll(ctx context.Context, handle string) (provider.PollResult, error) {
	ctx, span := telemetry.StartPollSpan(ctx, "", handle)
	defer span.End()

	start := time.Now()
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/research/poll?handle="+handle, nil)
	if err != nil {
		return provider.PollResult{}, fmt.Errorf("poll: %w", err)
	}

	var resp pollResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return provider.PollResult{}, fmt.Errorf("unmarshal poll response: %w", err)
	}

	out := provider.PollResult{
		State:         provider.State(resp.State),
		Progress:      resp.Progress,
		CurrentAction: resp.CurrentAction,
		Error:         resp.Error,
	}
	if resp.Tokens != nil {
		out.Tokens = provider.Tokens{Input: resp.Tokens.Input, Output: resp.Tokens.Output}
	}
	if resp.Result != nil {
		out.Report = resp.Result.Report
		for _, s := range resp.Result.Sources {
			out.Sources = append(out.Sources, provider.PollSource{
				Title:          s.Title,
				URL:            s.URL,
				Snippet:        s.Snippet,
				RelevanceScore: s.RelevanceScore,
			})
		}
	}

	_ = time.Since(start) // recorded by the engine via telemetry.Metrics.PollLatency around this call

	return out, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.credential != "" {
			req.Header.Set("Authorization", "Bearer "+c.credential)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("provider API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
