package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BenDundee/ravana/internal/logging"
)

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey  string
	BaseURL string
	// Model is used when a request names none.
	Model      string
	Timeout    time.Duration
	SiteURL    string
	SiteName   string
	MaxRetries int
	// RetryBase is the first backoff delay; it doubles on each retry.
	RetryBase time.Duration
}

// DefaultOpenRouterConfig returns sensible defaults.
func DefaultOpenRouterConfig(apiKey string) OpenRouterConfig {
	return OpenRouterConfig{
		APIKey:     apiKey,
		BaseURL:    "https://openrouter.ai/api/v1",
		Model:      "openai/gpt-4o-mini",
		Timeout:    2 * time.Minute,
		SiteName:   "ravana",
		MaxRetries: 3,
		RetryBase:  time.Second,
	}
}

// OpenRouterClient talks to any OpenAI-compatible /chat/completions endpoint.
type OpenRouterClient struct {
	cfg         OpenRouterConfig
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	def := DefaultOpenRouterConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.SiteName == "" {
		cfg.SiteName = def.SiteName
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	return &OpenRouterClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// body renders the request, merging Params over the typed fields.
func (c *OpenRouterClient) body(req Request) ([]byte, error) {
	cr := chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if cr.Model == "" {
		cr.Model = c.cfg.Model
	}
	for _, m := range req.Messages {
		cr.Messages = append(cr.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if req.JSONMode {
		cr.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	if len(req.Params) == 0 {
		return json.Marshal(cr)
	}

	base, err := json.Marshal(cr)
	if err != nil {
		return nil, err
	}
	merged := map[string]any{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range req.Params {
		if _, set := merged[k]; !set {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Complete sends the conversation and returns the first choice.
func (c *OpenRouterClient) Complete(ctx context.Context, req Request) (Response, error) {
	if c.cfg.APIKey == "" {
		logging.APIError("[OpenRouter] API key not configured")
		return Response{}, fmt.Errorf("API key not configured")
	}
	if len(req.Messages) == 0 {
		return Response{}, fmt.Errorf("no messages to send")
	}

	startTime := time.Now()
	payload, err := c.body(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	logging.APIDebug("[OpenRouter] Complete: model=%s messages=%d json=%v", req.Model, len(req.Messages), req.JSONMode)

	if err := c.throttle(ctx); err != nil {
		return Response{}, err
	}

	var lastErr error
	for i := 0; i <= c.cfg.MaxRetries; i++ {
		if i > 0 {
			delay := c.cfg.RetryBase << uint(i-1)
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, retry, err := c.do(ctx, payload)
		if err == nil {
			logging.API("[OpenRouter] Complete: model=%s completed in %v tokens=%d",
				resp.Model, time.Since(startTime), resp.Usage.TotalTokens)
			return resp, nil
		}
		if !retry || ctx.Err() != nil {
			logging.APIError("[OpenRouter] Complete failed: %v", err)
			return Response{}, err
		}
		lastErr = err
		logging.APIWarn("[OpenRouter] attempt %d failed, retrying: %v", i+1, err)
	}

	logging.APIError("[OpenRouter] max retries exceeded after %v: %v", time.Since(startTime), lastErr)
	return Response{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// throttle spaces requests at least 100ms apart. Waiting callers queue on the
// mutex; cancellation of ctx ends the wait.
func (c *OpenRouterClient) throttle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wait := 100*time.Millisecond - time.Since(c.lastRequest); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.lastRequest = time.Now()
	return nil
}

// do performs one HTTP round trip. retry reports whether the failure is
// transient (transport error, 429 or 5xx).
func (c *OpenRouterClient) do(ctx context.Context, payload []byte) (Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	// OpenRouter-specific headers
	if c.cfg.SiteURL != "" {
		httpReq.Header.Set("HTTP-Referer", c.cfg.SiteURL)
	}
	httpReq.Header.Set("X-Title", c.cfg.SiteName)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, true, fmt.Errorf("request failed: %w", err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	resp.Body.Close()
	if err != nil {
		return Response{}, true, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Response{}, true, fmt.Errorf("rate limit exceeded (429)")
	case resp.StatusCode >= 500:
		return Response{}, true, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		return Response{}, false, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return Response{}, false, fmt.Errorf("failed to parse response: %w", err)
	}
	if cr.Error != nil {
		return Response{}, false, fmt.Errorf("API error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return Response{}, false, ErrNoCompletion
	}
	return Response{
		Content: strings.TrimSpace(cr.Choices[0].Message.Content),
		Model:   cr.Model,
		Usage:   cr.Usage,
	}, false, nil
}
