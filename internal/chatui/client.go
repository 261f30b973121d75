// Package chatui is the terminal chat front end for the ravana API.
package chatui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BenDundee/ravana/internal/llm"
	"github.com/BenDundee/ravana/internal/logging"
)

// NoResponse is shown when the API answers without a response field.
const NoResponse = "[No response]"

// Sender delivers a conversation to the backend and returns the reply.
type Sender interface {
	Send(ctx context.Context, history []llm.Message) (string, error)
}

// Client posts conversations to the chat endpoint.
type Client struct {
	url  string
	http *http.Client
}

// NewClient returns a client for url (the deployment api_url). A nil
// httpClient uses one with a five minute timeout.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{url: url, http: httpClient}
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string { return c.url }

// Send posts the full history and returns the assistant reply. A reply
// without a response field yields NoResponse.
func (c *Client) Send(ctx context.Context, history []llm.Message) (string, error) {
	body, err := json.Marshal(map[string]any{"messages": history})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	logging.ChatDebug("POST %s -> %d in %v", c.url, resp.StatusCode, time.Since(start))

	var payload struct {
		Response *string `json:"response"`
		Error    string  `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("server returned %d", resp.StatusCode)
		}
		return "", fmt.Errorf("invalid response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if payload.Error != "" {
			return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Error)
		}
		return "", fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if payload.Response == nil {
		return NoResponse, nil
	}
	return *payload.Response, nil
}
