// Package llm provides chat-completion clients for the agents.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoCompletion is returned when a provider answers without any choices.
var ErrNoCompletion = errors.New("no completion returned")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole reports whether role is one of the known message roles.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
	// JSONMode asks the provider for a JSON object response.
	JSONMode bool
	// Params carries remaining provider parameters from the prompt file.
	Params map[string]any
}

// Usage reports token counts when the provider supplies them.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completion.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Client completes chat requests.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Float returns a pointer to v, for Request.Temperature.
func Float(v float64) *float64 { return &v }

// splitSystem separates system messages from the conversation, joining
// multiple system messages with blank lines.
func splitSystem(msgs []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// Router dispatches requests to a client by model name. A model whose name
// starts with a registered prefix goes to that client; everything else goes
// to the fallback.
type Router struct {
	routes   []route
	fallback Client
}

type route struct {
	prefix string
	client Client
}

// NewRouter creates a router with the given fallback client.
func NewRouter(fallback Client) *Router {
	return &Router{fallback: fallback}
}

// Route registers client for models beginning with prefix.
func (r *Router) Route(prefix string, client Client) *Router {
	r.routes = append(r.routes, route{prefix: prefix, client: client})
	return r
}

// Complete implements Client.
func (r *Router) Complete(ctx context.Context, req Request) (Response, error) {
	for _, rt := range r.routes {
		if strings.HasPrefix(req.Model, rt.prefix) {
			return rt.client.Complete(ctx, req)
		}
	}
	if r.fallback == nil {
		return Response{}, fmt.Errorf("no client configured for model %q", req.Model)
	}
	return r.fallback.Complete(ctx, req)
}
