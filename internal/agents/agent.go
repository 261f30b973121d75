package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BenDundee/ravana/internal/llm"
	"github.com/BenDundee/ravana/internal/logging"
	"github.com/BenDundee/ravana/internal/prompt"
	"github.com/BenDundee/ravana/internal/usage"
)

// Agent is one configured LLM role. Its system prompt comes from a prompt
// file; its memory holds the conversation it has seen plus its own turns.
type Agent struct {
	Name string

	mu        sync.RWMutex
	spec      *prompt.Spec
	generator *prompt.Generator
	client    llm.Client
	memory    *Memory
	// retries is the number of re-asks when a reply is not valid JSON.
	retries int
	usage   *usage.Tracker
}

func newAgent(name string, spec *prompt.Spec, client llm.Client, memory *Memory, providers []prompt.ContextProvider, retries int) *Agent {
	return &Agent{
		Name:      name,
		spec:      spec,
		generator: prompt.NewGenerator(spec.SystemPrompt, providers...),
		client:    client,
		memory:    memory,
		retries:   retries,
	}
}

// Model returns the model named in the prompt file.
func (a *Agent) Model() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.spec.Model
}

// Memory returns the agent's memory.
func (a *Agent) Memory() *Memory {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.memory
}

// Providers returns the agent's context providers.
func (a *Agent) Providers() []prompt.ContextProvider {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.generator.Providers()
}

// SystemPrompt renders the current system prompt.
func (a *Agent) SystemPrompt() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.generator.Generate()
}

// reconfigure swaps the prompt while keeping memory and providers.
func (a *Agent) reconfigure(spec *prompt.Spec) {
	a.mu.Lock()
	defer a.mu.Unlock()
	providers := a.generator.Providers()
	a.spec = spec
	a.generator = prompt.NewGenerator(spec.SystemPrompt, providers...)
}

// Run sends input to the model and decodes the JSON reply into out. Input is
// sent as-is when it is a string and as JSON otherwise. On success the input
// and the raw reply are recorded in the agent's memory.
func (a *Agent) Run(ctx context.Context, input any, out any) error {
	content, err := encodeInput(input)
	if err != nil {
		return fmt.Errorf("agent %s: %w", a.Name, err)
	}

	a.mu.RLock()
	spec := a.spec
	system := a.generator.Generate()
	client := a.client
	memory := a.memory
	retries := a.retries
	tracker := a.usage
	a.mu.RUnlock()

	if h, ok := out.(SchemaHinter); ok {
		system += "\n\n# OUTPUT SCHEMA\nRespond with only a JSON object of this shape:\n" + h.SchemaHint()
	}

	msgs := make([]llm.Message, 0, memory.Len()+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	msgs = append(msgs, memory.History()...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: content})

	req := requestFor(spec, msgs)

	logging.AgentsDebug("Agent %s: %d messages to %s", a.Name, len(msgs), spec.Model)
	start := time.Now()
	resp, err := llm.CompleteJSON(ctx, client, req, out, retries)
	logging.Audit().ForAgent(a.Name).LLMCall(spec.Model, time.Since(start).Milliseconds(), err)
	if err != nil {
		logging.AgentsError("Agent %s failed: %v", a.Name, err)
		return fmt.Errorf("agent %s: %w", a.Name, err)
	}

	model := resp.Model
	if model == "" {
		model = spec.Model
	}
	tracker.Track(model, a.Name, "chat", resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	memory.Add(llm.RoleUser, content)
	memory.Add(llm.RoleAssistant, resp.Content)
	logging.Agents("Agent %s completed (%d tokens)", a.Name, resp.Usage.TotalTokens)
	return nil
}

func encodeInput(input any) (string, error) {
	switch v := input.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", fmt.Errorf("empty input")
		}
		return v, nil
	case nil:
		return "", fmt.Errorf("nil input")
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to encode input: %w", err)
	}
	return string(data), nil
}

// requestFor maps prompt api_parameters onto a request. temperature and
// max_tokens become typed fields; the rest pass through.
func requestFor(spec *prompt.Spec, msgs []llm.Message) llm.Request {
	req := llm.Request{Model: spec.Model, Messages: msgs}
	if t, ok := spec.Temperature(); ok {
		req.Temperature = llm.Float(t)
	}
	if n, ok := spec.MaxTokens(); ok {
		req.MaxTokens = n
	}
	for k, v := range spec.APIParameters {
		if k == "temperature" || k == "max_tokens" {
			continue
		}
		if req.Params == nil {
			req.Params = make(map[string]any)
		}
		req.Params[k] = v
	}
	return req
}
