package agents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenDundee/ravana/internal/config"
	"github.com/BenDundee/ravana/internal/llm"
	"github.com/BenDundee/ravana/internal/usage"
)

// fakeSource maps agent names to prompt files in a temp dir.
type fakeSource struct {
	dir     string
	prompts map[string]string
	persona config.Persona
}

func (s *fakeSource) AgentNames() []string {
	var names []string
	for n := range s.prompts {
		names = append(names, n)
	}
	return names
}

func (s *fakeSource) PromptPath(name string) (string, error) {
	p, ok := s.prompts[name]
	if !ok {
		return "", fmt.Errorf("no prompt configured for agent %q", name)
	}
	return filepath.Join(s.dir, p), nil
}

func (s *fakeSource) Persona() config.Persona { return s.persona }

func writePrompt(t *testing.T, dir, file, model, background string) {
	t.Helper()
	content := fmt.Sprintf("model: %s\nsystem_prompt:\n  background:\n    - %s\napi_parameters:\n  temperature: 0.2\n  max_tokens: 300\n  top_p: 0.9\n", model, background)
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0644))
}

// recordingClient returns queued replies and records requests.
type recordingClient struct {
	mu       sync.Mutex
	replies  []string
	requests []llm.Request
}

func (c *recordingClient) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.replies) == 0 {
		return llm.Response{}, errors.New("no scripted reply")
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return llm.Response{Content: r, Model: req.Model}, nil
}

func newTestHandler(t *testing.T, client llm.Client) (*Handler, *fakeSource) {
	t.Helper()
	dir := t.TempDir()
	writePrompt(t, dir, "query.yml", "openai/gpt-4o-mini", "You write search queries.")
	writePrompt(t, dir, "critic.yml", "openai/gpt-4o", "You grade answers.")
	src := &fakeSource{
		dir:     dir,
		prompts: map[string]string{QueryAgent: "query.yml", CriticAgent: "critic.yml"},
		persona: config.Persona{Name: "Dana", Role: "VP Engineering"},
	}
	h, err := NewHandler(src, client, HandlerOptions{JSONRetries: 1})
	require.NoError(t, err)
	return h, src
}

func TestMemory(t *testing.T) {
	m := NewMemory(3)
	m.Add(llm.RoleUser, "a")
	m.Add(llm.RoleAssistant, "b")
	m.Add(llm.RoleUser, "c")
	m.Add(llm.RoleAssistant, "d")

	want := []llm.Message{
		{Role: llm.RoleAssistant, Content: "b"},
		{Role: llm.RoleUser, Content: "c"},
		{Role: llm.RoleAssistant, Content: "d"},
	}
	if diff := cmp.Diff(want, m.History()); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	cp := m.Copy()
	cp.Add(llm.RoleUser, "e")
	assert.Equal(t, 3, m.Len(), "copy is independent")
	last, ok := cp.Last()
	require.True(t, ok)
	assert.Equal(t, "e", last.Content)

	h := m.History()
	h[0].Content = "mutated"
	assert.Equal(t, "b", m.History()[0].Content, "history is a copy")

	m.Replace([]llm.Message{{Role: llm.RoleUser, Content: "x"}})
	assert.Equal(t, 1, m.Len())
	m.Reset()
	_, ok = m.Last()
	assert.False(t, ok)
}

func TestAgent_Run(t *testing.T) {
	client := &recordingClient{replies: []string{
		"```json\n{\"reasoning\": \"r\", \"query\": \"delegation for new managers\"}\n```",
	}}
	h, _ := newTestHandler(t, client)
	require.NoError(t, h.UpdateMemory([]llm.Message{{Role: llm.RoleUser, Content: "How do I delegate?"}}))
	h.SetRetrievedContext("Delegation means trusting the team.")

	var out QueryAgentOutput
	require.NoError(t, h.Run(context.Background(), QueryAgent, QueryAgentInput{UserInput: "How do I delegate?"}, &out))
	assert.Equal(t, "delegation for new managers", out.Query)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "openai/gpt-4o-mini", req.Model)
	assert.True(t, req.JSONMode)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.2, *req.Temperature, 1e-9)
	assert.Equal(t, 300, req.MaxTokens)
	assert.Equal(t, map[string]any{"top_p": 0.9}, req.Params)

	require.Len(t, req.Messages, 3)
	system := req.Messages[0]
	assert.Equal(t, llm.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "# IDENTITY and PURPOSE\n- You write search queries.")
	assert.Contains(t, system.Content, "## User Persona\nName: Dana\nRole: VP Engineering")
	assert.Contains(t, system.Content, "## Retrieved Context\nDelegation means trusting the team.")
	assert.NotContains(t, system.Content, "## Search Results", "empty providers are omitted")
	assert.Contains(t, system.Content, "# OUTPUT SCHEMA")
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "How do I delegate?"}, req.Messages[1])
	assert.Equal(t, `{"user_input":"How do I delegate?"}`, req.Messages[2].Content)

	a, err := h.Agent(QueryAgent)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Memory().Len(), "input and reply recorded")
	assert.Equal(t, 1, h.ChatMemory().Len(), "shared chat memory untouched")
}

type meteredClient struct{ llm.Client }

func (c meteredClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	resp, err := c.Client.Complete(ctx, req)
	resp.Usage = llm.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150}
	return resp, err
}

func TestAgent_RunTracksUsage(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "query.yml", "openai/gpt-4o-mini", "You write search queries.")
	src := &fakeSource{dir: dir, prompts: map[string]string{QueryAgent: "query.yml"}}
	tracker, err := usage.NewTracker(filepath.Join(dir, usage.FileName))
	require.NoError(t, err)
	defer tracker.Close()

	client := meteredClient{&recordingClient{replies: []string{`{"query": "feedback"}`}}}
	h, err := NewHandler(src, client, HandlerOptions{Usage: tracker})
	require.NoError(t, err)

	var out QueryAgentOutput
	require.NoError(t, h.Run(context.Background(), QueryAgent, "How do I give feedback?", &out))

	stats := tracker.Stats()
	assert.Equal(t, usage.TokenCounts{Calls: 1, Input: 120, Output: 30, Total: 150}, stats.ByAgent[QueryAgent])
	assert.Equal(t, int64(1), stats.ByModel["openai/gpt-4o-mini"].Calls)
}

func TestAgent_RunReasksOnBadJSON(t *testing.T) {
	client := &recordingClient{replies: []string{"not json", `{"approved": true, "score": 0.9, "feedback": "good"}`}}
	h, _ := newTestHandler(t, client)

	var out CriticOutput
	require.NoError(t, h.Run(context.Background(), CriticAgent, CriticInput{Question: "q", Answer: "a", Iteration: 1}, &out))
	assert.True(t, out.Approved)
	assert.InDelta(t, 0.9, out.Score, 1e-9)
	require.Len(t, client.requests, 2)
	assert.Len(t, client.requests[1].Messages, len(client.requests[0].Messages)+2)

	a, _ := h.Agent(CriticAgent)
	assert.Equal(t, 2, a.Memory().Len(), "only the final exchange is recorded")
}

func TestAgent_RunErrors(t *testing.T) {
	h, _ := newTestHandler(t, &recordingClient{})

	var out QueryAgentOutput
	err := h.Run(context.Background(), QueryAgent, "  ", &out)
	assert.ErrorContains(t, err, "empty input")

	err = h.Run(context.Background(), QueryAgent, "hello", &out)
	assert.ErrorContains(t, err, "no scripted reply")
	a, _ := h.Agent(QueryAgent)
	assert.Zero(t, a.Memory().Len(), "failed runs are not recorded")

	err = h.Run(context.Background(), "nope", "hello", &out)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestHandler_UpdateMemory(t *testing.T) {
	h, _ := newTestHandler(t, &recordingClient{})
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
		{Role: llm.RoleUser, Content: "help me"},
	}
	require.NoError(t, h.UpdateMemory(history))
	assert.Equal(t, history, h.ChatMemory().History())
	for _, name := range h.Names() {
		a, _ := h.Agent(name)
		assert.Equal(t, history, a.Memory().History(), name)
	}

	require.NoError(t, h.UpdateMemory(history[:1]))
	assert.Equal(t, 1, h.ChatMemory().Len(), "memory is replaced, not appended")

	err := h.UpdateMemory([]llm.Message{{Role: "robot", Content: "x"}})
	assert.ErrorIs(t, err, ErrInvalidRole)
	assert.Equal(t, 1, h.ChatMemory().Len(), "invalid history leaves memory alone")
}

func TestHandler_Reconfigure(t *testing.T) {
	h, src := newTestHandler(t, &recordingClient{})
	require.NoError(t, h.UpdateMemory([]llm.Message{{Role: llm.RoleUser, Content: "keep me"}}))
	h.SetSearchResults("web result")

	writePrompt(t, src.dir, "query.yml", "google/gemini-2.0-flash", "You are rewritten.")
	a, _ := h.Agent(QueryAgent)
	assert.Equal(t, "openai/gpt-4o-mini", a.Model(), "prompt is cached until reconfigured")

	require.NoError(t, h.Reconfigure(QueryAgent))
	assert.Equal(t, "google/gemini-2.0-flash", a.Model())
	assert.Contains(t, a.SystemPrompt(), "You are rewritten.")
	assert.Contains(t, a.SystemPrompt(), "## Search Results\nweb result", "providers preserved")
	assert.Equal(t, 1, a.Memory().Len(), "memory preserved")

	assert.ErrorIs(t, h.Reconfigure("nope"), ErrUnknownAgent)
}

func TestHandler_ReconfigureAllAndHandleChange(t *testing.T) {
	h, src := newTestHandler(t, &recordingClient{})
	assert.Equal(t, []string{CriticAgent, QueryAgent}, h.Names())

	writePrompt(t, src.dir, "analyst.yml", "openai/gpt-4o", "You analyze.")
	src.prompts[AnalystAgent] = "analyst.yml"
	require.NoError(t, h.HandleChange(filepath.Join(src.dir, config.AgentsFile)))
	assert.True(t, h.Has(AnalystAgent))

	writePrompt(t, src.dir, "critic.yml", "openai/o3-mini", "Stricter.")
	require.NoError(t, h.HandleChange(filepath.Join(src.dir, "critic.yml")))
	critic, _ := h.Agent(CriticAgent)
	assert.Equal(t, "openai/o3-mini", critic.Model())
	query, _ := h.Agent(QueryAgent)
	assert.Equal(t, "openai/gpt-4o-mini", query.Model())

	require.NoError(t, h.HandleChange(filepath.Join(src.dir, "unrelated.yml")))

	require.NoError(t, os.WriteFile(filepath.Join(src.dir, "critic.yml"), []byte("system_prompt: {}\n"), 0644))
	err := h.HandleChange(filepath.Join(src.dir, "critic.yml"))
	assert.ErrorContains(t, err, "model is required")
	assert.Equal(t, "openai/o3-mini", critic.Model(), "a broken prompt keeps the old configuration")
}

func TestNewHandler_MissingPrompt(t *testing.T) {
	src := &fakeSource{dir: t.TempDir(), prompts: map[string]string{AnalystAgent: "missing.yml"}}
	_, err := NewHandler(src, &recordingClient{}, HandlerOptions{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "analyst"))
}
