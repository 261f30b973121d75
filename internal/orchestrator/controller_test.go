package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/BenDundee/ravana/internal/agents"
	"github.com/BenDundee/ravana/internal/config"
	"github.com/BenDundee/ravana/internal/llm"
	"github.com/BenDundee/ravana/internal/retry"
	"github.com/BenDundee/ravana/internal/store"
	"github.com/BenDundee/ravana/internal/tools"
	"github.com/BenDundee/ravana/internal/tools/research"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// promptSource serves one prompt file per agent, each using model "m-<name>".
type promptSource struct {
	dir   string
	names []string
}

func (s *promptSource) AgentNames() []string { return s.names }

func (s *promptSource) PromptPath(name string) (string, error) {
	for _, n := range s.names {
		if n == name {
			return filepath.Join(s.dir, name+".yml"), nil
		}
	}
	return "", fmt.Errorf("no prompt configured for agent %q", name)
}

func (s *promptSource) Persona() config.Persona { return config.Persona{Name: "Dana"} }

type reply struct {
	content string
	err     error
}

// scriptedClient answers each model from its own queue and records requests.
type scriptedClient struct {
	mu       sync.Mutex
	queues   map[string][]reply
	requests map[string][]llm.Request
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{queues: map[string][]reply{}, requests: map[string][]llm.Request{}}
}

func (c *scriptedClient) on(agent string, replies ...string) *scriptedClient {
	for _, r := range replies {
		c.queues["m-"+agent] = append(c.queues["m-"+agent], reply{content: r})
	}
	return c
}

func (c *scriptedClient) fail(agent string, err error) *scriptedClient {
	c.queues["m-"+agent] = append(c.queues["m-"+agent], reply{err: err})
	return c
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[req.Model] = append(c.requests[req.Model], req)
	q := c.queues[req.Model]
	if len(q) == 0 {
		return llm.Response{}, fmt.Errorf("no scripted reply for %s", req.Model)
	}
	c.queues[req.Model] = q[1:]
	return llm.Response{Content: q[0].content, Model: req.Model}, q[0].err
}

func (c *scriptedClient) calls(agent string) []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests["m-"+agent]
}

// lastInput is the JSON input of the n-th request to agent.
func (c *scriptedClient) lastInput(agent string, n int) string {
	reqs := c.calls(agent)
	msgs := reqs[n].Messages
	return msgs[len(msgs)-1].Content
}

// fakeKB is an in-memory knowledge base. Ingested search results become
// chunks.
type fakeKB struct {
	mu       sync.Mutex
	chunks   []store.Chunk
	queries  []string
	ingested int
}

func (k *fakeKB) Query(_ context.Context, text string, n int, _ map[string]string) (store.QueryResult, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.queries = append(k.queries, text)
	out := k.chunks
	if len(out) > n {
		out = out[:n]
	}
	return store.QueryResult{Results: append([]store.Chunk(nil), out...)}, nil
}

func (k *fakeKB) AddSearchResults(_ context.Context, rs []store.SearchResult, _ store.Splitter) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	var ids []string
	for _, r := range rs {
		if r.Content == nil {
			continue
		}
		k.chunks = append(k.chunks, store.Chunk{
			ID: r.URL, Text: *r.Content, Distance: 0.2,
			Metadata: map[string]string{"url": r.URL, "title": r.Title, "query": r.Query},
		})
		ids = append(ids, r.URL)
	}
	k.ingested += len(ids)
	return ids, nil
}

func (k *fakeKB) Count() (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.chunks), nil
}

type oneSearcher struct{}

func (oneSearcher) Search(_ context.Context, q string, _ int) ([]research.Hit, error) {
	return []research.Hit{{Title: "Presence", URL: "https://ex.com/" + strings.ReplaceAll(q, " ", "-")}}, nil
}

type staticFetcher struct{}

func (staticFetcher) Fetch(_ context.Context, url string) (research.Page, error) {
	return research.Page{URL: url, Title: "Executive Presence", Text: "Presence is composure under pressure."}, nil
}

type wholeSplitter struct{}

func (wholeSplitter) Split(s string) []string { return []string{s} }

var fastRetry = retry.Policy{Base: time.Millisecond, Max: time.Millisecond}

func newTestController(t *testing.T, client llm.Client, kb *fakeKB, orch config.OrchestrationConfig, names ...string) *Controller {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		content := fmt.Sprintf("model: m-%s\nsystem_prompt:\n  background:\n    - You are the %s.\n", name, name)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yml"), []byte(content), 0644))
	}
	// Wired like New: JSON re-asks follow model_retries.
	h, err := agents.NewHandler(&promptSource{dir: dir, names: names}, client, agents.HandlerOptions{
		JSONRetries: orch.ModelRetries,
	})
	require.NoError(t, err)

	reg := tools.NewRegistry()
	c := NewController(Options{
		Orchestration:   orch,
		ResultsPerQuery: 3,
		MaxQueries:      1,
		SearchQueries:   1,
		RetryPolicy:     fastRetry,
	}, h, kb, reg)
	require.NoError(t, research.RegisterAll(reg, research.Deps{
		Search:          research.NewSearchTool(oneSearcher{}, staticFetcher{}, 1),
		Knowledge:       kb,
		Splitter:        wholeSplitter{},
		ResultsPerQuery: 3,
		OnSearch:        c.RecordSearch,
	}))
	return c
}

func orchConfig(iterations, toolCalls, retries int) config.OrchestrationConfig {
	return config.OrchestrationConfig{MaxIterations: iterations, ApprovalScore: 0.8, MaxToolCalls: toolCalls, ModelRetries: retries}
}

func user(content string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: content}}
}

func TestGetResponse_RejectsBadHistory(t *testing.T) {
	c := newTestController(t, newScriptedClient(), &fakeKB{}, orchConfig(1, 0, 0), agents.AnalystAgent)

	for name, history := range map[string][]llm.Message{
		"empty":          nil,
		"assistant last": {{Role: llm.RoleUser, Content: "hi"}, {Role: llm.RoleAssistant, Content: "hello"}},
		"blank user":     user("   "),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.GetResponse(context.Background(), history)
			assert.ErrorIs(t, err, ErrNoMessages)
		})
	}

	_, err := c.GetResponse(context.Background(), []llm.Message{{Role: "robot", Content: "x"}, {Role: llm.RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, agents.ErrInvalidRole)
}

func TestGetResponse_ApprovedFirstDraft(t *testing.T) {
	kb := &fakeKB{chunks: []store.Chunk{{
		ID: "c1", Text: "Delegate outcomes, not tasks.", Distance: 0.1,
		Metadata: map[string]string{"title": "HBR", "url": "https://hbr.org/delegation"},
	}}}
	client := newScriptedClient().
		on("query", `{"reasoning": "core topic", "query": "delegation"}`).
		on("analyst", `{"reasoning": "r", "answer": "Delegate outcomes."}`).
		on("critic", `{"approved": true, "score": 0.9, "feedback": "clear"}`)
	c := newTestController(t, client, kb, orchConfig(3, 2, 0), agents.QueryAgent, agents.AnalystAgent, agents.CriticAgent)

	got, err := c.GetResponse(context.Background(), user("How do I delegate?"))
	require.NoError(t, err)
	assert.Equal(t, Reply{
		Response:   "Delegate outcomes.",
		Iterations: 1,
		Approved:   true,
		Score:      0.9,
		Sources:    []string{"https://hbr.org/delegation"},
	}, got)

	assert.Equal(t, []string{"delegation"}, kb.queries)
	system := client.calls("analyst")[0].Messages[0].Content
	assert.Contains(t, system, "## Retrieved Context\n[1] HBR (distance 0.100)")
	assert.Contains(t, system, "## User Persona\nName: Dana")
	assert.Contains(t, client.lastInput("critic", 0), `"answer":"Delegate outcomes."`)
}

func TestGetResponse_ImprovesOnFeedback(t *testing.T) {
	client := newScriptedClient().
		on("analyst", `{"answer": "Draft one"}`, `{"answer": "Draft two"}`).
		on("critic",
			`{"approved": false, "score": 0.4, "feedback": "be specific", "issues": ["vague"]}`,
			`{"approved": true, "score": 0.7, "feedback": "close"}`,
			`{"approved": true, "score": 0.85, "feedback": "good"}`).
		on("analyst", `{"answer": "Draft three"}`)
	c := newTestController(t, client, &fakeKB{}, orchConfig(3, 0, 0), agents.AnalystAgent, agents.CriticAgent)

	got, err := c.GetResponse(context.Background(), user("Help me prepare for a board meeting"))
	require.NoError(t, err)
	assert.Equal(t, "Draft three", got.Response)
	assert.Equal(t, 3, got.Iterations, "approval below approval_score does not stop the loop")
	assert.True(t, got.Approved)
	assert.InDelta(t, 0.85, got.Score, 1e-9)

	second := client.lastInput("analyst", 1)
	assert.Contains(t, second, `"feedback":"be specific"`)
	assert.Contains(t, second, `"issues":["vague"]`)

	// The analyst sees its own earlier drafts.
	msgs := client.calls("analyst")[1].Messages
	assert.Equal(t, llm.RoleAssistant, msgs[len(msgs)-2].Role)
	assert.Contains(t, msgs[len(msgs)-2].Content, "Draft one")
}

func TestGetResponse_ReturnsBestDraftWhenBudgetRunsOut(t *testing.T) {
	client := newScriptedClient().
		on("analyst", `{"answer": "Draft one"}`, `{"answer": "Draft two"}`).
		on("critic",
			`{"approved": false, "score": 0.6, "feedback": "more"}`,
			`{"approved": false, "score": 0.5, "feedback": "worse"}`)
	c := newTestController(t, client, &fakeKB{}, orchConfig(2, 0, 0), agents.AnalystAgent, agents.CriticAgent)

	got, err := c.GetResponse(context.Background(), user("q"))
	require.NoError(t, err)
	assert.Equal(t, Reply{Response: "Draft one", Iterations: 2, Score: 0.6}, got)
}

func TestGetResponse_ToolCalls(t *testing.T) {
	kb := &fakeKB{chunks: []store.Chunk{{ID: "c1", Text: "Feedback should be timely.", Metadata: map[string]string{"title": "Radical Candor"}}}}
	client := newScriptedClient().
		on("analyst",
			`{"reasoning": "need more", "answer": "", "tool_calls": [`+
				`{"tool": "knowledge_query", "args": {"query": "feedback timing"}},`+
				`{"tool": "web_search", "args": {"queries": ["x"]}}]}`,
			`{"reasoning": "enough", "answer": "Give feedback within a day."}`).
		on("critic", `{"approved": true, "score": 0.95}`)
	c := newTestController(t, client, kb, orchConfig(2, 1, 0), agents.AnalystAgent, agents.CriticAgent)

	got, err := c.GetResponse(context.Background(), user("When should I give feedback?"))
	require.NoError(t, err)
	assert.Equal(t, "Give feedback within a day.", got.Response)

	assert.Equal(t, []string{"When should I give feedback?", "feedback timing"}, kb.queries,
		"only one tool call fits the budget")
	second := client.lastInput("analyst", 1)
	assert.Contains(t, second, `"tool":"knowledge_query"`)
	assert.Contains(t, second, "Feedback should be timely.")
	assert.Contains(t, second, `"tool_budget":0`)
	assert.NotContains(t, second, "web_search")
}

func TestGetResponse_InvalidToolCallIsFedBack(t *testing.T) {
	client := newScriptedClient().
		on("analyst",
			`{"answer": "", "tool_calls": [{"tool": "gradient_boost"}, {"tool": "knowledge_query", "args": {"n_results": 2}}]}`,
			`{"answer": "Done."}`)
	c := newTestController(t, client, &fakeKB{}, orchConfig(1, 4, 2), agents.AnalystAgent)

	got, err := c.GetResponse(context.Background(), user("q"))
	require.NoError(t, err)
	assert.Equal(t, "Done.", got.Response)
	assert.True(t, got.Approved, "without a critic the first answer stands")

	second := client.lastInput("analyst", 1)
	assert.Contains(t, second, tools.ErrToolNotFound.Error())
	assert.Contains(t, second, tools.ErrMissingRequiredArg.Error())
}

func TestGetResponse_ToolBudgetExhausted(t *testing.T) {
	call := `{"answer": "", "tool_calls": [{"tool": "knowledge_query", "args": {"query": "q"}}]}`
	client := newScriptedClient().
		on("analyst", call, call, `{"answer": "Best effort."}`)
	c := newTestController(t, client, &fakeKB{}, orchConfig(1, 1, 0), agents.AnalystAgent)

	got, err := c.GetResponse(context.Background(), user("q"))
	require.NoError(t, err)
	assert.Equal(t, "Best effort.", got.Response)
	require.Len(t, client.calls("analyst"), 3)
	assert.Contains(t, client.lastInput("analyst", 2), "tool budget exhausted")
}

func TestGetResponse_SearchesWebWhenKnowledgeIsEmpty(t *testing.T) {
	kb := &fakeKB{}
	client := newScriptedClient().
		on("search", `{"reasoning": "r", "queries": ["executive presence", "gravitas"]}`).
		on("analyst", `{"answer": "Presence is composure."}`).
		on("critic", `{"approved": true, "score": 0.9}`)
	c := newTestController(t, client, kb, orchConfig(1, 0, 0), agents.SearchAgent, agents.AnalystAgent, agents.CriticAgent)

	got, err := c.GetResponse(context.Background(), user("How do I build executive presence?"))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://ex.com/executive-presence"}, got.Sources)
	assert.Equal(t, 1, kb.ingested, "search_engine_num_queries caps the searches")

	system := client.calls("analyst")[0].Messages[0].Content
	assert.Contains(t, system, "## Search Results\n# Search Results (1)")
	assert.Contains(t, system, "## Retrieved Context\n[1] Executive Presence")

	// Per-turn context is cleared before the next turn.
	client.on("analyst", `{"answer": "again"}`).on("critic", `{"approved": true, "score": 0.9}`)
	kb.chunks = nil
	client.on("search", `{"queries": []}`)
	_, err = c.GetResponse(context.Background(), user("Anything else?"))
	require.NoError(t, err)
	assert.NotContains(t, client.calls("analyst")[1].Messages[0].Content, "## Search Results")
}

func TestGetResponse_RetriesModelFailures(t *testing.T) {
	client := newScriptedClient().
		on("query", "no json here", `{"query": "x"}`).
		fail("analyst", errors.New("502 bad gateway")).
		on("analyst", `{"answer": "Recovered."}`)
	c := newTestController(t, client, &fakeKB{}, orchConfig(1, 0, 1), agents.QueryAgent, agents.AnalystAgent)

	got, err := c.GetResponse(context.Background(), user("q"))
	require.NoError(t, err)
	assert.Equal(t, "Recovered.", got.Response)
	assert.Len(t, client.calls("analyst"), 2)
	assert.Len(t, client.calls("query"), 2, "a reply that is not JSON is re-asked")
}

func TestGetResponse_StructuredOutputFailureIsNotRetried(t *testing.T) {
	client := newScriptedClient()
	for i := 0; i < 9; i++ {
		client.on("analyst", "not json")
	}
	c := newTestController(t, client, &fakeKB{}, orchConfig(1, 0, 2), agents.AnalystAgent)

	_, err := c.GetResponse(context.Background(), user("q"))
	assert.ErrorIs(t, err, llm.ErrStructuredOutput)
	assert.Len(t, client.calls("analyst"), 3, "one ask plus model_retries re-asks, no outer retry")
}

func TestGetResponse_RejectedCriticReplyCannotApprove(t *testing.T) {
	client := newScriptedClient().
		on("analyst", `{"answer": "Draft one"}`).
		on("critic",
			`{"approved": true, "score": "high"}`,
			`{"score": 0.85, "feedback": "not yet"}`)
	c := newTestController(t, client, &fakeKB{}, orchConfig(1, 0, 1), agents.AnalystAgent, agents.CriticAgent)

	got, err := c.GetResponse(context.Background(), user("q"))
	require.NoError(t, err)
	assert.Equal(t, Reply{Response: "Draft one", Iterations: 1, Score: 0.85}, got)
	assert.Len(t, client.calls("critic"), 2)
}

func TestGetResponse_AnalystFailure(t *testing.T) {
	client := newScriptedClient().fail("analyst", errors.New("down"))
	c := newTestController(t, client, &fakeKB{}, orchConfig(2, 0, 0), agents.AnalystAgent, agents.CriticAgent)

	_, err := c.GetResponse(context.Background(), user("q"))
	assert.ErrorContains(t, err, "analyst")
	assert.ErrorContains(t, err, "down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.GetResponse(ctx, user("q"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetResponse_CriticFailureReturnsDraft(t *testing.T) {
	client := newScriptedClient().
		on("analyst", `{"answer": "Unreviewed."}`).
		fail("critic", errors.New("critic down"))
	c := newTestController(t, client, &fakeKB{}, orchConfig(3, 0, 0), agents.AnalystAgent, agents.CriticAgent)

	got, err := c.GetResponse(context.Background(), user("q"))
	require.NoError(t, err)
	assert.Equal(t, Reply{Response: "Unreviewed.", Iterations: 1}, got)
}

func TestGetResponse_FallsBackToBestDraft(t *testing.T) {
	tests := []struct {
		name   string
		script func(*scriptedClient)
		want   Reply
	}{
		{
			name: "analyst fails after a reviewed draft",
			script: func(c *scriptedClient) {
				c.on("analyst", `{"answer": "Draft one"}`).
					on("critic", `{"approved": false, "score": 0.6, "feedback": "more"}`).
					fail("analyst", errors.New("down"))
			},
			want: Reply{Response: "Draft one", Iterations: 1, Score: 0.6},
		},
		{
			name: "critic fails after a scored draft",
			script: func(c *scriptedClient) {
				c.on("analyst", `{"answer": "Draft one"}`, `{"answer": "Draft two"}`).
					on("critic", `{"approved": false, "score": 0.6, "feedback": "more"}`).
					fail("critic", errors.New("critic down"))
			},
			want: Reply{Response: "Draft one", Iterations: 2, Score: 0.6},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newScriptedClient()
			tt.script(client)
			c := newTestController(t, client, &fakeKB{}, orchConfig(3, 0, 0), agents.AnalystAgent, agents.CriticAgent)

			got, err := c.GetResponse(context.Background(), user("q"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.False(t, got.Approved)
		})
	}
}

func TestController_SetOptions(t *testing.T) {
	c := newTestController(t, newScriptedClient(), &fakeKB{}, orchConfig(1, 0, 0), agents.AnalystAgent)
	policy := c.opts.RetryPolicy

	c.SetOptions(Options{Orchestration: config.OrchestrationConfig{MaxIterations: 5, MaxToolCalls: 2}, ResultsPerQuery: 7})
	assert.Equal(t, 5, c.opts.Orchestration.MaxIterations)
	assert.Equal(t, 2, c.opts.Orchestration.MaxToolCalls)
	assert.Equal(t, 7, c.opts.ResultsPerQuery)
	assert.InDelta(t, 0.8, c.opts.Orchestration.ApprovalScore, 1e-9, "defaults fill unset limits")
	assert.Equal(t, policy, c.opts.RetryPolicy, "a zero retry policy keeps the current one")
}

func TestController_Documents(t *testing.T) {
	kb := &fakeKB{chunks: []store.Chunk{{ID: "a"}, {ID: "b"}}}
	c := newTestController(t, newScriptedClient(), kb, orchConfig(1, 0, 0), agents.AnalystAgent)
	n, err := c.Documents()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"knowledge_query", "web_search"}, c.Registry().Names())
	assert.NoError(t, c.Close())
}
