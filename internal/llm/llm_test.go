package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenDundee/ravana/internal/config"
)

func testOpenRouter(url string) *OpenRouterClient {
	return NewOpenRouterClient(OpenRouterConfig{
		APIKey:     "sk-test",
		BaseURL:    url,
		SiteURL:    "https://ravana.local",
		MaxRetries: 2,
		RetryBase:  time.Millisecond,
	})
}

func TestOpenRouter_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "https://ravana.local", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "ravana", r.Header.Get("X-Title"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"model":"openai/gpt-4o","choices":[{"message":{"content":"  hello  "}}],
			"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
	defer srv.Close()

	c := testOpenRouter(srv.URL + "/")
	resp, err := c.Complete(context.Background(), Request{
		Model:       "openai/gpt-4o",
		Messages:    []Message{{Role: RoleSystem, Content: "be kind"}, {Role: RoleUser, Content: "hi"}},
		Temperature: Float(0.2),
		JSONMode:    true,
		Params:      map[string]any{"top_p": 0.9, "model": "ignored"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "openai/gpt-4o", resp.Model)
	assert.Equal(t, 4, resp.Usage.TotalTokens)

	assert.Equal(t, "openai/gpt-4o", got["model"], "typed fields win over params")
	assert.Equal(t, 0.9, got["top_p"])
	assert.Equal(t, 0.2, got["temperature"])
	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
	assert.Len(t, got["messages"], 2)
}

func TestOpenRouter_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
		}
	}))
	defer srv.Close()

	resp, err := testOpenRouter(srv.URL).Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.EqualValues(t, 3, calls.Load())
}

func TestOpenRouter_Errors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.Contains(r.Header.Get("Authorization"), "empty") {
			_, _ = io.WriteString(w, `{"choices":[]}`)
			return
		}
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	msgs := []Message{{Role: RoleUser, Content: "x"}}
	_, err := testOpenRouter(srv.URL).Complete(context.Background(), Request{Messages: msgs})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.EqualValues(t, 1, calls.Load(), "4xx is not retried")

	empty := NewOpenRouterClient(OpenRouterConfig{APIKey: "empty", BaseURL: srv.URL})
	_, err = empty.Complete(context.Background(), Request{Messages: msgs})
	assert.ErrorIs(t, err, ErrNoCompletion)

	_, err = NewOpenRouterClient(OpenRouterConfig{}).Complete(context.Background(), Request{Messages: msgs})
	assert.ErrorContains(t, err, "API key")
}

func TestOpenRouter_StopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: srv.URL, MaxRetries: 5, RetryBase: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGeminiClient_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.0-flash:generateContent"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"ok\":true}"}]}}],
			"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2,"totalTokenCount":7}}`)
	}))
	defer srv.Close()

	c, err := NewGeminiClient(context.Background(), GeminiConfig{APIKey: "g-key", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), Request{
		Model: "google/gemini-2.0-flash",
		Messages: []Message{
			{Role: RoleSystem, Content: "system text"},
			{Role: RoleUser, Content: "q1"},
			{Role: RoleAssistant, Content: "a1"},
			{Role: RoleUser, Content: "q2"},
		},
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, 7, resp.Usage.TotalTokens)

	contents, _ := body["contents"].([]any)
	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
	assert.NotNil(t, body["systemInstruction"])
	gen, _ := body["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", gen["responseMimeType"])

	_, err = NewGeminiClient(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}

// scriptedClient replays canned replies and records the requests it saw.
type scriptedClient struct {
	replies []string
	err     error
	seen    []Request
}

func (s *scriptedClient) Complete(_ context.Context, req Request) (Response, error) {
	s.seen = append(s.seen, req)
	if s.err != nil {
		return Response{}, s.err
	}
	i := min(len(s.seen)-1, len(s.replies)-1)
	return Response{Content: s.replies[i]}, nil
}

type verdict struct {
	Approved bool    `json:"approved"`
	Score    float64 `json:"score"`
}

func TestCompleteJSON_ReasksOnBadJSON(t *testing.T) {
	sc := &scriptedClient{replies: []string{
		"I think it is good.",
		"Sure!\n```json\n{\"approved\": true, \"score\": 0.9}\n```",
	}}
	var v verdict
	_, err := CompleteJSON(context.Background(), sc, Request{Messages: []Message{{Role: RoleUser, Content: "grade"}}}, &v, 2)
	require.NoError(t, err)
	assert.Equal(t, verdict{Approved: true, Score: 0.9}, v)

	require.Len(t, sc.seen, 2)
	assert.True(t, sc.seen[0].JSONMode)
	second := sc.seen[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, RoleAssistant, second[1].Role)
	assert.Contains(t, second[2].Content, "could not be parsed")
	assert.Len(t, sc.seen[0].Messages, 1, "caller messages are not mutated")
}

func TestCompleteJSON_GivesUp(t *testing.T) {
	sc := &scriptedClient{replies: []string{"no json here"}}
	var v verdict
	_, err := CompleteJSON(context.Background(), sc, Request{Messages: []Message{{Role: RoleUser, Content: "x"}}}, &v, 1)
	assert.ErrorIs(t, err, ErrNoJSON)
	assert.ErrorIs(t, err, ErrStructuredOutput)
	assert.Len(t, sc.seen, 2)

	boom := errors.New("boom")
	_, err = CompleteJSON(context.Background(), &scriptedClient{err: boom}, Request{}, &v, 3)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrStructuredOutput, "transport errors stay retryable")
}

func TestCompleteJSON_RejectedReplyDoesNotLeak(t *testing.T) {
	// The first reply sets approved before the type error on score.
	sc := &scriptedClient{replies: []string{
		`{"approved": true, "score": "high"}`,
		`{"score": 0.85}`,
	}}
	var v verdict
	_, err := CompleteJSON(context.Background(), sc, Request{Messages: []Message{{Role: RoleUser, Content: "grade"}}}, &v, 1)
	require.NoError(t, err)
	assert.Equal(t, verdict{Approved: false, Score: 0.85}, v)

	v = verdict{Approved: true, Score: 0.1}
	_, err = CompleteJSON(context.Background(), &scriptedClient{replies: []string{`{"approved": false, "score": "x"}`}}, Request{}, &v, 0)
	require.Error(t, err)
	assert.Equal(t, verdict{Approved: true, Score: 0.1}, v, "out is untouched when every reply is rejected")
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                          `{"a":1}`,
		"```json\n{\"a\":{\"b\":2}}\n```":  `{"a":{"b":2}}`,
		`Here you go: {"s":"brace } in string"} thanks`: `{"s":"brace } in string"}`,
		`{"s":"escaped \" quote }"}`:       `{"s":"escaped \" quote }"}`,
		"nothing":                          "",
		`{"unterminated": 1`:               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractJSON(in), in)
	}
}

func TestRouter(t *testing.T) {
	a := &scriptedClient{replies: []string{"a"}}
	b := &scriptedClient{replies: []string{"b"}}
	r := NewRouter(a).Route("gemini", b)

	resp, err := r.Complete(context.Background(), Request{Model: "gemini-2.0-flash"})
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Content)

	resp, err = r.Complete(context.Background(), Request{Model: "openai/gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Content)

	_, err = NewRouter(nil).Complete(context.Background(), Request{Model: "x"})
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	_, err := NewFromConfig(context.Background(), config.APIConfig{})
	assert.ErrorContains(t, err, "no LLM provider")

	c, err := NewFromConfig(context.Background(), config.APIConfig{OpenRouterKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Router{}, c)
}

func TestValidRoleAndSplitSystem(t *testing.T) {
	assert.True(t, ValidRole(RoleUser))
	assert.False(t, ValidRole("tool"))

	sys, rest := splitSystem([]Message{{RoleSystem, "a"}, {RoleUser, "q"}, {RoleSystem, "b"}})
	assert.Equal(t, "a\n\nb", sys)
	assert.Equal(t, []Message{{RoleUser, "q"}}, rest)
}

func TestOpenRouter_ThrottleHonorsContext(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := testOpenRouter(srv.URL)
	c.lastRequest = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := c.Complete(ctx, Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 90*time.Millisecond)
	assert.Zero(t, hits.Load())
}
