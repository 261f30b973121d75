package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIEngine_EmbedBatch(t *testing.T) {
	var gotReq openAIEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		// Reply out of order to exercise index sorting.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1]},
			{"index":0,"embedding":[1,0]}
		]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEngine("sk-test", srv.URL+"/v1/", "text-embedding-3-small", 0)
	require.NoError(t, err)

	out, err := e.EmbedBatch(context.Background(), []string{"line one\nline two", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, out)
	assert.Equal(t, []string{"line one line two", "second"}, gotReq.Input, "newlines are replaced")
	assert.Equal(t, "text-embedding-3-small", gotReq.Model)
	assert.Equal(t, 1536, e.Dimensions())
	assert.Equal(t, "openai:text-embedding-3-small", e.Name())
}

func TestOpenAIEngine_Errors(t *testing.T) {
	_, err := NewOpenAIEngine("", "", "", 0)
	assert.Error(t, err, "missing key")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e, err := NewOpenAIEngine("k", srv.URL, "m", 256)
	require.NoError(t, err)
	assert.Equal(t, 256, e.Dimensions())

	_, err = e.EmbedBatch(context.Background(), []string{"a", ""})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = e.Embed(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestOllamaEngine(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/embeddings":
			calls.Add(1)
			var req ollamaEmbedRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "nomic-embed-text", req.Model)
			v := float32(len(req.Prompt))
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{v, v, v}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e, err := NewOllamaEngine(srv.URL, "")
	require.NoError(t, err)
	require.NoError(t, e.HealthCheck(context.Background()))
	assert.Equal(t, 768, e.Dimensions())

	out, err := e.EmbedBatch(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 2, 2}, {4, 4, 4}}, out)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 3, e.Dimensions())
}

func TestNewEngine_Factory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OpenAIAPIKey = "k"
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(e.Name(), "openai:"))

	cfg.Provider = "ollama"
	e, err = NewEngine(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ollama:nomic-embed-text", e.Name())

	cfg.Provider = "genai"
	_, err = NewEngine(cfg)
	assert.Error(t, err, "genai requires a key")

	cfg.Provider = "word2vec"
	_, err = NewEngine(cfg)
	assert.ErrorContains(t, err, "unsupported embedding provider")
}

type recordingEngine struct {
	OllamaEngine
	task string
}

func (r *recordingEngine) EmbedBatchForTask(_ context.Context, texts []string, taskType string) ([][]float32, error) {
	r.task = taskType
	return make([][]float32, len(texts)), nil
}

func TestEmbedForTask_UsesTaskAware(t *testing.T) {
	r := &recordingEngine{}
	out, err := EmbedForTask(context.Background(), r, []string{"q"}, "RETRIEVAL_QUERY")
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, "RETRIEVAL_QUERY", r.task)
}

func TestCosineSimilarityAndTopK(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 0})
	assert.Error(t, err)

	corpus := [][]float32{{0, 1}, {1, 0}, {1, 1}, {1}}
	top, err := FindTopK([]float32{1, 0}, corpus, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, 1, top[0].Index)
	assert.Equal(t, 2, top[1].Index)
}
