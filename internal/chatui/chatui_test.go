package chatui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenDundee/ravana/internal/llm"
)

func TestClient_Send(t *testing.T) {
	var got struct {
		Messages []llm.Message `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"response": "Delegate outcomes.", "iterations": 1}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/chat", srv.Client())
	reply, err := c.Send(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
		{Role: llm.RoleUser, Content: "How do I delegate?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Delegate outcomes.", reply)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "How do I delegate?", got.Messages[2].Content)
}

func TestClient_SendMissingResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"iterations": 2}`))
	}))
	defer srv.Close()

	reply, err := NewClient(srv.URL, nil).Send(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, NoResponse, reply)
}

func TestClient_SendErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "analyst: model unavailable"}`))
		case "/plain":
			http.Error(w, "boom", http.StatusBadGateway)
		default:
			w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL+"/json", nil).Send(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "analyst: model unavailable")

	_, err = NewClient(srv.URL+"/plain", nil).Send(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	_, err = NewClient(srv.URL+"/garbage", nil).Send(context.Background(), nil)
	assert.ErrorContains(t, err, "invalid response")

	_, err = NewClient("http://127.0.0.1:1/chat", nil).Send(context.Background(), nil)
	assert.ErrorContains(t, err, "request failed")
}

type fakeSender struct {
	reply string
	err   error
	got   []llm.Message
}

func (f *fakeSender) Send(_ context.Context, history []llm.Message) (string, error) {
	f.got = history
	return f.reply, f.err
}

func sized(t *testing.T, s Sender) Model {
	t.Helper()
	updated, _ := New(s, Options{Style: "notty"}).Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return updated.(Model)
}

func TestModel_SubmitAndReply(t *testing.T) {
	fs := &fakeSender{reply: "Start with one small outcome."}
	m := sized(t, fs)
	assert.Contains(t, m.View(), "ravana")

	m.textarea.SetValue("  How do I delegate?  ")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	require.NotNil(t, cmd)
	assert.True(t, m.Loading())
	assert.Empty(t, m.textarea.Value())
	require.Len(t, m.History(), 1)
	assert.Equal(t, "How do I delegate?", m.History()[0].Content)

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Len(t, updated.(Model).History(), 1, "no submit while loading")

	msg := m.send(m.History())()
	assert.Equal(t, responseMsg("Start with one small outcome."), msg)
	require.Len(t, fs.got, 1)

	updated, _ = m.Update(msg)
	m = updated.(Model)
	assert.False(t, m.Loading())
	require.Len(t, m.History(), 2)
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "Start with one small outcome."}, m.History()[1])
	assert.Contains(t, m.renderHistory(), "Coach")
	assert.Contains(t, m.renderHistory(), "small outcome")
}

func TestModel_ErrorReply(t *testing.T) {
	fs := &fakeSender{err: errors.New("connection refused")}
	m := sized(t, fs)
	m.textarea.SetValue("hi")
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)

	updated, _ = m.Update(m.send(m.History())())
	m = updated.(Model)
	require.Len(t, m.History(), 2)
	assert.Equal(t, "[Error] connection refused", m.History()[1].Content)
	assert.False(t, m.Loading())
}

func TestModel_EmptyInputIgnored(t *testing.T) {
	m := sized(t, &fakeSender{})
	m.textarea.SetValue("   ")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, updated.(Model).History())
}

func TestModel_ClearAndQuit(t *testing.T) {
	m := sized(t, &fakeSender{})
	updated, _ := m.Update(responseMsg("hello"))
	m = updated.(Model)
	require.Len(t, m.History(), 1)

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	assert.Empty(t, updated.(Model).History())

	for _, k := range []tea.KeyType{tea.KeyEsc, tea.KeyCtrlC} {
		_, cmd := m.Update(tea.KeyMsg{Type: k})
		require.NotNil(t, cmd)
		_, ok := cmd().(tea.QuitMsg)
		assert.True(t, ok)
	}
}

func TestModel_ViewBeforeSize(t *testing.T) {
	assert.Equal(t, "Initializing...", New(&fakeSender{}, Options{}).View())
}
