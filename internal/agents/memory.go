package agents

import (
	"sync"

	"github.com/BenDundee/ravana/internal/llm"
)

// Memory is an ordered conversation history. When MaxMessages is positive
// the oldest messages are dropped once the limit is exceeded.
type Memory struct {
	mu          sync.RWMutex
	msgs        []llm.Message
	maxMessages int
}

// NewMemory creates an empty memory keeping at most maxMessages messages
// (0 for unlimited).
func NewMemory(maxMessages int) *Memory {
	return &Memory{maxMessages: maxMessages}
}

// Add appends a message.
func (m *Memory) Add(role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, llm.Message{Role: role, Content: content})
	m.trim()
}

// History returns a copy of the messages, oldest first.
func (m *Memory) History() []llm.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]llm.Message(nil), m.msgs...)
}

// Replace swaps the whole history.
func (m *Memory) Replace(msgs []llm.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append([]llm.Message(nil), msgs...)
	m.trim()
}

// Copy returns an independent memory with the same messages and limit.
func (m *Memory) Copy() *Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Memory{msgs: append([]llm.Message(nil), m.msgs...), maxMessages: m.maxMessages}
}

// Reset drops all messages.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.msgs = nil
	m.mu.Unlock()
}

// Len returns the number of messages.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.msgs)
}

// Last returns the newest message.
func (m *Memory) Last() (llm.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.msgs) == 0 {
		return llm.Message{}, false
	}
	return m.msgs[len(m.msgs)-1], true
}

func (m *Memory) trim() {
	if m.maxMessages <= 0 || len(m.msgs) <= m.maxMessages {
		return
	}
	m.msgs = append([]llm.Message(nil), m.msgs[len(m.msgs)-m.maxMessages:]...)
}
