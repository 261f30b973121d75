// Package usage records LLM token usage per model and agent and persists the
// totals next to the knowledge base.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BenDundee/ravana/internal/logging"
)

// FileName is the usage file written into the database directory.
const FileName = "usage.json"

// Tracker aggregates token usage and saves it after a quiet period.
// A nil *Tracker ignores all calls.
type Tracker struct {
	mu        sync.Mutex
	data      Data
	path      string
	saveDelay time.Duration
	timer     *time.Timer
	dirty     bool
	closed    bool
}

// NewTracker loads (or starts) the usage file at path. A corrupt file is
// logged and replaced on the next save.
func NewTracker(path string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create usage directory: %w", err)
	}
	t := &Tracker{
		path:      path,
		saveDelay: 5 * time.Second,
		data:      Data{Version: "1", Stats: newStats()},
	}
	if err := t.load(); err != nil {
		logging.APIWarn("Usage file %s unreadable, starting fresh: %v", path, err)
	}
	return t, nil
}

// Path returns the usage file path.
func (t *Tracker) Path() string {
	if t == nil {
		return ""
	}
	return t.path
}

func (t *Tracker) load() error {
	raw, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return err
	}
	d.Stats.ensureMaps()
	t.data = d
	return nil
}

// Track records one completion.
func (t *Tracker) Track(model, agent, operation string, input, output int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.data.Stats
	s.Total.Add(input, output)
	addTo(s.ByModel, model, input, output)
	addTo(s.ByAgent, agent, input, output)
	addTo(s.ByOperation, operation, input, output)
	t.data.Updated = time.Now().UTC()

	if !t.dirty && !t.closed {
		t.timer = time.AfterFunc(t.saveDelay, t.flush)
	}
	t.dirty = true
}

func (t *Tracker) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || !t.dirty {
		return
	}
	if err := t.saveLocked(); err != nil {
		logging.APIWarn("Usage save failed: %v", err)
	}
}

// Stats returns a copy of the counters.
func (t *Tracker) Stats() Stats {
	if t == nil {
		return newStats()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.Stats.clone()
}

// Save writes the counters to disk.
func (t *Tracker) Save() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	raw, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(t.path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write usage: %w", err)
	}
	t.dirty = false
	return nil
}

// Close cancels a pending save and flushes unsaved counters.
func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.dirty {
		return nil
	}
	return t.saveLocked()
}

// Load reads a usage file without tracking, for reporting.
func Load(path string) (Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Data{}, err
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return Data{}, fmt.Errorf("invalid usage file %s: %w", path, err)
	}
	d.Stats.ensureMaps()
	return d, nil
}
