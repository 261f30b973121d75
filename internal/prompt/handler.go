package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BenDundee/ravana/internal/logging"

	"gopkg.in/yaml.v3"
)

// Handler reads and writes a single prompt file. The parsed spec is cached
// after the first successful Read.
type Handler struct {
	file string

	mu     sync.Mutex
	cached *Spec
}

// NewHandler returns a handler for the prompt file at path.
func NewHandler(path string) *Handler {
	return &Handler{file: path}
}

// Path returns the prompt file location.
func (h *Handler) Path() string {
	return h.file
}

// Read parses the prompt file, or returns the cached spec.
func (h *Handler) Read() (*Spec, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cached != nil {
		return h.cached, nil
	}

	data, err := os.ReadFile(h.file)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt %s: %w", h.file, err)
	}

	// JSON is a subset of YAML, so one decoder covers both formats.
	spec := &Spec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("failed to parse prompt %s: %w", h.file, err)
	}
	if spec.Model == "" {
		return nil, fmt.Errorf("prompt %s: model is required", h.file)
	}

	logging.AgentsDebug("Loaded prompt %s (model=%s, %d background, %d steps)",
		filepath.Base(h.file), spec.Model, len(spec.SystemPrompt.Background), len(spec.SystemPrompt.Steps))
	h.cached = spec
	return spec, nil
}

// Write serializes spec to the prompt file as "yml" or "json" and replaces
// the cache.
func (h *Handler) Write(spec *Spec, format string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "json":
		data, err = json.MarshalIndent(spec, "", "    ")
	case "yml", "yaml":
		data, err = yaml.Marshal(spec)
	default:
		return fmt.Errorf("format must be either 'yml' or 'json', got %q", format)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal prompt: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(h.file), 0755); err != nil {
		return fmt.Errorf("failed to create prompt directory: %w", err)
	}
	if err := os.WriteFile(h.file, data, 0644); err != nil {
		return fmt.Errorf("failed to write prompt: %w", err)
	}

	h.mu.Lock()
	h.cached = spec
	h.mu.Unlock()
	return nil
}

// Invalidate drops the cached spec so the next Read hits the disk.
func (h *Handler) Invalidate() {
	h.mu.Lock()
	h.cached = nil
	h.mu.Unlock()
}
