package agents

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BenDundee/ravana/internal/config"
	"github.com/BenDundee/ravana/internal/llm"
	"github.com/BenDundee/ravana/internal/logging"
	"github.com/BenDundee/ravana/internal/prompt"
	"github.com/BenDundee/ravana/internal/usage"
)

// Agent names used by the orchestrator.
const (
	QueryAgent   = "query"
	SearchAgent  = "search"
	AnalystAgent = "analyst"
	CriticAgent  = "critic"
)

// Context provider titles.
const (
	PersonaTitle          = "User Persona"
	RetrievedContextTitle = "Retrieved Context"
	SearchResultsTitle    = "Search Results"
)

var (
	// ErrUnknownAgent is returned for an agent name with no configured prompt.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrInvalidRole is returned when a chat message has an unknown role.
	ErrInvalidRole = errors.New("invalid message role")
)

// Source supplies agent prompt locations and the persona.
// *config.Configurator satisfies it.
type Source interface {
	AgentNames() []string
	PromptPath(agentName string) (string, error)
	Persona() config.Persona
}

// HandlerOptions tunes agent construction.
type HandlerOptions struct {
	// MaxMemory bounds each memory in messages; 0 is unlimited.
	MaxMemory int
	// JSONRetries is how often an agent re-asks for unparseable output.
	JSONRetries int
	// Usage records token counts per agent when set.
	Usage *usage.Tracker
}

// Handler builds and owns the agents, their shared chat memory, and the
// context providers appended to every system prompt.
type Handler struct {
	src    Source
	client llm.Client
	opts   HandlerOptions

	mu       sync.RWMutex
	agents   map[string]*Agent
	prompts  map[string]*prompt.Handler
	chat     *Memory
	retrieve *prompt.StaticProvider
	search   *prompt.StaticProvider
}

// NewHandler configures every agent named by src.
func NewHandler(src Source, client llm.Client, opts HandlerOptions) (*Handler, error) {
	timer := logging.StartTimer(logging.CategoryAgents, "NewHandler")
	defer timer.Stop()

	h := &Handler{
		src:      src,
		client:   client,
		opts:     opts,
		agents:   make(map[string]*Agent),
		prompts:  make(map[string]*prompt.Handler),
		chat:     NewMemory(opts.MaxMemory),
		retrieve: prompt.NewStaticProvider(RetrievedContextTitle, ""),
		search:   prompt.NewStaticProvider(SearchResultsTitle, ""),
	}

	logging.Agents("Initializing agents...")
	for _, name := range src.AgentNames() {
		if err := h.configure(name); err != nil {
			return nil, err
		}
	}
	logging.Agents("Configured %d agents", len(h.agents))
	return h, nil
}

func (h *Handler) providers() []prompt.ContextProvider {
	persona := prompt.FuncProvider{Name: PersonaTitle, Fn: func() string { return h.src.Persona().String() }}
	return []prompt.ContextProvider{persona, h.retrieve, h.search}
}

func (h *Handler) configure(name string) error {
	path, err := h.src.PromptPath(name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	ph := prompt.NewHandler(path)
	spec, err := ph.Read()
	if err != nil {
		return fmt.Errorf("failed to configure agent %s: %w", name, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.prompts[name] = ph
	a := newAgent(name, spec, h.client, h.chat.Copy(), h.providers(), h.opts.JSONRetries)
	a.usage = h.opts.Usage
	h.agents[name] = a
	logging.AgentsDebug("Configured agent %s (model=%s)", name, spec.Model)
	return nil
}

// Agent returns the named agent.
func (h *Handler) Agent(name string) (*Agent, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return a, nil
}

// Has reports whether the named agent is configured.
func (h *Handler) Has(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.agents[name]
	return ok
}

// Names returns the configured agent names, sorted.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.agents))
	for name := range h.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run runs the named agent.
func (h *Handler) Run(ctx context.Context, name string, input, out any) error {
	a, err := h.Agent(name)
	if err != nil {
		return err
	}
	return a.Run(ctx, input, out)
}

// UpdateMemory replaces the shared chat memory with the incoming history and
// resets every agent's memory to a copy of it.
func (h *Handler) UpdateMemory(msgs []llm.Message) error {
	for i, m := range msgs {
		if !llm.ValidRole(m.Role) {
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidRole, i, m.Role)
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.chat.Replace(msgs)
	for _, a := range h.agents {
		a.Memory().Replace(msgs)
	}
	logging.AgentsDebug("Memory updated with %d messages", len(msgs))
	return nil
}

// ChatMemory returns the shared conversation memory.
func (h *Handler) ChatMemory() *Memory {
	return h.chat
}

// SetRetrievedContext replaces the knowledge base context shown to agents.
func (h *Handler) SetRetrievedContext(info string) {
	h.retrieve.Set(info)
}

// SetSearchResults replaces the web search context shown to agents.
func (h *Handler) SetSearchResults(info string) {
	h.search.Set(info)
}

// ClearContext empties the per-request context providers.
func (h *Handler) ClearContext() {
	h.retrieve.Set("")
	h.search.Set("")
}

// Reconfigure re-reads the agent's prompt file. Memory and context providers
// are preserved.
func (h *Handler) Reconfigure(name string) error {
	h.mu.RLock()
	a, ok := h.agents[name]
	ph := h.prompts[name]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}

	// The configured path may have changed in agents.yml.
	path, err := h.src.PromptPath(name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	if path != ph.Path() {
		ph = prompt.NewHandler(path)
	} else {
		ph.Invalidate()
	}
	spec, err := ph.Read()
	if err != nil {
		return fmt.Errorf("failed to reconfigure agent %s: %w", name, err)
	}

	h.mu.Lock()
	h.prompts[name] = ph
	h.mu.Unlock()
	a.reconfigure(spec)
	logging.Agents("Reconfigured agent %s (model=%s)", name, spec.Model)
	return nil
}

// ReconfigureAll reconfigures existing agents and adds newly configured ones.
func (h *Handler) ReconfigureAll() error {
	var errs []error
	for _, name := range h.src.AgentNames() {
		var err error
		if h.Has(name) {
			err = h.Reconfigure(name)
		} else {
			err = h.configure(name)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleChange reacts to an edited config or prompt file. A prompt file
// reconfigures the agents using it; agents.yml reconfigures all of them.
// Other files are ignored here.
func (h *Handler) HandleChange(path string) error {
	base := filepath.Base(path)
	if base == config.AgentsFile {
		return h.ReconfigureAll()
	}

	var matched []string
	for _, name := range h.Names() {
		p, err := h.src.PromptPath(name)
		if err == nil && filepath.Clean(p) == filepath.Clean(path) {
			matched = append(matched, name)
		}
	}
	var errs []error
	for _, name := range matched {
		if err := h.Reconfigure(name); err != nil {
			logging.AgentsWarn("Failed to reconfigure %s after change to %s: %v", name, base, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
