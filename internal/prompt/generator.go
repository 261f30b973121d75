package prompt

import (
	"fmt"
	"strings"
	"sync"
)

// ContextProvider contributes a titled block of runtime information to the
// end of a system prompt.
type ContextProvider interface {
	Title() string
	Info() string
}

// StaticProvider is a ContextProvider whose info can be replaced at runtime.
type StaticProvider struct {
	title string

	mu   sync.RWMutex
	info string
}

// NewStaticProvider creates a provider with the given title and initial info.
func NewStaticProvider(title, info string) *StaticProvider {
	return &StaticProvider{title: title, info: info}
}

func (p *StaticProvider) Title() string { return p.title }

func (p *StaticProvider) Info() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info
}

// Set replaces the provider's info.
func (p *StaticProvider) Set(info string) {
	p.mu.Lock()
	p.info = info
	p.mu.Unlock()
}

// FuncProvider adapts a function to ContextProvider.
type FuncProvider struct {
	Name string
	Fn   func() string
}

func (p FuncProvider) Title() string { return p.Name }
func (p FuncProvider) Info() string  { return p.Fn() }

// Generator renders a SystemPromptSpec plus context providers into the final
// system prompt. Sections are emitted in a fixed order with blank lines
// between them; empty sections are omitted.
type Generator struct {
	spec SystemPromptSpec

	mu        sync.RWMutex
	providers []ContextProvider

	sectionSeparator string
}

// NewGenerator creates a generator for spec.
func NewGenerator(spec SystemPromptSpec, providers ...ContextProvider) *Generator {
	return &Generator{
		spec:             spec,
		providers:        providers,
		sectionSeparator: "\n\n",
	}
}

// AddProvider appends a context provider. A provider with the same title
// replaces the existing one in place.
func (g *Generator) AddProvider(p ContextProvider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, existing := range g.providers {
		if existing.Title() == p.Title() {
			g.providers[i] = p
			return
		}
	}
	g.providers = append(g.providers, p)
}

// Providers returns a copy of the registered providers.
func (g *Generator) Providers() []ContextProvider {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]ContextProvider, len(g.providers))
	copy(out, g.providers)
	return out
}

// SetProviders replaces all providers.
func (g *Generator) SetProviders(ps []ContextProvider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers = append([]ContextProvider(nil), ps...)
}

// Generate renders the system prompt.
func (g *Generator) Generate() string {
	var sections []string

	if s := bulletSection("# IDENTITY and PURPOSE", g.spec.Background); s != "" {
		sections = append(sections, s)
	}
	if len(g.spec.Steps) > 0 {
		var sb strings.Builder
		sb.WriteString("# INTERNAL ASSISTANT STEPS")
		for i, step := range g.spec.Steps {
			fmt.Fprintf(&sb, "\n%d. %s", i+1, step)
		}
		sections = append(sections, sb.String())
	}
	if s := bulletSection("# OUTPUT INSTRUCTIONS", g.spec.OutputInstructions); s != "" {
		sections = append(sections, s)
	}

	var ctxBlocks []string
	for _, p := range g.Providers() {
		info := strings.TrimSpace(p.Info())
		if info == "" {
			continue
		}
		ctxBlocks = append(ctxBlocks, fmt.Sprintf("## %s\n%s", p.Title(), info))
	}
	if len(ctxBlocks) > 0 {
		sections = append(sections, "# EXTRA INFORMATION AND CONTEXT\n"+strings.Join(ctxBlocks, g.sectionSeparator))
	}

	return strings.Join(sections, g.sectionSeparator)
}

func bulletSection(header string, items []string) string {
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(header)
	for _, item := range items {
		sb.WriteString("\n- ")
		sb.WriteString(item)
	}
	return sb.String()
}
