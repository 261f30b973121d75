package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BenDundee/ravana/internal/logging"

	"gopkg.in/yaml.v3"
)

// Persona describes the person being coached. All fields are optional.
type Persona struct {
	Name               string   `yaml:"name" json:"name"`
	Role               string   `yaml:"role" json:"role"`
	Organization       string   `yaml:"organization" json:"organization"`
	Goals              []string `yaml:"goals" json:"goals"`
	Challenges         []string `yaml:"challenges" json:"challenges"`
	CommunicationStyle string   `yaml:"communication_style" json:"communication_style"`
	Notes              string   `yaml:"notes" json:"notes"`
}

// EmptyPersona returns a persona with no fields set.
func EmptyPersona() Persona {
	return Persona{Goals: []string{}, Challenges: []string{}}
}

// IsEmpty reports whether no field carries information.
func (p Persona) IsEmpty() bool {
	return p.Name == "" && p.Role == "" && p.Organization == "" &&
		len(p.Goals) == 0 && len(p.Challenges) == 0 &&
		p.CommunicationStyle == "" && p.Notes == ""
}

// Summary returns the persona as a YAML mapping node with keys in
// declaration order.
func (p Persona) Summary() *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	addScalar := func(k, v string) {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Value: v, Tag: "!!str"},
		)
	}
	addList := func(k string, vs []string) {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, v := range vs {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: v, Tag: "!!str"})
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, seq)
	}

	addScalar("name", p.Name)
	addScalar("role", p.Role)
	addScalar("organization", p.Organization)
	addList("goals", p.Goals)
	addList("challenges", p.Challenges)
	addScalar("communication_style", p.CommunicationStyle)
	addScalar("notes", p.Notes)
	return node
}

// String renders the persona for inclusion in a system prompt.
func (p Persona) String() string {
	if p.IsEmpty() {
		return ""
	}
	var sb strings.Builder
	line := func(label, v string) {
		if v != "" {
			fmt.Fprintf(&sb, "%s: %s\n", label, v)
		}
	}
	list := func(label string, vs []string) {
		if len(vs) == 0 {
			return
		}
		fmt.Fprintf(&sb, "%s:\n", label)
		for _, v := range vs {
			fmt.Fprintf(&sb, "- %s\n", v)
		}
	}
	line("Name", p.Name)
	line("Role", p.Role)
	line("Organization", p.Organization)
	list("Goals", p.Goals)
	list("Challenges", p.Challenges)
	line("Communication style", p.CommunicationStyle)
	line("Notes", p.Notes)
	return strings.TrimRight(sb.String(), "\n")
}

func (c *Configurator) loadPersona() (Persona, error) {
	path := filepath.Join(c.ConfigDir, PersonaFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return EmptyPersona(), nil
	}
	p := EmptyPersona()
	if err := readYAML(path, &p); err != nil {
		return Persona{}, err
	}
	return p, nil
}

// Persona returns the current persona.
func (c *Configurator) Persona() Persona {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.persona
}

// UpdatePersona replaces the persona and persists it to persona.yml.
func (c *Configurator) UpdatePersona(p Persona) error {
	data, err := yaml.Marshal(p.Summary())
	if err != nil {
		return fmt.Errorf("failed to marshal persona: %w", err)
	}
	if err := os.MkdirAll(c.ConfigDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path := filepath.Join(c.ConfigDir, PersonaFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write persona: %w", err)
	}

	c.mu.Lock()
	c.persona = p
	c.mu.Unlock()

	logging.Configuration("Persona updated (%s)", path)
	return nil
}

// ReloadPersona re-reads persona.yml from disk.
func (c *Configurator) ReloadPersona() error {
	p, err := c.loadPersona()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.persona = p
	c.mu.Unlock()
	return nil
}
