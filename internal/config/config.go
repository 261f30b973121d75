package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BenDundee/ravana/internal/logging"

	"gopkg.in/yaml.v3"
)

// ErrMissingConfig is returned when a required config file is absent.
var ErrMissingConfig = errors.New("missing config file")

// Required and optional files under the config directory.
const (
	APIFile           = "api.yml"
	DataFile          = "data.yml"
	AgentsFile        = "agents.yml"
	DeploymentFile    = "deployment.yml"
	PersonaFile       = "persona.yml"
	OrchestrationFile = "orchestration.yml"
	LoggingFile       = "logging.yml"
)

// APIConfig holds provider credentials and endpoints.
type APIConfig struct {
	OpenAIKey          string `yaml:"openai_key"`
	OpenRouterKey      string `yaml:"openrouter_key"`
	OpenRouterEndpoint string `yaml:"openrouter_endpoint"`
	GeminiKey          string `yaml:"gemini_key"`
}

// AgentEntry maps an agent name to its prompt file.
type AgentEntry struct {
	AgentName string `yaml:"agent_name"`
	Prompt    string `yaml:"prompt"`
}

type agentsFile struct {
	Agents []AgentEntry `yaml:"agents"`
}

// Configurator loads and owns every piece of ravana configuration.
// Paths are resolved relative to BaseDir.
type Configurator struct {
	BaseDir   string
	ConfigDir string
	PromptDir string
	DataDir   string
	DataFiles []string

	mu            sync.RWMutex
	deployment    DeploymentConfig
	api           *APIConfig
	data          *DataConfig
	agents        map[string]string
	orchestration OrchestrationConfig
	logging       LoggingConfig
	persona       Persona
	configured    bool
}

// New builds a Configurator rooted at baseDir and loads all config files.
func New(baseDir string) (*Configurator, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base dir: %w", err)
	}

	c := &Configurator{
		BaseDir:   abs,
		ConfigDir: filepath.Join(abs, "config"),
		PromptDir: filepath.Join(abs, "prompts"),
		DataDir:   filepath.Join(abs, "data", "processed"),
		api:       &APIConfig{},
		data:      &DataConfig{},
		agents:    make(map[string]string),
	}

	files, err := filepath.Glob(filepath.Join(c.DataDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list data files: %w", err)
	}
	sort.Strings(files)
	c.DataFiles = files

	deployment, err := c.ConfigureDeployment()
	if err != nil {
		return nil, err
	}
	c.deployment = deployment

	if err := c.Configure(false); err != nil {
		return nil, err
	}

	persona, err := c.loadPersona()
	if err != nil {
		return nil, err
	}
	c.persona = persona

	return c, nil
}

// Configure (re)loads the required config files. Files are only read when the
// configurator has not been configured yet or override is true.
func (c *Configurator) Configure(override bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.configured && !override {
		return nil
	}

	api, err := c.loadAPI()
	if err != nil {
		return err
	}
	agents, err := c.loadAgents()
	if err != nil {
		return err
	}
	data, err := c.loadData()
	if err != nil {
		return err
	}
	orch, err := c.loadOrchestration()
	if err != nil {
		return err
	}
	logCfg, err := c.loadLogging()
	if err != nil {
		return err
	}

	c.api = api
	c.agents = agents
	c.data = data
	c.orchestration = orch
	c.logging = logCfg
	c.configured = true

	logging.Configuration("Configured from %s (%d agents, %d data files)", c.ConfigDir, len(agents), len(c.DataFiles))
	return nil
}

// API returns a copy of the API config.
func (c *Configurator) API() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.api
}

// Data returns a copy of the data config.
func (c *Configurator) Data() DataConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.data
}

// Deployment returns the deployment config loaded at construction.
func (c *Configurator) Deployment() DeploymentConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deployment
}

// Orchestration returns the analyst/critic loop settings.
func (c *Configurator) Orchestration() OrchestrationConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orchestration
}

// Logging returns the logging settings.
func (c *Configurator) Logging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logging
}

// AgentNames returns configured agent names in sorted order.
func (c *Configurator) AgentNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.agents))
	for name := range c.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PromptPath resolves the prompt file configured for agentName.
func (c *Configurator) PromptPath(agentName string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	prompt, ok := c.agents[agentName]
	if !ok {
		return "", fmt.Errorf("no prompt configured for agent %q", agentName)
	}
	if filepath.IsAbs(prompt) {
		return prompt, nil
	}
	return filepath.Join(c.PromptDir, prompt), nil
}

// DBDirectory resolves the knowledge base directory.
func (c *Configurator) DBDirectory() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dir := c.data.DBDirectory
	if dir == "" {
		dir = "db"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.BaseDir, dir)
}

// LogDirectory resolves where category logs are written.
func (c *Configurator) LogDirectory() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dir := c.logging.Dir
	if dir == "" {
		dir = "logs"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.BaseDir, dir)
}

func (c *Configurator) requirePresent(name string) (string, error) {
	path := filepath.Join(c.ConfigDir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: could not find %s in config directory", ErrMissingConfig, name)
		}
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return path, nil
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Configurator) loadAPI() (*APIConfig, error) {
	path, err := c.requirePresent(APIFile)
	if err != nil {
		return nil, err
	}
	cfg := &APIConfig{}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets environment keys win over api.yml.
func (a *APIConfig) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		a.OpenAIKey = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		a.OpenRouterKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		a.GeminiKey = key
	}
	if a.OpenRouterEndpoint == "" {
		a.OpenRouterEndpoint = "https://openrouter.ai/api/v1"
	}
}

func (c *Configurator) loadAgents() (map[string]string, error) {
	path, err := c.requirePresent(AgentsFile)
	if err != nil {
		return nil, err
	}
	var f agentsFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}
	agents := make(map[string]string, len(f.Agents))
	for _, a := range f.Agents {
		if a.AgentName == "" || a.Prompt == "" {
			return nil, fmt.Errorf("agents.yml: entry requires agent_name and prompt")
		}
		agents[a.AgentName] = a.Prompt
	}
	return agents, nil
}

func (c *Configurator) loadData() (*DataConfig, error) {
	path, err := c.requirePresent(DataFile)
	if err != nil {
		return nil, err
	}
	cfg := &DataConfig{}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}
	if dir := os.Getenv("RAVANA_DB_DIR"); dir != "" {
		cfg.DBDirectory = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("data.yml: %w", err)
	}
	return cfg, nil
}

func (c *Configurator) loadOrchestration() (OrchestrationConfig, error) {
	cfg := DefaultOrchestrationConfig()
	path := filepath.Join(c.ConfigDir, OrchestrationFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("orchestration.yml: %w", err)
	}
	return cfg, nil
}

func (c *Configurator) loadLogging() (LoggingConfig, error) {
	cfg := DefaultLoggingConfig()
	path := filepath.Join(c.ConfigDir, LoggingFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
