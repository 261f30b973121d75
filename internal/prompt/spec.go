// Package prompt loads agent prompt files and renders system prompts.
//
// A prompt file is YAML (or JSON) with a model name, the system prompt sections
// and optional model API parameters:
//
//	model: openai/gpt-4o-mini
//	system_prompt:
//	  background: [...]
//	  steps: [...]
//	  output_instructions: [...]
//	api_parameters:
//	  temperature: 0.2
package prompt

// Spec is the parsed content of one prompt file.
type Spec struct {
	Model         string                 `yaml:"model" json:"model"`
	SystemPrompt  SystemPromptSpec       `yaml:"system_prompt" json:"system_prompt"`
	APIParameters map[string]interface{} `yaml:"api_parameters,omitempty" json:"api_parameters,omitempty"`
}

// SystemPromptSpec holds the three authored sections of a system prompt.
type SystemPromptSpec struct {
	Background         []string `yaml:"background" json:"background"`
	Steps              []string `yaml:"steps,omitempty" json:"steps,omitempty"`
	OutputInstructions []string `yaml:"output_instructions,omitempty" json:"output_instructions,omitempty"`
}

// Temperature returns api_parameters.temperature when it is numeric.
func (s *Spec) Temperature() (float64, bool) {
	return floatParam(s.APIParameters, "temperature")
}

// MaxTokens returns api_parameters.max_tokens when it is numeric.
func (s *Spec) MaxTokens() (int, bool) {
	f, ok := floatParam(s.APIParameters, "max_tokens")
	return int(f), ok
}

func floatParam(params map[string]interface{}, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
