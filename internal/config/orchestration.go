package config

import "fmt"

// OrchestrationConfig bounds the analyst/critic loop.
type OrchestrationConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	ApprovalScore float64 `yaml:"approval_score"`
	MaxToolCalls  int     `yaml:"max_tool_calls"`
	ModelRetries  int     `yaml:"model_retries"`
	Timeout       string  `yaml:"timeout"`
}

// DefaultOrchestrationConfig returns the loop defaults.
func DefaultOrchestrationConfig() OrchestrationConfig {
	return OrchestrationConfig{
		MaxIterations: 3,
		ApprovalScore: 0.8,
		MaxToolCalls:  4,
		ModelRetries:  2,
		Timeout:       "120s",
	}
}

func (o *OrchestrationConfig) applyDefaults() {
	d := DefaultOrchestrationConfig()
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.ApprovalScore <= 0 {
		o.ApprovalScore = d.ApprovalScore
	}
	if o.MaxToolCalls < 0 {
		o.MaxToolCalls = d.MaxToolCalls
	}
	if o.ModelRetries < 0 {
		o.ModelRetries = 0
	}
	if o.Timeout == "" {
		o.Timeout = d.Timeout
	}
}

// Validate rejects limits the loop cannot honor. Critic scores are clamped to
// [0, 1], so an approval_score above 1 could never be met.
func (o *OrchestrationConfig) Validate() error {
	if o.ApprovalScore > 1 {
		return fmt.Errorf("approval_score must be at most 1, got %g", o.ApprovalScore)
	}
	return nil
}
