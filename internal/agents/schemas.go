// Package agents configures the LLM agents from their prompt files and runs
// them with structured JSON input and output.
package agents

import "github.com/BenDundee/ravana/internal/tools"

// QueryAgentInput is the input of the query agent.
type QueryAgentInput struct {
	UserInput string `json:"user_input"`
}

// QueryAgentOutput is a semantic search query for the knowledge base.
type QueryAgentOutput struct {
	Reasoning string `json:"reasoning"`
	Query     string `json:"query"`
}

func (QueryAgentOutput) SchemaHint() string {
	return `{"reasoning": "how the query was derived", "query": "semantic search query"}`
}

// SearchQueryOutput is a set of web search engine queries.
type SearchQueryOutput struct {
	Reasoning string   `json:"reasoning"`
	Queries   []string `json:"queries"`
}

func (SearchQueryOutput) SchemaHint() string {
	return `{"reasoning": "why these searches", "queries": ["search engine query", "..."]}`
}

// ToolCallRequest asks the orchestrator to run a registered tool.
type ToolCallRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolOutcome reports one executed tool call back to the analyst.
type ToolOutcome struct {
	Tool   string `json:"tool"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// AnalystInput is what the analyst sees on each turn of the loop.
type AnalystInput struct {
	Question    string        `json:"question"`
	ToolResults []ToolOutcome `json:"tool_results,omitempty"`
	// Feedback and Issues come from the critic's previous review.
	Feedback string   `json:"feedback,omitempty"`
	Issues   []string `json:"issues,omitempty"`
	// ToolBudget is how many more tool calls will be honored.
	ToolBudget int `json:"tool_budget"`
	// Tools lists the callable tools while budget remains.
	Tools []tools.Definition `json:"tools,omitempty"`
}

// AnalystOutput is a draft answer, optionally with tool requests. When
// ToolCalls is non-empty the answer may be empty.
type AnalystOutput struct {
	Reasoning string            `json:"reasoning"`
	Answer    string            `json:"answer"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
}

func (AnalystOutput) SchemaHint() string {
	return `{"reasoning": "your analysis", "answer": "the reply to the user, in markdown", ` +
		`"tool_calls": [{"tool": "tool name", "args": {"arg": "value"}}]}`
}

// CriticInput is a draft under review.
type CriticInput struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	// Iteration is 1-based.
	Iteration int `json:"iteration"`
}

// CriticOutput grades a draft. Score is in [0, 1].
type CriticOutput struct {
	Approved bool     `json:"approved"`
	Score    float64  `json:"score"`
	Feedback string   `json:"feedback"`
	Issues   []string `json:"issues,omitempty"`
}

func (CriticOutput) SchemaHint() string {
	return `{"approved": true, "score": 0.0, "feedback": "what to improve", "issues": ["specific problem"]}`
}

// SchemaHinter describes the JSON shape an output type expects.
type SchemaHinter interface {
	SchemaHint() string
}
