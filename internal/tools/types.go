// Package tools is the tool-invocation layer used by the analyst agent.
//
// Tools are registered once at startup; a tool call requested by a model is
// validated against the tool's schema, defaults are filled in, and the tool
// runs with the normalized arguments:
//
//	Call → Registry.Get() → ValidateArgs() → Tool.Execute() → Result
package tools

import (
	"context"
	"encoding/json"
)

// ToolCategory classifies tools.
type ToolCategory string

const (
	// CategoryResearch covers web search and page fetching.
	CategoryResearch ToolCategory = "/research"

	// CategoryKnowledge covers knowledge base lookups.
	CategoryKnowledge ToolCategory = "/knowledge"

	// CategoryGeneral is for tools usable anywhere.
	CategoryGeneral ToolCategory = "/general"
)

// Argument types accepted in a Property.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution.
// Returns the result string and any error.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool defines a tool an agent may call.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does.
	// Shown to the model in the tool definitions.
	Description string

	// Category classifies the tool.
	Category ToolCategory

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema

	// Priority is used when multiple tools match.
	// Higher priority tools are preferred (default 50).
	Priority int
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// WithPriority returns a copy of the tool with the given priority.
func (t *Tool) WithPriority(priority int) *Tool {
	copy := *t
	copy.Priority = priority
	return &copy
}

// Definition is the model-facing description of a tool.
type Definition struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  ToolSchema `json:"parameters"`
}

// Call is a tool invocation requested by a model.
type Call struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Result wraps the result of tool execution with metadata.
type Result struct {
	// CallID echoes Call.ID.
	CallID string `json:"call_id,omitempty"`

	// ToolName identifies which tool was executed.
	ToolName string `json:"tool_name"`

	// Output is the string output from the tool.
	Output string `json:"output,omitempty"`

	// Error is set if validation or the tool failed.
	Error error `json:"-"`

	// DurationMs is how long execution took.
	DurationMs int64 `json:"duration_ms"`
}

// IsSuccess returns true if the tool executed without error.
func (r *Result) IsSuccess() bool {
	return r.Error == nil
}

// MarshalJSON renders Error as a string so results can be fed back to a model.
func (r Result) MarshalJSON() ([]byte, error) {
	type alias Result
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(r)}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	return json.Marshal(out)
}
