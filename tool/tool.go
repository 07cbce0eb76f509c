// Package tool implements the provider agnostic tool declarations exposed to
// models (Tool, Parameter, Set) and the registry of side-effecting handlers
// that execute model issued tool calls.
package tool

import (
	"fmt"

	"github.com/hupe1980/evalmesh/internal/util"
)

// Parameter describes one argument of a tool.
type Parameter struct {
	Name        string   `json:"name" yaml:"name"`
	Type        string   `json:"type" yaml:"type"` // JSON schema type: string, array, object, ...
	Description string   `json:"description" yaml:"description"`
	Required    bool     `json:"required,omitempty" yaml:"required"`
	Enum        []string `json:"enum,omitempty" yaml:"enum"`
	ItemsType   string   `json:"items_type,omitempty" yaml:"items_type"` // Element type for arrays

	// AnyValue accepts any decoded JSON value during argument validation.
	// Models are still told Type.
	AnyValue bool `json:"any_value,omitempty" yaml:"any_value"`
}

// Property returns the JSON schema property fragment for the parameter.
func (p Parameter) Property() map[string]any {
	prop := map[string]any{
		"type":        p.Type,
		"description": p.Description,
	}
	if len(p.Enum) > 0 {
		prop["enum"] = p.Enum
	}
	if p.Type == "array" && p.ItemsType != "" {
		prop["items"] = map[string]any{"type": p.ItemsType}
	}
	return prop
}

// Tool declares a function the model may call.
type Tool struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description" yaml:"description"`
	Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters"`
}

// Schema returns the properties map and the required names in declaration order.
func (t Tool) Schema() (map[string]any, []string) {
	properties := make(map[string]any, len(t.Parameters))
	required := make([]string, 0, len(t.Parameters))
	for _, p := range t.Parameters {
		properties[p.Name] = p.Property()
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return properties, required
}

// JSONSchema returns the full object schema {type, properties, required}.
func (t Tool) JSONSchema() map[string]any {
	properties, required := t.Schema()
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// ValidationSchema returns the schema decoded arguments are checked against.
// It equals JSONSchema except that AnyValue parameters carry no type.
func (t Tool) ValidationSchema() map[string]any {
	schema := t.JSONSchema()
	properties := schema["properties"].(map[string]any)
	for _, p := range t.Parameters {
		if !p.AnyValue {
			continue
		}
		prop := p.Property()
		delete(prop, "type")
		properties[p.Name] = prop
	}
	return schema
}

// Set is an insertion ordered collection of tools. Provider projections
// reproduce this order verbatim.
type Set struct {
	tools []Tool
}

// NewSet creates a set from tools in the given order.
func NewSet(tools ...Tool) *Set {
	s := &Set{}
	for _, t := range tools {
		s.Add(t)
	}
	return s
}

// Add appends a tool and returns the set for chaining.
func (s *Set) Add(t Tool) *Set {
	s.tools = append(s.tools, t)
	return s
}

// Len returns the number of tools; a nil set is empty.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tools)
}

// Tools returns a copy of the tools in insertion order.
func (s *Set) Tools() []Tool {
	if s == nil {
		return nil
	}
	out := make([]Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

// Names returns the tool names in insertion order.
func (s *Set) Names() []string {
	names := make([]string, 0, s.Len())
	for _, t := range s.Tools() {
		names = append(names, t.Name)
	}
	return names
}

// Get returns the tool declared under name.
func (s *Set) Get(name string) (Tool, bool) {
	for _, t := range s.Tools() {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes used by ToolError.
const (
	CodeUnknownTool     = "UNKNOWN_TOOL"
	CodeValidationError = "VALIDATION_ERROR"
	CodeExecutionError  = "EXECUTION_ERROR"
)

// ToolError represents errors that occur during tool lookup or execution.
type ToolError struct {
	Tool    string      `json:"tool"`              // Name of the tool that failed
	Message string      `json:"message"`           // Error message
	Code    string      `json:"code"`              // Error code for categorization
	Details interface{} `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
