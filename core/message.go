package core

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks driver authored turns (prompts, tool results, reminders).
	RoleUser Role = "user"
	// RoleAssistant marks model authored turns.
	RoleAssistant Role = "assistant"
	// RoleModel is the assistant role name used by Gemini transcripts.
	RoleModel Role = "model"
)

// IsAssistant reports whether the role denotes a model authored turn.
func (r Role) IsAssistant() bool { return r == RoleAssistant || r == RoleModel }

// Message holds role + ordered parts. A message is treated as immutable once
// it has been appended to a transcript.
type Message struct {
	Role  Role
	Parts []Part
}

// NewUserMessage builds a user message from parts.
func NewUserMessage(parts ...Part) Message {
	return Message{Role: RoleUser, Parts: parts}
}

// NewUserText builds a single text user message.
func NewUserText(text string) Message {
	return NewUserMessage(TextPart{Text: text})
}

// NewAssistantMessage builds an assistant message, using the "model" role
// name when useModelRole is set.
func NewAssistantMessage(useModelRole bool, parts ...Part) Message {
	role := RoleAssistant
	if useModelRole {
		role = RoleModel
	}
	return Message{Role: role, Parts: parts}
}

// Text concatenates all text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool call parts in order.
func (m Message) ToolCalls() []ToolCallPart {
	var calls []ToolCallPart
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ToolResponses returns the tool response parts in order.
func (m Message) ToolResponses() []ToolResponsePart {
	var resps []ToolResponsePart
	for _, p := range m.Parts {
		if tr, ok := p.(ToolResponsePart); ok {
			resps = append(resps, tr)
		}
	}
	return resps
}

// MarshalJSON renders the loggable transcript projection. It is not a wire
// encoding; provider adapters format parts themselves.
func (m Message) MarshalJSON() ([]byte, error) {
	content := make([]any, 0, len(m.Parts))
	for _, p := range m.Parts {
		content = append(content, loggable(p))
	}
	return json.Marshal(struct {
		Role    Role  `json:"role"`
		Content []any `json:"content"`
	}{Role: m.Role, Content: content})
}
