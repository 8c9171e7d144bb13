// Package llm speaks the OpenAI-compatible chat completions protocol
// and normalizes the heterogeneous reply shapes into a single tagged
// part type so downstream components never branch on wire format.
package llm

import (
	"encoding/json"
	"strings"
)

// Role constants for Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// PartKind discriminates the content union.
type PartKind string

const (
	PartText       PartKind = "text"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult is the outcome of executing a requested tool call.
type ToolResult struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result"`
}

// Part is one element of a message's content.
type Part struct {
	Kind       PartKind    `json:"kind"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Message is a single conversation turn in normalized form.
type Message struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// TextMessage builds a plain text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []Part{{Kind: PartText, Text: text}}}
}

// Text concatenates the text parts of a message.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartText && p.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool-call parts of a message.
func (m Message) ToolCalls() []ToolCall {
	var out []ToolCall
	for _, p := range m.Parts {
		if p.Kind == PartToolCall && p.ToolCall != nil {
			out = append(out, *p.ToolCall)
		}
	}
	return out
}

// ToolResults returns the tool-result parts of a message.
func (m Message) ToolResults() []ToolResult {
	var out []ToolResult
	for _, p := range m.Parts {
		if p.Kind == PartToolResult && p.ToolResult != nil {
			out = append(out, *p.ToolResult)
		}
	}
	return out
}

// ToolSchema describes a callable tool to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema object
}

// ToolExecutor runs one tool call and returns its structured result.
// Expected tool failures are encoded inside the result payload, never
// as a Go error; an error return aborts the whole turn.
type ToolExecutor func(call ToolCall) (json.RawMessage, error)

// ChatRequest is one model turn: history plus the acting agent's
// persona and tool access.
type ChatRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSchema
	Executor     ToolExecutor
	// MaxToolSteps bounds autonomous tool round-trips in a single turn.
	MaxToolSteps int
}

// ChatResult carries everything the model produced during one turn,
// including intermediate tool-call/result messages.
type ChatResult struct {
	Messages     []Message // newly produced messages, in order
	InputTokens  int64
	OutputTokens int64
}

// Text concatenates the assistant text across all produced messages.
func (r ChatResult) Text() string {
	var b strings.Builder
	for _, m := range r.Messages {
		if m.Role != RoleAssistant {
			continue
		}
		if t := m.Text(); t != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(t)
		}
	}
	return b.String()
}

// ToolCalls flattens tool calls across all produced messages.
func (r ChatResult) ToolCalls() []ToolCall {
	var out []ToolCall
	for _, m := range r.Messages {
		out = append(out, m.ToolCalls()...)
	}
	return out
}

// ToolResults flattens tool results across all produced messages.
func (r ChatResult) ToolResults() []ToolResult {
	var out []ToolResult
	for _, m := range r.Messages {
		out = append(out, m.ToolResults()...)
	}
	return out
}
