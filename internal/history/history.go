// Package history projects the persisted event log into the
// conversation shapes the UI and the conversation engine expect.
package history

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mohammad-safakhou/callsheet/internal/agent"
	"github.com/mohammad-safakhou/callsheet/internal/engine"
	"github.com/mohammad-safakhou/callsheet/internal/llm"
	"github.com/mohammad-safakhou/callsheet/internal/store"
)

// View selects the projection flavor.
type View string

const (
	ViewFull  View = "full"
	ViewClean View = "clean"
)

// RenderToolName identifies the terminal render operation inside tool
// metadata.
const RenderToolName = "render"

// Turn is one chat-shaped entry for display.
type Turn struct {
	ID        int64                  `json:"id"`
	Role      string                 `json:"role"`
	Source    string                 `json:"source"`
	Type      string                 `json:"type"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Project converts events into display turns for the requested view.
func Project(events []store.Event, view View) []Turn {
	turns := make([]Turn, 0, len(events))
	for _, ev := range events {
		t := Turn{
			ID:        ev.ID,
			Role:      roleFor(ev.Source),
			Source:    ev.Source,
			Type:      ev.Type,
			Content:   ev.Content,
			Metadata:  ev.Metadata,
			CreatedAt: ev.CreatedAt,
		}
		if view == ViewClean && dropForClean(t) {
			continue
		}
		turns = append(turns, t)
	}
	return turns
}

// ForModel rebuilds the message history sent to the LLM: user and
// assistant chat turns only, producer-originated synthetic turns
// included so tool context survives across steps.
func ForModel(events []store.Event) []llm.Message {
	var msgs []llm.Message
	for _, ev := range events {
		if ev.Type != store.EventChat {
			continue
		}
		role := roleFor(ev.Source)
		if role != llm.RoleUser && role != llm.RoleAssistant {
			continue
		}
		if ev.Content == "" {
			continue
		}
		msgs = append(msgs, llm.TextMessage(role, ev.Content))
	}
	return msgs
}

// roleFor maps an event source onto a chat role.
func roleFor(source string) string {
	switch source {
	case store.SourceUser:
		return llm.RoleUser
	case store.SourceDirector, store.SourceExpert:
		return llm.RoleAssistant
	default:
		return llm.RoleSystem
	}
}

// dropForClean suppresses assistant turns that are pure tool traces:
// no user-visible text and no completed render result. They clutter
// the narrative view.
func dropForClean(t Turn) bool {
	if t.Role != llm.RoleAssistant {
		return false
	}
	calls := ToolCalls(t.Metadata)
	if len(calls) == 0 {
		return false
	}
	hasText := t.Content != "" && t.Content != engine.ToolPlaceholder &&
		!strings.Contains(t.Content, agent.ProducerMarker)
	if hasText {
		return false
	}
	for _, res := range ToolResults(t.Metadata) {
		if res.Name == RenderToolName {
			return false
		}
	}
	for _, c := range calls {
		if c.Name == RenderToolName {
			return false
		}
	}
	return true
}

// ToolCalls extracts the tool-call list from event metadata, which may
// arrive either as typed values or as generic JSON maps after a store
// round trip.
func ToolCalls(metadata map[string]interface{}) []llm.ToolCall {
	var out []llm.ToolCall
	decodeMetadata(metadata, "toolCalls", &out)
	return out
}

// ToolResults extracts the tool-result list from event metadata.
func ToolResults(metadata map[string]interface{}) []llm.ToolResult {
	var out []llm.ToolResult
	decodeMetadata(metadata, "toolResults", &out)
	return out
}

func decodeMetadata(metadata map[string]interface{}, key string, out interface{}) {
	if metadata == nil {
		return
	}
	raw, ok := metadata[key]
	if !ok {
		return
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, out)
}
