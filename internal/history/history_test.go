package history

import (
	"testing"
	"time"

	"github.com/mohammad-safakhou/callsheet/internal/engine"
	"github.com/mohammad-safakhou/callsheet/internal/llm"
	"github.com/mohammad-safakhou/callsheet/internal/store"
)

func chatEvent(id int64, source, content string, metadata map[string]interface{}) store.Event {
	return store.Event{
		ID: id, ProjectID: "p1", Source: source, Type: store.EventChat,
		Content: content, Metadata: metadata, CreatedAt: time.Now(),
	}
}

// toolMeta mimics metadata after a store round trip, where typed
// slices decay into generic JSON maps.
func toolMeta(tool string) map[string]interface{} {
	return map[string]interface{}{
		"toolCalls": []interface{}{
			map[string]interface{}{"id": "c1", "name": tool, "args": map[string]interface{}{}},
		},
		"toolResults": []interface{}{
			map[string]interface{}{"id": "c1", "name": tool, "result": []interface{}{}},
		},
	}
}

func TestProjectRoleMapping(t *testing.T) {
	events := []store.Event{
		chatEvent(1, store.SourceUser, "make a bee video", nil),
		chatEvent(2, store.SourceDirector, "Here is the concept.", nil),
		chatEvent(3, store.SourceExpert, "Try 120bpm.", nil),
		{ID: 4, Source: store.SourceProducer, Type: store.EventLog, Content: "Initiating Task: VO"},
		{ID: 5, Source: store.SourceSystem, Type: store.EventError, Content: "model call failed"},
	}
	turns := Project(events, ViewFull)
	if len(turns) != 5 {
		t.Fatalf("full view dropped events: got %d", len(turns))
	}
	wantRoles := []string{llm.RoleUser, llm.RoleAssistant, llm.RoleAssistant, llm.RoleSystem, llm.RoleSystem}
	for i, w := range wantRoles {
		if turns[i].Role != w {
			t.Fatalf("turn %d role = %s, want %s", i, turns[i].Role, w)
		}
	}
}

func TestCleanViewDropsPureToolTurns(t *testing.T) {
	events := []store.Event{
		chatEvent(1, store.SourceUser, "run it", nil),
		chatEvent(2, store.SourceDirector, engine.ToolPlaceholder, toolMeta("voiceover")),
		chatEvent(3, store.SourceDirector, "Voiceover is in.", nil),
	}
	turns := Project(events, ViewClean)
	if len(turns) != 2 {
		t.Fatalf("clean view kept %d turns, want 2", len(turns))
	}
	for _, turn := range turns {
		if turn.Content == engine.ToolPlaceholder {
			t.Fatal("placeholder-only tool turn survived the clean view")
		}
	}
}

func TestCleanViewKeepsRenderTurns(t *testing.T) {
	events := []store.Event{
		chatEvent(1, store.SourceDirector, engine.ToolPlaceholder, toolMeta(RenderToolName)),
	}
	turns := Project(events, ViewClean)
	if len(turns) != 1 {
		t.Fatal("render turn must survive the clean view")
	}
}

func TestCleanViewKeepsToolTurnsWithText(t *testing.T) {
	events := []store.Event{
		chatEvent(1, store.SourceDirector, "Downloading the skyline now.", toolMeta("download_image")),
	}
	if turns := Project(events, ViewClean); len(turns) != 1 {
		t.Fatal("tool turn with narration must survive the clean view")
	}
}

func TestForModelFiltersNonChat(t *testing.T) {
	events := []store.Event{
		chatEvent(1, store.SourceUser, "make a bee video", nil),
		{ID: 2, Source: store.SourceProducer, Type: store.EventLog, Content: "Initiating Task: VO"},
		chatEvent(3, store.SourceDirector, "On it.", nil),
		{ID: 4, Source: store.SourceSystem, Type: store.EventError, Content: "boom"},
		chatEvent(5, store.SourceDirector, "", toolMeta("voiceover")),
	}
	msgs := ForModel(events)
	if len(msgs) != 2 {
		t.Fatalf("model history = %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[1].Role != llm.RoleAssistant {
		t.Fatalf("unexpected roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func TestMetadataDecodeTolerant(t *testing.T) {
	if got := ToolCalls(nil); got != nil {
		t.Fatal("nil metadata must yield no calls")
	}
	if got := ToolCalls(map[string]interface{}{"toolCalls": "garbage"}); len(got) != 0 {
		t.Fatal("malformed metadata must yield no calls")
	}
	calls := ToolCalls(toolMeta("render"))
	if len(calls) != 1 || calls[0].Name != "render" {
		t.Fatalf("calls = %+v", calls)
	}
}
