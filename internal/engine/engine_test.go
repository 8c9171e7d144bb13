package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/mohammad-safakhou/callsheet/internal/agent"
	"github.com/mohammad-safakhou/callsheet/internal/llm"
	"github.com/mohammad-safakhou/callsheet/internal/store"
)

type fakeChatter struct {
	result llm.ChatResult
	err    error
	calls  int
}

func (f *fakeChatter) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeChatter) Stream(ctx context.Context, req llm.ChatRequest, onDelta func(string)) (llm.ChatResult, error) {
	f.calls++
	if f.err == nil {
		onDelta(f.result.Text())
	}
	return f.result, f.err
}

type fakeLogger struct {
	events   []store.Event
	failures int
}

func (f *fakeLogger) LogEvent(ctx context.Context, projectID string, ev store.Event) (int64, error) {
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("connection reset")
	}
	f.events = append(f.events, ev)
	return int64(len(f.events)), nil
}

func assistantResult(text string, calls ...llm.ToolCall) llm.ChatResult {
	msg := llm.Message{Role: llm.RoleAssistant}
	if text != "" {
		msg.Parts = append(msg.Parts, llm.Part{Kind: llm.PartText, Text: text})
	}
	for i := range calls {
		msg.Parts = append(msg.Parts, llm.Part{Kind: llm.PartToolCall, ToolCall: &calls[i]})
	}
	return llm.ChatResult{Messages: []llm.Message{msg}}
}

func newTestEngine(chatter *fakeChatter, logger *fakeLogger) *Engine {
	return &Engine{
		LLM:    chatter,
		Events: logger,
		Logger: log.New(io.Discard, "", 0),
	}
}

func TestRunTurnLogsTextTurn(t *testing.T) {
	logger := &fakeLogger{}
	e := newTestEngine(&fakeChatter{result: assistantResult("Here is the concept.")}, logger)

	record, err := e.RunTurn(context.Background(), TurnRequest{
		ProjectID: "p1",
		Role:      agent.RoleDirector,
		History:   []llm.Message{llm.TextMessage(llm.RoleUser, "pitch me")},
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if record.Text != "Here is the concept." {
		t.Fatalf("text = %q", record.Text)
	}
	if len(logger.events) != 1 {
		t.Fatalf("events = %d, want exactly one per turn", len(logger.events))
	}
	ev := logger.events[0]
	if ev.Source != store.SourceDirector || ev.Type != store.EventChat {
		t.Fatalf("event = %s/%s", ev.Source, ev.Type)
	}
	if ev.Content != "Here is the concept." {
		t.Fatalf("content = %q", ev.Content)
	}
}

func TestRunTurnPlaceholderForPureToolTurn(t *testing.T) {
	logger := &fakeLogger{}
	call := llm.ToolCall{ID: "c1", Name: "voiceover", Args: []byte(`{}`)}
	e := newTestEngine(&fakeChatter{result: assistantResult("", call)}, logger)

	if _, err := e.RunTurn(context.Background(), TurnRequest{ProjectID: "p1", Role: agent.RoleDirector}); err != nil {
		t.Fatal(err)
	}
	ev := logger.events[0]
	if ev.Content != ToolPlaceholder {
		t.Fatalf("content = %q, want the tool placeholder", ev.Content)
	}
	if ev.Metadata["toolCalls"] == nil {
		t.Fatal("tool calls must land in metadata")
	}
}

func TestRunTurnSpecialistLogsAsExpert(t *testing.T) {
	logger := &fakeLogger{}
	e := newTestEngine(&fakeChatter{result: assistantResult("Try 120bpm.")}, logger)

	if _, err := e.RunTurn(context.Background(), TurnRequest{ProjectID: "p1", Role: agent.RoleAudioEngineer}); err != nil {
		t.Fatal(err)
	}
	ev := logger.events[0]
	if ev.Source != store.SourceExpert {
		t.Fatalf("source = %s, specialists log under EXPERT", ev.Source)
	}
	if ev.Metadata["agent"] != string(agent.RoleAudioEngineer) {
		t.Fatalf("persona missing from metadata: %+v", ev.Metadata)
	}
}

func TestRunTurnStreamsDeltas(t *testing.T) {
	logger := &fakeLogger{}
	e := newTestEngine(&fakeChatter{result: assistantResult("streamed")}, logger)

	var got string
	_, err := e.RunTurn(context.Background(), TurnRequest{
		ProjectID: "p1",
		Role:      agent.RoleDirector,
		OnDelta:   func(d string) { got += d },
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "streamed" {
		t.Fatalf("deltas = %q", got)
	}
}

func TestRunTurnModelFailureLogsSystemError(t *testing.T) {
	logger := &fakeLogger{}
	e := newTestEngine(&fakeChatter{err: errors.New("upstream 500")}, logger)

	if _, err := e.RunTurn(context.Background(), TurnRequest{ProjectID: "p1", Role: agent.RoleDirector}); err == nil {
		t.Fatal("model failure must surface to the caller")
	}
	if len(logger.events) != 1 {
		t.Fatalf("events = %d, want one system error", len(logger.events))
	}
	ev := logger.events[0]
	if ev.Source != store.SourceSystem || ev.Type != store.EventError {
		t.Fatalf("event = %s/%s, want SYSTEM/error", ev.Source, ev.Type)
	}
}

func TestRunTurnRetriesEventWriteOnce(t *testing.T) {
	logger := &fakeLogger{failures: 1}
	e := newTestEngine(&fakeChatter{result: assistantResult("ok")}, logger)

	if _, err := e.RunTurn(context.Background(), TurnRequest{ProjectID: "p1", Role: agent.RoleDirector}); err != nil {
		t.Fatalf("single store hiccup must be absorbed: %v", err)
	}
	if len(logger.events) != 1 {
		t.Fatalf("events = %d after retry", len(logger.events))
	}
}

func TestRunTurnFailsAfterSecondWriteError(t *testing.T) {
	logger := &fakeLogger{failures: 2}
	e := newTestEngine(&fakeChatter{result: assistantResult("ok")}, logger)

	if _, err := e.RunTurn(context.Background(), TurnRequest{ProjectID: "p1", Role: agent.RoleDirector}); err == nil {
		t.Fatal("persistent store failure must fail the turn")
	}
}
