// Package engine executes single agent turns against the LLM and
// records the outcome in the event log.
package engine

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/callsheet/internal/agent"
	"github.com/mohammad-safakhou/callsheet/internal/llm"
	"github.com/mohammad-safakhou/callsheet/internal/store"
	"github.com/mohammad-safakhou/callsheet/internal/tools"
)

var engineTracer trace.Tracer = otel.Tracer("callsheet/internal/engine")

// ToolPlaceholder is logged as event content when a turn produced
// only tool calls and no user-visible text.
const ToolPlaceholder = "[Tool Executing...]"

// Chatter is the LLM surface the engine needs. *llm.Client satisfies
// it; tests substitute fakes.
type Chatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error)
	Stream(ctx context.Context, req llm.ChatRequest, onDelta func(string)) (llm.ChatResult, error)
}

// EventLogger is the slice of the store the engine writes through.
type EventLogger interface {
	LogEvent(ctx context.Context, projectID string, ev store.Event) (int64, error)
}

// Engine wraps the streaming LLM client for one-turn execution.
type Engine struct {
	LLM    Chatter
	Events EventLogger
	Tools  *tools.Registry
	Logger *log.Logger
}

// TurnRequest describes one turn to execute.
type TurnRequest struct {
	ProjectID string
	Role      agent.Role
	Persona   agent.Persona
	History   []llm.Message
	// OnDelta, when set, receives streamed text fragments for live
	// display.
	OnDelta func(string)
}

// TurnRecord is the canonical summary of a settled turn.
type TurnRecord struct {
	Role        agent.Role       `json:"role"`
	Text        string           `json:"text"`
	ToolCalls   []llm.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []llm.ToolResult `json:"tool_results,omitempty"`
	Messages    []llm.Message    `json:"messages"`
}

// RunTurn executes one turn for the routed agent and appends a single
// summarizing event. Model failures are logged as SYSTEM errors and
// returned to the caller.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) (TurnRecord, error) {
	ctx, span := engineTracer.Start(ctx, "engine.run_turn",
		trace.WithAttributes(
			attribute.String("project.id", req.ProjectID),
			attribute.String("agent.role", string(req.Role)),
		))
	defer span.End()

	chatReq := llm.ChatRequest{
		SystemPrompt: req.Persona.SystemPrompt,
		Messages:     req.History,
		Tools:        req.Persona.Tools,
	}
	if len(req.Persona.Tools) > 0 {
		chatReq.Executor = e.Tools.Executor(ctx)
	}

	var (
		result llm.ChatResult
		err    error
	)
	if req.OnDelta != nil {
		result, err = e.LLM.Stream(ctx, chatReq, req.OnDelta)
	} else {
		result, err = e.LLM.Chat(ctx, chatReq)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logSystemError(ctx, req.ProjectID, err)
		return TurnRecord{}, fmt.Errorf("model call failed: %w", err)
	}

	record := TurnRecord{
		Role:        req.Role,
		Text:        result.Text(),
		ToolCalls:   result.ToolCalls(),
		ToolResults: result.ToolResults(),
		Messages:    result.Messages,
	}
	span.SetAttributes(
		attribute.Int("turn.tool_calls", len(record.ToolCalls)),
		attribute.Int64("turn.tokens_in", result.InputTokens),
		attribute.Int64("turn.tokens_out", result.OutputTokens),
	)

	if err := e.logTurn(ctx, req.ProjectID, record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TurnRecord{}, err
	}
	span.SetStatus(codes.Ok, "completed")
	return record, nil
}

// logTurn writes the one-event summary of a settled turn. A store
// failure is retried once, then fails the turn.
func (e *Engine) logTurn(ctx context.Context, projectID string, record TurnRecord) error {
	content := record.Text
	if content == "" && len(record.ToolCalls) > 0 {
		content = ToolPlaceholder
	}
	ev := store.Event{Source: sourceFor(record.Role), Type: store.EventChat, Content: content}
	if record.Role != agent.RoleDirector {
		ev.Metadata = map[string]interface{}{"agent": string(record.Role)}
	}
	if len(record.ToolCalls) > 0 {
		if ev.Metadata == nil {
			ev.Metadata = map[string]interface{}{}
		}
		ev.Metadata["toolCalls"] = record.ToolCalls
	}
	if len(record.ToolResults) > 0 {
		if ev.Metadata == nil {
			ev.Metadata = map[string]interface{}{}
		}
		ev.Metadata["toolResults"] = record.ToolResults
	}

	_, err := e.Events.LogEvent(ctx, projectID, ev)
	if err == nil {
		return nil
	}
	e.Logger.Printf("event write failed, retrying once: %v", err)
	if _, retryErr := e.Events.LogEvent(ctx, projectID, ev); retryErr != nil {
		return fmt.Errorf("event write failed after retry: %w", retryErr)
	}
	return nil
}

// sourceFor collapses specialist personas into the EXPERT source
// bucket; the concrete persona travels in event metadata.
func sourceFor(role agent.Role) string {
	if role == agent.RoleDirector {
		return store.SourceDirector
	}
	return store.SourceExpert
}

func (e *Engine) logSystemError(ctx context.Context, projectID string, cause error) {
	_, err := e.Events.LogEvent(ctx, projectID, store.Event{
		Source:  store.SourceSystem,
		Type:    store.EventError,
		Content: cause.Error(),
	})
	if err != nil {
		e.Logger.Printf("failed to record system error event: %v", err)
	}
}
