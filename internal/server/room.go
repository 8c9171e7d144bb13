package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/callsheet/internal/agent"
	"github.com/mohammad-safakhou/callsheet/internal/engine"
	"github.com/mohammad-safakhou/callsheet/internal/llm"
	"github.com/mohammad-safakhou/callsheet/internal/preview"
	"github.com/mohammad-safakhou/callsheet/internal/producer"
	"github.com/mohammad-safakhou/callsheet/internal/store"
)

// turnRunner and stepNotifier narrow the engine and producer for
// handler tests.
type turnRunner interface {
	RunTurn(ctx context.Context, req engine.TurnRequest) (engine.TurnRecord, error)
}

type stepNotifier interface {
	Notify(projectID string)
}

// RoomHandler serves the production room: one conversational turn per
// request, streamed back over SSE.
type RoomHandler struct {
	Store     *store.Store
	Registry  *agent.Registry
	Engine    turnRunner
	Manifests *producer.ManifestStore
	Producer  stepNotifier
	Preview   *preview.Synchronizer
}

func (h *RoomHandler) Register(g *echo.Group) {
	g.POST("/room", h.turn)
}

type roomMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type roomRequest struct {
	Messages []roomMessage `json:"messages"`
	// Stream defaults to true; JSON-only clients set it false.
	Stream *bool `json:"stream,omitempty"`
}

type roomResponse struct {
	Record           engine.TurnRecord `json:"record"`
	ManifestDetected bool              `json:"manifest_detected"`
}

func (h *RoomHandler) turn(c echo.Context) error {
	project := projectID(c)
	var req roomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if len(req.Messages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "messages required")
	}
	latest := latestUserMessage(req.Messages)
	if strings.TrimSpace(latest) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "no user message")
	}

	ctx := c.Request().Context()
	p, err := h.Store.GetOrCreateProject(ctx, project)
	if err != nil {
		return err
	}
	production := p.Status == store.ProjectStatusProduction
	decision := h.Registry.Route(latest, production)

	if !decision.Internal {
		if _, err := h.Store.LogEvent(ctx, project, store.Event{
			Source: store.SourceUser, Type: store.EventChat, Content: latest,
		}); err != nil {
			return err
		}
	}

	turnReq := engine.TurnRequest{
		ProjectID: project,
		Role:      decision.Role,
		Persona:   decision.Persona,
		History:   toModelMessages(req.Messages),
	}

	if req.Stream != nil && !*req.Stream {
		record, err := h.Engine.RunTurn(ctx, turnReq)
		if err != nil {
			return err
		}
		detected := h.afterTurn(ctx, project, decision, record)
		return c.JSON(http.StatusOK, roomResponse{Record: record, ManifestDetected: detected})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	turnReq.OnDelta = func(delta string) {
		writeSSE(res, map[string]interface{}{"delta": delta})
	}
	record, err := h.Engine.RunTurn(ctx, turnReq)
	if err != nil {
		writeSSE(res, map[string]interface{}{"type": "error", "error": err.Error()})
		return nil
	}
	detected := h.afterTurn(ctx, project, decision, record)
	writeSSE(res, map[string]interface{}{
		"type":              "result",
		"record":            record,
		"manifest_detected": detected,
	})
	fmt.Fprint(res, "data: [DONE]\n\n")
	res.Flush()
	return nil
}

// afterTurn handles the side effects of a settled turn: manifest
// detection on Director output and preview synchronization.
func (h *RoomHandler) afterTurn(ctx context.Context, project string, decision agent.Decision, record engine.TurnRecord) bool {
	detected := false
	if decision.Role == agent.RoleDirector && !decision.Internal {
		if m, ok := producer.DetectManifest(record.Text); ok {
			switch err := h.Manifests.Set(ctx, project, *m); {
			case err == nil:
				detected = true
				h.logProducer(ctx, project, store.EventCommand,
					fmt.Sprintf("Manifest received: %s. %d steps queued.", m.Title, len(m.Steps)))
				h.Producer.Notify(project)
			case err == producer.ErrManifestActive:
				h.logProducer(ctx, project, store.EventLog,
					"Manifest ignored: a production is already active.")
			default:
				h.logProducer(ctx, project, store.EventError,
					"Manifest rejected: "+err.Error())
			}
		}
	}
	if events, err := h.Store.ListEvents(ctx, project); err == nil {
		_, _, _ = h.Preview.Sync(ctx, project, events)
	}
	return detected
}

func (h *RoomHandler) logProducer(ctx context.Context, project, eventType, content string) {
	_, _ = h.Store.LogEvent(ctx, project, store.Event{
		Source: store.SourceProducer, Type: eventType, Content: content,
	})
}

func latestUserMessage(msgs []roomMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func toModelMessages(msgs []roomMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleUser, llm.RoleAssistant, llm.RoleSystem:
			out = append(out, llm.TextMessage(m.Role, m.Content))
		}
	}
	return out
}

func writeSSE(res *echo.Response, payload interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(res, "data: %s\n\n", b)
	res.Flush()
}
