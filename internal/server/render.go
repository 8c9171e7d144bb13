package server

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/callsheet/internal/preview"
	"github.com/mohammad-safakhou/callsheet/internal/store"
	"github.com/mohammad-safakhou/callsheet/internal/tools"
)

// RenderHandler runs the render tool directly, bypassing the agents,
// for clients that assemble their own spec.
type RenderHandler struct {
	Store   *store.Store
	Tools   *tools.Registry
	Preview *preview.Synchronizer
}

func (h *RenderHandler) Register(g *echo.Group) {
	g.POST("/render", h.render)
}

func (h *RenderHandler) render(c echo.Context) error {
	var spec json.RawMessage
	if err := c.Bind(&spec); err != nil || len(spec) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "render spec required")
	}
	tool, ok := h.Tools.Get("render")
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "render tool not registered")
	}

	ctx := c.Request().Context()
	project := projectID(c)
	result, err := tool.Execute(ctx, spec)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	meta := map[string]interface{}{
		"toolResults": []map[string]interface{}{
			{"id": "manual", "name": "render", "result": json.RawMessage(payload)},
		},
	}
	content := "Manual render requested."
	eventType := store.EventCommand
	if !result.Success {
		content = "Manual render failed: " + result.Error
		eventType = store.EventError
	}
	if _, err := h.Store.LogEvent(ctx, project, store.Event{
		Source: store.SourceProducer, Type: eventType, Content: content, Metadata: meta,
	}); err != nil {
		return err
	}

	if result.Success {
		if events, lerr := h.Store.ListEvents(ctx, project); lerr == nil {
			_, _, _ = h.Preview.Sync(ctx, project, events)
		}
	}
	return c.JSON(http.StatusOK, result)
}
