package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/callsheet/internal/preview"
	"github.com/mohammad-safakhou/callsheet/internal/store"
)

// PreviewHandler serves the render the player should show.
type PreviewHandler struct {
	Store   *store.Store
	Preview *preview.Synchronizer
}

func (h *PreviewHandler) Register(g *echo.Group) {
	g.GET("/preview", h.get)
}

// get re-syncs from the event log on every read so a render completed
// by another process is picked up without a push channel.
func (h *PreviewHandler) get(c echo.Context) error {
	ctx := c.Request().Context()
	project := projectID(c)
	events, err := h.Store.ListEvents(ctx, project)
	if err != nil {
		return err
	}
	state, ok, err := h.Preview.Sync(ctx, project, events)
	if err != nil {
		return err
	}
	if !ok {
		return c.JSON(http.StatusOK, map[string]interface{}{"ready": false})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ready": true, "preview": state})
}
