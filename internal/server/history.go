package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/callsheet/internal/history"
	"github.com/mohammad-safakhou/callsheet/internal/preview"
	"github.com/mohammad-safakhou/callsheet/internal/producer"
	"github.com/mohammad-safakhou/callsheet/internal/store"
)

// HistoryHandler projects the event log and resets projects.
type HistoryHandler struct {
	Store     *store.Store
	Manifests *producer.ManifestStore
	Preview   *preview.Synchronizer
}

func (h *HistoryHandler) Register(g *echo.Group) {
	g.GET("/history", h.get)
	g.DELETE("/history", h.clear)
}

func (h *HistoryHandler) get(c echo.Context) error {
	view := history.View(c.QueryParam("view"))
	switch view {
	case "":
		view = history.ViewClean
	case history.ViewFull, history.ViewClean:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "view must be full or clean")
	}

	events, err := h.Store.ListEvents(c.Request().Context(), projectID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"view":     view,
		"messages": history.Project(events, view),
	})
}

// clear wipes the event log, drops the manifest, and resets the
// preview, returning the project to development. The project row is
// upserted first so a reset on a never-touched project is a no-op
// rather than an error.
func (h *HistoryHandler) clear(c echo.Context) error {
	ctx := c.Request().Context()
	project := projectID(c)
	if _, err := h.Store.GetOrCreateProject(ctx, project); err != nil {
		return err
	}
	if err := h.Store.ClearEvents(ctx, project); err != nil {
		return err
	}
	if err := h.Manifests.Clear(ctx, project); err != nil {
		return err
	}
	if err := h.Preview.Clear(ctx, project); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cleared"})
}
