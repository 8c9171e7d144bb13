package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/callsheet/internal/producer"
)

// producerStatus narrows the producer for handler tests.
type producerStatus interface {
	Status(ctx context.Context, projectID string) (producer.Status, error)
	Notify(projectID string)
}

// ProducerHandler exposes the step executor state and manual retry.
type ProducerHandler struct {
	Producer  producerStatus
	Manifests *producer.ManifestStore
}

func (h *ProducerHandler) Register(g *echo.Group) {
	g.GET("/producer", h.status)
	g.POST("/producer/retry", h.retry)
}

func (h *ProducerHandler) status(c echo.Context) error {
	st, err := h.Producer.Status(c.Request().Context(), projectID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

type retryRequest struct {
	StepID string `json:"step_id"`
}

// retry requeues a failed step and wakes the executor.
func (h *ProducerHandler) retry(c echo.Context) error {
	var req retryRequest
	if err := c.Bind(&req); err != nil || req.StepID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "step_id required")
	}
	ctx := c.Request().Context()
	project := projectID(c)
	if err := h.Manifests.RetryStep(ctx, project, req.StepID); err != nil {
		switch err {
		case producer.ErrNoManifest:
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		default:
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
	}
	h.Producer.Notify(project)
	return c.JSON(http.StatusOK, map[string]string{"status": "queued", "step_id": req.StepID})
}
