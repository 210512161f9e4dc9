// Package sources exposes the lead source dictionary endpoints.
package sources

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/avezor/funnelboard/pkg/models"
	"github.com/avezor/funnelboard/pkg/sources"
	"github.com/avezor/funnelboard/pkg/tracing"
)

// Handler serves the source dictionary.
type Handler struct {
	service *sources.Service
	logger  *zap.Logger
}

// NewHandler creates the sources handler.
func NewHandler(service *sources.Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register registers the source dictionary routes.
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("/sync", h.Sync)
}

type listResponse struct {
	Success bool                `json:"success"`
	Data    []models.LeadSource `json:"data"`
	Total   int                 `json:"total"`
}

// List returns the persisted dictionary sorted by name.
func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "sources_handler.List")
	defer span.End()

	items, err := h.service.List(ctx)
	if err != nil {
		h.logger.Error("failed to list sources", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Ошибка получения источников лидов")
	}
	return c.JSON(http.StatusOK, listResponse{Success: true, Data: items, Total: len(items)})
}

type syncResponse struct {
	Success bool `json:"success"`
	Created int  `json:"created"`
	Updated int  `json:"updated"`
	Total   int  `json:"total"`
}

// Sync pulls the dictionary from the CRM and upserts it.
func (h *Handler) Sync(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "sources_handler.Sync")
	defer span.End()

	result, err := h.service.Sync(ctx)
	if err != nil {
		h.logger.Error("source sync failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Ошибка синхронизации источников")
	}
	return c.JSON(http.StatusOK, syncResponse{
		Success: true,
		Created: result.Created,
		Updated: result.Updated,
		Total:   result.Total,
	})
}
