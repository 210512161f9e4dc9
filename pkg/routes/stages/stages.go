// Package stages exposes the funnel stage dictionary endpoint.
package stages

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/avezor/funnelboard/pkg/funnel"
)

// Handler serves the status-to-stage dictionary.
type Handler struct {
	table *funnel.StageTable
}

// NewHandler creates the stages handler.
func NewHandler(table *funnel.StageTable) *Handler {
	return &Handler{table: table}
}

// Register registers the stages route.
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
}

type listResponse struct {
	Success bool              `json:"success"`
	Data    map[string]string `json:"data"`
	Total   int               `json:"total"`
}

// List maps every known CRM status code to its stage display name.
func (h *Handler) List(c echo.Context) error {
	data := make(map[string]string)
	for _, stage := range h.table.Stages() {
		name := h.table.DisplayName(stage)
		for _, statusID := range h.table.StatusIDs(stage) {
			data[statusID] = name
		}
	}
	return c.JSON(http.StatusOK, listResponse{Success: true, Data: data, Total: len(data)})
}
