// Package analytics exposes the report endpoints.
package analytics

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/avezor/funnelboard/pkg/analytics"
	"github.com/avezor/funnelboard/pkg/sources"
	"github.com/avezor/funnelboard/pkg/tracing"
)

// Handler serves the analytics reports.
type Handler struct {
	service *analytics.Service
	sources *sources.Service
	logger  *zap.Logger
}

// NewHandler creates the analytics handler. The sources service may be
// nil when the dictionary is not wired.
func NewHandler(service *analytics.Service, sources *sources.Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		sources: sources,
		logger:  logger,
	}
}

// Register registers the analytics routes.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/sources", h.Sources)
	g.GET("/employees", h.Employees)
	g.GET("/sales", h.Sales)
}

var validate = validator.New()

type reportQuery struct {
	Period     string `query:"period" validate:"omitempty,oneof=today yesterday week month quarter custom"`
	StartDate  string `query:"startDate" validate:"omitempty,datetime=2006-01-02"`
	EndDate    string `query:"endDate" validate:"omitempty,datetime=2006-01-02"`
	SourceID   string `query:"sourceId"`
	EmployeeID string `query:"employeeId"`
}

func (h *Handler) request(c echo.Context) (analytics.ReportRequest, error) {
	var q reportQuery
	if err := c.Bind(&q); err != nil {
		return analytics.ReportRequest{}, echo.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}
	if err := validate.Struct(q); err != nil {
		return analytics.ReportRequest{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if q.Period == "" {
		q.Period = string(analytics.PeriodWeek)
	}
	return analytics.ReportRequest{
		Period:     analytics.Period(q.Period),
		StartDate:  q.StartDate,
		EndDate:    q.EndDate,
		SourceID:   q.SourceID,
		EmployeeID: q.EmployeeID,
	}, nil
}

// Sources serves the per-source funnel report.
func (h *Handler) Sources(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "analytics_handler.Sources")
	defer span.End()

	req, err := h.request(c)
	if err != nil {
		return err
	}
	if h.sources != nil {
		h.sources.EnsureFresh(ctx)
	}

	report, err := h.service.Sources(ctx, req)
	if err != nil {
		h.logger.Error("sources report failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Ошибка получения аналитики лидов")
	}
	return c.JSON(http.StatusOK, report)
}

// Employees serves the per-manager funnel report.
func (h *Handler) Employees(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "analytics_handler.Employees")
	defer span.End()

	req, err := h.request(c)
	if err != nil {
		return err
	}
	if h.sources != nil {
		h.sources.EnsureFresh(ctx)
	}

	report, err := h.service.Employees(ctx, req)
	if err != nil {
		h.logger.Error("employees report failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Ошибка получения аналитики по сотрудникам")
	}
	return c.JSON(http.StatusOK, report)
}

// Sales serves the sales attribution report.
func (h *Handler) Sales(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "analytics_handler.Sales")
	defer span.End()

	req, err := h.request(c)
	if err != nil {
		return err
	}
	if h.sources != nil {
		h.sources.EnsureFresh(ctx)
	}

	report, err := h.service.Sales(ctx, req)
	if err != nil {
		h.logger.Error("sales report failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Ошибка аналитики продаж")
	}
	return c.JSON(http.StatusOK, report)
}
