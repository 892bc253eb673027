package analytics

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/dashboard", h.Dashboard)
}

// Dashboard serves GET /dashboard. Bounds arrive as YYYY-MM-DD query
// params; a missing or unparseable bound falls back to the default
// window. date_to is inclusive through end of day.
func (h *Handler) Dashboard(c echo.Context) error {
	var from, to time.Time
	if raw := c.QueryParam("date_from"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			from = t
		}
	}
	if raw := c.QueryParam("date_to"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			to = t.Add(24*time.Hour - time.Second)
		}
	}

	dash, err := h.svc.Dashboard(c.Request().Context(), from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, dash)
}
