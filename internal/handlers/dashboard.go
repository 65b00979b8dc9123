package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/mike-walpole/d2g/internal/services/dashboard"
)

type DashboardHandler struct {
	dashboard *dashboard.Service
}

func NewDashboardHandler(dashboard *dashboard.Service) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard}
}

func (h *DashboardHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/dashboard", h.Get)
}

func (h *DashboardHandler) Get(c echo.Context) error {
	result, err := h.dashboard.Get(c.Request().Context())
	if err != nil {
		return err
	}
	return SuccessResponse(c, Body{"dashboard": result})
}
