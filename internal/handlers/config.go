package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/mike-walpole/d2g/internal/services/configreader"
)

// ConfigHandler serves localized UI configuration
type ConfigHandler struct {
	reader *configreader.Service
}

func NewConfigHandler(reader *configreader.Service) *ConfigHandler {
	return &ConfigHandler{reader: reader}
}

// RegisterRoutes registers the config routes
func (h *ConfigHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/config", h.Get)
}

// Get handles GET /config?type=&lang=
func (h *ConfigHandler) Get(c echo.Context) error {
	response, err := h.reader.Get(c.Request().Context(), c.QueryParam("type"), c.QueryParam("lang"))
	if err != nil {
		return err
	}

	body := Body{}
	if response.Translations != nil {
		body["translations"] = response.Translations
	}
	if response.CargoTypes != nil {
		body["cargoTypes"] = response.CargoTypes
	}
	return SuccessResponse(c, body)
}
