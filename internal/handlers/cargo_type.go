package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/mike-walpole/d2g/internal/services/registry"
	"github.com/mike-walpole/d2g/pkg/models"
	"github.com/mike-walpole/d2g/pkg/utils"
)

// CargoTypeHandler manages the entries of the cargo-types config document
type CargoTypeHandler struct {
	registry *registry.Service
}

func NewCargoTypeHandler(registry *registry.Service) *CargoTypeHandler {
	return &CargoTypeHandler{registry: registry}
}

type AddCargoTypeRequest struct {
	Name models.LocalizedName `json:"name"`
}

type UpdateCargoTypeRequest struct {
	ID     string                `json:"id" validate:"required"`
	Name   *models.LocalizedName `json:"name"`
	Active *bool                 `json:"active"`
}

func (h *CargoTypeHandler) RegisterRoutes(g *echo.Group) {
	cargoTypes := g.Group("/cargo-types")
	cargoTypes.GET("", h.List)
	cargoTypes.POST("", h.Add)
	cargoTypes.PUT("", h.Update)
}

func (h *CargoTypeHandler) List(c echo.Context) error {
	cargoTypes, err := h.registry.ListCargoTypes(c.Request().Context())
	if err != nil {
		return err
	}
	return SuccessResponse(c, Body{"cargoTypes": cargoTypes})
}

func (h *CargoTypeHandler) Add(c echo.Context) error {
	req, err := utils.BindRequest[AddCargoTypeRequest](c)
	if err != nil {
		return err
	}

	cargoType, err := h.registry.AddCargoType(c.Request().Context(), req.Name)
	if err != nil {
		return err
	}

	return CreatedResponse(c, Body{
		"message":   "Cargo type added successfully",
		"cargoType": cargoType,
	})
}

func (h *CargoTypeHandler) Update(c echo.Context) error {
	req, err := utils.BindRequest[UpdateCargoTypeRequest](c)
	if err != nil {
		return err
	}

	cargoType, err := h.registry.UpdateCargoType(c.Request().Context(), registry.CargoTypeUpdate{
		ID:     req.ID,
		Name:   req.Name,
		Active: req.Active,
	})
	if err != nil {
		return err
	}

	return SuccessResponse(c, Body{
		"message":   "Cargo type updated successfully",
		"cargoType": cargoType,
	})
}
