package handlers

import (
	"encoding/json"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mike-walpole/d2g/internal/services/registry"
	"github.com/mike-walpole/d2g/pkg/models"
	"github.com/mike-walpole/d2g/pkg/utils"
)

// SchemaHandler exposes the schema registry on the public, admin and registry groups
type SchemaHandler struct {
	registry *registry.Service
}

func NewSchemaHandler(registry *registry.Service) *SchemaHandler {
	return &SchemaHandler{registry: registry}
}

type GetSchemaRequest struct {
	FormID  string `query:"formId"`
	Version string `query:"version"`
}

type SchemaMetadata struct {
	FormID    string    `json:"formId"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	IsActive  bool      `json:"isActive"`
}

type CreateSchemaRequest struct {
	FormID      string          `json:"formId" validate:"required"`
	Schema      json.RawMessage `json:"schema" validate:"required"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	IsActive    *bool           `json:"isActive"`
}

type CreateVersionRequest struct {
	FormID      string          `json:"formId" validate:"required"`
	Schema      json.RawMessage `json:"schema"`
	BaseVersion string          `json:"baseVersion"`
	Description string          `json:"description"`
}

type UpdateSchemaRequest struct {
	FormID      string          `json:"formId" validate:"required"`
	Version     string          `json:"version" validate:"required"`
	Schema      json.RawMessage `json:"schema"`
	Description *string         `json:"description"`
	IsActive    *bool           `json:"isActive"`
}

type SchemaKeyRequest struct {
	FormID  string `query:"formId" param:"formId" validate:"required"`
	Version string `query:"version" param:"version" validate:"required"`
}

// RegisterPublicRoutes registers GET /schema
func (h *SchemaHandler) RegisterPublicRoutes(g *echo.Group) {
	g.GET("/schema", h.GetPublic)
}

// RegisterAdminRoutes registers the admin console schema routes
func (h *SchemaHandler) RegisterAdminRoutes(g *echo.Group) {
	schemas := g.Group("/schemas")
	schemas.GET("", h.List)
	schemas.POST("", h.CreateVersion)
	schemas.PUT("", h.Update)
	schemas.DELETE("", h.Delete)
}

// RegisterRegistryRoutes registers the direct registry routes
func (h *SchemaHandler) RegisterRegistryRoutes(g *echo.Group) {
	g.GET("/:formId/versions/:version", h.Get)
	g.POST("", h.Create)
	g.POST("/", h.Create)
}

// GetPublic handles GET /schema
func (h *SchemaHandler) GetPublic(c echo.Context) error {
	req, err := utils.BindRequest[GetSchemaRequest](c)
	if err != nil {
		return err
	}
	if req.FormID == "" {
		req.FormID = models.DefaultFormID
	}
	if req.Version == "" {
		req.Version = models.LatestVersion
	}

	record, err := h.registry.Get(c.Request().Context(), req.FormID, req.Version)
	if err != nil {
		return err
	}

	return SuccessResponse(c, Body{
		"schema": record.Schema,
		"metadata": SchemaMetadata{
			FormID:    record.FormID,
			Version:   record.Version,
			CreatedAt: record.CreatedAt,
			IsActive:  record.IsActive,
		},
	})
}

// Get handles GET /schemas/:formId/versions/:version
func (h *SchemaHandler) Get(c echo.Context) error {
	req, err := utils.BindRequest[SchemaKeyRequest](c)
	if err != nil {
		return err
	}

	record, err := h.registry.Get(c.Request().Context(), req.FormID, req.Version)
	if err != nil {
		return err
	}

	return SuccessResponse(c, Body{"schema": record})
}

// Create handles POST /schemas
func (h *SchemaHandler) Create(c echo.Context) error {
	req, err := utils.BindRequest[CreateSchemaRequest](c)
	if err != nil {
		return err
	}

	record, err := h.registry.Create(c.Request().Context(), registry.CreateInput{
		FormID:      req.FormID,
		Schema:      req.Schema,
		Version:     req.Version,
		Description: req.Description,
		IsActive:    req.IsActive,
	})
	if err != nil {
		return err
	}

	return CreatedResponse(c, Body{
		"message": "Schema created successfully",
		"formId":  record.FormID,
		"version": record.Version,
	})
}

// List handles GET /admin/schemas
func (h *SchemaHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	if formID := c.QueryParam("formId"); formID != "" {
		versions, err := h.registry.ListVersions(ctx, formID)
		if err != nil {
			return err
		}
		return SuccessResponse(c, Body{"formId": formID, "versions": versions})
	}

	forms, err := h.registry.ListForms(ctx)
	if err != nil {
		return err
	}
	return SuccessResponse(c, Body{"schemas": forms})
}

// CreateVersion handles POST /admin/schemas
func (h *SchemaHandler) CreateVersion(c echo.Context) error {
	req, err := utils.BindRequest[CreateVersionRequest](c)
	if err != nil {
		return err
	}

	record, err := h.registry.CreateNextVersion(c.Request().Context(), registry.NextVersionInput{
		FormID:      req.FormID,
		Schema:      req.Schema,
		BaseVersion: req.BaseVersion,
		Description: req.Description,
	})
	if err != nil {
		return err
	}

	return CreatedResponse(c, Body{
		"message": "Schema version created successfully",
		"formId":  record.FormID,
		"version": record.Version,
		"schema":  record,
	})
}

// Update handles PUT /admin/schemas
func (h *SchemaHandler) Update(c echo.Context) error {
	req, err := utils.BindRequest[UpdateSchemaRequest](c)
	if err != nil {
		return err
	}

	record, err := h.registry.Update(c.Request().Context(), registry.UpdateInput{
		FormID:      req.FormID,
		Version:     req.Version,
		Schema:      req.Schema,
		Description: req.Description,
		IsActive:    req.IsActive,
	})
	if err != nil {
		return err
	}

	return SuccessResponse(c, Body{
		"message": "Schema updated successfully",
		"formId":  record.FormID,
		"version": record.Version,
	})
}

// Delete handles DELETE /admin/schemas
func (h *SchemaHandler) Delete(c echo.Context) error {
	req, err := utils.BindRequest[SchemaKeyRequest](c)
	if err != nil {
		return err
	}

	if err := h.registry.Delete(c.Request().Context(), req.FormID, req.Version); err != nil {
		return err
	}

	return SuccessResponse(c, Body{
		"message": "Schema version deleted successfully",
		"formId":  req.FormID,
		"version": req.Version,
	})
}
