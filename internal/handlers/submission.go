package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mike-walpole/d2g/internal/services/intake"
	"github.com/mike-walpole/d2g/pkg/utils"
)

const defaultSubmissionPageSize = 50

// SubmissionHandler takes public submissions and serves the admin submission list
type SubmissionHandler struct {
	intake *intake.Service
}

func NewSubmissionHandler(intake *intake.Service) *SubmissionHandler {
	return &SubmissionHandler{intake: intake}
}

type SubmitRequest struct {
	FormData      json.RawMessage `json:"form_data" validate:"required"`
	UserEmail     string          `json:"user_email" validate:"omitempty,email"`
	FormID        string          `json:"form_id"`
	SchemaVersion string          `json:"schema_version"`
}

// RegisterPublicRoutes registers POST /submissions
func (h *SubmissionHandler) RegisterPublicRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.POST("/submissions", h.Submit, mw...)
}

// RegisterAdminRoutes registers the admin submission routes
func (h *SubmissionHandler) RegisterAdminRoutes(g *echo.Group) {
	g.GET("/submissions", h.List)
	g.DELETE("/submissions", h.Delete)
}

// Submit handles POST /submissions
func (h *SubmissionHandler) Submit(c echo.Context) error {
	req, err := utils.BindRequest[SubmitRequest](c)
	if err != nil {
		return err
	}

	result, err := h.intake.Submit(c.Request().Context(), intake.SubmitInput{
		FormData:      req.FormData,
		UserEmail:     req.UserEmail,
		FormID:        req.FormID,
		SchemaVersion: req.SchemaVersion,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// List handles GET /admin/submissions?limit=&lastKey=
func (h *SubmissionHandler) List(c echo.Context) error {
	limit, err := QueryInt(c, "limit", defaultSubmissionPageSize)
	if err != nil {
		return err
	}

	after, err := ParseLastKey(c.QueryParam("lastKey"))
	if err != nil {
		return err
	}

	page, err := h.intake.List(c.Request().Context(), limit, after)
	if err != nil {
		return err
	}

	return SuccessResponse(c, Body{
		"submissions": page.Submissions,
		"lastKey":     page.LastKey,
		"count":       page.Count,
	})
}

// Delete handles DELETE /admin/submissions?id=&timestamp=
func (h *SubmissionHandler) Delete(c echo.Context) error {
	key, err := ParseSubmissionKey(c.QueryParam("id"), c.QueryParam("timestamp"))
	if err != nil {
		return err
	}

	if err := h.intake.Delete(c.Request().Context(), key); err != nil {
		return err
	}

	return SuccessResponse(c, Body{"message": "Submission deleted successfully"})
}
