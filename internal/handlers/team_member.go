package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/mike-walpole/d2g/pkg/identity"
	"github.com/mike-walpole/d2g/pkg/models"
	"github.com/mike-walpole/d2g/pkg/utils"
)

// TeamDirectory is the identity provider's user administration
type TeamDirectory interface {
	List(ctx context.Context) ([]models.TeamMember, error)
	Create(ctx context.Context, member models.NewTeamMember) (models.TeamMember, error)
	Delete(ctx context.Context, username string) error
}

type TeamMemberHandler struct {
	directory TeamDirectory
}

func NewTeamMemberHandler(directory TeamDirectory) *TeamMemberHandler {
	return &TeamMemberHandler{directory: directory}
}

type CreateTeamMemberRequest struct {
	Email             string `json:"email"`
	TemporaryPassword string `json:"temporaryPassword"`
	IsAdmin           bool   `json:"isAdmin"`
}

type DeleteTeamMemberRequest struct {
	Username string `query:"username"`
}

func (h *TeamMemberHandler) RegisterRoutes(g *echo.Group) {
	members := g.Group("/team-members")
	members.GET("", h.List)
	members.POST("", h.Create)
	members.DELETE("", h.Delete)
}

func (h *TeamMemberHandler) List(c echo.Context) error {
	users, err := h.directory.List(c.Request().Context())
	if err != nil {
		return err
	}
	return SuccessResponse(c, Body{"users": users})
}

func (h *TeamMemberHandler) Create(c echo.Context) error {
	req, err := utils.BindRequest[CreateTeamMemberRequest](c)
	if err != nil {
		return err
	}
	if req.Email == "" {
		return BadRequest("Email is required")
	}
	if err := utils.ValidateValue(req.Email, "email"); err != nil {
		return BadRequest("Email must be a valid email address")
	}
	if req.TemporaryPassword == "" {
		req.TemporaryPassword = identity.DefaultTemporaryPassword
	}

	member, err := h.directory.Create(c.Request().Context(), models.NewTeamMember{
		Email:             req.Email,
		TemporaryPassword: req.TemporaryPassword,
		IsAdmin:           req.IsAdmin,
	})
	if err != nil {
		return err
	}

	return CreatedResponse(c, Body{
		"message":           "User created successfully",
		"username":          member.Username,
		"temporaryPassword": req.TemporaryPassword,
	})
}

func (h *TeamMemberHandler) Delete(c echo.Context) error {
	req, err := utils.BindRequest[DeleteTeamMemberRequest](c)
	if err != nil {
		return err
	}

	if req.Username == "" {
		return BadRequest("Username is required")
	}

	if err := h.directory.Delete(c.Request().Context(), req.Username); err != nil {
		return err
	}

	return SuccessResponse(c, Body{"message": "User deleted successfully"})
}
