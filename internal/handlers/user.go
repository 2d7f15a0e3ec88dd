package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/capstrack/internal/middleware"
	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/internal/services"
	"github.com/huangang/capstrack/pkg/response"
)

type UserHandler struct {
	userService   *services.UserService
	rosterService *services.RosterService
}

func NewUserHandler(userService *services.UserService, rosterService *services.RosterService) *UserHandler {
	return &UserHandler{userService: userService, rosterService: rosterService}
}

// List returns paginated users
// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	var req services.UserListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	resp, err := h.userService.List(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, resp)
}

// ByRole lists active users holding a role, for the team form pickers.
// GET /api/users/role/:role
func (h *UserHandler) ByRole(c *gin.Context) {
	role, err := models.ParseRole(c.Param("role"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	users, err := h.rosterService.ListUsersByRole(c.Request.Context(), role)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, users)
}

// POST /api/users
func (h *UserHandler) Create(c *gin.Context) {
	var req services.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, err := h.userService.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, user)
}

// PUT /api/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, err := h.userService.Update(c.Request.Context(), id, &req, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, user)
}

// DELETE /api/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.userService.Delete(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "user deleted"})
}
