package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/capstrack/internal/middleware"
	"github.com/huangang/capstrack/internal/services"
	"github.com/huangang/capstrack/pkg/response"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login handles user login
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.authService.Login(&req)
	if err != nil {
		if services.KindOf(err) == services.KindValidation {
			respondError(c, err)
			return
		}
		if !errors.Is(err, services.ErrInvalidCredentials) {
			services.LogWarning("auth", "login", "Login failed for "+req.Username+": "+err.Error(), nil, c.ClientIP(), c.Request.UserAgent(), nil)
		}
		response.Unauthorized(c, err.Error())
		return
	}

	response.Success(c, resp)
}

// GetCurrentUser returns the current logged-in user
// GET /api/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	user, err := h.authService.GetUserByID(middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, user)
}

// GET /api/auth/config
func (h *AuthHandler) GetAuthConfig(c *gin.Context) {
	response.Success(c, gin.H{"ldap_enabled": h.authService.IsLDAPEnabled()})
}

// Logout is client-side token removal.
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	response.Success(c, gin.H{"message": "logged out successfully"})
}

// PUT /api/auth/password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req services.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.authService.ChangePassword(middleware.GetUserID(c), &req); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "password changed"})
}
