package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/internal/services"
	"github.com/huangang/capstrack/internal/utils"
	"github.com/huangang/capstrack/pkg/response"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextRole     = "role"
)

// AuthRequired checks the bearer token. EventSource cannot send headers, so
// the event stream may pass the token as ?token= instead.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			response.Abort(c, response.NewUnauthorized("authorization header required"))
			return
		}

		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			response.Abort(c, response.NewUnauthorized("invalid or expired token"))
			return
		}
		// Tokens minted before a role was renamed or removed are not honored.
		role, err := models.ParseRole(claims.Role)
		if err != nil {
			response.Abort(c, response.NewUnauthorized("invalid or expired token"))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, role)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if t := c.Query("token"); t != "" && strings.HasSuffix(c.Request.URL.Path, "/events") {
			return t, true
		}
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// RoleRequired lets the request through only for the listed roles.
func RoleRequired(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		response.Abort(c, response.NewForbidden("insufficient role").WithKind("permission"))
	}
}

func GetUserID(c *gin.Context) uint {
	if id, exists := c.Get(ContextUserID); exists {
		if v, ok := id.(uint); ok {
			return v
		}
	}
	return 0
}

func GetUsername(c *gin.Context) string {
	if username, exists := c.Get(ContextUsername); exists {
		if v, ok := username.(string); ok {
			return v
		}
	}
	return ""
}

func GetRole(c *gin.Context) models.Role {
	if role, exists := c.Get(ContextRole); exists {
		if v, ok := role.(models.Role); ok {
			return v
		}
	}
	return ""
}

// GetActor is the caller as the service layer sees it.
func GetActor(c *gin.Context) services.Actor {
	return services.Actor{UserID: GetUserID(c), Role: GetRole(c)}
}
