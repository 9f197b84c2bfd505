package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/bmms/bmms-server/pkg/types"
	"github.com/gin-gonic/gin"
)

// TokenValidator validates a bearer token and resolves the account it
// belongs to.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*types.User, error)
}

// AuthMiddleware validates JWT bearer tokens and stores the user in the
// request context.
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, types.APIResponse{
				Success: false,
				Error:   "missing or invalid authorization header",
			})
			c.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		user, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, types.APIResponse{
				Success: false,
				Error:   "invalid credentials",
			})
			c.Abort()
			return
		}

		c.Set("user", user)
		c.Next()
	}
}

// GetUserFromContext extracts the authenticated user from gin context
func GetUserFromContext(c *gin.Context) (*types.User, bool) {
	user, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	typedUser, ok := user.(*types.User)
	return typedUser, ok
}
