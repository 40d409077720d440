package middleware

import (
	"chat-relay/internal/apperror"
	"chat-relay/internal/auth"
	"chat-relay/pkg/response"

	"github.com/gin-gonic/gin"
)

const userIDKey = "user_id"

type AuthMiddleware struct {
	verifier auth.TokenVerifier
}

func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// RequireAuth verifies the bearer token and stores its subject under
// "user_id" for the handlers.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Error(c, apperror.Unauthorized("authorization header is required"))
			return
		}

		userID, err := am.verifier.Verify(authHeader)
		if err != nil {
			response.Error(c, err)
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the identity set by RequireAuth.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
