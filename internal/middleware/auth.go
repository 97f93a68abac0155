package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"convohub/internal/apperr"
	"convohub/internal/auth"
)

// UserIDKey is the gin context key holding the authenticated principal.
const UserIDKey = "userID"

// TokenVerifier resolves a bearer token to a principal id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// AuthMiddleware validates the Authorization header.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthenticated(c, "missing authorization")
			return
		}

		token, ok := auth.BearerToken(header)
		if !ok {
			abortUnauthenticated(c, "invalid authorization header")
			return
		}

		userID, err := verifier.Verify(token)
		if err != nil {
			abortUnauthenticated(c, "invalid token")
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": string(apperr.KindUnauthenticated), "message": msg})
}
