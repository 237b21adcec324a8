package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"messaging-service/internal/identity"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey      = "userID"
	DisplayNameKey = "displayName"
)

// AuthMiddleware validates the Authorization header against the identity provider.
func AuthMiddleware(provider identity.Provider, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		id, err := provider.Authenticate(c.Request.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			log.Debug("request rejected", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserIDKey, id.UserID)
		c.Set(DisplayNameKey, id.DisplayName)
		c.Next()
	}
}
