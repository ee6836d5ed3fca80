package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bookforge-backend/internal/shared/server/respond"
)

const userIDKey = "userId"

// Owner resolves the calling user from the X-User-Id header set by the web
// layer in front of this service. Authentication itself happens upstream.
func Owner() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-Id"))
		if userID == "" {
			respond.Error(c, http.StatusUnauthorized, "UNAUTHENTICATED", "X-User-Id header is required", nil)
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// OwnerFromContext fetches the user ID stored by Owner middleware.
func OwnerFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(userIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
