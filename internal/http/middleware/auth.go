package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"crmdesk.app/chatsync/common/logger"
)

const (
	// ContextToken holds the caller's bearer token, forwarded verbatim to the
	// remote conversation store and the agent. Token validation happens at the
	// edge; this service only relays it.
	ContextToken = "auth_token"
	// ContextUserID holds the authenticated user's identity (email).
	ContextUserID = "user_id"

	userHeader = "X-User-Email"
)

// Identity extracts the bearer token and user identity from the request and
// rejects requests missing either. The request context is enriched so every
// log line downstream carries the user.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")

		userID := c.GetHeader(userHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + userHeader + " header"})
			return
		}

		c.Set(ContextToken, token)
		c.Set(ContextUserID, userID)

		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{UserID: logger.Ptr(userID)})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
