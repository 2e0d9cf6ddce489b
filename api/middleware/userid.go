package middleware

import (
	"github.com/gin-gonic/gin"
)

// UserIdHeader carries the acting user's id, set by the upstream gateway
// after session validation.
const UserIdHeader = "X-ELEKTRINE-USER-ID"

func UserIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Store in gin context for later use
		c.Set("UserId", c.GetHeader(UserIdHeader))
		c.Next()
	}
}
