// Package middleware provides Gin middleware for the session service.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/heb-mcp/hebsession/internal/logging"
	sdkaccess "github.com/heb-mcp/hebsession/sdk/access"
)

// AccessMiddleware authenticates the caller and stores the resolved user id on the context
// under logging.UserIDKey. Rejected requests are aborted with the provider's status.
func AccessMiddleware(manager *sdkaccess.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, authErr := manager.Authenticate(c.Request.Context(), c.Request)
		if authErr != nil {
			c.AbortWithStatusJSON(authErr.HTTPStatusCode(), gin.H{
				"error": gin.H{"type": string(authErr.Code), "message": authErr.Message},
			})
			return
		}
		c.Set(logging.UserIDKey, result.UserID)
		c.Next()
	}
}

// UserID returns the authenticated user id, or "".
func UserID(c *gin.Context) string {
	return c.GetString(logging.UserIDKey)
}
