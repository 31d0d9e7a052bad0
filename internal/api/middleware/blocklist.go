package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EtherealVisions/sentinel/internal/pipeline"
)

// BlocklistMiddleware rejects requests from IPs placed on the response
// blocklist by automated incident handling.
func BlocklistMiddleware(blocklist *pipeline.Blocklist) gin.HandlerFunc {
	return func(c *gin.Context) {
		if blocklist.Blocked(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.Next()
	}
}
