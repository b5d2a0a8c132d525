package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
)

// PlatformKeyHeader carries the platform operator key
const PlatformKeyHeader = "X-Platform-Key"

// RequirePlatformKey guards platform administration routes. An empty key
// disables those routes.
func RequirePlatformKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(PlatformKeyHeader)
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			utils.ForbiddenResponse(c, "Platform administrator key required")
			c.Abort()
			return
		}
		c.Next()
	}
}
