package middleware

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	appErrors "github.com/harmonia-school/schedule-api/pkg/errors"
	"github.com/harmonia-school/schedule-api/pkg/response"
)

// InternalAPIKeyHeader carries the shared key for service-to-service calls.
const InternalAPIKeyHeader = "X-Internal-API-Key"

// InternalAPIKey guards internal admin routes with a bcrypt-hashed shared
// key. An empty configured hash disables the routes entirely.
func InternalAPIKey(keyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keyHash == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "internal api disabled"))
			c.Abort()
			return
		}
		key := c.GetHeader(InternalAPIKeyHeader)
		if key == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid internal api key"))
			c.Abort()
			return
		}
		c.Next()
	}
}
