package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/harmonia-school/schedule-api/internal/models"
	appErrors "github.com/harmonia-school/schedule-api/pkg/errors"
	"github.com/harmonia-school/schedule-api/pkg/response"
)

// RequireCapability blocks requests whose token role lacks the capability.
func RequireCapability(cap models.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		if !claims.Role.HasCapability(cap) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
