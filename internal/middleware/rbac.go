package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/lessonloop/lessonloop-api/internal/models"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
)

// RequireRoles rejects requests whose authenticated role is not listed.
// Ownership checks stay in the service layer; this gate only prunes roles
// that could never act on the route.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			abortWith(c, appErrors.ErrUnauthorized)
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok {
			abortWith(c, appErrors.ErrUnauthorized)
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			abortWith(c, appErrors.ErrForbidden)
			return
		}
		c.Next()
	}
}
