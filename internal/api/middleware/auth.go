package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/repositories"
)

// actorKey is the gin context key holding the resolved user
const actorKey = "actor"

// Authenticate resolves the calling user from the X-User-ID header set
// by the gateway and stores it on the request context. Requests without
// a resolvable user are rejected.
func Authenticate(userRepo *repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("X-User-ID")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-ID header"})
			return
		}

		userID, err := uuid.Parse(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-User-ID header"})
			return
		}

		user, err := userRepo.GetByID(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}

		c.Set(actorKey, user)
		c.Next()
	}
}

// Actor returns the authenticated user stored by Authenticate
func Actor(c *gin.Context) *models.User {
	v, ok := c.Get(actorKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
