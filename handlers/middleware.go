package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/incidentflow/api/db"
	"github.com/incidentflow/api/services"
)

type AuthMiddleware struct {
	JWTService *services.JWTService
}

func NewAuthMiddleware(jwtService *services.JWTService) *AuthMiddleware {
	return &AuthMiddleware{JWTService: jwtService}
}

// RequireAuth validates the bearer token and stores the actor identity in
// the request context for handlers.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header must be 'Bearer <token>'"})
			c.Abort()
			return
		}

		claims, err := m.JWTService.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		role, ok := db.ParseUserRole(claims.Role)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Set("user_role", role)
		c.Set("org_id", claims.OrganizationID)

		c.Next()
	}
}

// requestActor builds the workflow actor from the authenticated context.
func requestActor(c *gin.Context) db.Actor {
	userID := c.GetString("user_id")
	role, _ := c.Get("user_role")
	userRole, _ := role.(db.UserRole)
	return db.UserActor(userID, userRole)
}

// requestOrgID returns the tenant scope for the request.
func requestOrgID(c *gin.Context) string {
	return c.GetString("org_id")
}
