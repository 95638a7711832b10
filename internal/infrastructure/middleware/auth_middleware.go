package middleware

import (
	"net/http"
	"strings"

	"medlink/internal/core/services"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates the consult token and stores the claims in the
// request context under "consult_claims".
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("consult_claims", claims)
		c.Next()
	}
}

// ClaimsFromContext retrieves claims stored by AuthMiddleware.
func ClaimsFromContext(c *gin.Context) (*services.ConsultClaims, bool) {
	v, exists := c.Get("consult_claims")
	if !exists {
		return nil, false
	}
	claims, ok := v.(*services.ConsultClaims)
	return claims, ok
}
