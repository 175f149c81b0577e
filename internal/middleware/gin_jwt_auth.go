package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// GinJWTAuth is the Gin adapter for JWTAuth; it sets "caller" in the Gin
// context for handlers and the core to consume.
type GinJWTAuth struct {
	jwtAuth *JWTAuth
}

func NewGinJWTAuth(jwtAuth *JWTAuth) *GinJWTAuth {
	return &GinJWTAuth{jwtAuth: jwtAuth}
}

// RequireAuth rejects requests without a valid bearer token.
func (m *GinJWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := m.jwtAuth.validateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token: " + err.Error()})
			c.Abort()
			return
		}
		c.Set("caller", claims.Caller)
		c.Next()
	}
}

// Caller reads the identity RequireAuth stashed in the Gin context.
func Caller(c *gin.Context) string {
	v, _ := c.Get("caller")
	s, _ := v.(string)
	return s
}
