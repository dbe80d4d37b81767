package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/bazar-auth/internal/service"
	"github.com/smallbiznis/bazar-auth/internal/token"
)

const sessionKey = "session"

// Auth validates the Authorization header and attaches the decoded session.
type Auth struct {
	AuthService *service.AuthService
}

// RequireSession ensures the request carries a valid bearer session token
// whose subject is still an active user.
func (m *Auth) RequireSession(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}

	session, err := m.AuthService.VerifySession(c.Request.Context(), strings.TrimSpace(parts[1]))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid session token."})
		return
	}

	c.Set(sessionKey, session)
	c.Next()
}

// GetSession exposes the decoded session to handlers.
func GetSession(c *gin.Context) (token.Session, bool) {
	value, ok := c.Get(sessionKey)
	if !ok {
		return token.Session{}, false
	}
	session, ok := value.(token.Session)
	return session, ok
}
