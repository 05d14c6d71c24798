package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKey is used for context keys to avoid collisions
type ContextKey string

const (
	// ResultKey is the context key for auth result
	ResultKey ContextKey = "auth_result"
)

// Middleware provides authentication middleware for HTTP handlers
type Middleware struct {
	authService *AuthService
	enabled     bool
}

// NewMiddleware returns middleware backed by svc. A nil svc disables checks.
func NewMiddleware(svc *AuthService) *Middleware {
	return &Middleware{authService: svc, enabled: svc != nil}
}

// GinAuth returns a Gin middleware function for authentication
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}

		authResult, err := m.authenticate(c.Request)
		if err != nil || !authResult.Success {
			c.Header("WWW-Authenticate", `Bearer realm="arkwarden"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
				"kind":  "unauthorized",
			})
			return
		}

		c.Set(string(ResultKey), authResult)
		c.Next()
	}
}

// GinRequirePermission returns a Gin middleware that requires action.
func (m *Middleware) GinRequirePermission(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}

		v, exists := c.Get(string(ResultKey))
		result, ok := v.(*AuthResult)
		if !exists || !ok || !result.Success {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
				"kind":  "unauthorized",
			})
			return
		}

		if !m.authService.HasPermission(result.Role, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "insufficient permissions",
				"kind":  "forbidden",
			})
			return
		}

		c.Next()
	}
}

// Login exchanges basic credentials for a bearer token.
func (m *Middleware) Login(c *gin.Context) {
	if !m.enabled {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "authentication is disabled", "kind": "not_enabled"})
		return
	}
	username, password, ok := c.Request.BasicAuth()
	if !ok {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&body); err == nil {
			username, password = body.Username, body.Password
		}
	}
	res, err := m.authService.Authenticate(c.Request.Context(), LoginRequest{
		Method:   AuthMethodBasic,
		Username: username,
		Password: password,
	})
	if err != nil || !res.Success {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials", "kind": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// authenticate extracts and validates authentication from HTTP request
func (m *Middleware) authenticate(r *http.Request) (*AuthResult, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return m.authService.Authenticate(r.Context(), LoginRequest{Method: AuthMethodJWT, Token: parts[1]})
		}
	}

	if username, password, ok := r.BasicAuth(); ok {
		return m.authService.Authenticate(r.Context(), LoginRequest{
			Method:   AuthMethodBasic,
			Username: username,
			Password: password,
		})
	}

	// browsers cannot set headers on EventSource or WebSocket handshakes
	if tok := r.URL.Query().Get("access_token"); tok != "" {
		return m.authService.Authenticate(r.Context(), LoginRequest{Method: AuthMethodJWT, Token: tok})
	}

	return &AuthResult{Success: false}, ErrInvalidCredentials
}
