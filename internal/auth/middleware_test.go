package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(svc *AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	m := NewMiddleware(svc)
	g := gin.New()
	g.POST("/login", m.Login)
	api := g.Group("/", m.GinAuth())
	api.GET("/read", m.GinRequirePermission(ActionRead), func(c *gin.Context) { c.Status(http.StatusOK) })
	api.POST("/write", m.GinRequirePermission(ActionWrite), func(c *gin.Context) { c.Status(http.StatusOK) })
	return g
}

func do(g http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareDisabled(t *testing.T) {
	g := newTestEngine(nil)
	assert.Equal(t, http.StatusOK, do(g, httptest.NewRequest(http.MethodPost, "/write", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(g, httptest.NewRequest(http.MethodPost, "/login", nil)).Code)
}

func TestMiddlewareRequiresCredentials(t *testing.T) {
	g := newTestEngine(newTestService(t, time.Hour))
	rec := do(g, httptest.NewRequest(http.MethodGet, "/read", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	req.SetBasicAuth("admin", "s3cret")
	assert.Equal(t, http.StatusOK, do(g, req).Code)
}

func TestLoginAndRoles(t *testing.T) {
	g := newTestEngine(newTestService(t, time.Hour))

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"watcher","password":"look"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(g, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var res AuthResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.Token)

	read := httptest.NewRequest(http.MethodGet, "/read", nil)
	read.Header.Set("Authorization", "Bearer "+res.Token.Value)
	assert.Equal(t, http.StatusOK, do(g, read).Code)

	write := httptest.NewRequest(http.MethodPost, "/write", nil)
	write.Header.Set("Authorization", "Bearer "+res.Token.Value)
	assert.Equal(t, http.StatusForbidden, do(g, write).Code)

	query := httptest.NewRequest(http.MethodGet, "/read?access_token="+res.Token.Value, nil)
	assert.Equal(t, http.StatusOK, do(g, query).Code)

	bad := httptest.NewRequest(http.MethodPost, "/login", nil)
	bad.SetBasicAuth("watcher", "nope")
	assert.Equal(t, http.StatusUnauthorized, do(g, bad).Code)
}
