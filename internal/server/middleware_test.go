package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gene9831/one-app-api/internal/server/response"
	"github.com/gene9831/one-app-api/pkg/auth"
	"github.com/gene9831/one-app-api/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:  logger.ErrorLevel,
		Format: logger.JSONFormat,
		Output: io.Discard,
	})
}

func newJWT(t *testing.T) *auth.JWTManager {
	t.Helper()
	m, err := auth.NewJWTManager(&auth.JWTConfig{
		SigningKey: "test-key",
		Password:   "secret",
		TokenTTL:   time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

func newTestRouter(jwt *auth.JWTManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestIDMiddleware())
	engine.GET("/open", func(c *gin.Context) {
		response.Success(c, gin.H{"ok": true}, nil)
	})
	protected := engine.Group("/admin")
	protected.Use(AuthMiddleware(jwt))
	protected.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"token_id": c.GetString("token_id")}, nil)
	})
	return engine
}

func TestRequestIDMiddleware(t *testing.T) {
	router := newTestRouter(newJWT(t))

	t.Run("generates an id", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("honors a supplied id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/open", nil)
		req.Header.Set("X-Request-ID", "req-42")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

		var body response.APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.Equal(t, "req-42", body.RequestID)
	})
}

func TestAuthMiddleware(t *testing.T) {
	jwt := newJWT(t)
	router := newTestRouter(jwt)

	t.Run("rejects missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/ping", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var body response.APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.False(t, body.Success)
		require.NotNil(t, body.Error)
		assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
	})

	t.Run("rejects a bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
		req.Header.Set("Authorization", "Bearer bogus")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("accepts a valid token", func(t *testing.T) {
		token, err := jwt.Login("secret")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}
