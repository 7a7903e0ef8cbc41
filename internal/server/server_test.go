// File: internal/server/server_test.go
package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formgate/internal/config"
	"github.com/xkilldash9x/formgate/internal/prompt"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.NewDefaultConfig()
	cfg.Provider.EntryURL = "https://idp.example.com/login"
	cfg.Server.AllowedOrigin = "https://app.example.com"

	var codes prompt.CodeSource // unused before Initialize
	return New(cfg, config.Credentials{}, codes, zaptest.NewLogger(t))
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)
	return w
}

func TestHealthzReportsSessionState(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session":"uninitialized"}`, w.Body.String())
}

func TestFetchFormRoutedWithGuard(t *testing.T) {
	s := newTestServer(t)

	// The session never initialized, so the gateway guard must trip even
	// though the route itself is wired.
	req := httptest.NewRequest(http.MethodGet, "/fetch-form?url=https%3A%2F%2Fexample.com%2Fform", nil)
	w := serve(s, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Browser not initialized"}`, w.Body.String())
}

func TestFetchFormValidationPrecedesGuard(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/fetch-form", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"URL is required and must be a string"}`, w.Body.String())
}

func TestCORSRestrictedToConfiguredOrigin(t *testing.T) {
	s := newTestServer(t)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := serve(s, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("other origin is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := serve(s, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestPostMethodNotRouted(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, httptest.NewRequest(http.MethodPost, "/fetch-form?url=https%3A%2F%2Fexample.com", nil))

	// GET-only surface.
	assert.Equal(t, http.StatusNotFound, w.Code)
}
