// File: internal/gateway/gateway_test.go
package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formgate/internal/cache"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

// stubRenderer is a stand-in for the session manager with a navigation
// counter, so tests can assert exactly how often the shared page was used.
type stubRenderer struct {
	mu            sync.Mutex
	authenticated bool
	pages         map[string]string
	renderErr     error
	navigations   int
}

func (s *stubRenderer) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *stubRenderer) Render(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations++
	if s.renderErr != nil {
		return "", s.renderErr
	}
	return s.pages[url], nil
}

func (s *stubRenderer) navCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigations
}

// newGatewayFixture wires a handler onto a fresh engine and returns both the
// engine and the stub page behind it.
func newGatewayFixture(t *testing.T, renderer *stubRenderer) (*gin.Engine, *cache.Store) {
	t.Helper()
	store := cache.New()
	router := gin.New()
	NewHandler(renderer, store, zaptest.NewLogger(t)).Register(router)
	return router, store
}

func doFetch(router *gin.Engine, rawQuery string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/fetch-form", nil)
	req.URL.RawQuery = rawQuery
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestFetchFormValidation(t *testing.T) {
	renderer := &stubRenderer{authenticated: true, pages: map[string]string{}}
	router, _ := newGatewayFixture(t, renderer)

	testCases := []struct {
		name     string
		rawQuery string
	}{
		{"missing url", ""},
		{"empty url", "url="},
		{"repeated url", "url=https%3A%2F%2Fa.example&url=https%3A%2F%2Fb.example"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := doFetch(router, tc.rawQuery)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.JSONEq(t, `{"error":"URL is required and must be a string"}`, w.Body.String())
			// Validation failures never touch the page.
			assert.Equal(t, 0, renderer.navCount())
		})
	}
}

func TestFetchFormGuardsUnauthenticatedSession(t *testing.T) {
	renderer := &stubRenderer{authenticated: false}
	router, store := newGatewayFixture(t, renderer)

	// Even a pre-populated cache must not be served past the guard.
	store.Put("https://example.com/form", "<html>cached</html>")

	w := doFetch(router, "url=https%3A%2F%2Fexample.com%2Fform")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Browser not initialized"}`, w.Body.String())
	assert.Equal(t, 0, renderer.navCount())
}

func TestFetchFormMissThenHit(t *testing.T) {
	const targetURL = "https://example.com/form"
	renderer := &stubRenderer{
		authenticated: true,
		pages:         map[string]string{targetURL: "<html>H</html>"},
	}
	router, store := newGatewayFixture(t, renderer)

	// Scenario 1: cache miss renders via the session page and memoizes.
	first := doFetch(router, "url=https%3A%2F%2Fexample.com%2Fform")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "<html>H</html>", first.Body.String())
	assert.Equal(t, 1, renderer.navCount())

	cached, ok := store.Get(targetURL)
	require.True(t, ok)
	assert.Equal(t, "<html>H</html>", cached)

	// Scenario 2: an identical request is byte-identical with zero
	// additional navigations.
	second := doFetch(router, "url=https%3A%2F%2Fexample.com%2Fform")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, renderer.navCount())
}

func TestFetchFormRenderFailureIsRequestLocal(t *testing.T) {
	const targetURL = "https://example.com/broken"
	renderer := &stubRenderer{
		authenticated: true,
		pages:         map[string]string{},
		renderErr:     errors.New("navigation timed out"),
	}
	router, store := newGatewayFixture(t, renderer)

	w := doFetch(router, "url=https%3A%2F%2Fexample.com%2Fbroken")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch form"}`, w.Body.String())

	// Nothing was cached for the failed URL.
	_, ok := store.Get(targetURL)
	assert.False(t, ok)

	// The failure is local to the request: once the page recovers, the same
	// handler keeps serving.
	renderer.mu.Lock()
	renderer.renderErr = nil
	renderer.pages[targetURL] = "<html>recovered</html>"
	renderer.mu.Unlock()

	retry := doFetch(router, "url=https%3A%2F%2Fexample.com%2Fbroken")
	assert.Equal(t, http.StatusOK, retry.Code)
	assert.Equal(t, "<html>recovered</html>", retry.Body.String())
}

func TestFetchFormRenderSurvivesCallerDisconnect(t *testing.T) {
	const targetURL = "https://example.com/form"
	renderer := &stubRenderer{
		authenticated: true,
		pages:         map[string]string{targetURL: "<html>H</html>"},
	}
	router, store := newGatewayFixture(t, renderer)

	// A caller whose connection is already gone must not poison the render
	// for the waiters sharing it; the page operation runs detached from any
	// one request's context.
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/fetch-form", nil).WithContext(canceled)
	req.URL.RawQuery = "url=https%3A%2F%2Fexample.com%2Fform"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html>H</html>", w.Body.String())

	cached, ok := store.Get(targetURL)
	require.True(t, ok)
	assert.Equal(t, "<html>H</html>", cached)
}

func TestFetchFormDistinctURLsRenderSeparately(t *testing.T) {
	renderer := &stubRenderer{
		authenticated: true,
		pages: map[string]string{
			"https://example.com/a": "<html>A</html>",
			"https://example.com/b": "<html>B</html>",
		},
	}
	router, _ := newGatewayFixture(t, renderer)

	wa := doFetch(router, "url=https%3A%2F%2Fexample.com%2Fa")
	wb := doFetch(router, "url=https%3A%2F%2Fexample.com%2Fb")

	require.Equal(t, http.StatusOK, wa.Code)
	require.Equal(t, http.StatusOK, wb.Code)
	assert.Equal(t, "<html>A</html>", wa.Body.String())
	assert.Equal(t, "<html>B</html>", wb.Body.String())
	assert.Equal(t, 2, renderer.navCount())
}
