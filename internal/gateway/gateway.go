// File: internal/gateway/gateway.go

// Package gateway implements the request-level fetch handler: validate the
// target URL, serve from cache, and otherwise drive the authenticated
// session's page to render and memoize the document.
package gateway

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/formgate/internal/cache"
)

// Error bodies are part of the external contract; callers match on them.
const (
	errURLRequired           = "URL is required and must be a string"
	errBrowserNotInitialized = "Browser not initialized"
	errFetchFailed           = "Failed to fetch form"
)

// Renderer is the slice of the session manager the gateway needs. Tests
// substitute a stub page with a navigation counter.
type Renderer interface {
	Authenticated() bool
	Render(ctx context.Context, url string) (string, error)
}

// Handler serves GET /fetch-form with cache-then-session semantics.
type Handler struct {
	session Renderer
	store   *cache.Store
	logger  *zap.Logger

	// flight collapses concurrent misses for the same URL so the shared page
	// renders each document at most once per burst.
	flight singleflight.Group
}

// NewHandler creates the fetch gateway over the given session and cache.
func NewHandler(session Renderer, store *cache.Store, logger *zap.Logger) *Handler {
	return &Handler{
		session: session,
		store:   store,
		logger:  logger.Named("gateway"),
	}
}

// Register mounts the gateway routes on the router.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/fetch-form", h.FetchForm)
}

// FetchForm handles GET /fetch-form?url=...
//
// Responses:
//   - 200 raw HTML on cache hit or successful fetch
//   - 400 when url is missing or supplied more than once
//   - 500 when the session is not authenticated or the fetch fails
//
// Failures are local to the request; the process keeps serving.
func (h *Handler) FetchForm(c *gin.Context) {
	// The url parameter must be present exactly once. A repeated query key is
	// not "a string" and is rejected the same way as an absent one.
	values := c.Request.URL.Query()["url"]
	if len(values) != 1 || values[0] == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errURLRequired})
		return
	}
	targetURL := values[0]

	if !h.session.Authenticated() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errBrowserNotInitialized})
		return
	}

	// Cache hit short-circuits any use of the session's page.
	if html, ok := h.store.Get(targetURL); ok {
		h.logger.Debug("Cache hit.", zap.String("url", targetURL))
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
		return
	}

	// The render outlives any one caller: concurrent waiters share its
	// result, so it must not die with the first requester's connection.
	renderCtx := context.WithoutCancel(c.Request.Context())
	html, err, shared := h.flight.Do(targetURL, func() (interface{}, error) {
		rendered, err := h.session.Render(renderCtx, targetURL)
		if err != nil {
			return nil, err
		}
		// First fetch wins; a concurrent writer may already have stored it.
		h.store.Put(targetURL, rendered)
		return rendered, nil
	})
	if err != nil {
		h.logger.Warn("Fetch failed.", zap.String("url", targetURL), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errFetchFailed})
		return
	}

	h.logger.Debug("Cache miss served.", zap.String("url", targetURL), zap.Bool("shared", shared))
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html.(string)))
}
