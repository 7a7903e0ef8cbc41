// File: internal/server/server.go

// Package server is the lifecycle coordinator: it wires the session manager,
// cache, and gateway together, refuses to accept traffic until the session is
// authenticated, and tears everything down on termination.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formgate/internal/cache"
	"github.com/xkilldash9x/formgate/internal/config"
	"github.com/xkilldash9x/formgate/internal/gateway"
	"github.com/xkilldash9x/formgate/internal/prompt"
	"github.com/xkilldash9x/formgate/internal/session"
)

// Server owns the HTTP listener and the process-wide session and cache.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	session *session.Manager
	store   *cache.Store
	http    *http.Server
}

// New wires the server's dependencies. The browser is not launched here;
// Run performs session initialization before the listener starts.
func New(cfg *config.Config, creds config.Credentials, codes prompt.CodeSource, logger *zap.Logger) *Server {
	store := cache.New()
	mgr := session.NewManager(cfg, creds, codes, logger)

	router := newRouter(cfg, logger)
	gateway.NewHandler(mgr, store, logger).Register(router)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"session": mgr.State().String()})
	})

	return &Server{
		cfg:     cfg,
		logger:  logger.Named("server"),
		session: mgr,
		store:   store,
		http: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

// newRouter builds the gin engine with recovery, request logging, and CORS
// restricted to the single configured origin.
func newRouter(cfg *config.Config, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.Server.AllowedOrigin},
		AllowMethods: []string{http.MethodGet},
		AllowHeaders: []string{"Content-Type", "Accept", "Origin"},
		MaxAge:       12 * time.Hour,
	}))
	return router
}

// requestLogger emits one structured line per request.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("Request handled.",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// Run initializes the session and then serves HTTP until ctx is canceled.
// A failed session initialization returns before the listener ever opens;
// the caller exits non-zero. A canceled ctx drains the listener, closes the
// session, and returns nil for a clean exit.
func (s *Server) Run(ctx context.Context) error {
	// The session must be authenticated before any traffic is accepted.
	// This can block indefinitely on operator input during a challenge.
	if err := s.session.Initialize(ctx); err != nil {
		return fmt.Errorf("session initialization failed: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Accepting connections.", zap.String("addr", s.cfg.Server.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.shutdown(context.Background())
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("Termination signal received; shutting down.")
		s.shutdown(context.Background())
		return nil
	}
}

// shutdown drains the HTTP server and releases the browser. Best-effort and
// idempotent: resource release errors are logged, never propagated.
func (s *Server) shutdown(ctx context.Context) {
	grace := s.cfg.Server.ShutdownGrace
	if grace <= 0 {
		grace = 15 * time.Second
	}
	drainCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := s.http.Shutdown(drainCtx); err != nil {
		s.logger.Warn("HTTP drain did not complete cleanly.", zap.Error(err))
	}
	if err := s.session.Close(drainCtx); err != nil {
		s.logger.Warn("Session close reported an error.", zap.Error(err))
	}
	s.logger.Info("Shutdown complete.", zap.Int("cached_entries", s.store.Len()))
}
