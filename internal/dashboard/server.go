// Package dashboard serves a small read-only JSON status API for a running
// relay: liveness, the session store snapshot and recent turn history.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zulandar/minicodex/internal/models"
	"github.com/zulandar/minicodex/internal/session"
)

// shutdownTimeout bounds graceful shutdown once ctx is cancelled.
const shutdownTimeout = 5 * time.Second

// SessionSource lists stored conversation sessions.
type SessionSource interface {
	Entries() []session.Entry
}

// TurnSource lists recent turns, newest first.
type TurnSource interface {
	Recent(ctx context.Context, limit int) ([]models.Turn, error)
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Addr     string        // listen address, e.g. 127.0.0.1:8088
	Sessions SessionSource // required
	Turns    TurnSource    // nil when history is disabled
	TTL      time.Duration // session idle TTL used for the active flag
	Logger   *zap.Logger
	Now      func() time.Time
}

// NewRouter builds the gin engine with every status route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("dashboard: session source is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Addr == "" {
		return fmt.Errorf("dashboard: listen address is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("dashboard: listening", zap.String("addr", opts.Addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
