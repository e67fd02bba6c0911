package ayaka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiPathHealth = "/healthz"
	apiPathSchema = "/api/schema"
)

// API is the read-only status server: liveness, plus the current schema
// watermark and the applied-migration ledger.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
	bot        *Bot
}

// schemaStatus is the GET /api/schema response body.
type schemaStatus struct {
	CurrentVersion int               `json:"current_version"`
	Applied        []SchemaMigration `json:"applied"`
}

// newAPI initializes the status API server for the given bot.
func newAPI(b *Bot, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, fmt.Errorf("nil api config")
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := &API{
		config: config,
		engine: r,
		bot:    b,
		logger: slog.New(
			tint.NewHandler(
				os.Stdout, &tint.Options{
					Level:     config.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "api"),
	}

	r.Use(gin.Recovery())
	if len(config.CORS.AllowOrigins) > 0 {
		r.Use(cors.New(config.CORS.GINConfig()))
	}
	api.routes()

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	return api, nil
}

func (a *API) routes() {
	a.engine.GET(apiPathHealth, a.getHealth)
	a.engine.GET(apiPathSchema, a.getSchema)
}

func (a *API) getHealth(c *gin.Context) {
	c.JSON(
		http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
			"uptime":  time.Since(a.bot.startedAt).String(),
		},
	)
}

func (a *API) getSchema(c *gin.Context) {
	migrator := a.bot.migrator
	if migrator == nil {
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "database not initialized"},
		)
		return
	}

	ctx := c.Request.Context()
	current, _, err := migrator.CurrentVersion(ctx)
	if err != nil {
		a.logger.Error("error reading schema version", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "schema version unavailable"})
		return
	}
	applied, err := migrator.Applied(ctx)
	if err != nil {
		a.logger.Error("error reading migration ledger", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "migration ledger unavailable"})
		return
	}

	c.JSON(
		http.StatusOK, schemaStatus{
			CurrentVersion: current,
			Applied:        applied,
		},
	)
}

// Serve listens and serves until the context is canceled, then shuts the
// server down.
func (a *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	a.listener = listener
	a.logger.Info("status api listening", "address", a.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		serveErr := a.httpServer.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
		close(errCh)
	}()

	select {
	case serveErr := <-errCh:
		return serveErr
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	}
}
