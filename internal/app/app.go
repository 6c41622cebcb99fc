package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley-server/internal/auth"
	"github.com/parleychat/parley-server/internal/config"
	"github.com/parleychat/parley-server/internal/core"
	"github.com/parleychat/parley-server/internal/store"
	"github.com/parleychat/parley-server/internal/store/sqlite"
	transporthttp "github.com/parleychat/parley-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	// Failure to open the store is the one fatal startup condition.
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}
	authService := auth.NewService(st, jwtConfig)

	hub := core.NewHub(st, logger, core.Options{
		AutoCreateRooms:   cfg.AutoCreateRooms,
		AllowMultiSession: cfg.AllowMultiSession,
		HistoryLimit:      cfg.HistoryLimit,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		BroadcastTimeout:  cfg.BroadcastTimeout,
	})
	server := transporthttp.NewServer(hub, authService, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails. Resources are released before returning either way.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	go a.hub.Run(ctx)

	serverErr := make(chan error, 1)
	go func() {
		err := a.server.ListenAndServe()
		if err == stdhttp.ErrServerClosed {
			err = nil
		}
		serverErr <- err
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-serverErr
}

// cleanup stops the hub and closes the backing store.
func (a *App) cleanup() {
	a.hub.Close()
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	}
}
