package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/auth"
	"github.com/parley-chat/parley-server/internal/config"
	"github.com/parley-chat/parley-server/internal/core"
	"github.com/parley-chat/parley-server/internal/store"
	"github.com/parley-chat/parley-server/internal/store/sqlite"
	transporthttp "github.com/parley-chat/parley-server/internal/transport/http"
	"github.com/parley-chat/parley-server/internal/voice/livekit"
)

// seedOwner is recorded as the owner of bootstrap rows.
const seedOwner = "system"

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	if err := seed(context.Background(), st, cfg.DefaultServer); err != nil {
		st.Close()
		return nil, fmt.Errorf("seed store: %w", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour, // 24 hour token expiry
	}
	authService := auth.NewService(st, jwtConfig)

	roster := core.NewConnectionRegistry(logger)
	directory := core.NewChannelDirectory(st)
	if err := directory.Refresh(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("load channel directory: %w", err)
	}

	dispatcher := core.NewDispatcher(st, directory, roster, logger)
	sessions := core.NewSessionManager(st, directory, roster, cfg.DefaultServer, logger)

	voice := livekit.New(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.URL)
	if voice == nil {
		logger.Info().Msg("voice tokens disabled: no livekit credentials")
	}

	server, err := transporthttp.NewServer(cfg, transporthttp.ServerDeps{
		Store:       st,
		Dispatcher:  dispatcher,
		Sessions:    sessions,
		Directory:   directory,
		AuthService: authService,
		Voice:       voice,
	}, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init http server: %w", err)
	}

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}, nil
}

// seed makes sure the default server and its "general" text channel
// exist. Reruns are no-ops.
func seed(ctx context.Context, st store.Store, defaultServer string) error {
	if _, err := st.CreateServer(ctx, defaultServer, seedOwner); err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	ch := &store.Channel{
		Name:   "general",
		Server: defaultServer,
		Kind:   store.ChannelText,
		Owner:  seedOwner,
	}
	if _, err := st.CreateChannel(ctx, ch); err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	return nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	a.log.Info().Str("addr", a.server.Addr).Msg("http server started")

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
