// Package app wires the Hearth server runtime: config, logging, HTTP routes, and the realtime gateway.
//
// It is intentionally small and deterministic to keep behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"hearth/cmd/identity"
	"hearth/cmd/internal/auth/token"
	"hearth/cmd/internal/chat"
	"hearth/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the Hearth server runtime: it owns HTTP server wiring and gateway dependencies.
type App struct {
	cfg Config
	log Logger

	rooms  *chat.Registry
	users  identity.Store
	tokens *token.Manager

	dbPool    *pgxpool.Pool
	dbEnabled bool

	ws  *realtime.Gateway
	api *apiHandler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	rooms, err := chat.NewRegistry(filepath.Join(cfg.DataDir, "rooms"), log)
	if err != nil {
		return nil, err
	}

	tokenCfg, err := token.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewManager(tokenCfg, log)
	if err != nil {
		return nil, err
	}

	users, dbPool, dbEnabled, err := newIdentityStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	ws := realtime.NewGateway(log, rooms, tokens, realtime.NewDirectory())

	return &App{
		cfg:       cfg,
		log:       log,
		rooms:     rooms,
		users:     users,
		tokens:    tokens,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		ws:        ws,
		api: &apiHandler{
			log:    log,
			rooms:  rooms,
			users:  users,
			tokens: tokens,
		},
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.api)

	var handler http.Handler = mux
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "data_dir", a.cfg.DataDir)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.rooms.Close(); err != nil {
		a.log.Error("rooms.close.fail", "err", err)
	}
	if err := a.users.Close(); err != nil {
		a.log.Error("users.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newIdentityStore decides between the Postgres-backed store and the
// file-backed dev store.
//
// Ownership model:
// - app owns the pool lifecycle
// - PostgresStore.Close() is a no-op
func newIdentityStore(ctx context.Context, cfg Config, log Logger) (identity.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.file_store")
		path := filepath.Join(cfg.DataDir, "users", "users.json")
		return identity.NewFileStore(path, log), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	if err := EnsureIdentitySchema(ctx, pool, "hearth"); err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	store, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store")
	return store, pool, true, nil
}
