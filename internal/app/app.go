// Package app assembles the stores, the remote backend, the engine and the
// HTTP server from a Config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/teacaddy/internal/backup"
	"github.com/dukerupert/teacaddy/internal/blob"
	"github.com/dukerupert/teacaddy/internal/config"
	"github.com/dukerupert/teacaddy/internal/database"
	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/dukerupert/teacaddy/internal/outbox"
	"github.com/dukerupert/teacaddy/internal/reconcile"
	"github.com/dukerupert/teacaddy/internal/remote"
	"github.com/dukerupert/teacaddy/internal/server"
	"github.com/dukerupert/teacaddy/internal/session"
	"github.com/dukerupert/teacaddy/internal/store"
	ws "github.com/dukerupert/teacaddy/internal/websocket"
	"golang.org/x/time/rate"
)

type App struct {
	cfg    *config.Config
	logger *slog.Logger

	DB      *sql.DB
	Session *session.Session
	Remote  *remote.Backend
	Blobs   blob.Store
	Outbox  *outbox.Worker
	Engine  *reconcile.Engine
	Hub     *ws.Hub

	unsubscribe func()
}

// New opens the database and builds every component. Nothing runs until
// Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := database.Open(cfg.App.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if v, err := database.SchemaVersion(ctx, db); err == nil {
		logger.Debug("database ready", "path", cfg.App.DBPath, "schema", v)
	}

	a := &App{cfg: cfg, logger: logger, DB: db}
	a.Session = session.New([]byte(cfg.Session.JWTSecret), logger)

	if a.Remote, err = newRemote(ctx, cfg.Remote, a.Session.Token); err != nil {
		db.Close()
		return nil, err
	}
	if a.Blobs, err = newBlobStore(cfg.Blob, db); err != nil {
		a.Remote.Close()
		db.Close()
		return nil, err
	}

	a.Outbox = outbox.New(store.NewOutboxStore(db), a.Session.OwnerID, outbox.Config{
		Interval:    cfg.Sync.OutboxInterval,
		MaxAttempts: cfg.Sync.OutboxMaxAttempts,
		Rate:        rate.Limit(cfg.Sync.OutboxRate),
		Burst:       cfg.Sync.OutboxBurst,
	}, logger)
	a.Outbox.Register(model.CollectionTeas, outbox.CollectionHandler[model.Tea]{Remote: a.Remote.Teas})
	a.Outbox.Register(model.CollectionBrewLogs, outbox.CollectionHandler[model.BrewLog]{Remote: a.Remote.BrewLogs})

	cache := store.NewCache(db)
	a.Engine = reconcile.New(reconcile.Deps{
		Cache:     cache,
		Blobs:     a.Blobs,
		SyncState: store.NewSyncStateStore(db),
		Remote:    a.Remote,
		Session:   a.Session,
		Outbox:    a.Outbox,
		Codec:     backup.NewCodec(cache, a.Blobs, logger),
	}, reconcile.Config{Quiet: cfg.Sync.Quiet}, logger)

	a.Hub = ws.NewHub(logger)
	return a, nil
}

func newRemote(ctx context.Context, cfg config.RemoteConfig, token remote.TokenFunc) (*remote.Backend, error) {
	switch cfg.Backend {
	case config.RemoteREST:
		return remote.NewREST(remote.RESTConfig{URL: cfg.URL, APIKey: cfg.APIKey, Timeout: cfg.Timeout}, token)
	case config.RemotePostgres:
		return remote.NewPostgres(ctx, cfg.PostgresDSN)
	case config.RemoteMemory:
		return remote.NewMemoryBackend(), nil
	default:
		return remote.NewOfflineBackend(), nil
	}
}

func newBlobStore(cfg config.BlobConfig, db *sql.DB) (blob.Store, error) {
	if cfg.Backend == config.BlobS3 {
		return blob.NewS3Store(blob.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
		})
	}
	return store.NewBlobStore(db), nil
}

// Start runs the engine and the outbox worker, then settles the session:
// a configured owner signs in, otherwise the app runs signed out.
func (a *App) Start(ctx context.Context) error {
	a.unsubscribe = a.Engine.Subscribe(a.Hub.Publish)
	if err := a.Engine.Start(ctx); err != nil {
		return err
	}
	a.Outbox.Start(ctx)

	if a.cfg.Session.OwnerID != "" {
		if _, err := a.Session.LoginOwner(a.cfg.Session.OwnerID, a.cfg.Session.Email); err != nil {
			return fmt.Errorf("sign in configured owner: %w", err)
		}
	} else {
		a.Session.Resolve()
	}
	return nil
}

// Serve runs the HTTP server until ctx is done, then shuts it down.
func (a *App) Serve(ctx context.Context) error {
	srv := server.New(server.Config{
		Engine:           a.Engine,
		Session:          a.Session,
		Hub:              a.Hub,
		AllowedOrigins:   a.cfg.Server.AllowedOrigins,
		BackupPassphrase: a.cfg.Backup.Passphrase,
		Logger:           a.logger,
	})
	httpServer := &http.Server{
		Addr:         a.cfg.Server.Address(),
		Handler:      srv.Router(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.RateLimiter().Cleanup(10 * time.Minute)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	// Shutdown does not track hijacked connections.
	a.Hub.CloseAll()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close stops background work and releases the database and remote.
func (a *App) Close() error {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.Outbox.Stop()
	a.Engine.Close()
	return errors.Join(a.Remote.Close(), a.DB.Close())
}
