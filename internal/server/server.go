// Package server routes the HTTP API.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/teacaddy/internal/handler"
	"github.com/dukerupert/teacaddy/internal/middleware"
	"github.com/dukerupert/teacaddy/internal/reconcile"
	"github.com/dukerupert/teacaddy/internal/session"
	ws "github.com/dukerupert/teacaddy/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

type Config struct {
	Engine  *reconcile.Engine
	Session *session.Session
	Hub     *ws.Hub
	// AllowedOrigins are the browser origins allowed by CORS and the
	// websocket upgrade.
	AllowedOrigins   []string
	BackupPassphrase string
	Logger           *slog.Logger
}

type Server struct {
	teaH        *handler.TeaHandler
	brewLogH    *handler.BrewLogHandler
	imageH      *handler.ImageHandler
	backupH     *handler.BackupHandler
	sessionH    *handler.SessionHandler
	stateH      *handler.StateHandler
	hub         *ws.Hub
	origins     []string
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(cfg Config) *Server {
	logger := cfg.Logger.With("component", "http")
	return &Server{
		teaH:        handler.NewTeaHandler(cfg.Engine, logger),
		brewLogH:    handler.NewBrewLogHandler(cfg.Engine, logger),
		imageH:      handler.NewImageHandler(cfg.Engine, logger),
		backupH:     handler.NewBackupHandler(cfg.Engine, cfg.BackupPassphrase, logger),
		sessionH:    handler.NewSessionHandler(cfg.Session, logger),
		stateH:      handler.NewStateHandler(cfg.Engine, logger),
		hub:         cfg.Hub,
		origins:     cfg.AllowedOrigins,
		rateLimiter: middleware.NewRateLimiter(10, time.Minute, 5),
		logger:      logger,
	}
}

// RateLimiter returns the limiter guarding login and import, so the caller
// can schedule its cleanup.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", handler.PassphraseHeader},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	limited := middleware.RateLimit(s.rateLimiter, middleware.RealIP)

	r.Get("/healthz", handler.Health)
	r.Get("/ws", ws.HandleWebSocket(s.hub, s.origins, s.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.stateH.State)
		r.Post("/sync", s.stateH.Sync)

		r.Route("/teas", func(r chi.Router) {
			r.Get("/", s.teaH.List)
			r.Post("/", s.teaH.Create)
			r.Get("/{id}", s.teaH.Get)
			r.Put("/{id}", s.teaH.Update)
			r.Delete("/{id}", s.teaH.Delete)
			r.Post("/{id}/consume", s.teaH.Consume)
		})

		r.Route("/brew-logs", func(r chi.Router) {
			r.Get("/", s.brewLogH.List)
			r.Post("/", s.brewLogH.Create)
			r.Put("/{id}", s.brewLogH.Update)
			r.Delete("/{id}", s.brewLogH.Delete)
		})

		r.Post("/images", s.imageH.Upload)
		r.Get("/images/{id}", s.imageH.Get)

		r.Get("/backup", s.backupH.Export)
		r.With(limited).Post("/backup", s.backupH.Import)
		r.Get("/backup/schema", s.backupH.Schema)

		r.Get("/session", s.sessionH.Get)
		r.With(limited).Post("/session", s.sessionH.Login)
		r.Delete("/session", s.sessionH.Logout)
	})
	return r
}
