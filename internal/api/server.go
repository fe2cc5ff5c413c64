package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dropalltables/oncall/internal/config"
	"github.com/dropalltables/oncall/internal/events"
	"github.com/dropalltables/oncall/internal/push"
	"github.com/dropalltables/oncall/internal/storage"
)

// Deps are the collaborators the gateway drives. Token and VAPIDPublicKey
// are initialized once at startup and read-only thereafter.
type Deps struct {
	Store          storage.Storage
	Dispatcher     *push.Dispatcher
	Hub            *events.Hub
	Webhooks       *events.WebhookNotifier
	Token          string
	VAPIDPublicKey string
}

type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	msgHandler := NewMessageHandler(s.deps, s.log)
	subHandler := NewSubscriptionHandler(s.deps, s.log)
	whHandler := NewWebhookHandler(s.deps, s.log)
	wsHandler := NewWSHandler(s.deps, s.log)

	// Health and metrics stay unauthenticated.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Realtime channel checks the credential itself at connect time.
	r.Get("/ws", wsHandler.Connect)

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(s.deps.Token))

		r.Post("/notify", msgHandler.Notify)
		r.Post("/respond", msgHandler.Respond)
		r.Get("/messages", msgHandler.List)

		r.Post("/subscribe", subHandler.Subscribe)
		r.Delete("/subscribe", subHandler.Unsubscribe)
		r.Get("/subscriptions", subHandler.List)
		r.Post("/purge", subHandler.Purge)
		r.Get("/vapid-public-key", subHandler.VAPIDKey)

		r.Get("/webhooks", whHandler.List)
		r.Post("/webhooks", whHandler.Register)
		r.Delete("/webhooks", whHandler.Remove)
	})

	return r
}

// Handler exposes the assembled router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
