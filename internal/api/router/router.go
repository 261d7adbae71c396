package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/hospital-intake-chat/internal/conversation"
	"github.com/wolfman30/hospital-intake-chat/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/hospital-intake-chat/internal/http/middleware"
	"github.com/wolfman30/hospital-intake-chat/internal/webchat"
	"github.com/wolfman30/hospital-intake-chat/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger        *logging.Logger
	TurnHandler   *conversation.Handler
	Webchat       *webchat.Handler
	AdminSessions *handlers.AdminSessionsHandler

	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// RateLimiter throttles turn requests per client address (optional).
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json", "text/html", "application/javascript"))
	// Preflight must be answered on every path, so CORS sits ahead of routing.
	r.Use(httpmiddleware.CORS(corsOrigins(cfg.CORSAllowedOrigins)))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Webchat != nil {
			public.Get("/", cfg.Webchat.HandleIndex)
			public.Get("/widget.js", cfg.Webchat.HandleWidgetJS)
		}
	})

	if cfg.TurnHandler != nil {
		r.Group(func(chat chi.Router) {
			chat.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
			chat.Post("/functions/v1/chat-handler", cfg.TurnHandler.Turn)
			chat.Post("/chat", cfg.TurnHandler.Turn)
		})
	}

	if cfg.AdminSessions != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/sessions", cfg.AdminSessions.ListSessions)
			admin.Get("/sessions/{sessionID}", cfg.AdminSessions.GetSession)
		})
	}

	return r
}

func corsOrigins(configured []string) []string {
	if len(configured) == 0 {
		return []string{"*"}
	}
	return configured
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
