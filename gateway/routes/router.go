package routes

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"credlend/core"
	"credlend/core/events"
	"credlend/gateway/middleware"
)

// Config assembles the gateway router.
type Config struct {
	Module        *core.LendingModule
	Journal       *events.Journal
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	RateLimitKey  string
	Logger        *slog.Logger
}

// New builds the HTTP handler exposing the lending API under /v1.
func New(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	lr := newLendingRoutes(cfg.Module, log)
	r.Route("/v1", func(sr chi.Router) {
		if cfg.RateLimiter != nil && cfg.RateLimitKey != "" {
			sr.Use(cfg.RateLimiter.Middleware(cfg.RateLimitKey))
		}
		if cfg.Authenticator != nil {
			sr.Use(cfg.Authenticator.Middleware())
		}
		lr.mount(sr)
		if cfg.Journal != nil {
			sr.Get("/events", eventsHandler(cfg.Journal))
		}
	})

	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	return r
}

type eventPayload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func eventsHandler(journal *events.Journal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 || parsed > 1000 {
				writeJSON(w, http.StatusBadRequest, errorPayload{Error: "limit must be between 1 and 1000"})
				return
			}
			limit = parsed
		}
		tail, err := journal.Tail(limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorPayload{Error: "event journal unavailable"})
			return
		}
		payload := make([]eventPayload, 0, len(tail))
		for _, evt := range tail {
			payload = append(payload, eventPayload{Type: evt.Type, Attributes: evt.Attributes})
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": payload})
	}
}
