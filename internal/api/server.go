// Package api serves the endpoints speech sessions and the interview flow
// call: realtime session issuance and answer analysis.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// ServiceName is reported by the health endpoint
const ServiceName = "interview-assistant-api"

// Options configures the API handler
type Options struct {
	OpenAIAPIKey  string
	SessionsURL   string // Upstream transcription session endpoint
	AllowedOrigin string
	HTTPClient    *http.Client
	Analyzer      Generator // nil disables /api/gemini/analyze
	Logger        zerolog.Logger
}

// Handler serves the API routes
type Handler struct {
	openAIKey     string
	sessionsURL   string
	allowedOrigin string
	httpClient    *http.Client
	analyzer      Generator
	logger        zerolog.Logger
}

// NewHandler creates an API handler
func NewHandler(opts Options) *Handler {
	if opts.SessionsURL == "" {
		opts.SessionsURL = DefaultSessionsURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Handler{
		openAIKey:     opts.OpenAIAPIKey,
		sessionsURL:   opts.SessionsURL,
		allowedOrigin: strings.TrimSpace(opts.AllowedOrigin),
		httpClient:    opts.HTTPClient,
		analyzer:      opts.Analyzer,
		logger:        opts.Logger.With().Str("component", "api").Logger(),
	}
}

// Routes returns a router with the API endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.cors)

	r.Get("/api/health", h.health)
	r.Post("/api/realtime/session", h.createSession)
	r.Post("/api/gemini/analyze", h.analyze)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Not Found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method Not Allowed"})
	})
	return r
}

// cors sets the CORS headers on every response and answers preflight requests.
// Without a configured origin any origin is accepted.
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if h.allowedOrigin != "" {
			origin = h.allowedOrigin
		}
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", origin)
		header.Set("Access-Control-Allow-Methods", "POST,OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		header.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": ServiceName})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
