package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"marketchat/internal/config"
	"marketchat/internal/domain"
	"marketchat/internal/realtime"
	"marketchat/internal/security"
	"marketchat/internal/service"
)

// NewRouter constructs the main HTTP router and wires routes, services,
// and middleware.
func NewRouter(
	cfg *config.Config,
	convSvc *service.ConversationService,
	msgSvc *service.MessageService,
	conversations domain.ConversationRepository,
	hub *realtime.Hub,
	tokenSvc *security.TokenService,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"marketchat messaging API","version":"1.0.0"}`))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(tokenSvc))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", handleListConversations(convSvc))
			r.Post("/start", handleStartConversation(convSvc))
			r.Get("/{conversationID}/messages", handleListMessages(msgSvc))
			r.Post("/{conversationID}/messages", handleSendMessage(msgSvc))
			r.Post("/{conversationID}/read", handleMarkRead(msgSvc))
		})
	})

	// WebSocket endpoint
	r.Get("/ws", realtime.MakeHandler(hub, tokenSvc, conversations, cfg.CORSOrigins, logger))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain errors onto HTTP statuses. Storage failures
// and timeouts surface as 503 so clients know a retry is safe. 5xx
// bodies carry a generic message: driver internals stay in the logs.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
