package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the public and authenticated routes.
func NewRouter(h *Handler, authenticate func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/", h.HandleRoot)
	r.Get("/healthz", h.HandleHealth)
	r.Post("/api/auth/google", h.HandleGoogleLogin)

	r.Group(func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/api/auth/verify", h.HandleVerify)

		r.Route("/api/chats", func(r chi.Router) {
			r.Get("/", h.HandleListChats)
			r.Post("/", h.HandleCreateChat)
			r.Delete("/{id}", h.HandleDeleteChat)
			r.Get("/{id}/messages", h.HandleListMessages)
			r.Post("/{id}/messages", h.HandleSendMessage)
		})

		r.Get("/api/user/profile", h.HandleProfile)
		r.Get("/api/user/usage", h.HandleUsage)
		r.Get("/api/user/usage/chart", h.HandleUsageChart)
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}
