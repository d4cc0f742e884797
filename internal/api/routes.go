package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes groups the REST handlers.
type Routes struct {
	Base   *Handler
	Auth   *AuthHandler
	Health *HealthHandler
}

// RegisterRoutes mounts the REST API. requireLogin guards everything but
// login and health.
func (rt *Routes) RegisterRoutes(r chi.Router, requireLogin func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", rt.Health.GetHealth)
		r.Post("/login", rt.Auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(requireLogin)
			r.Post("/logout", rt.Auth.Logout)
			r.Get("/me", rt.Auth.GetMe)
			r.Get("/config", rt.Base.GetConfig)
			r.Get("/threads", rt.Base.ListThreads)
			r.Get("/threads/{threadID}/messages", rt.Base.ListMessages)
		})
	})
}
