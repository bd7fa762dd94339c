package handler

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router builds the API routes with the standard middleware stack.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logging(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/api/health", h.Health)

	r.Route("/api/authors", func(r chi.Router) {
		r.Get("/", h.ListAuthors)
		r.Post("/", h.AddAuthor)
		r.Delete("/{name}", h.RemoveAuthor)
		r.Post("/{name}/toggle", h.ToggleAuthor)
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Get("/", h.ListAuthors)
		r.Post("/", h.AddUser)
		r.Delete("/{name}", h.RemoveUser)
	})

	r.Post("/api/filter", h.Filter)

	return r
}
