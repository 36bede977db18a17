package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/easypay-reconciler/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/easypay", func(r chi.Router) {
		r.Use(h.identity.Middleware)
		r.Get("/notify", h.Notify)
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/references", func(r chi.Router) {
			r.Post("/", h.CreateReference)
			r.Get("/", h.ListReferences)
			r.Get("/{id}", h.GetReference)
			r.Delete("/{id}", h.DeleteReference)
			r.Post("/{id}/cancel", h.CancelReference)
		})

		r.Route("/docs", func(r chi.Router) {
			r.Get("/", h.ListDocuments)
			r.Get("/{id}", h.GetDocument)
			r.Delete("/{id}", h.DeleteDocument)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
