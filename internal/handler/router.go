package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/dkorolev/missionpass-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса выдачи наград.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Route("/api/mission-sets/{missionSetID}", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/options", h.ListOptions)
		r.Post("/claim", h.Claim)
		r.Post("/redeem", h.Redeem)
		r.Get("/reward", h.GetReward)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
