package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/loyalty-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса лояльности.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.Notifier)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/otp", h.RequestCode)
			r.Post("/verify", h.VerifyCode)
			r.Post("/resend", h.ResendCode)
			r.Post("/logout", h.Logout)
		})

		r.Get("/notifications", h.GetNotifications)

		r.Group(func(r chi.Router) {
			r.Use(h.sessions.Middleware)

			r.Get("/dashboard", h.GetDashboard)
			r.Get("/rewards", h.GetRewards)
			r.Post("/redeem", h.Redeem)
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
