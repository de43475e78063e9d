package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mmeshcher/photo-credits/internal/metrics"
	custommiddleware "github.com/mmeshcher/photo-credits/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса фотокредитов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	if h.trustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/packages", h.ListPackages)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{ref}/quota", h.GetQuotaStatus)
		r.Get("/orders/{ref}/uploads", h.ListUploads)

		r.Get("/session", h.CheckSession)
		r.Post("/session/logout", h.Logout)

		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Handler)
			}

			r.Post("/payments/verify", h.VerifyPayment)

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.SessionGate(h.gate))

				r.Post("/orders/{ref}/uploads", h.Upload)
				r.Post("/orders/{ref}/transform", h.Transform)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: http.StatusText(http.StatusNotFound)})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: http.StatusText(http.StatusMethodNotAllowed)})
	})

	return r
}
