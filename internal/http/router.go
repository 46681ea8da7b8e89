package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/concerthall/reservations/internal/observability"
	"github.com/concerthall/reservations/internal/ratelimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, users UserStore, rl *ratelimit.Limiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware(users))
		r.Use(RateLimitMiddleware(rl))

		r.Get("/v1/events", h.ListEvents)
		r.Post("/v1/events", h.CreateEvent)
		r.Get("/v1/events/{id}", h.GetEvent)
		r.Patch("/v1/events/{id}/status", h.UpdateEventStatus)
		r.Get("/v1/events/{id}/sales", h.GetEventSales)

		r.Get("/v1/venues", h.ListVenues)
		r.Get("/v1/venues/{id}", h.GetVenue)

		r.Post("/v1/tickets", h.ReserveTicket)
		r.Get("/v1/tickets", h.ListTickets)
		r.Get("/v1/tickets/{id}", h.GetTicket)
		r.Delete("/v1/tickets/{id}", h.CancelTicket)

		r.Post("/v1/payments/callback", h.PaymentCallback)
	})

	return r
}
