package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frahmantamala/pix-payments/internal/payment"
	"github.com/frahmantamala/pix-payments/internal/transport/middleware"
	"github.com/frahmantamala/pix-payments/internal/transport/swagger"
)

// Options carries the optional pieces of the router. Zero values switch the
// matching feature off.
type Options struct {
	AllowedOrigins string
	HealthChecks   map[string]Checker
	RateLimiter    *middleware.RateLimiter
	HTTPMetrics    *middleware.HTTPMetrics
	MetricsPath    string
	Gatherer       prometheus.Gatherer
}

func RegisterAllRoutes(router *chi.Mux, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, opts Options, logger *slog.Logger) {
	healthHandler := NewHealthHandler(opts.HealthChecks)

	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	// RemoteAddr becomes the forwarded client address; the rate limiter keys on it
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	if opts.HTTPMetrics != nil {
		router.Use(opts.HTTPMetrics.Middleware)
	}

	router.Get(swagger.DocumentPath, swagger.DocumentHandler)
	router.Handle("/swagger/*", swagger.Handler())

	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)
	})

	// Payment routes stay at the root: the checkout page and the processor's
	// notification url both point at these exact paths.
	router.Group(func(r chi.Router) {
		r.Use(middleware.LoggingMiddleware(logger))

		r.Group(func(cr chi.Router) {
			if opts.RateLimiter != nil {
				cr.Use(opts.RateLimiter.Middleware(logger))
			}
			cr.Post("/criar-pagamento", paymentHandler.CreatePayment)
		})
		r.Get("/verificar-pagamento/{id}", paymentHandler.VerifyPayment)
		r.Post("/webhook", webhookHandler.HandleNotification)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	})
}
