package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the API routes behind identity and rate limiting. /health and
// /metrics stay open.
func NewRouter(bookings *BookingHandler, wallets *WalletHandler, limiter *RateLimiter, logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()

	// Add health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/").Subrouter()
	if limiter != nil {
		api.Use(limiter.Middleware)
	}
	api.Use(identityMiddleware())
	bookings.RegisterRoutes(api)
	wallets.RegisterRoutes(api)

	router.Use(LoggingMiddleware(logger))
	return router
}
