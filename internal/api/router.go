/**
 * @description
 * This file sets up the HTTP router for the payment-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the back-office origins.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// PaymentRoutes creates and returns a new router for the payment service.
func PaymentRoutes(h *PaymentHandlers, jwtSecret, internalAPIKey string, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Internal-Api-Key"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public endpoints. The settlement callback authenticates itself through
	// the gateway signature, not through operator credentials.
	r.Post("/callback", h.SettlementCallbackHandler)
	r.Post("/otp/request", h.OtpRequestHandler)

	// Group routes that require operator authentication.
	r.Group(func(r chi.Router) {
		r.Use(OperatorAuthMiddleware(jwtSecret, internalAPIKey))

		r.Post("/disbursements", h.DisburseHandler)
		r.Get("/merchants/{merchantID}/balance", h.BalanceHandler)
		r.Get("/merchants/{merchantID}/ledger", h.LedgerHandler)
	})

	return r
}
