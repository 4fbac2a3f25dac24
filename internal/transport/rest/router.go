package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/sunutaxe/payment-service/internal/auth"
	"github.com/sunutaxe/payment-service/internal/payment"
	"github.com/sunutaxe/payment-service/internal/receipt"
	"github.com/sunutaxe/payment-service/internal/transport/middleware"
	"github.com/sunutaxe/payment-service/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, authHandler *auth.Handler, authService auth.ServiceAPI, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, receiptHandler *receipt.Handler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check routes
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Provider callbacks authenticate with signatures, not tokens
		if webhookHandler != nil {
			r.Route("/webhooks", func(wr chi.Router) {
				wr.Post("/wave", webhookHandler.HandleWaveCallback)
				wr.Post("/orange-money", webhookHandler.HandleOrangeMoneyCallback)
			})
		}

		// Auth routes
		if authHandler != nil {
			r.Post("/auth/token", authHandler.Token)
		}

		// Public receipt verification: tourists and auditors hold a receipt
		// number and code, not a service token
		if receiptHandler != nil {
			r.Get("/receipts/{number}/verify", receiptHandler.VerifyReceipt)
		}

		if authService != nil {
			// Protected routes that require a service token
			r.Group(func(pr chi.Router) {
				pr.Use(middleware.ServiceAuth(authService))

				if paymentHandler != nil {
					pr.Route("/payments", func(pmr chi.Router) {
						pmr.Post("/", paymentHandler.InitiatePayment)
						pmr.Post("/retry", paymentHandler.InitiatePaymentWithRetry)
						pmr.Get("/", paymentHandler.ListPayments)
						pmr.Get("/{paymentID}", paymentHandler.GetPayment)
						pmr.Get("/{paymentID}/status", paymentHandler.CheckStatus)
						pmr.Post("/{paymentID}/refund", paymentHandler.ProcessRefund)
					})

					pr.Route("/payers/{payerID}/provider", func(ppr chi.Router) {
						ppr.Get("/", paymentHandler.GetPreferredProvider)
						ppr.Put("/", paymentHandler.SetPreferredProvider)
					})
				}

				if receiptHandler != nil {
					pr.Get("/receipts/{number}", receiptHandler.GetReceipt)
				}
			})
		}
	})
}
