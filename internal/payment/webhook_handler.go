package payment

import (
	"io"
	"log/slog"
	"net/http"

	errors "github.com/sunutaxe/payment-service/internal"
	paymentmodel "github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
	"github.com/sunutaxe/payment-service/internal/transport"
)

// maxWebhookBodyBytes bounds provider callback payloads.
const maxWebhookBodyBytes = 1 << 20

type WebhookHandler struct {
	*transport.BaseHandler
	paymentService ServiceAPI
	logger         *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    baseHandler,
		paymentService: paymentService,
		logger:         logger,
	}
}

type WebhookResponse struct {
	Status    string `json:"status"`
	PaymentID string `json:"payment_id,omitempty"`
}

// HandleWaveCallback handles POST /webhooks/wave
func (h *WebhookHandler) HandleWaveCallback(w http.ResponseWriter, r *http.Request) {
	h.handleCallback(w, r, paymentmodel.ProviderWave)
}

// HandleOrangeMoneyCallback handles POST /webhooks/orange-money
func (h *WebhookHandler) HandleOrangeMoneyCallback(w http.ResponseWriter, r *http.Request) {
	h.handleCallback(w, r, paymentmodel.ProviderOrangeMoney)
}

// handleCallback reads the raw body before any parsing so the signature is
// verified over the exact bytes the provider signed. Signature failures get
// a generic 401 that does not reveal whether the referenced payment exists.
func (h *WebhookHandler) handleCallback(w http.ResponseWriter, r *http.Request, prov paymentmodel.Provider) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Error("failed to read webhook body", "provider", prov, "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.paymentService.HandleWebhook(r.Context(), prov, rawBody, r.Header)
	if err != nil {
		appErr, ok := errors.IsAppError(err)
		switch {
		case ok && appErr.Type == errors.ErrorTypeUnauthorized:
			h.logger.Warn("webhook signature verification failed", "provider", prov)
			h.WriteError(w, http.StatusUnauthorized, "invalid signature")
		case ok && appErr.Code == errors.ErrCodePaymentNotFound:
			// Authenticated event for a payment this ledger never opened.
			// Acknowledge it so the provider stops redelivering.
			h.logger.Warn("webhook references unknown payment", "provider", prov)
			h.WriteJSON(w, http.StatusOK, WebhookResponse{Status: "ignored"})
		case ok && appErr.Type == errors.ErrorTypeValidation:
			h.logger.Error("malformed webhook payload", "provider", prov, "error", err)
			h.WriteError(w, http.StatusBadRequest, "invalid payload")
		default:
			h.logger.Error("failed to process webhook", "provider", prov, "error", err)
			h.WriteError(w, http.StatusInternalServerError, "failed to process callback")
		}
		return
	}

	status := "processed"
	if !result.StatusUpdated {
		status = "already_processed"
	}

	h.logger.Info("webhook processed",
		"provider", prov,
		"payment_id", result.PaymentID,
		"payment_status", result.Status,
		"status_updated", result.StatusUpdated)

	h.WriteJSON(w, http.StatusOK, WebhookResponse{
		Status:    status,
		PaymentID: result.PaymentID,
	})
}
