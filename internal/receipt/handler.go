package receipt

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	errors "github.com/sunutaxe/payment-service/internal"
	"github.com/sunutaxe/payment-service/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	Service *Service
	Logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.BaseHandler{Logger: logger},
		Service:     service,
		Logger:      logger,
	}
}

type ReceiptResponse struct {
	Number          string    `json:"number"`
	PaymentID       string    `json:"payment_id"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	PayerID         string    `json:"payer_id"`
	PayerName       string    `json:"payer_name,omitempty"`
	PropertyID      string    `json:"property_id,omitempty"`
	PropertyAddress string    `json:"property_address,omitempty"`
	TaxPeriod       string    `json:"tax_period,omitempty"`
	IssuedAt        time.Time `json:"issued_at"`
}

// GetReceipt handles GET /api/v1/receipts/{number}
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if number == "" {
		h.HandleError(w, errors.NewValidationError("receipt number is required", errors.ErrCodeValidationFailed))
		return
	}

	receipt, err := h.Service.GetReceipt(r.Context(), number)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ReceiptResponse{
		Number:          receipt.Number,
		PaymentID:       receipt.PaymentID,
		Amount:          receipt.Amount,
		Currency:        receipt.Currency,
		PayerID:         receipt.PayerID,
		PayerName:       receipt.PayerName,
		PropertyID:      receipt.PropertyID,
		PropertyAddress: receipt.PropertyAddress,
		TaxPeriod:       receipt.TaxPeriod,
		IssuedAt:        receipt.IssuedAt,
	})
}

// VerifyReceipt handles GET /api/v1/receipts/{number}/verify?code=...
// The response never includes receipt contents: a wrong code learns
// nothing beyond valid or not.
func (h *Handler) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	code := r.URL.Query().Get("code")
	if number == "" || code == "" {
		h.HandleError(w, errors.NewValidationError("receipt number and code are required", errors.ErrCodeValidationFailed))
		return
	}

	valid, err := h.Service.Verify(r.Context(), number, code)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"number": number,
		"valid":  valid,
	})
}
