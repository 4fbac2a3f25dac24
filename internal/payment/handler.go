package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"

	errors "github.com/sunutaxe/payment-service/internal"
	paymentmodel "github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
	"github.com/sunutaxe/payment-service/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	PaymentService ServiceAPI
	Logger         *slog.Logger
}

func NewHandler(paymentService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    transport.BaseHandler{Logger: logger},
		PaymentService: paymentService,
		Logger:         logger,
	}
}

// PaymentResponse is the read model returned by lookups and listings.
type PaymentResponse struct {
	PaymentID     string     `json:"payment_id"`
	Provider      string     `json:"provider"`
	ClientRef     string     `json:"client_ref"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	PayerID       string     `json:"payer_id"`
	LiabilityIDs  []string   `json:"liability_ids,omitempty"`
	ReceiptNumber string     `json:"receipt_number,omitempty"`
	ReceiptURL    string     `json:"receipt_url,omitempty"`
	InitiatedAt   time.Time  `json:"initiated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func paymentResponseFrom(p *paymentmodel.Payment) PaymentResponse {
	resp := PaymentResponse{
		PaymentID:    p.ID,
		Provider:     string(p.Provider),
		ClientRef:    p.ClientRef,
		Status:       string(p.Status),
		Amount:       p.Amount,
		Currency:     p.Currency,
		PayerID:      p.PayerID,
		LiabilityIDs: p.LiabilityIDs,
		InitiatedAt:  p.InitiatedAt,
		CompletedAt:  p.CompletedAt,
	}
	if p.ReceiptNumber != nil {
		resp.ReceiptNumber = *p.ReceiptNumber
	}
	if p.ReceiptURL != nil {
		resp.ReceiptURL = *p.ReceiptURL
	}
	return resp
}

// InitiatePayment handles POST /api/v1/payments
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, h.PaymentService.InitiatePayment)
}

// InitiatePaymentWithRetry handles POST /api/v1/payments/retry
func (h *Handler) InitiatePaymentWithRetry(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, h.PaymentService.InitiateWithRetry)
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request, initiateFn initiateFunc) {
	clientID := errors.ClientIDFromContext(r.Context())
	if clientID == "" {
		h.Logger.Error("InitiatePayment: client not found in context")
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("InitiatePayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := initiateFn(r.Context(), &req)
	if err != nil {
		h.Logger.Error("InitiatePayment: service error",
			"error", err,
			"client_id", clientID,
			"payer_id", req.PayerID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("InitiatePayment: payment initiated",
		"payment_id", resp.PaymentID,
		"provider", resp.Provider,
		"client_id", clientID)

	h.WriteJSON(w, http.StatusCreated, resp)
}

type initiateFunc func(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error)

// CheckStatus handles GET /api/v1/payments/{paymentID}/status
func (h *Handler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")
	if paymentID == "" {
		h.HandleError(w, errors.NewValidationError("payment ID is required", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := h.PaymentService.CheckStatus(r.Context(), "", paymentID)
	if err != nil {
		h.Logger.Error("CheckStatus: service error", "error", err, "payment_id", paymentID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// GetPayment handles GET /api/v1/payments/{paymentID}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")
	if paymentID == "" {
		h.HandleError(w, errors.NewValidationError("payment ID is required", errors.ErrCodeValidationFailed))
		return
	}

	p, err := h.PaymentService.GetPayment(r.Context(), paymentID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, paymentResponseFrom(p))
}

// ListPayments handles GET /api/v1/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payerID := r.URL.Query().Get("payer_id")
	status := paymentmodel.Status(r.URL.Query().Get("status"))

	offset := parseIntQuery(r, "offset", 0)
	limit := parseIntQuery(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}

	payments, err := h.PaymentService.ListPayments(r.Context(), payerID, status, offset, limit)
	if err != nil {
		h.Logger.Error("ListPayments: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	items := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		items = append(items, paymentResponseFrom(p))
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payments": items,
		"offset":   offset,
		"limit":    limit,
	})
}

// ProcessRefund handles POST /api/v1/payments/{paymentID}/refund
func (h *Handler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")
	if paymentID == "" {
		h.HandleError(w, errors.NewValidationError("payment ID is required", errors.ErrCodeValidationFailed))
		return
	}

	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("ProcessRefund: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	req.PaymentID = paymentID

	resp, err := h.PaymentService.ProcessRefund(r.Context(), &req)
	if err != nil {
		h.Logger.Error("ProcessRefund: service error", "error", err, "payment_id", paymentID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("ProcessRefund: refund processed",
		"payment_id", paymentID,
		"refund_id", resp.RefundID,
		"manual", resp.Manual)

	h.WriteJSON(w, http.StatusOK, resp)
}

// GetPreferredProvider handles GET /api/v1/payers/{payerID}/provider
func (h *Handler) GetPreferredProvider(w http.ResponseWriter, r *http.Request) {
	payerID := chi.URLParam(r, "payerID")
	if payerID == "" {
		h.HandleError(w, errors.NewValidationError("payer ID is required", errors.ErrCodeValidationFailed))
		return
	}

	prov, err := h.PaymentService.GetPreferredProvider(r.Context(), payerID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]string{
		"payer_id": payerID,
		"provider": string(prov),
	})
}

// SetPreferredProvider handles PUT /api/v1/payers/{payerID}/provider
func (h *Handler) SetPreferredProvider(w http.ResponseWriter, r *http.Request) {
	payerID := chi.URLParam(r, "payerID")
	if payerID == "" {
		h.HandleError(w, errors.NewValidationError("payer ID is required", errors.ErrCodeValidationFailed))
		return
	}

	var req PreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	if err := h.PaymentService.SetPreferredProvider(r.Context(), payerID, paymentmodel.Provider(req.Provider)); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]string{
		"payer_id": payerID,
		"provider": req.Provider,
	})
}

func parseIntQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
