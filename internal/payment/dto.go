package payment

import (
	"time"

	errors "github.com/sunutaxe/payment-service/internal"
	"github.com/sunutaxe/payment-service/internal/core/common/validation"
	paymentmodel "github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
)

// InitiateRequest is one logical payment intent. ClientRef is optional;
// the service generates one when absent. Provider is optional; the payer's
// persisted preference (or the configured default) is used when absent.
type InitiateRequest struct {
	Amount       int64    `json:"amount"`
	Currency     string   `json:"currency"`
	Provider     string   `json:"provider,omitempty"`
	ClientRef    string   `json:"client_ref,omitempty"`
	PayerID      string   `json:"payer_id"`
	PayerPhone   string   `json:"payer_phone"`
	LiabilityIDs []string `json:"liability_ids,omitempty"`
}

func (r *InitiateRequest) Validate() error {
	validator := validation.NewValidator()
	validator.Field("payer_id", r.PayerID).Required()
	validator.Field("payer_phone", r.PayerPhone).Required()
	validator.Field("provider", r.Provider).OneOf([]string{
		string(paymentmodel.ProviderWave),
		string(paymentmodel.ProviderOrangeMoney),
	}, errors.ErrCodeInvalidProvider)
	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// InitiateResponse carries what the payer needs next: a launch URL for
// Wave, a USSD instruction for Orange Money.
type InitiateResponse struct {
	PaymentID       string     `json:"payment_id"`
	Provider        string     `json:"provider"`
	ClientRef       string     `json:"client_ref"`
	Status          string     `json:"status"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	LaunchURL       string     `json:"launch_url,omitempty"`
	USSDInstruction string     `json:"ussd_instruction,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

type StatusResponse struct {
	PaymentID     string     `json:"payment_id"`
	Provider      string     `json:"provider"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ReceiptNumber string     `json:"receipt_number,omitempty"`
	ReceiptURL    string     `json:"receipt_url,omitempty"`
}

// WebhookResult reports what a verified webhook did. StatusUpdated is
// false for idempotent redeliveries.
type WebhookResult struct {
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	StatusUpdated bool   `json:"status_updated"`
}

// RefundRequest asks for a partial refund of Amount, or the whole
// remaining balance when Amount is zero. Negative amounts are rejected.
type RefundRequest struct {
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (r *RefundRequest) Validate() error {
	validator := validation.NewValidator()
	validator.Field("payment_id", r.PaymentID).Required()
	validator.Field("amount", r.Amount).MinInt(0, errors.ErrCodeInvalidAmount)
	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	if appErr := validation.ValidateRefundReason(r.Reason); appErr != nil {
		return appErr
	}
	return nil
}

type RefundResponse struct {
	RefundID    string `json:"refund_id"`
	PaymentID   string `json:"payment_id"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
	ProviderRef string `json:"provider_ref,omitempty"`
	// Manual is true for providers without a refund API: the refund is
	// parked pending for out-of-band settlement.
	Manual bool `json:"manual"`
}

type PreferenceRequest struct {
	Provider string `json:"provider"`
}

func (r *PreferenceRequest) Validate() error {
	validator := validation.NewValidator()
	validator.Field("provider", r.Provider).Required().OneOf([]string{
		string(paymentmodel.ProviderWave),
		string(paymentmodel.ProviderOrangeMoney),
	}, errors.ErrCodeInvalidProvider)
	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}
