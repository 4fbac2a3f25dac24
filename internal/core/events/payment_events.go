package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
	EventTypeRefundPending    = "refund.pending"
)

// PaymentCompletedEvent is published after a payment reaches completed.
// Subscribers do best-effort follow-up (payer notification, receipt PDF
// rendering); their failures never propagate back to the webhook handler.
type PaymentCompletedEvent struct {
	BaseEvent
	PaymentID     string `json:"payment_id"`
	Provider      string `json:"provider"`
	ClientRef     string `json:"client_ref"`
	PayerID       string `json:"payer_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	ReceiptNumber string `json:"receipt_number"`
}

func NewPaymentCompletedEvent(paymentID, provider, clientRef, payerID string, amount int64, currency, receiptNumber string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":     paymentID,
				"provider":       provider,
				"client_ref":     clientRef,
				"payer_id":       payerID,
				"amount":         amount,
				"currency":       currency,
				"receipt_number": receiptNumber,
			},
		},
		PaymentID:     paymentID,
		Provider:      provider,
		ClientRef:     clientRef,
		PayerID:       payerID,
		Amount:        amount,
		Currency:      currency,
		ReceiptNumber: receiptNumber,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentID     string `json:"payment_id"`
	Provider      string `json:"provider"`
	ClientRef     string `json:"client_ref"`
	PayerID       string `json:"payer_id"`
	Amount        int64  `json:"amount"`
	FailureReason string `json:"failure_reason"`
}

func NewPaymentFailedEvent(paymentID, provider, clientRef, payerID string, amount int64, failureReason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":     paymentID,
				"provider":       provider,
				"client_ref":     clientRef,
				"payer_id":       payerID,
				"amount":         amount,
				"failure_reason": failureReason,
			},
		},
		PaymentID:     paymentID,
		Provider:      provider,
		ClientRef:     clientRef,
		PayerID:       payerID,
		Amount:        amount,
		FailureReason: failureReason,
	}
}

// RefundPendingEvent marks a refund parked for manual settlement because
// the provider has no refund API. Operations staff pick these up.
type RefundPendingEvent struct {
	BaseEvent
	RefundID  string `json:"refund_id"`
	PaymentID string `json:"payment_id"`
	Provider  string `json:"provider"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

func NewRefundPendingEvent(refundID, paymentID, provider string, amount int64, reason string) *RefundPendingEvent {
	return &RefundPendingEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeRefundPending,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"refund_id":  refundID,
				"payment_id": paymentID,
				"provider":   provider,
				"amount":     amount,
				"reason":     reason,
			},
		},
		RefundID:  refundID,
		PaymentID: paymentID,
		Provider:  provider,
		Amount:    amount,
		Reason:    reason,
	}
}
