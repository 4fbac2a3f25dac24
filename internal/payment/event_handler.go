package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sunutaxe/payment-service/internal/core/events"
)

// EventHandler subscribes to the payment lifecycle events published by the
// service. Handlers here are best effort; a failure is logged and the
// payment ledger is never touched.
type EventHandler struct {
	logger *slog.Logger
}

func NewEventHandler(logger *slog.Logger) *EventHandler {
	return &EventHandler{logger: logger}
}

func (h *EventHandler) HandlePaymentCompleted(ctx context.Context, event events.Event) error {
	completed, ok := event.(*events.PaymentCompletedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment completed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentCompletedEvent, got %T", event)
	}

	h.logger.Info("payment completed",
		"payment_id", completed.PaymentID,
		"provider", completed.Provider,
		"payer_id", completed.PayerID,
		"amount", completed.Amount,
		"currency", completed.Currency,
		"receipt_number", completed.ReceiptNumber,
		"event_id", completed.EventID())

	return nil
}

func (h *EventHandler) HandlePaymentFailed(ctx context.Context, event events.Event) error {
	failed, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment failed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentFailedEvent, got %T", event)
	}

	h.logger.Warn("payment failed",
		"payment_id", failed.PaymentID,
		"provider", failed.Provider,
		"payer_id", failed.PayerID,
		"amount", failed.Amount,
		"failure_reason", failed.FailureReason,
		"event_id", failed.EventID())

	return nil
}

func (h *EventHandler) HandleRefundPending(ctx context.Context, event events.Event) error {
	pending, ok := event.(*events.RefundPendingEvent)
	if !ok {
		h.logger.Error("invalid event type for refund pending handler", "event_type", event.EventType())
		return fmt.Errorf("expected RefundPendingEvent, got %T", event)
	}

	// Manual settlements are worked from logs and the refunds table until a
	// back-office queue exists.
	h.logger.Warn("refund awaiting manual settlement",
		"refund_id", pending.RefundID,
		"payment_id", pending.PaymentID,
		"provider", pending.Provider,
		"amount", pending.Amount,
		"reason", pending.Reason,
		"event_id", pending.EventID())

	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentCompleted, h.HandlePaymentCompleted)
	eventBus.Subscribe(events.EventTypePaymentFailed, h.HandlePaymentFailed)
	eventBus.Subscribe(events.EventTypeRefundPending, h.HandleRefundPending)

	h.logger.Info("payment event handlers registered",
		"handlers", []string{
			events.EventTypePaymentCompleted,
			events.EventTypePaymentFailed,
			events.EventTypeRefundPending,
		})
}
