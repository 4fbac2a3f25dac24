package payment

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	errors "github.com/sunutaxe/payment-service/internal"
	"github.com/sunutaxe/payment-service/internal/core/common/phone"
	"github.com/sunutaxe/payment-service/internal/core/common/validation"
	paymentmodel "github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
	"github.com/sunutaxe/payment-service/internal/core/events"
	"github.com/sunutaxe/payment-service/internal/provider"
)

// casMaxAttempts bounds the re-read loop when a CAS write loses against a
// concurrent webhook or poll.
const casMaxAttempts = 3

type ServiceConfig struct {
	MinAmount       int64
	MaxAmount       int64
	DefaultProvider paymentmodel.Provider
	DefaultCurrency string
	SuccessURL      string
	ErrorURL        string
	Retry           RetryPolicy
}

type Service struct {
	repo     RepositoryAPI
	adapters AdapterRegistry
	receipts ReceiptGenerator
	eventBus *events.EventBus
	cfg      ServiceConfig
	logger   *slog.Logger
}

func NewService(repo RepositoryAPI, adapters AdapterRegistry, receipts ReceiptGenerator, eventBus *events.EventBus, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "XOF"
	}
	return &Service{
		repo:     repo,
		adapters: adapters,
		receipts: receipts,
		eventBus: eventBus,
		cfg:      cfg,
		logger:   logger,
	}
}

// InitiatePayment validates and normalizes the request, creates a checkout
// with the selected provider and writes the pending ledger row. A fresh
// idempotency key is generated for this logical initiation; InitiateWithRetry
// reuses one key across its attempts so the provider collapses duplicates
// when a response was lost.
func (s *Service) InitiatePayment(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error) {
	return s.initiate(ctx, req, uuid.NewString())
}

func (s *Service) initiate(ctx context.Context, req *InitiateRequest, idempotencyKey string) (*InitiateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if appErr := validation.ValidatePaymentAmount(req.Amount, s.cfg.MinAmount, s.cfg.MaxAmount); appErr != nil {
		return nil, appErr
	}

	normalizedPhone, appErr := phone.Normalize(req.PayerPhone)
	if appErr != nil {
		return nil, appErr
	}

	prov, err := s.resolveProvider(ctx, req)
	if err != nil {
		return nil, err
	}
	adapter, ok := s.adapters.For(prov)
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("no adapter registered for provider %s", prov), errors.ErrCodeInvalidProvider)
	}

	clientRef := req.ClientRef
	if clientRef == "" {
		clientRef = "pay-" + uuid.NewString()
	} else if existing, err := s.repo.GetByClientRef(clientRef); err == nil {
		// Same logical intent retried: hand back the open payment instead
		// of charging twice.
		if existing.Status == paymentmodel.StatusPending || existing.Status == paymentmodel.StatusProcessing {
			s.logger.Info("returning existing open payment for client reference",
				"payment_id", existing.ID,
				"client_ref", clientRef)
			return initiateResponseFrom(existing), nil
		}
		return nil, errors.ErrDuplicateClientReference
	}

	currency := req.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	session, err := adapter.CreateCheckout(ctx, provider.CheckoutRequest{
		Amount:         req.Amount,
		Currency:       currency,
		ClientRef:      clientRef,
		PayerPhone:     normalizedPhone,
		SuccessURL:     s.cfg.SuccessURL,
		ErrorURL:       s.cfg.ErrorURL,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		s.logger.Error("provider checkout failed",
			"provider", prov,
			"client_ref", clientRef,
			"error", err)
		return nil, err
	}

	providerRef := session.ProviderRef
	p := &paymentmodel.Payment{
		ID:           uuid.NewString(),
		Provider:     prov,
		ProviderRef:  &providerRef,
		ClientRef:    clientRef,
		Amount:       req.Amount,
		Currency:     currency,
		Status:       paymentmodel.StatusPending,
		PayerID:      req.PayerID,
		PayerPhone:   normalizedPhone,
		LiabilityIDs: req.LiabilityIDs,
		Metadata: paymentmodel.Metadata{
			SessionID:       session.ProviderRef,
			LaunchURL:       session.LaunchURL,
			USSDInstruction: session.USSDInstruction,
			PayToken:        session.PayToken,
			IdempotencyKey:  idempotencyKey,
		},
		InitiatedAt: time.Now().UTC(),
	}
	if session.ExpiresAt != nil {
		p.Metadata.Debug = map[string]string{"session_expires_at": session.ExpiresAt.Format(time.RFC3339)}
	}

	if err := s.repo.Create(p); err != nil {
		if appErr, ok := errors.IsAppError(err); ok && appErr.Code == errors.ErrCodeDuplicateClientReference {
			// Lost a race against a concurrent initiation of the same
			// intent; the provider deduplicates the checkout by key.
			if existing, getErr := s.repo.GetByClientRef(clientRef); getErr == nil &&
				(existing.Status == paymentmodel.StatusPending || existing.Status == paymentmodel.StatusProcessing) {
				return initiateResponseFrom(existing), nil
			}
			return nil, err
		}
		return nil, err
	}

	s.logger.Info("payment initiated",
		"payment_id", p.ID,
		"provider", prov,
		"client_ref", clientRef,
		"amount", req.Amount)

	resp := initiateResponseFrom(p)
	resp.ExpiresAt = session.ExpiresAt
	return resp, nil
}

func initiateResponseFrom(p *paymentmodel.Payment) *InitiateResponse {
	return &InitiateResponse{
		PaymentID:       p.ID,
		Provider:        string(p.Provider),
		ClientRef:       p.ClientRef,
		Status:          string(p.Status),
		Amount:          p.Amount,
		Currency:        p.Currency,
		LaunchURL:       p.Metadata.LaunchURL,
		USSDInstruction: p.Metadata.USSDInstruction,
	}
}

func (s *Service) resolveProvider(ctx context.Context, req *InitiateRequest) (paymentmodel.Provider, error) {
	if req.Provider != "" {
		prov := paymentmodel.Provider(req.Provider)
		if !prov.Valid() {
			return "", errors.NewValidationError(fmt.Sprintf("unknown provider %q", req.Provider), errors.ErrCodeInvalidProvider)
		}
		return prov, nil
	}
	return s.GetPreferredProvider(ctx, req.PayerID)
}

// CheckStatus returns the stored status for terminal payments without
// contacting the provider: a terminal state is a hard floor. Open payments
// are refreshed from the provider and the transition persisted.
func (s *Service) CheckStatus(ctx context.Context, prov paymentmodel.Provider, reference string) (*StatusResponse, error) {
	p, err := s.resolvePayment(prov, reference)
	if err != nil {
		return nil, err
	}

	if p.Status.IsTerminal() {
		return statusResponseFrom(p), nil
	}

	adapter, ok := s.adapters.For(p.Provider)
	if !ok {
		return nil, errors.NewInternalError(fmt.Sprintf("no adapter registered for provider %s", p.Provider), nil)
	}
	if p.ProviderRef == nil {
		return statusResponseFrom(p), nil
	}

	providerStatus, err := adapter.GetStatus(ctx, *p.ProviderRef)
	if err != nil {
		s.logger.Warn("provider status query failed, returning stored status",
			"payment_id", p.ID,
			"provider", p.Provider,
			"error", err)
		return statusResponseFrom(p), nil
	}

	mapped := adapter.MapStatus(providerStatus)
	updated, err := s.applyTransition(ctx, p.ID, transition{
		status:         mapped,
		providerStatus: providerStatus,
	})
	if err != nil {
		return nil, err
	}
	return statusResponseFrom(updated), nil
}

func statusResponseFrom(p *paymentmodel.Payment) *StatusResponse {
	resp := &StatusResponse{
		PaymentID:   p.ID,
		Provider:    string(p.Provider),
		Status:      string(p.Status),
		Amount:      p.Amount,
		Currency:    p.Currency,
		CompletedAt: p.CompletedAt,
	}
	if p.ReceiptNumber != nil {
		resp.ReceiptNumber = *p.ReceiptNumber
	}
	if p.ReceiptURL != nil {
		resp.ReceiptURL = *p.ReceiptURL
	}
	return resp
}

// resolvePayment accepts any of the identifiers a caller may hold: the
// ledger payment ID, the provider's reference, or the client reference.
func (s *Service) resolvePayment(prov paymentmodel.Provider, reference string) (*paymentmodel.Payment, error) {
	if p, err := s.repo.GetByID(reference); err == nil {
		return p, nil
	}
	if p, err := s.repo.GetByProviderRef(prov, reference); err == nil {
		return p, nil
	}
	return s.repo.GetByClientRef(reference)
}

// HandleWebhook authenticates and applies one provider callback. A failed
// verification returns before any ledger read so the response cannot leak
// whether a payment exists. Redelivered events are detected by event ID
// and acknowledged without a second transition.
func (s *Service) HandleWebhook(ctx context.Context, prov paymentmodel.Provider, rawBody []byte, headers http.Header) (*WebhookResult, error) {
	adapter, ok := s.adapters.For(prov)
	if !ok {
		return nil, errors.NewInternalError(fmt.Sprintf("no adapter registered for provider %s", prov), nil)
	}

	event, err := adapter.VerifyWebhook(rawBody, headers)
	if err != nil {
		s.logger.Warn("webhook verification failed", "provider", prov, "error", err)
		return nil, errors.NewUnauthorizedError("webhook verification failed", errors.ErrCodeWebhookInvalid)
	}

	reference := event.ProviderRef
	if reference == "" {
		reference = event.ClientRef
	}
	p, err := s.resolvePayment(prov, reference)
	if err != nil {
		if event.ClientRef != "" && event.ClientRef != reference {
			p, err = s.repo.GetByClientRef(event.ClientRef)
		}
		if err != nil {
			s.logger.Error("webhook for unknown payment",
				"provider", prov,
				"provider_ref", event.ProviderRef,
				"event_id", event.EventID)
			return nil, err
		}
	}

	mapped := adapter.MapStatus(event.ProviderStatus)
	var txID *string
	if event.ProviderTxID != "" {
		txID = &event.ProviderTxID
	}
	updated, err := s.applyTransition(ctx, p.ID, transition{
		status:         mapped,
		providerStatus: event.ProviderStatus,
		eventID:        event.EventID,
		providerTxID:   txID,
		failureReason:  event.FailureReason,
	})
	if err != nil {
		return nil, err
	}

	return &WebhookResult{
		PaymentID:     updated.ID,
		Status:        string(updated.Status),
		StatusUpdated: updated.Status != p.Status,
	}, nil
}

type transition struct {
	status         paymentmodel.Status
	providerStatus string
	eventID        string
	providerTxID   *string
	failureReason  string
}

// applyTransition folds one observed provider state into the ledger under
// compare-and-set. The loop re-reads on version conflict; the event-ID
// check inside the loop is the sole idempotency mechanism for concurrent
// webhook delivery, there is no mutual exclusion.
func (s *Service) applyTransition(ctx context.Context, paymentID string, tr transition) (*paymentmodel.Payment, error) {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		p, err := s.repo.GetByID(paymentID)
		if err != nil {
			return nil, err
		}

		if tr.eventID != "" && p.Metadata.EventApplied(tr.eventID) {
			return p, nil
		}

		metadata := p.Metadata
		metadata.ProviderStatus = tr.providerStatus
		metadata.RecordEvent(tr.eventID)

		update := StatusUpdate{
			Status:       p.Status,
			Metadata:     metadata,
			ProviderTxID: tr.providerTxID,
		}

		transitioned := false
		if tr.status != p.Status && p.Status.CanTransitionTo(tr.status) {
			update.Status = tr.status
			transitioned = true
			if tr.status == paymentmodel.StatusCompleted {
				now := time.Now().UTC()
				update.CompletedAt = &now
			}
		}

		if err := s.repo.UpdateStatusCAS(p.ID, p.Version, update); err != nil {
			if err == ErrVersionConflict {
				continue
			}
			return nil, err
		}

		updated, err := s.repo.GetByID(paymentID)
		if err != nil {
			return nil, err
		}

		if transitioned {
			s.logger.Info("payment status transitioned",
				"payment_id", p.ID,
				"from", p.Status,
				"to", update.Status,
				"provider_status", tr.providerStatus)
			s.afterTransition(ctx, updated, tr.failureReason)
		}
		return updated, nil
	}
	return nil, errors.NewInternalError("payment update kept conflicting with concurrent writers", nil)
}

// afterTransition runs completion and failure side effects. Receipt
// issuance is synchronous and idempotent; everything else goes through the
// event bus as fire-and-forget so a slow subscriber can never push a
// webhook response past the provider's timeout.
func (s *Service) afterTransition(ctx context.Context, p *paymentmodel.Payment, failureReason string) {
	switch p.Status {
	case paymentmodel.StatusCompleted:
		receiptNumber := ""
		if s.receipts != nil {
			receipt, err := s.receipts.GenerateReceipt(ctx, p.ID)
			if err != nil {
				// Receipt issuance is retried by the next poll or
				// redelivery; the payment itself is already completed.
				s.logger.Error("receipt generation failed",
					"payment_id", p.ID,
					"error", err)
			} else if receipt != nil {
				receiptNumber = receipt.Number
			}
		}
		s.eventBus.Publish(ctx, events.NewPaymentCompletedEvent(
			p.ID, string(p.Provider), p.ClientRef, p.PayerID, p.Amount, p.Currency, receiptNumber))
	case paymentmodel.StatusFailed:
		s.eventBus.Publish(ctx, events.NewPaymentFailedEvent(
			p.ID, string(p.Provider), p.ClientRef, p.PayerID, p.Amount, failureReason))
	}
}

// ProcessRefund opens a refund against a completed payment. Providers
// without a refund API get a pending manual-settlement refund instead of
// an error: a deliberate weaker guarantee, the money moves when operations
// staff settle it out of band.
func (s *Service) ProcessRefund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := s.repo.GetByID(req.PaymentID)
	if err != nil {
		return nil, err
	}
	if !p.Status.Refundable() {
		return nil, errors.ErrRefundNotAllowed
	}

	adapter, ok := s.adapters.For(p.Provider)
	if !ok {
		return nil, errors.NewInternalError(fmt.Sprintf("no adapter registered for provider %s", p.Provider), nil)
	}

	refund := &paymentmodel.Refund{
		ID:        uuid.NewString(),
		PaymentID: p.ID,
		Reason:    req.Reason,
		Status:    paymentmodel.RefundStatusPending,
	}

	// Reserve the amount before touching the provider: the pending row is
	// inserted under a version CAS on the payment, so two concurrent
	// refunds cannot both pass the remaining-amount check. A failed
	// provider call releases the reservation by marking the row failed.
	var amount, remaining int64
	for attempt := 0; ; attempt++ {
		alreadyRefunded, err := s.repo.SumActiveRefunds(p.ID)
		if err != nil {
			return nil, err
		}
		remaining = p.Amount - alreadyRefunded

		amount = req.Amount
		if amount == 0 {
			amount = remaining
		}
		if amount <= 0 || amount > remaining {
			return nil, errors.ErrRefundAmountExceeded
		}
		refund.Amount = amount

		err = s.repo.CreateRefund(refund, p.Version)
		if err == nil {
			break
		}
		if err != ErrVersionConflict || attempt == casMaxAttempts-1 {
			if err == ErrVersionConflict {
				return nil, errors.NewInternalError("refund reservation kept conflicting, try again", nil)
			}
			return nil, err
		}
		if p, err = s.repo.GetByID(req.PaymentID); err != nil {
			return nil, err
		}
		if !p.Status.Refundable() {
			return nil, errors.ErrRefundNotAllowed
		}
	}

	var providerRef string
	if p.ProviderRef != nil {
		providerRef, err = adapter.Refund(ctx, *p.ProviderRef, amount, uuid.NewString())
	} else {
		err = provider.ErrRefundUnsupported
	}

	switch {
	case err == nil:
		refund.Status = paymentmodel.RefundStatusCompleted
		now := time.Now().UTC()
		refund.ProcessedAt = &now
		refund.ProviderRef = &providerRef
		if updErr := s.repo.UpdateRefundStatus(refund.ID, paymentmodel.RefundStatusCompleted, &providerRef); updErr != nil {
			return nil, updErr
		}
		s.logger.Info("refund completed",
			"payment_id", p.ID,
			"refund_id", refund.ID,
			"amount", amount)

		if amount == remaining {
			if _, trErr := s.applyTransition(ctx, p.ID, transition{
				status:         paymentmodel.StatusRefunded,
				providerStatus: p.Metadata.ProviderStatus,
			}); trErr != nil {
				s.logger.Error("failed to mark payment refunded",
					"payment_id", p.ID,
					"error", trErr)
			}
		}

	case err == provider.ErrRefundUnsupported:
		s.logger.Info("refund parked for manual settlement",
			"payment_id", p.ID,
			"refund_id", refund.ID,
			"provider", p.Provider,
			"amount", amount)
		s.eventBus.Publish(ctx, events.NewRefundPendingEvent(
			refund.ID, p.ID, string(p.Provider), amount, req.Reason))
		return &RefundResponse{
			RefundID:  refund.ID,
			PaymentID: p.ID,
			Amount:    amount,
			Status:    string(paymentmodel.RefundStatusPending),
			Manual:    true,
		}, nil

	default:
		if updErr := s.repo.UpdateRefundStatus(refund.ID, paymentmodel.RefundStatusFailed, nil); updErr != nil {
			s.logger.Error("failed to release refund reservation",
				"payment_id", p.ID,
				"refund_id", refund.ID,
				"error", updErr)
		}
		s.logger.Error("provider refund failed",
			"payment_id", p.ID,
			"error", err)
		return nil, err
	}

	resp := &RefundResponse{
		RefundID:  refund.ID,
		PaymentID: p.ID,
		Amount:    amount,
		Status:    string(refund.Status),
	}
	if refund.ProviderRef != nil {
		resp.ProviderRef = *refund.ProviderRef
	}
	return resp, nil
}

func (s *Service) GetPayment(ctx context.Context, id string) (*paymentmodel.Payment, error) {
	return s.repo.GetByID(id)
}

func (s *Service) ListPayments(ctx context.Context, payerID string, status paymentmodel.Status, offset, limit int) ([]*paymentmodel.Payment, error) {
	return s.repo.List(payerID, status, offset, limit)
}

// GetPreferredProvider returns the payer's persisted default, falling back
// to the configured service default.
func (s *Service) GetPreferredProvider(ctx context.Context, payerID string) (paymentmodel.Provider, error) {
	pref, err := s.repo.GetPreference(payerID)
	if err != nil {
		return "", err
	}
	if pref == nil {
		return s.cfg.DefaultProvider, nil
	}
	return pref.Provider, nil
}

func (s *Service) SetPreferredProvider(ctx context.Context, payerID string, prov paymentmodel.Provider) error {
	if !prov.Valid() {
		return errors.NewValidationError(fmt.Sprintf("unknown provider %q", prov), errors.ErrCodeInvalidProvider)
	}
	return s.repo.SetPreference(&paymentmodel.ProviderPreference{
		PayerID:  payerID,
		Provider: prov,
	})
}
