// Package payment is the reconciliation core: it owns the unified payment
// state machine, initiates payments through the provider adapters, folds
// verified webhooks into the ledger and drives refunds and receipts.
package payment

import (
	"context"
	"errors"
	"net/http"
	"time"

	paymentmodel "github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
	"github.com/sunutaxe/payment-service/internal/provider"
)

// ErrVersionConflict signals that a compare-and-set update lost against a
// concurrent writer. Callers re-read and re-apply.
var ErrVersionConflict = errors.New("payment was modified concurrently")

// StatusUpdate is one CAS write against a payment row.
type StatusUpdate struct {
	Status       paymentmodel.Status
	Metadata     paymentmodel.Metadata
	CompletedAt  *time.Time
	ProviderTxID *string
	ProviderRef  *string
}

// RepositoryAPI is the ledger store. All shared state lives here; the
// service itself is stateless between calls.
type RepositoryAPI interface {
	Create(p *paymentmodel.Payment) error
	GetByID(id string) (*paymentmodel.Payment, error)
	GetByProviderRef(prov paymentmodel.Provider, ref string) (*paymentmodel.Payment, error)
	GetByClientRef(clientRef string) (*paymentmodel.Payment, error)
	List(payerID string, status paymentmodel.Status, offset, limit int) ([]*paymentmodel.Payment, error)
	UpdateStatusCAS(id string, version int64, update StatusUpdate) error
	AttachReceipt(paymentID, receiptNumber, receiptURL string) error

	// CreateRefund inserts the refund and bumps the parent payment's
	// version in one step, guarded by paymentVersion. ErrVersionConflict
	// means another refund or transition landed first; callers re-read,
	// re-check the refundable remainder and retry.
	CreateRefund(refund *paymentmodel.Refund, paymentVersion int64) error
	UpdateRefundStatus(id string, status paymentmodel.RefundStatus, providerRef *string) error
	GetRefundsByPayment(paymentID string) ([]*paymentmodel.Refund, error)
	SumActiveRefunds(paymentID string) (int64, error)

	CreateReceipt(receipt *paymentmodel.Receipt) error
	GetReceiptByPayment(paymentID string) (*paymentmodel.Receipt, error)

	GetPreference(payerID string) (*paymentmodel.ProviderPreference, error)
	SetPreference(pref *paymentmodel.ProviderPreference) error
}

// ReceiptGenerator is the receipt assembler, invoked once a payment
// completes. Issuance is idempotent, so the completion path needs no lock
// around it.
type ReceiptGenerator interface {
	GenerateReceipt(ctx context.Context, paymentID string) (*paymentmodel.Receipt, error)
}

// ServiceAPI is what the HTTP handlers and other consumers see.
type ServiceAPI interface {
	InitiatePayment(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error)
	InitiateWithRetry(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error)
	CheckStatus(ctx context.Context, prov paymentmodel.Provider, reference string) (*StatusResponse, error)
	HandleWebhook(ctx context.Context, prov paymentmodel.Provider, rawBody []byte, headers http.Header) (*WebhookResult, error)
	ProcessRefund(ctx context.Context, req *RefundRequest) (*RefundResponse, error)
	GetPayment(ctx context.Context, id string) (*paymentmodel.Payment, error)
	ListPayments(ctx context.Context, payerID string, status paymentmodel.Status, offset, limit int) ([]*paymentmodel.Payment, error)
	GetPreferredProvider(ctx context.Context, payerID string) (paymentmodel.Provider, error)
	SetPreferredProvider(ctx context.Context, payerID string, prov paymentmodel.Provider) error
}

// adapterFor resolves the adapter registered for a provider.
type AdapterRegistry map[paymentmodel.Provider]provider.Adapter

func (r AdapterRegistry) For(prov paymentmodel.Provider) (provider.Adapter, bool) {
	a, ok := r[prov]
	return a, ok
}
