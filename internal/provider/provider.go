// Package provider defines the contract both mobile-money adapters
// implement. The reconciliation core talks only to this interface; all
// provider wire formats and authentication schemes stay behind it.
package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
)

// ErrRefundUnsupported is returned by adapters whose provider has no
// native refund API. The core reacts by parking a pending refund for
// manual settlement instead of failing the caller.
var ErrRefundUnsupported = errors.New("provider does not support refunds")

// CheckoutRequest is the unified initiation request. IdempotencyKey is
// forwarded to the provider where supported; retries of the same logical
// initiation must reuse the same key.
type CheckoutRequest struct {
	Amount         int64
	Currency       string
	ClientRef      string
	PayerPhone     string
	SuccessURL     string
	ErrorURL       string
	IdempotencyKey string
}

// CheckoutSession is what the payer needs to complete the payment: a
// launch URL for checkout-style providers, a USSD instruction for
// push-style providers. Exactly one of the two is set.
type CheckoutSession struct {
	ProviderRef     string
	LaunchURL       string
	USSDInstruction string
	PayToken        string
	ExpiresAt       *time.Time
}

// WebhookEvent is a verified, parsed provider callback. EventID is the
// dedup key for at-least-once delivery; ProviderStatus is the provider's
// native vocabulary, mapped by the adapter's MapStatus.
type WebhookEvent struct {
	EventID        string
	ProviderRef    string
	ClientRef      string
	ProviderStatus string
	ProviderTxID   string
	Amount         int64
	FailureReason  string
	ReceivedAt     time.Time
}

// Adapter is implemented once per provider.
type Adapter interface {
	Name() payment.Provider

	// CreateCheckout must be safe to call twice with the same idempotency
	// key without creating two charges.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// GetStatus is read-only and safe to call repeatedly.
	GetStatus(ctx context.Context, providerRef string) (string, error)

	// VerifyWebhook authenticates rawBody against the provider's signature
	// scheme and parses it. Secret comparison is constant time; providers
	// that sign with a timestamp also get a replay tolerance window.
	// Returns nil and an error on any verification failure.
	VerifyWebhook(rawBody []byte, headers http.Header) (*WebhookEvent, error)

	// MapStatus is a pure, total function from the provider's native
	// status vocabulary to the unified state machine. Unknown values map
	// to processing, never to a terminal status.
	MapStatus(providerStatus string) payment.Status

	// Refund returns the provider's refund reference, or
	// ErrRefundUnsupported when the provider has no refund API.
	Refund(ctx context.Context, providerRef string, amount int64, idempotencyKey string) (string, error)
}
