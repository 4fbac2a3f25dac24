// Package wave implements the provider adapter for Wave checkout
// sessions. Wave is redirect-style: we create a session, send the payer to
// wave_launch_url, and learn the outcome from a signed webhook.
package wave

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	errors "github.com/sunutaxe/payment-service/internal"
	"github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
	"github.com/sunutaxe/payment-service/internal/provider"
)

const signatureHeader = "Wave-Signature"

type Config struct {
	BaseURL          string
	APIKey           string
	WebhookSecret    string
	Timeout          time.Duration
	WebhookTolerance time.Duration
}

type Adapter struct {
	client           *http.Client
	baseURL          string
	apiKey           string
	webhookSecret    string
	webhookTolerance time.Duration
	logger           *slog.Logger

	// now is swapped in webhook tests to pin the replay window.
	now func() time.Time
}

func New(cfg Config, logger *slog.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Adapter{
		client:           &http.Client{Timeout: timeout},
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:           cfg.APIKey,
		webhookSecret:    cfg.WebhookSecret,
		webhookTolerance: tolerance,
		logger:           logger,
		now:              time.Now,
	}
}

func (a *Adapter) Name() payment.Provider {
	return payment.ProviderWave
}

type checkoutSessionRequest struct {
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	ClientReference string `json:"client_reference"`
	CustomerPhone   string `json:"restrict_payer_mobile,omitempty"`
	SuccessURL      string `json:"success_url"`
	ErrorURL        string `json:"error_url"`
}

type checkoutSessionResponse struct {
	ID            string `json:"id"`
	LaunchURL     string `json:"wave_launch_url"`
	WhenExpires   string `json:"when_expires"`
	PaymentStatus string `json:"payment_status"`
	TransactionID string `json:"transaction_id"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *Adapter) CreateCheckout(ctx context.Context, req provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	body := checkoutSessionRequest{
		Amount:          strconv.FormatInt(req.Amount, 10),
		Currency:        req.Currency,
		ClientReference: req.ClientRef,
		CustomerPhone:   req.PayerPhone,
		SuccessURL:      req.SuccessURL,
		ErrorURL:        req.ErrorURL,
	}

	var resp checkoutSessionResponse
	if err := a.do(ctx, http.MethodPost, "/v1/checkout/sessions", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}

	session := &provider.CheckoutSession{
		ProviderRef: resp.ID,
		LaunchURL:   resp.LaunchURL,
	}
	if resp.WhenExpires != "" {
		if expires, err := time.Parse(time.RFC3339, resp.WhenExpires); err == nil {
			session.ExpiresAt = &expires
		}
	}

	a.logger.Info("wave checkout session created",
		"session_id", resp.ID,
		"client_ref", req.ClientRef)

	return session, nil
}

func (a *Adapter) GetStatus(ctx context.Context, providerRef string) (string, error) {
	var resp checkoutSessionResponse
	path := fmt.Sprintf("/v1/checkout/sessions/%s", providerRef)
	if err := a.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return "", err
	}
	return resp.PaymentStatus, nil
}

type webhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ID               string `json:"id"`
		ClientReference  string `json:"client_reference"`
		PaymentStatus    string `json:"payment_status"`
		TransactionID    string `json:"transaction_id"`
		Amount           string `json:"amount"`
		LastPaymentError *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"last_payment_error"`
	} `json:"data"`
}

// VerifyWebhook checks the Wave-Signature header: "t=<unix>,v1=<hex>"
// where v1 is HMAC-SHA256(secret, "<t>.<raw body>"). The timestamp must be
// within the tolerance window; anything outside it is treated as a replay.
func (a *Adapter) VerifyWebhook(rawBody []byte, headers http.Header) (*provider.WebhookEvent, error) {
	header := headers.Get(signatureHeader)
	if header == "" {
		return nil, errors.NewUnauthorizedError("missing webhook signature", errors.ErrCodeWebhookInvalid)
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return nil, errors.NewUnauthorizedError("malformed webhook signature", errors.ErrCodeWebhookInvalid)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, errors.NewUnauthorizedError("malformed webhook timestamp", errors.ErrCodeWebhookInvalid)
	}
	age := a.now().Sub(time.Unix(ts, 0))
	if age > a.webhookTolerance || age < -a.webhookTolerance {
		return nil, errors.NewUnauthorizedError("webhook timestamp outside tolerance", errors.ErrCodeWebhookInvalid)
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	verified := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			verified = true
			break
		}
	}
	if !verified {
		return nil, errors.NewUnauthorizedError("webhook signature mismatch", errors.ErrCodeWebhookInvalid)
	}

	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, errors.NewValidationError("malformed webhook body", errors.ErrCodeWebhookInvalid).WithCause(err)
	}

	amount, _ := strconv.ParseInt(payload.Data.Amount, 10, 64)
	event := &provider.WebhookEvent{
		EventID:        payload.ID,
		ProviderRef:    payload.Data.ID,
		ClientRef:      payload.Data.ClientReference,
		ProviderStatus: payload.Data.PaymentStatus,
		ProviderTxID:   payload.Data.TransactionID,
		Amount:         amount,
		ReceivedAt:     a.now(),
	}
	if payload.Data.LastPaymentError != nil {
		event.FailureReason = payload.Data.LastPaymentError.Message
	}
	return event, nil
}

// MapStatus folds Wave's session vocabulary into the unified state
// machine. Unknown values stay in processing; guessing toward a terminal
// state on an unrecognized status would be unrecoverable.
func (a *Adapter) MapStatus(providerStatus string) payment.Status {
	switch strings.ToLower(providerStatus) {
	case "open", "pending":
		return payment.StatusPending
	case "processing":
		return payment.StatusProcessing
	case "succeeded", "complete", "completed":
		return payment.StatusCompleted
	case "failed":
		return payment.StatusFailed
	case "expired":
		return payment.StatusExpired
	case "cancelled", "canceled":
		return payment.StatusCancelled
	default:
		return payment.StatusProcessing
	}
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (a *Adapter) Refund(ctx context.Context, providerRef string, amount int64, idempotencyKey string) (string, error) {
	body := map[string]string{
		"amount": strconv.FormatInt(amount, 10),
	}
	var resp refundResponse
	path := fmt.Sprintf("/v1/checkout/sessions/%s/refund", providerRef)
	if err := a.do(ctx, http.MethodPost, path, idempotencyKey, body, &resp); err != nil {
		return "", err
	}

	a.logger.Info("wave refund accepted",
		"session_id", providerRef,
		"refund_id", resp.ID,
		"amount", amount)

	return resp.ID, nil
}

func (a *Adapter) do(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.NewInternalError("failed to marshal wave request", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return errors.NewInternalError("failed to build wave request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return errors.NewProviderTransientError("wave request failed", errors.ErrCodeProviderTimeout).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewProviderTransientError("failed to read wave response", errors.ErrCodeProviderTimeout).WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return a.classifyError(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return errors.NewInternalError("failed to decode wave response", err)
		}
	}
	return nil
}

// terminalErrorCodes are failures Wave declares final; retrying would
// charge an account that cannot pay.
var terminalErrorCodes = map[string]bool{
	"insufficient-funds":    true,
	"payer-account-blocked": true,
	"payment-failure":       true,
	"account-suspended":     true,
}

func (a *Adapter) classifyError(statusCode int, body []byte) error {
	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	message := apiErr.Message
	if message == "" {
		message = fmt.Sprintf("wave returned status %d", statusCode)
	}

	switch {
	case terminalErrorCodes[apiErr.Code]:
		return errors.NewProviderTerminalError(message, errors.ErrCodeProviderDeclined)
	case statusCode == http.StatusTooManyRequests:
		return errors.NewProviderTransientError(message, errors.ErrCodeProviderRateLimited)
	case statusCode == http.StatusRequestTimeout || statusCode >= 500:
		return errors.NewProviderTransientError(message, errors.ErrCodeProviderTimeout)
	default:
		// 4xx invalid requests are surfaced verbatim and never retried.
		return errors.NewValidationError(message, errors.ErrCodeProviderRejected)
	}
}
