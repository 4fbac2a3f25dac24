// Package orangemoney implements the provider adapter for Orange Money
// Senegal. Orange Money is push-style: initiation fires a USSD prompt at
// the payer's phone and the outcome is learned by polling or from a
// notification webhook. The API has no idempotency key, so duplicate
// suppression for initiation lives in the ledger's client-reference
// uniqueness.
package orangemoney

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
	"net/url"
	"strings"
	"sync"
	"time"

	errors "github.com/sunutaxe/payment-service/internal"
	"github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
	"github.com/sunutaxe/payment-service/internal/provider"
)

const signatureHeader = "X-OM-Signature"

type Config struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	MerchantKey   string
	WebhookSecret string
	Timeout       time.Duration
}

type Adapter struct {
	client        *http.Client
	baseURL       string
	clientID      string
	clientSecret  string
	merchantKey   string
	webhookSecret string
	logger        *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	now func() time.Time
}

func New(cfg Config, logger *slog.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		client:        &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		merchantKey:   cfg.MerchantKey,
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
		now:           time.Now,
	}
}

func (a *Adapter) Name() payment.Provider {
	return payment.ProviderOrangeMoney
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// token returns a cached OAuth access token, refreshing it via the client
// credentials grant shortly before expiry.
func (a *Adapter) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && a.now().Before(a.tokenExpiry.Add(-30*time.Second)) {
		return a.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.NewInternalError("failed to build token request", err)
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", errors.NewProviderTransientError("orange money token request failed", errors.ErrCodeProviderTimeout).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", a.classifyError(resp.StatusCode, body)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", errors.NewInternalError("failed to decode token response", err)
	}

	a.accessToken = tok.AccessToken
	a.tokenExpiry = a.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return a.accessToken, nil
}

type pushPaymentRequest struct {
	MerchantKey string `json:"merchant_key"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	PayerMSISDN string `json:"subscriber_msisdn"`
}

type pushPaymentResponse struct {
	TransactionID string `json:"txnid"`
	PayToken      string `json:"pay_token"`
	Status        string `json:"status"`
	USSDCode      string `json:"ussd_code"`
	Message       string `json:"message"`
}

func (a *Adapter) CreateCheckout(ctx context.Context, req provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	body := pushPaymentRequest{
		MerchantKey: a.merchantKey,
		Currency:    req.Currency,
		OrderID:     req.ClientRef,
		Amount:      req.Amount,
		PayerMSISDN: req.PayerPhone,
	}

	var resp pushPaymentResponse
	if err := a.do(ctx, http.MethodPost, "/api/eWallet/v1/payments", token, body, &resp); err != nil {
		return nil, err
	}

	instruction := resp.USSDCode
	if instruction == "" {
		// Fallback instruction when the API omits the dial code.
		instruction = "Composez #144#391# puis validez le paiement avec votre code secret Orange Money"
	}

	a.logger.Info("orange money push initiated",
		"txn_id", resp.TransactionID,
		"order_id", req.ClientRef)

	return &provider.CheckoutSession{
		ProviderRef:     resp.TransactionID,
		USSDInstruction: instruction,
		PayToken:        resp.PayToken,
	}, nil
}

type statusResponse struct {
	TransactionID string `json:"txnid"`
	Status        string `json:"status"`
	OrderID       string `json:"order_id"`
}

func (a *Adapter) GetStatus(ctx context.Context, providerRef string) (string, error) {
	token, err := a.token(ctx)
	if err != nil {
		return "", err
	}

	var resp statusResponse
	path := fmt.Sprintf("/api/eWallet/v1/payments/%s", providerRef)
	if err := a.do(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

type webhookPayload struct {
	NotificationID string `json:"notification_id"`
	TransactionID  string `json:"txnid"`
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
}

// VerifyWebhook checks X-OM-Signature, a plain HMAC-SHA256 of the raw body.
// There is no timestamp in the scheme, so replay defense is the event-ID
// dedup in the ledger rather than a tolerance window here.
func (a *Adapter) VerifyWebhook(rawBody []byte, headers http.Header) (*provider.WebhookEvent, error) {
	signature := headers.Get(signatureHeader)
	if signature == "" {
		return nil, errors.NewUnauthorizedError("missing webhook signature", errors.ErrCodeWebhookInvalid)
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return nil, errors.NewUnauthorizedError("webhook signature mismatch", errors.ErrCodeWebhookInvalid)
	}

	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, errors.NewValidationError("malformed webhook body", errors.ErrCodeWebhookInvalid).WithCause(err)
	}

	eventID := payload.NotificationID
	if eventID == "" {
		// Older notification format has no ID; synthesize a stable one so
		// redelivery of the same status change stays idempotent.
		eventID = fmt.Sprintf("om-%s-%s", payload.TransactionID, strings.ToLower(payload.Status))
	}

	return &provider.WebhookEvent{
		EventID:        eventID,
		ProviderRef:    payload.TransactionID,
		ClientRef:      payload.OrderID,
		ProviderStatus: payload.Status,
		ProviderTxID:   payload.TransactionID,
		Amount:         payload.Amount,
		FailureReason:  payload.Reason,
		ReceivedAt:     a.now(),
	}, nil
}

// MapStatus folds Orange Money's vocabulary into the unified state
// machine. Both SUCCESS spellings appear in production traffic. Unknown
// values stay in processing.
func (a *Adapter) MapStatus(providerStatus string) payment.Status {
	switch strings.ToUpper(providerStatus) {
	case "INITIATED":
		return payment.StatusPending
	case "PENDING":
		return payment.StatusProcessing
	case "SUCCESS", "SUCCESSFULL", "SUCCESSFUL":
		return payment.StatusCompleted
	case "FAILED":
		return payment.StatusFailed
	case "EXPIRED":
		return payment.StatusExpired
	case "CANCELLED", "CANCELED":
		return payment.StatusCancelled
	default:
		return payment.StatusProcessing
	}
}

// Refund is not available on the Orange Money merchant API. The
// reconciliation core parks a pending refund for manual settlement.
func (a *Adapter) Refund(ctx context.Context, providerRef string, amount int64, idempotencyKey string) (string, error) {
	return "", provider.ErrRefundUnsupported
}

func (a *Adapter) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.NewInternalError("failed to marshal orange money request", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return errors.NewInternalError("failed to build orange money request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return errors.NewProviderTransientError("orange money request failed", errors.ErrCodeProviderTimeout).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewProviderTransientError("failed to read orange money response", errors.ErrCodeProviderTimeout).WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return a.classifyError(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return errors.NewInternalError("failed to decode orange money response", err)
		}
	}
	return nil
}

type apiError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

// terminalErrorCodes are payer-side failures Orange Money declares final.
var terminalErrorCodes = map[string]bool{
	"60019": true, // insufficient balance
	"60011": true, // account blocked
	"60013": true, // payer refused
}

func (a *Adapter) classifyError(statusCode int, body []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	message := apiErr.Message
	if message == "" {
		message = apiErr.Description
	}
	if message == "" {
		message = fmt.Sprintf("orange money returned status %d", statusCode)
	}

	switch {
	case terminalErrorCodes[apiErr.Code]:
		return errors.NewProviderTerminalError(message, errors.ErrCodeProviderDeclined)
	case statusCode == http.StatusTooManyRequests:
		return errors.NewProviderTransientError(message, errors.ErrCodeProviderRateLimited)
	case statusCode == http.StatusRequestTimeout || statusCode >= 500:
		return errors.NewProviderTransientError(message, errors.ErrCodeProviderTimeout)
	default:
		return errors.NewValidationError(message, errors.ErrCodeProviderRejected)
	}
}
