package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	internal "github.com/sunutaxe/payment-service/internal"
	paymentmodel "github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
	paymentPkg "github.com/sunutaxe/payment-service/internal/payment"
	"github.com/sunutaxe/payment-service/internal/transport"
)

// Mock payment service for handler testing
type mockPaymentService struct {
	initiateResponse *paymentPkg.InitiateResponse
	initiateErr      error
	retryCalls       int
	initiateCalls    int

	statusResponse *paymentPkg.StatusResponse
	statusErr      error

	webhookResult *paymentPkg.WebhookResult
	webhookErr    error

	refundResponse *paymentPkg.RefundResponse
	refundErr      error

	payment    *paymentmodel.Payment
	getErr     error
	payments   []*paymentmodel.Payment
	preference paymentmodel.Provider
	prefErr    error
}

func (m *mockPaymentService) InitiatePayment(ctx context.Context, req *paymentPkg.InitiateRequest) (*paymentPkg.InitiateResponse, error) {
	m.initiateCalls++
	return m.initiateResponse, m.initiateErr
}

func (m *mockPaymentService) InitiateWithRetry(ctx context.Context, req *paymentPkg.InitiateRequest) (*paymentPkg.InitiateResponse, error) {
	m.retryCalls++
	return m.initiateResponse, m.initiateErr
}

func (m *mockPaymentService) CheckStatus(ctx context.Context, prov paymentmodel.Provider, reference string) (*paymentPkg.StatusResponse, error) {
	return m.statusResponse, m.statusErr
}

func (m *mockPaymentService) HandleWebhook(ctx context.Context, prov paymentmodel.Provider, rawBody []byte, headers http.Header) (*paymentPkg.WebhookResult, error) {
	return m.webhookResult, m.webhookErr
}

func (m *mockPaymentService) ProcessRefund(ctx context.Context, req *paymentPkg.RefundRequest) (*paymentPkg.RefundResponse, error) {
	return m.refundResponse, m.refundErr
}

func (m *mockPaymentService) GetPayment(ctx context.Context, id string) (*paymentmodel.Payment, error) {
	return m.payment, m.getErr
}

func (m *mockPaymentService) ListPayments(ctx context.Context, payerID string, status paymentmodel.Status, offset, limit int) ([]*paymentmodel.Payment, error) {
	return m.payments, nil
}

func (m *mockPaymentService) GetPreferredProvider(ctx context.Context, payerID string) (paymentmodel.Provider, error) {
	return m.preference, m.prefErr
}

func (m *mockPaymentService) SetPreferredProvider(ctx context.Context, payerID string, prov paymentmodel.Provider) error {
	return m.prefErr
}

var _ = Describe("PaymentHandler", func() {
	var (
		handler     *paymentPkg.Handler
		mockService *mockPaymentService
		router      *chi.Mux
	)

	authed := func(r *http.Request) *http.Request {
		return r.WithContext(internal.ContextWithClientID(r.Context(), "collection-bot"))
	}

	BeforeEach(func() {
		mockService = &mockPaymentService{}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		handler = paymentPkg.NewHandler(mockService, logger)

		router = chi.NewRouter()
		router.Post("/payments", handler.InitiatePayment)
		router.Post("/payments/retry", handler.InitiatePaymentWithRetry)
		router.Get("/payments/{paymentID}", handler.GetPayment)
		router.Get("/payments/{paymentID}/status", handler.CheckStatus)
		router.Post("/payments/{paymentID}/refund", handler.ProcessRefund)
		router.Get("/payers/{payerID}/provider", handler.GetPreferredProvider)
		router.Put("/payers/{payerID}/provider", handler.SetPreferredProvider)
	})

	Describe("InitiatePayment", func() {
		Context("with an authenticated client", func() {
			It("returns 201 with the checkout session", func() {
				// Given
				mockService.initiateResponse = &paymentPkg.InitiateResponse{
					PaymentID: "pay-1",
					Provider:  "wave",
					Status:    "pending",
					Amount:    5000,
					Currency:  "XOF",
					LaunchURL: "https://pay.example.test/launch",
				}
				body, _ := json.Marshal(map[string]interface{}{
					"amount":      5000,
					"provider":    "wave",
					"payer_id":    "payer-1",
					"payer_phone": "771234567",
				})

				// When
				req := authed(httptest.NewRequest("POST", "/payments", bytes.NewReader(body)))
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				// Then
				Expect(rec.Code).To(Equal(http.StatusCreated))
				var resp paymentPkg.InitiateResponse
				Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
				Expect(resp.PaymentID).To(Equal("pay-1"))
				Expect(resp.LaunchURL).ToNot(BeEmpty())
				Expect(mockService.initiateCalls).To(Equal(1))
			})
		})

		Context("without an authenticated client", func() {
			It("returns 401 before touching the service", func() {
				// When
				req := httptest.NewRequest("POST", "/payments", bytes.NewReader([]byte(`{}`)))
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				// Then
				Expect(rec.Code).To(Equal(http.StatusUnauthorized))
				Expect(mockService.initiateCalls).To(Equal(0))
			})
		})

		Context("with a malformed body", func() {
			It("returns 400", func() {
				req := authed(httptest.NewRequest("POST", "/payments", bytes.NewReader([]byte(`not json`))))
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				Expect(rec.Code).To(Equal(http.StatusBadRequest))
			})
		})

		Context("when the service rejects the request", func() {
			It("maps the error taxonomy to the response status", func() {
				mockService.initiateErr = internal.ErrDuplicateClientReference

				body, _ := json.Marshal(map[string]interface{}{"amount": 5000})
				req := authed(httptest.NewRequest("POST", "/payments", bytes.NewReader(body)))
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				Expect(rec.Code).To(Equal(http.StatusConflict))
			})
		})
	})

	Describe("InitiatePaymentWithRetry", func() {
		It("routes to the retrying initiation", func() {
			mockService.initiateResponse = &paymentPkg.InitiateResponse{PaymentID: "pay-1", Status: "pending"}

			body, _ := json.Marshal(map[string]interface{}{"amount": 5000})
			req := authed(httptest.NewRequest("POST", "/payments/retry", bytes.NewReader(body)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(mockService.retryCalls).To(Equal(1))
			Expect(mockService.initiateCalls).To(Equal(0))
		})
	})

	Describe("CheckStatus", func() {
		It("returns the status payload", func() {
			now := time.Now().UTC()
			mockService.statusResponse = &paymentPkg.StatusResponse{
				PaymentID:   "pay-1",
				Provider:    "wave",
				Status:      "completed",
				Amount:      5000,
				Currency:    "XOF",
				CompletedAt: &now,
			}

			req := authed(httptest.NewRequest("GET", "/payments/pay-1/status", nil))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp paymentPkg.StatusResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Status).To(Equal("completed"))
		})

		It("returns 404 for an unknown payment", func() {
			mockService.statusErr = internal.ErrPaymentNotFound

			req := authed(httptest.NewRequest("GET", "/payments/missing/status", nil))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("ProcessRefund", func() {
		It("returns the refund outcome", func() {
			mockService.refundResponse = &paymentPkg.RefundResponse{
				RefundID:  "ref-1",
				PaymentID: "pay-1",
				Amount:    5000,
				Status:    "completed",
			}

			body, _ := json.Marshal(map[string]interface{}{"reason": "overcharge"})
			req := authed(httptest.NewRequest("POST", "/payments/pay-1/refund", bytes.NewReader(body)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp paymentPkg.RefundResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.RefundID).To(Equal("ref-1"))
		})

		It("maps refund validation errors to 400", func() {
			mockService.refundErr = internal.ErrRefundAmountExceeded

			body, _ := json.Marshal(map[string]interface{}{"amount": 9999999})
			req := authed(httptest.NewRequest("POST", "/payments/pay-1/refund", bytes.NewReader(body)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Provider preference endpoints", func() {
		It("returns the payer's provider", func() {
			mockService.preference = paymentmodel.ProviderOrangeMoney

			req := authed(httptest.NewRequest("GET", "/payers/payer-1/provider", nil))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["provider"]).To(Equal("orange_money"))
		})

		It("rejects an unknown provider on update", func() {
			body, _ := json.Marshal(map[string]string{"provider": "mtn"})
			req := authed(httptest.NewRequest("PUT", "/payers/payer-1/provider", bytes.NewReader(body)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})
})

var _ = Describe("WebhookHandler", func() {
	var (
		handler     *paymentPkg.WebhookHandler
		mockService *mockPaymentService
		router      *chi.Mux
	)

	BeforeEach(func() {
		mockService = &mockPaymentService{}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		handler = paymentPkg.NewWebhookHandler(&transport.BaseHandler{Logger: logger}, mockService, logger)

		router = chi.NewRouter()
		router.Post("/webhooks/wave", handler.HandleWaveCallback)
		router.Post("/webhooks/orange-money", handler.HandleOrangeMoneyCallback)
	})

	Context("when the event applies cleanly", func() {
		It("acknowledges with processed", func() {
			// Given
			mockService.webhookResult = &paymentPkg.WebhookResult{
				PaymentID:     "pay-1",
				Status:        "completed",
				StatusUpdated: true,
			}

			// When
			req := httptest.NewRequest("POST", "/webhooks/wave", bytes.NewReader([]byte(`{"id":"evt-1"}`)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			// Then
			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp paymentPkg.WebhookResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Status).To(Equal("processed"))
			Expect(resp.PaymentID).To(Equal("pay-1"))
		})
	})

	Context("when the event was already applied", func() {
		It("acknowledges with already_processed", func() {
			mockService.webhookResult = &paymentPkg.WebhookResult{
				PaymentID:     "pay-1",
				Status:        "completed",
				StatusUpdated: false,
			}

			req := httptest.NewRequest("POST", "/webhooks/wave", bytes.NewReader([]byte(`{"id":"evt-1"}`)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp paymentPkg.WebhookResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Status).To(Equal("already_processed"))
		})
	})

	Context("when the signature does not verify", func() {
		It("returns a generic 401", func() {
			mockService.webhookErr = internal.NewUnauthorizedError("bad signature", internal.ErrCodeWebhookInvalid)

			req := httptest.NewRequest("POST", "/webhooks/orange-money", bytes.NewReader([]byte(`{}`)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Body.String()).To(ContainSubstring("invalid signature"))
			Expect(rec.Body.String()).ToNot(ContainSubstring("payment"))
		})
	})

	Context("when the payment is unknown to this ledger", func() {
		It("acknowledges with ignored so the provider stops redelivering", func() {
			mockService.webhookErr = internal.ErrPaymentNotFound

			req := httptest.NewRequest("POST", "/webhooks/wave", bytes.NewReader([]byte(`{}`)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp paymentPkg.WebhookResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Status).To(Equal("ignored"))
		})
	})

	Context("when processing fails internally", func() {
		It("returns 500 so the provider redelivers", func() {
			mockService.webhookErr = internal.NewInternalError("ledger unavailable", nil)

			req := httptest.NewRequest("POST", "/webhooks/wave", bytes.NewReader([]byte(`{}`)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})
})
