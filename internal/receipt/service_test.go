package receipt

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	internal "github.com/sunutaxe/payment-service/internal"
	paymentmodel "github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
)

func TestReceiptService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Receipt Service Suite")
}

// Mock repository for receipt testing
type mockReceiptRepository struct {
	payments map[string]*paymentmodel.Payment
	receipts map[string]*paymentmodel.Receipt

	createErr   error
	attachErr   error
	attachCalls int

	// winnerOnConflict appears in the store when CreateReceipt fails,
	// simulating a concurrent issuer winning the unique index.
	winnerOnConflict *paymentmodel.Receipt
}

func newMockReceiptRepository() *mockReceiptRepository {
	return &mockReceiptRepository{
		payments: make(map[string]*paymentmodel.Payment),
		receipts: make(map[string]*paymentmodel.Receipt),
	}
}

func (m *mockReceiptRepository) GetByID(id string) (*paymentmodel.Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, internal.ErrPaymentNotFound
	}
	return p, nil
}

func (m *mockReceiptRepository) CreateReceipt(receipt *paymentmodel.Receipt) error {
	if m.createErr != nil {
		if m.winnerOnConflict != nil {
			m.receipts[m.winnerOnConflict.PaymentID] = m.winnerOnConflict
		}
		return m.createErr
	}
	if _, exists := m.receipts[receipt.PaymentID]; exists {
		return errors.New("unique constraint violation")
	}
	m.receipts[receipt.PaymentID] = receipt
	return nil
}

func (m *mockReceiptRepository) GetReceiptByPayment(paymentID string) (*paymentmodel.Receipt, error) {
	return m.receipts[paymentID], nil
}

func (m *mockReceiptRepository) GetReceiptByNumber(number string) (*paymentmodel.Receipt, error) {
	for _, r := range m.receipts {
		if r.Number == number {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockReceiptRepository) AttachReceipt(paymentID, receiptNumber, receiptURL string) error {
	m.attachCalls++
	return m.attachErr
}

// Mock payer directory for receipt testing
type mockPayerDirectory struct {
	details *PayerDetails
	err     error
}

func (m *mockPayerDirectory) Lookup(ctx context.Context, payerID string) (*PayerDetails, error) {
	return m.details, m.err
}

var _ = Describe("ReceiptService", func() {
	var (
		service   *Service
		mockRepo  *mockReceiptRepository
		directory *mockPayerDirectory
		ctx       context.Context
	)

	addPayment := func(id string, status paymentmodel.Status) *paymentmodel.Payment {
		now := time.Now().UTC()
		p := &paymentmodel.Payment{
			ID:          id,
			Provider:    paymentmodel.ProviderWave,
			ClientRef:   "ref-" + id,
			Amount:      5000,
			Currency:    "XOF",
			Status:      status,
			PayerID:     "payer-1",
			PayerPhone:  "+221771234567",
			InitiatedAt: now,
		}
		if status == paymentmodel.StatusCompleted || status == paymentmodel.StatusRefunded {
			p.CompletedAt = &now
		}
		mockRepo.payments[id] = p
		return p
	}

	BeforeEach(func() {
		ctx = context.Background()
		mockRepo = newMockReceiptRepository()
		directory = &mockPayerDirectory{
			details: &PayerDetails{
				Name:            "Awa Ndiaye",
				PropertyID:      "prop-17",
				PropertyAddress: "Rue 12, Medina, Dakar",
				TaxPeriod:       "2026-Q1",
			},
		}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = NewService(mockRepo, directory, Config{
			Secret:  "receipt-secret-key-0123",
			BaseURL: "https://sunutaxe.test",
		}, logger)
	})

	Describe("GenerateReceipt", func() {
		Context("for a completed payment", func() {
			It("issues a receipt with the snapshot and verification code", func() {
				// Given
				addPayment("pay-1", paymentmodel.StatusCompleted)

				// When
				receipt, err := service.GenerateReceipt(ctx, "pay-1")

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(receipt.Number).To(HavePrefix("RCU-"))
				Expect(receipt.Amount).To(Equal(int64(5000)))
				Expect(receipt.Currency).To(Equal("XOF"))
				Expect(receipt.PayerName).To(Equal("Awa Ndiaye"))
				Expect(receipt.PropertyID).To(Equal("prop-17"))
				Expect(receipt.TaxPeriod).To(Equal("2026-Q1"))
				Expect(receipt.VerificationCode).To(HaveLen(12))
				Expect(mockRepo.attachCalls).To(Equal(1))
			})

			It("embeds the issuance year in the receipt number", func() {
				addPayment("pay-1", paymentmodel.StatusCompleted)

				receipt, err := service.GenerateReceipt(ctx, "pay-1")

				Expect(err).ToNot(HaveOccurred())
				parts := strings.Split(receipt.Number, "-")
				Expect(parts).To(HaveLen(3))
				Expect(parts[1]).To(HaveLen(4))
			})

			It("returns the same receipt on repeated calls", func() {
				// Given
				addPayment("pay-1", paymentmodel.StatusCompleted)
				first, err := service.GenerateReceipt(ctx, "pay-1")
				Expect(err).ToNot(HaveOccurred())

				// When
				second, err := service.GenerateReceipt(ctx, "pay-1")

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(second.Number).To(Equal(first.Number))
				Expect(mockRepo.receipts).To(HaveLen(1))
			})

			It("repairs a lost payment back-link on the next call", func() {
				// Given an issuance whose attach was lost
				addPayment("pay-1", paymentmodel.StatusCompleted)
				mockRepo.attachErr = errors.New("connection reset")
				first, err := service.GenerateReceipt(ctx, "pay-1")
				Expect(err).ToNot(HaveOccurred())
				Expect(mockRepo.attachCalls).To(Equal(1))

				// When the store recovers and completion is observed again
				mockRepo.attachErr = nil
				second, err := service.GenerateReceipt(ctx, "pay-1")

				// Then the existing receipt is re-attached
				Expect(err).ToNot(HaveOccurred())
				Expect(second.Number).To(Equal(first.Number))
				Expect(mockRepo.attachCalls).To(Equal(2))
			})

			It("issues without payer details when the directory fails", func() {
				addPayment("pay-1", paymentmodel.StatusCompleted)
				directory.details = nil
				directory.err = errors.New("directory unavailable")

				receipt, err := service.GenerateReceipt(ctx, "pay-1")

				Expect(err).ToNot(HaveOccurred())
				Expect(receipt.PayerName).To(BeEmpty())
				Expect(receipt.PayerPhone).To(Equal("+221771234567"))
			})

			It("returns the winner's receipt when the insert loses a race", func() {
				// Given a concurrent completion observer that wins the insert
				addPayment("pay-1", paymentmodel.StatusCompleted)
				mockRepo.createErr = errors.New("unique constraint violation")
				mockRepo.winnerOnConflict = &paymentmodel.Receipt{
					Number:    "RCU-2026-WINNER",
					PaymentID: "pay-1",
				}

				// When
				receipt, err := service.GenerateReceipt(ctx, "pay-1")

				// Then the receipt already on file is returned
				Expect(err).ToNot(HaveOccurred())
				Expect(receipt.Number).To(Equal("RCU-2026-WINNER"))
			})
		})

		Context("for a refunded payment", func() {
			It("still serves the receipt path", func() {
				addPayment("pay-1", paymentmodel.StatusRefunded)

				receipt, err := service.GenerateReceipt(ctx, "pay-1")

				Expect(err).ToNot(HaveOccurred())
				Expect(receipt).ToNot(BeNil())
			})
		})

		Context("for a payment that is not settled", func() {
			It("refuses to issue", func() {
				addPayment("pay-1", paymentmodel.StatusPending)

				_, err := service.GenerateReceipt(ctx, "pay-1")

				appErr, ok := internal.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(internal.ErrCodeReceiptNotAvailable))
			})
		})
	})

	Describe("VerificationCode", func() {
		It("is deterministic for the same payment and amount", func() {
			first := service.VerificationCode("pay-1", 5000)
			second := service.VerificationCode("pay-1", 5000)

			Expect(first).To(Equal(second))
			Expect(first).To(HaveLen(12))
		})

		It("differs across payments and amounts", func() {
			base := service.VerificationCode("pay-1", 5000)

			Expect(service.VerificationCode("pay-2", 5000)).ToNot(Equal(base))
			Expect(service.VerificationCode("pay-1", 5001)).ToNot(Equal(base))
		})
	})

	Describe("Verify", func() {
		var issued *paymentmodel.Receipt

		BeforeEach(func() {
			addPayment("pay-1", paymentmodel.StatusCompleted)
			var err error
			issued, err = service.GenerateReceipt(ctx, "pay-1")
			Expect(err).ToNot(HaveOccurred())
		})

		It("accepts the issued code", func() {
			valid, err := service.Verify(ctx, issued.Number, issued.VerificationCode)

			Expect(err).ToNot(HaveOccurred())
			Expect(valid).To(BeTrue())
		})

		It("accepts the code with spacing and lower case", func() {
			presented := "  " + strings.ToLower(issued.VerificationCode) + " "

			valid, err := service.Verify(ctx, issued.Number, presented)

			Expect(err).ToNot(HaveOccurred())
			Expect(valid).To(BeTrue())
		})

		It("rejects a wrong code", func() {
			valid, err := service.Verify(ctx, issued.Number, "WRONGCODE123")

			Expect(err).ToNot(HaveOccurred())
			Expect(valid).To(BeFalse())
		})

		It("returns not found for an unknown receipt number", func() {
			_, err := service.Verify(ctx, "RCU-2026-NOPE", "ANYCODE")

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeReceiptNotAvailable))
		})
	})

	Describe("GetReceipt", func() {
		It("returns an issued receipt by number", func() {
			addPayment("pay-1", paymentmodel.StatusCompleted)
			issued, err := service.GenerateReceipt(ctx, "pay-1")
			Expect(err).ToNot(HaveOccurred())

			receipt, err := service.GetReceipt(ctx, issued.Number)

			Expect(err).ToNot(HaveOccurred())
			Expect(receipt.PaymentID).To(Equal("pay-1"))
		})
	})
})
