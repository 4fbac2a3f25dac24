package postgres

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	internal "github.com/sunutaxe/payment-service/internal"
	paymentmodel "github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
	paymentpkg "github.com/sunutaxe/payment-service/internal/payment"
)

func TestLedgerRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ledger Repository Suite")
}

var _ = Describe("LedgerRepository", func() {
	var (
		db   *gorm.DB
		repo *LedgerRepository
	)

	newPayment := func(id, clientRef string) *paymentmodel.Payment {
		providerRef := "wave-" + id
		return &paymentmodel.Payment{
			ID:          id,
			Provider:    paymentmodel.ProviderWave,
			ProviderRef: &providerRef,
			ClientRef:   clientRef,
			Amount:      5000,
			Currency:    "XOF",
			Status:      paymentmodel.StatusPending,
			PayerID:     "payer-1",
			PayerPhone:  "+221771234567",
			Metadata: paymentmodel.Metadata{
				SessionID: "sess-" + id,
			},
			InitiatedAt: time.Now().UTC(),
		}
	}

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).ToNot(HaveOccurred())

		err = db.AutoMigrate(
			&paymentmodel.Payment{},
			&paymentmodel.Refund{},
			&paymentmodel.Receipt{},
			&paymentmodel.ProviderPreference{},
		)
		Expect(err).ToNot(HaveOccurred())

		repo = NewLedgerRepository(db)
	})

	Describe("Create", func() {
		It("persists a payment and reads it back", func() {
			// Given
			p := newPayment("pay-1", "ref-1")

			// When
			err := repo.Create(p)

			// Then
			Expect(err).ToNot(HaveOccurred())

			loaded, err := repo.GetByID("pay-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded.ClientRef).To(Equal("ref-1"))
			Expect(loaded.Metadata.SessionID).To(Equal("sess-pay-1"))
			Expect(loaded.Version).To(Equal(int64(0)))
		})

		It("rejects a second payment with the same client reference", func() {
			Expect(repo.Create(newPayment("pay-1", "ref-1"))).To(Succeed())

			err := repo.Create(newPayment("pay-2", "ref-1"))

			Expect(err).To(MatchError(internal.ErrDuplicateClientReference))
		})
	})

	Describe("Lookups", func() {
		BeforeEach(func() {
			Expect(repo.Create(newPayment("pay-1", "ref-1"))).To(Succeed())
		})

		It("finds a payment by provider reference", func() {
			loaded, err := repo.GetByProviderRef(paymentmodel.ProviderWave, "wave-pay-1")

			Expect(err).ToNot(HaveOccurred())
			Expect(loaded.ID).To(Equal("pay-1"))
		})

		It("finds a payment by client reference", func() {
			loaded, err := repo.GetByClientRef("ref-1")

			Expect(err).ToNot(HaveOccurred())
			Expect(loaded.ID).To(Equal("pay-1"))
		})

		It("returns not found for unknown identifiers", func() {
			_, err := repo.GetByID("missing")

			Expect(err).To(MatchError(internal.ErrPaymentNotFound))
		})

		It("filters listings by payer and status", func() {
			other := newPayment("pay-2", "ref-2")
			other.PayerID = "payer-2"
			Expect(repo.Create(other)).To(Succeed())

			payments, err := repo.List("payer-1", paymentmodel.StatusPending, 0, 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(payments).To(HaveLen(1))
			Expect(payments[0].ID).To(Equal("pay-1"))
		})
	})

	Describe("UpdateStatusCAS", func() {
		BeforeEach(func() {
			Expect(repo.Create(newPayment("pay-1", "ref-1"))).To(Succeed())
		})

		It("applies the update and bumps the version", func() {
			// Given
			p, err := repo.GetByID("pay-1")
			Expect(err).ToNot(HaveOccurred())

			now := time.Now().UTC()
			metadata := p.Metadata
			metadata.ProviderStatus = "succeeded"
			metadata.RecordEvent("evt-1")

			// When
			err = repo.UpdateStatusCAS(p.ID, p.Version, paymentpkg.StatusUpdate{
				Status:      paymentmodel.StatusCompleted,
				Metadata:    metadata,
				CompletedAt: &now,
			})

			// Then
			Expect(err).ToNot(HaveOccurred())

			updated, err := repo.GetByID("pay-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(updated.Status).To(Equal(paymentmodel.StatusCompleted))
			Expect(updated.Version).To(Equal(p.Version + 1))
			Expect(updated.CompletedAt).ToNot(BeNil())
			Expect(updated.Metadata.EventApplied("evt-1")).To(BeTrue())
		})

		It("rejects a write carrying a stale version", func() {
			// Given
			p, err := repo.GetByID("pay-1")
			Expect(err).ToNot(HaveOccurred())

			Expect(repo.UpdateStatusCAS(p.ID, p.Version, paymentpkg.StatusUpdate{
				Status:   paymentmodel.StatusProcessing,
				Metadata: p.Metadata,
			})).To(Succeed())

			// When the stale version is replayed
			err = repo.UpdateStatusCAS(p.ID, p.Version, paymentpkg.StatusUpdate{
				Status:   paymentmodel.StatusFailed,
				Metadata: p.Metadata,
			})

			// Then
			Expect(err).To(MatchError(paymentpkg.ErrVersionConflict))

			updated, _ := repo.GetByID("pay-1")
			Expect(updated.Status).To(Equal(paymentmodel.StatusProcessing))
		})
	})

	Describe("AttachReceipt", func() {
		BeforeEach(func() {
			Expect(repo.Create(newPayment("pay-1", "ref-1"))).To(Succeed())
		})

		It("back-links the receipt once and only once", func() {
			Expect(repo.AttachReceipt("pay-1", "RCU-2026-AAA", "https://sunutaxe.test/receipts/RCU-2026-AAA")).To(Succeed())
			Expect(repo.AttachReceipt("pay-1", "RCU-2026-BBB", "https://sunutaxe.test/receipts/RCU-2026-BBB")).To(Succeed())

			loaded, err := repo.GetByID("pay-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(*loaded.ReceiptNumber).To(Equal("RCU-2026-AAA"))
		})
	})

	Describe("Refunds", func() {
		BeforeEach(func() {
			Expect(repo.Create(newPayment("pay-1", "ref-1"))).To(Succeed())
		})

		It("sums pending and completed refunds but not failed ones", func() {
			// Given
			Expect(repo.CreateRefund(&paymentmodel.Refund{
				ID: "rf-1", PaymentID: "pay-1", Amount: 1000, Status: paymentmodel.RefundStatusCompleted,
			}, 0)).To(Succeed())
			Expect(repo.CreateRefund(&paymentmodel.Refund{
				ID: "rf-2", PaymentID: "pay-1", Amount: 2000, Status: paymentmodel.RefundStatusPending,
			}, 1)).To(Succeed())
			Expect(repo.CreateRefund(&paymentmodel.Refund{
				ID: "rf-3", PaymentID: "pay-1", Amount: 4000, Status: paymentmodel.RefundStatusFailed,
			}, 2)).To(Succeed())

			// When
			total, err := repo.SumActiveRefunds("pay-1")

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(Equal(int64(3000)))
		})

		It("bumps the payment version on every refund reservation", func() {
			Expect(repo.CreateRefund(&paymentmodel.Refund{
				ID: "rf-1", PaymentID: "pay-1", Amount: 1000, Status: paymentmodel.RefundStatusPending,
			}, 0)).To(Succeed())

			loaded, err := repo.GetByID("pay-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded.Version).To(Equal(int64(1)))
		})

		It("rejects a refund reservation carrying a stale payment version", func() {
			// Given a reservation that advanced the version
			Expect(repo.CreateRefund(&paymentmodel.Refund{
				ID: "rf-1", PaymentID: "pay-1", Amount: 3000, Status: paymentmodel.RefundStatusPending,
			}, 0)).To(Succeed())

			// When a concurrent caller reuses the old version
			err := repo.CreateRefund(&paymentmodel.Refund{
				ID: "rf-2", PaymentID: "pay-1", Amount: 3000, Status: paymentmodel.RefundStatusPending,
			}, 0)

			// Then the insert is rolled back with the conflict
			Expect(err).To(MatchError(paymentpkg.ErrVersionConflict))

			refunds, err := repo.GetRefundsByPayment("pay-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(refunds).To(HaveLen(1))

			total, err := repo.SumActiveRefunds("pay-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(Equal(int64(3000)))
		})

		It("updates a refund status with a processed timestamp", func() {
			Expect(repo.CreateRefund(&paymentmodel.Refund{
				ID: "rf-1", PaymentID: "pay-1", Amount: 1000, Status: paymentmodel.RefundStatusPending,
			}, 0)).To(Succeed())

			providerRef := "wave-refund-1"
			Expect(repo.UpdateRefundStatus("rf-1", paymentmodel.RefundStatusCompleted, &providerRef)).To(Succeed())

			refunds, err := repo.GetRefundsByPayment("pay-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(refunds).To(HaveLen(1))
			Expect(refunds[0].Status).To(Equal(paymentmodel.RefundStatusCompleted))
			Expect(refunds[0].ProcessedAt).ToNot(BeNil())
			Expect(*refunds[0].ProviderRef).To(Equal("wave-refund-1"))
		})
	})

	Describe("Receipts", func() {
		It("stores and retrieves a receipt by payment and number", func() {
			receipt := &paymentmodel.Receipt{
				Number:           "RCU-2026-AAA",
				PaymentID:        "pay-1",
				VerificationCode: "ABCDEF123456",
				Amount:           5000,
				Currency:         "XOF",
				PayerID:          "payer-1",
				IssuedAt:         time.Now().UTC(),
			}

			Expect(repo.CreateReceipt(receipt)).To(Succeed())

			byPayment, err := repo.GetReceiptByPayment("pay-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(byPayment.Number).To(Equal("RCU-2026-AAA"))

			byNumber, err := repo.GetReceiptByNumber("RCU-2026-AAA")
			Expect(err).ToNot(HaveOccurred())
			Expect(byNumber.PaymentID).To(Equal("pay-1"))
		})

		It("returns nil without an error when no receipt exists", func() {
			receipt, err := repo.GetReceiptByPayment("missing")

			Expect(err).ToNot(HaveOccurred())
			Expect(receipt).To(BeNil())
		})
	})

	Describe("Provider preferences", func() {
		It("returns nil when the payer has no preference", func() {
			pref, err := repo.GetPreference("payer-1")

			Expect(err).ToNot(HaveOccurred())
			Expect(pref).To(BeNil())
		})

		It("round-trips and overwrites a preference", func() {
			Expect(repo.SetPreference(&paymentmodel.ProviderPreference{
				PayerID:  "payer-1",
				Provider: paymentmodel.ProviderWave,
			})).To(Succeed())
			Expect(repo.SetPreference(&paymentmodel.ProviderPreference{
				PayerID:  "payer-1",
				Provider: paymentmodel.ProviderOrangeMoney,
			})).To(Succeed())

			pref, err := repo.GetPreference("payer-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(pref.Provider).To(Equal(paymentmodel.ProviderOrangeMoney))
		})
	})
})
