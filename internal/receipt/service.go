// Package receipt issues immutable tax receipts for completed payments.
// A receipt snapshots the payer and liability details at issuance; later
// changes to the payment or the payer never alter an issued receipt.
package receipt

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	errors "github.com/sunutaxe/payment-service/internal"
	paymentmodel "github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
)

// verificationCodeLen is the truncated base32 length of verification codes.
const verificationCodeLen = 12

// Repository is the slice of the payment ledger store the assembler needs.
type Repository interface {
	GetByID(id string) (*paymentmodel.Payment, error)
	CreateReceipt(receipt *paymentmodel.Receipt) error
	GetReceiptByPayment(paymentID string) (*paymentmodel.Receipt, error)
	GetReceiptByNumber(number string) (*paymentmodel.Receipt, error)
	AttachReceipt(paymentID, receiptNumber, receiptURL string) error
}

// PayerDirectory resolves payer and property details for the receipt
// snapshot. Lookups are best effort; a missing record issues a receipt
// with the fields the ledger already holds.
type PayerDirectory interface {
	Lookup(ctx context.Context, payerID string) (*PayerDetails, error)
}

type PayerDetails struct {
	Name            string
	PropertyID      string
	PropertyAddress string
	TaxPeriod       string
}

type Config struct {
	Secret       string
	NumberPrefix string
	BaseURL      string
}

type Service struct {
	repo      Repository
	directory PayerDirectory
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo Repository, directory PayerDirectory, cfg Config, logger *slog.Logger) *Service {
	if cfg.NumberPrefix == "" {
		cfg.NumberPrefix = "RCU"
	}
	return &Service{
		repo:      repo,
		directory: directory,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// GenerateReceipt issues the receipt for a completed payment. The call is
// idempotent: the receipt already on file is returned unchanged no matter
// how often completion is observed.
func (s *Service) GenerateReceipt(ctx context.Context, paymentID string) (*paymentmodel.Receipt, error) {
	existing, err := s.repo.GetReceiptByPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Repair the payment back-link if an earlier attach attempt was
		// lost; the update only touches rows with no receipt_number yet.
		if err := s.repo.AttachReceipt(existing.PaymentID, existing.Number, s.receiptURL(existing.Number)); err != nil {
			s.logger.Error("failed to back-link receipt onto payment",
				"payment_id", existing.PaymentID,
				"receipt_number", existing.Number,
				"error", err)
		}
		return existing, nil
	}

	p, err := s.repo.GetByID(paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != paymentmodel.StatusCompleted && p.Status != paymentmodel.StatusRefunded {
		return nil, errors.NewValidationError("receipt requires a completed payment", errors.ErrCodeReceiptNotAvailable)
	}

	receipt := &paymentmodel.Receipt{
		Number:           s.newNumber(),
		PaymentID:        p.ID,
		VerificationCode: s.VerificationCode(p.ID, p.Amount),
		Amount:           p.Amount,
		Currency:         p.Currency,
		PayerID:          p.PayerID,
		PayerPhone:       p.PayerPhone,
		IssuedAt:         s.now().UTC(),
	}

	if s.directory != nil {
		details, err := s.directory.Lookup(ctx, p.PayerID)
		if err != nil {
			s.logger.Warn("payer directory lookup failed, issuing receipt without details",
				"payment_id", p.ID,
				"payer_id", p.PayerID,
				"error", err)
		} else if details != nil {
			receipt.PayerName = details.Name
			receipt.PropertyID = details.PropertyID
			receipt.PropertyAddress = details.PropertyAddress
			receipt.TaxPeriod = details.TaxPeriod
		}
	}

	if err := s.repo.CreateReceipt(receipt); err != nil {
		// A concurrent completion observer may have issued first; the
		// payment_id unique index makes exactly one receipt win.
		if again, getErr := s.repo.GetReceiptByPayment(paymentID); getErr == nil && again != nil {
			return again, nil
		}
		return nil, err
	}

	if err := s.repo.AttachReceipt(p.ID, receipt.Number, s.receiptURL(receipt.Number)); err != nil {
		s.logger.Error("failed to back-link receipt onto payment",
			"payment_id", p.ID,
			"receipt_number", receipt.Number,
			"error", err)
	}

	s.logger.Info("receipt issued",
		"payment_id", p.ID,
		"receipt_number", receipt.Number,
		"amount", receipt.Amount)

	return receipt, nil
}

// GetReceipt returns the receipt by its public number.
func (s *Service) GetReceipt(ctx context.Context, number string) (*paymentmodel.Receipt, error) {
	receipt, err := s.repo.GetReceiptByNumber(number)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, errors.NewNotFoundError("receipt not found", errors.ErrCodeReceiptNotAvailable)
	}
	return receipt, nil
}

// Verify checks a presented verification code against the receipt. The
// code is a deterministic function of the payment and the service secret,
// so any instance holding the secret verifies without extra state.
func (s *Service) Verify(ctx context.Context, number, code string) (bool, error) {
	receipt, err := s.GetReceipt(ctx, number)
	if err != nil {
		return false, err
	}
	expected := s.VerificationCode(receipt.PaymentID, receipt.Amount)
	return hmac.Equal([]byte(expected), []byte(strings.ToUpper(strings.TrimSpace(code)))), nil
}

// VerificationCode computes HMAC-SHA256 over "<paymentID>:<amount>",
// truncated and base32 encoded for reading over the phone.
func (s *Service) VerificationCode(paymentID string, amount int64) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.Secret))
	fmt.Fprintf(mac, "%s:%d", paymentID, amount)
	sum := mac.Sum(nil)
	code := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum)
	return code[:verificationCodeLen]
}

func (s *Service) newNumber() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("%s-%d-%s", s.cfg.NumberPrefix, s.now().UTC().Year(), id[:10])
}

func (s *Service) receiptURL(number string) string {
	if s.cfg.BaseURL == "" {
		return ""
	}
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/receipts/" + number
}
