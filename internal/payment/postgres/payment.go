package postgres

import (
	"errors"
	"time"

	internal "github.com/sunutaxe/payment-service/internal"
	paymentmodel "github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
	paymentpkg "github.com/sunutaxe/payment-service/internal/payment"
	"gorm.io/gorm"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create inserts a new payment row. The unique index on client_ref is the
// dedup boundary that makes retried initiations safe; a conflict surfaces
// as ErrDuplicateClientReference rather than a second charge.
func (r *LedgerRepository) Create(p *paymentmodel.Payment) error {
	var existing paymentmodel.Payment
	err := r.db.Where("client_ref = ?", p.ClientRef).First(&existing).Error
	if err == nil {
		return internal.ErrDuplicateClientReference
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return internal.NewInternalError("failed to check client reference", err)
	}

	if err := r.db.Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return internal.ErrDuplicateClientReference
		}
		return internal.NewInternalError("failed to create payment", err)
	}
	return nil
}

func (r *LedgerRepository) GetByID(id string) (*paymentmodel.Payment, error) {
	var p paymentmodel.Payment
	err := r.db.Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrPaymentNotFound
	}
	if err != nil {
		return nil, internal.NewInternalError("failed to load payment", err)
	}
	return &p, nil
}

func (r *LedgerRepository) GetByProviderRef(provider paymentmodel.Provider, ref string) (*paymentmodel.Payment, error) {
	var p paymentmodel.Payment
	err := r.db.Where("provider = ? AND provider_ref = ?", provider, ref).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrPaymentNotFound
	}
	if err != nil {
		return nil, internal.NewInternalError("failed to load payment", err)
	}
	return &p, nil
}

func (r *LedgerRepository) GetByClientRef(clientRef string) (*paymentmodel.Payment, error) {
	var p paymentmodel.Payment
	err := r.db.Where("client_ref = ?", clientRef).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrPaymentNotFound
	}
	if err != nil {
		return nil, internal.NewInternalError("failed to load payment", err)
	}
	return &p, nil
}

func (r *LedgerRepository) List(payerID string, status paymentmodel.Status, offset, limit int) ([]*paymentmodel.Payment, error) {
	query := r.db.Model(&paymentmodel.Payment{}).Order("initiated_at DESC")
	if payerID != "" {
		query = query.Where("payer_id = ?", payerID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Offset(offset).Limit(limit)
	}

	var payments []*paymentmodel.Payment
	if err := query.Find(&payments).Error; err != nil {
		return nil, internal.NewInternalError("failed to list payments", err)
	}
	return payments, nil
}

// UpdateStatusCAS writes status and metadata guarded by the version the
// caller read. Zero rows updated means a concurrent writer advanced the
// row first; the caller re-reads and re-applies.
func (r *LedgerRepository) UpdateStatusCAS(id string, version int64, update paymentpkg.StatusUpdate) error {
	fields := map[string]interface{}{
		"status":     update.Status,
		"metadata":   update.Metadata,
		"version":    version + 1,
		"updated_at": time.Now().UTC(),
	}
	if update.CompletedAt != nil {
		fields["completed_at"] = *update.CompletedAt
	}
	if update.ProviderTxID != nil {
		fields["provider_tx_id"] = *update.ProviderTxID
	}
	if update.ProviderRef != nil {
		fields["provider_ref"] = *update.ProviderRef
	}

	result := r.db.Model(&paymentmodel.Payment{}).
		Where("id = ? AND version = ?", id, version).
		Updates(fields)
	if result.Error != nil {
		return internal.NewInternalError("failed to update payment", result.Error)
	}
	if result.RowsAffected == 0 {
		return paymentpkg.ErrVersionConflict
	}
	return nil
}

// AttachReceipt back-links an issued receipt onto the payment row.
func (r *LedgerRepository) AttachReceipt(paymentID, receiptNumber, receiptURL string) error {
	result := r.db.Model(&paymentmodel.Payment{}).
		Where("id = ? AND receipt_number IS NULL", paymentID).
		Updates(map[string]interface{}{
			"receipt_number": receiptNumber,
			"receipt_url":    receiptURL,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return internal.NewInternalError("failed to attach receipt", result.Error)
	}
	return nil
}

// CreateRefund reserves the refund amount against the payment: the version
// bump and the refund insert commit together, so a concurrent refund
// holding the same version loses with ErrVersionConflict instead of
// overdrawing the refundable remainder.
func (r *LedgerRepository) CreateRefund(refund *paymentmodel.Refund, paymentVersion int64) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&paymentmodel.Payment{}).
			Where("id = ? AND version = ?", refund.PaymentID, paymentVersion).
			Updates(map[string]interface{}{
				"version":    paymentVersion + 1,
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return paymentpkg.ErrVersionConflict
		}
		return tx.Create(refund).Error
	})
	if errors.Is(err, paymentpkg.ErrVersionConflict) {
		return paymentpkg.ErrVersionConflict
	}
	if err != nil {
		return internal.NewInternalError("failed to create refund", err)
	}
	return nil
}

func (r *LedgerRepository) UpdateRefundStatus(id string, status paymentmodel.RefundStatus, providerRef *string) error {
	fields := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if status == paymentmodel.RefundStatusCompleted || status == paymentmodel.RefundStatusFailed {
		now := time.Now().UTC()
		fields["processed_at"] = now
	}
	if providerRef != nil {
		fields["provider_ref"] = *providerRef
	}
	if err := r.db.Model(&paymentmodel.Refund{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return internal.NewInternalError("failed to update refund", err)
	}
	return nil
}

func (r *LedgerRepository) GetRefundsByPayment(paymentID string) ([]*paymentmodel.Refund, error) {
	var refunds []*paymentmodel.Refund
	err := r.db.Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&refunds).Error
	if err != nil {
		return nil, internal.NewInternalError("failed to list refunds", err)
	}
	return refunds, nil
}

// SumActiveRefunds totals refunds that are pending or completed; failed
// attempts do not count against the refundable amount.
func (r *LedgerRepository) SumActiveRefunds(paymentID string) (int64, error) {
	var total int64
	err := r.db.Model(&paymentmodel.Refund{}).
		Where("payment_id = ? AND status IN ?", paymentID, []paymentmodel.RefundStatus{
			paymentmodel.RefundStatusPending,
			paymentmodel.RefundStatusCompleted,
		}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, internal.NewInternalError("failed to sum refunds", err)
	}
	return total, nil
}

func (r *LedgerRepository) CreateReceipt(receipt *paymentmodel.Receipt) error {
	if err := r.db.Create(receipt).Error; err != nil {
		return internal.NewInternalError("failed to create receipt", err)
	}
	return nil
}

func (r *LedgerRepository) GetReceiptByPayment(paymentID string) (*paymentmodel.Receipt, error) {
	var receipt paymentmodel.Receipt
	err := r.db.Where("payment_id = ?", paymentID).First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, internal.NewInternalError("failed to load receipt", err)
	}
	return &receipt, nil
}

func (r *LedgerRepository) GetReceiptByNumber(number string) (*paymentmodel.Receipt, error) {
	var receipt paymentmodel.Receipt
	err := r.db.Where("number = ?", number).First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, internal.NewInternalError("failed to load receipt", err)
	}
	return &receipt, nil
}

func (r *LedgerRepository) GetPreference(payerID string) (*paymentmodel.ProviderPreference, error) {
	var pref paymentmodel.ProviderPreference
	err := r.db.Where("payer_id = ?", payerID).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, internal.NewInternalError("failed to load provider preference", err)
	}
	return &pref, nil
}

func (r *LedgerRepository) SetPreference(pref *paymentmodel.ProviderPreference) error {
	pref.UpdatedAt = time.Now().UTC()
	err := r.db.Save(pref).Error
	if err != nil {
		return internal.NewInternalError("failed to save provider preference", err)
	}
	return nil
}
