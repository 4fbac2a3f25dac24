package payment

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type Provider string

const (
	ProviderWave        Provider = "wave"
	ProviderOrangeMoney Provider = "orange_money"
)

func (p Provider) Valid() bool {
	return p == ProviderWave || p == ProviderOrangeMoney
}

// Metadata is the provider-specific bag carried on every payment. Typed
// fields cover what the reconciliation logic relies on; Debug is the escape
// hatch for provider payloads we only keep for troubleshooting. Stored as
// JSONB.
type Metadata struct {
	ProviderStatus  string            `json:"provider_status,omitempty"`
	SessionID       string            `json:"session_id,omitempty"`
	LaunchURL       string            `json:"launch_url,omitempty"`
	USSDInstruction string            `json:"ussd_instruction,omitempty"`
	PayToken        string            `json:"pay_token,omitempty"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
	AppliedEventIDs []string          `json:"applied_event_ids,omitempty"`
	Debug           map[string]string `json:"debug,omitempty"`
}

func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("unsupported type for metadata column")
	}
}

// EventApplied reports whether a webhook event ID has already been folded
// into this payment. This list is the idempotency boundary for provider
// at-least-once delivery.
func (m Metadata) EventApplied(eventID string) bool {
	for _, id := range m.AppliedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

func (m *Metadata) RecordEvent(eventID string) {
	if eventID == "" || m.EventApplied(eventID) {
		return
	}
	m.AppliedEventIDs = append(m.AppliedEventIDs, eventID)
}

// StringSlice stores a list of IDs as JSONB.
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(s))
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return errors.New("unsupported type for string slice column")
	}
}

// Payment is one payment attempt. Exactly one row exists per client
// reference; the row is mutated only through the reconciliation core and
// becomes immutable once terminal, except completed -> refunded.
type Payment struct {
	ID           string      `gorm:"primaryKey"`
	Provider     Provider    `gorm:"column:provider;not null;index:idx_provider_ref"`
	ProviderRef  *string     `gorm:"column:provider_ref;index:idx_provider_ref"`
	ClientRef    string      `gorm:"column:client_ref;not null;uniqueIndex"`
	Amount       int64       `gorm:"column:amount;not null"`
	Currency     string      `gorm:"column:currency;not null;default:XOF"`
	Status       Status      `gorm:"column:status;not null;default:pending"`
	PayerID      string      `gorm:"column:payer_id;not null;index"`
	PayerPhone   string      `gorm:"column:payer_phone;not null"`
	LiabilityIDs StringSlice `gorm:"column:liability_ids;type:jsonb"`
	ProviderTxID *string     `gorm:"column:provider_tx_id"`
	Metadata     Metadata    `gorm:"column:metadata;type:jsonb"`

	ReceiptNumber *string `gorm:"column:receipt_number"`
	ReceiptURL    *string `gorm:"column:receipt_url"`

	// Version backs the compare-and-set update path. Every status or
	// metadata write must carry the version it read; a stale version means
	// a concurrent writer won and the update is retried from a fresh read.
	Version int64 `gorm:"column:version;not null;default:0"`

	InitiatedAt time.Time  `gorm:"column:initiated_at;not null"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

// Refund is one refund attempt against a payment. ProviderRef stays nil on
// the manual-settlement path (providers without a refund API).
type Refund struct {
	ID          string       `gorm:"primaryKey"`
	PaymentID   string       `gorm:"column:payment_id;not null;index"`
	Amount      int64        `gorm:"column:amount;not null"`
	Reason      string       `gorm:"column:reason"`
	ProviderRef *string      `gorm:"column:provider_ref"`
	Status      RefundStatus `gorm:"column:status;not null;default:pending"`
	ProcessedAt *time.Time   `gorm:"column:processed_at"`
	CreatedAt   time.Time    `gorm:"column:created_at"`
	UpdatedAt   time.Time    `gorm:"column:updated_at"`
}

func (Refund) TableName() string {
	return "refunds"
}

// Receipt is issued at most once per completed payment. The payer and
// property fields are a snapshot taken at issuance; later edits to the
// underlying records never change an issued receipt.
type Receipt struct {
	Number           string    `gorm:"primaryKey;column:number"`
	PaymentID        string    `gorm:"column:payment_id;not null;uniqueIndex"`
	VerificationCode string    `gorm:"column:verification_code;not null"`
	Amount           int64     `gorm:"column:amount;not null"`
	Currency         string    `gorm:"column:currency;not null"`
	PayerID          string    `gorm:"column:payer_id;not null"`
	PayerName        string    `gorm:"column:payer_name"`
	PayerPhone       string    `gorm:"column:payer_phone"`
	PropertyID       string    `gorm:"column:property_id"`
	PropertyAddress  string    `gorm:"column:property_address"`
	TaxPeriod        string    `gorm:"column:tax_period"`
	IssuedAt         time.Time `gorm:"column:issued_at;not null"`
}

func (Receipt) TableName() string {
	return "receipts"
}

// ProviderPreference is the per-payer default provider, persisted so it
// survives restarts and stays consistent across service instances.
type ProviderPreference struct {
	PayerID   string    `gorm:"primaryKey;column:payer_id"`
	Provider  Provider  `gorm:"column:provider;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (ProviderPreference) TableName() string {
	return "provider_preferences"
}
