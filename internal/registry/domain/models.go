package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Invoice is the record of one tokenized invoice. The core columns are
// immutable after tokenization; only the verification and lifecycle flags
// change, and a settled record is terminal.
type Invoice struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	ExternalID  string       `gorm:"type:text;not null;uniqueIndex"`
	Issuer      string       `gorm:"type:text;not null;index"`
	Debtor      string       `gorm:"type:text;not null;index"`
	Industry    string       `gorm:"type:text"`
	FaceValue   int64        `gorm:"not null"`
	TotalShares int64        `gorm:"not null"`
	InterestBps int64        `gorm:"not null;default:0"`
	CreditScore int          `gorm:"not null;default:0"`
	DueDate     time.Time    `gorm:"not null"`

	Verified   bool            `gorm:"not null;default:false"`
	VerifiedBy string          `gorm:"type:text"`
	VerifiedAt *time.Time      ``
	Confidence decimal.Decimal `gorm:"type:numeric"`
	FraudScore decimal.Decimal `gorm:"type:numeric"`

	Paid      bool      `gorm:"not null;default:false"`
	Settled   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// ShareBalance maps a holder to their share count for one invoice. Shares
// are fungible within an invoice and sum to the invoice's TotalShares.
type ShareBalance struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	InvoiceID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_share_balances_invoice_holder,priority:1"`
	Holder    string       `gorm:"type:text;not null;uniqueIndex:ux_share_balances_invoice_holder,priority:2"`
	Shares    int64        `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null"`
	UpdatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (ShareBalance) TableName() string { return "share_balances" }

// VerificationResult is the opaque output of the external document
// verification collaborator.
type VerificationResult struct {
	Authentic  bool            `json:"authentic"`
	Confidence decimal.Decimal `json:"confidence"`
	FraudScore decimal.Decimal `json:"fraud_score"`
}
