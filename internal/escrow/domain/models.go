package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Deposit holds one payer's funds against one invoice until release or
// refund. Released and refunded are mutually exclusive; once either is set
// the deposit is frozen.
type Deposit struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	InvoiceID  snowflake.ID `gorm:"not null;index"`
	Payer      string       `gorm:"type:text;not null;index"`
	Amount     int64        `gorm:"not null"`
	Released   bool         `gorm:"not null;default:false"`
	Refunded   bool         `gorm:"not null;default:false"`
	ReleasedTo string       `gorm:"type:text"`
	CreatedAt  time.Time    `gorm:"not null"`
	ResolvedAt *time.Time   ``
}

// TableName sets the database table name.
func (Deposit) TableName() string { return "escrow_deposits" }

// Live reports whether the deposit still holds funds.
func (d Deposit) Live() bool { return !d.Released && !d.Refunded }
