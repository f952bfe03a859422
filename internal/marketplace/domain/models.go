package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Listing offers the seller's entire holding of one invoice at a fixed
// price. A listing is never reactivated; a new one must be created.
type Listing struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	InvoiceID snowflake.ID `gorm:"not null;index"`
	Seller    string       `gorm:"type:text;not null;index"`
	Price     int64        `gorm:"not null"`
	Active    bool         `gorm:"not null;default:true"`
	CreatedAt time.Time    `gorm:"not null"`
	ExpiresAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Listing) TableName() string { return "listings" }

// Bid resolution outcomes.
const (
	BidResolutionOutbid    = "outbid"
	BidResolutionAccepted  = "accepted"
	BidResolutionWithdrawn = "withdrawn"
)

// Bid is one bidder's live offer for an invoice's shares. The current
// highest bid holds its funds as auction collateral; an outbid bid is
// refunded in full before the new highest is recorded.
type Bid struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	InvoiceID  snowflake.ID `gorm:"not null;index"`
	Bidder     string       `gorm:"type:text;not null;index"`
	Amount     int64        `gorm:"not null"`
	Active     bool         `gorm:"not null;default:true"`
	Highest    bool         `gorm:"not null;default:false"`
	Resolution string       `gorm:"type:text"`
	CreatedAt  time.Time    `gorm:"not null"`
	ResolvedAt *time.Time   ``
}

// TableName sets the database table name.
func (Bid) TableName() string { return "bids" }
