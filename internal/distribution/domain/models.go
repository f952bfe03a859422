package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Distribution is the append-only record of one payout attempt to one
// investor for one settled invoice. Success is false when the collection
// account could not cover the payout; the amount remains owed.
type Distribution struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	InvoiceID  snowflake.ID `gorm:"not null;index"`
	ScheduleID snowflake.ID `gorm:"not null;index"`
	Investor   string       `gorm:"type:text;not null;index"`
	ShareBps   int64        `gorm:"not null"`
	Amount     int64        `gorm:"not null"`
	Success    bool         `gorm:"not null"`
	PaidAt     *time.Time   ``
	CreatedAt  time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Distribution) TableName() string { return "distributions" }

// InvestorShare names one claim-holder and their basis-point slice of the
// distributable total. Slices across a schedule sum to 10000.
type InvestorShare struct {
	Account  string
	ShareBps int64
}
