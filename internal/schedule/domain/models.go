package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the payment schedule lifecycle state.
type Status string

const (
	StatusScheduled     Status = "scheduled"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusInGracePeriod Status = "in_grace_period"
	StatusOverdue       Status = "overdue"
	StatusDefault       Status = "default"
	StatusRecovered     Status = "recovered"
)

// statusRank orders states so transitions never move backward. The single
// sanctioned "backward" move, Default -> Recovered, is still forward in rank.
var statusRank = map[Status]int{
	StatusScheduled:     0,
	StatusPartiallyPaid: 1,
	StatusInGracePeriod: 2,
	StatusOverdue:       3,
	StatusDefault:       4,
	StatusPaid:          5,
	StatusRecovered:     6,
}

// Rank returns the monotonicity rank of a status.
func (s Status) Rank() int { return statusRank[s] }

// Terminal reports whether no further transitions are allowed once settled.
func (s Status) Terminal() bool { return s == StatusPaid || s == StatusRecovered }

// PaymentSchedule tracks expected-vs-received payments for one invoice.
type PaymentSchedule struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	InvoiceID      snowflake.ID `gorm:"not null;uniqueIndex"`
	Debtor         string       `gorm:"type:text;not null"`
	ExpectedAmount int64        `gorm:"not null"`
	TotalPaid      int64        `gorm:"not null;default:0"`
	DueDate        time.Time    `gorm:"not null"`
	GraceDays      int          `gorm:"not null;default:0"`
	Status         Status       `gorm:"type:text;not null"`
	Settled        bool         `gorm:"not null;default:false"`
	DefaultedAt    *time.Time   ``
	CreatedAt      time.Time    `gorm:"not null"`
	UpdatedAt      time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (PaymentSchedule) TableName() string { return "payment_schedules" }

// GracePeriod returns the grace window as a duration.
func (p PaymentSchedule) GracePeriod() time.Duration {
	return time.Duration(p.GraceDays) * 24 * time.Hour
}

// Remaining returns the unpaid remainder, never negative.
func (p PaymentSchedule) Remaining() int64 {
	if p.TotalPaid >= p.ExpectedAmount {
		return 0
	}
	return p.ExpectedAmount - p.TotalPaid
}

// Investor is one claim-holder's basis-point slice of the schedule.
// Slices sum to 10000 across a schedule.
type Investor struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	ScheduleID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_schedule_investors,priority:1"`
	Account    string       `gorm:"type:text;not null;uniqueIndex:ux_schedule_investors,priority:2"`
	ShareBps   int64        `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Investor) TableName() string { return "schedule_investors" }

// Payment is the append-only record of one received payment.
type Payment struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	ScheduleID  snowflake.ID `gorm:"not null;index"`
	InvoiceID   snowflake.ID `gorm:"not null;index"`
	Payer       string       `gorm:"type:text;not null"`
	Amount      int64        `gorm:"not null"`
	Method      string       `gorm:"type:text"`
	ExternalRef string       `gorm:"type:text;not null;uniqueIndex"`
	ReceivedAt  time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// Recovery is the append-only record of post-default recovered funds.
type Recovery struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	ScheduleID snowflake.ID `gorm:"not null;index"`
	InvoiceID  snowflake.ID `gorm:"not null;index"`
	Amount     int64        `gorm:"not null"`
	RecordedBy string       `gorm:"type:text;not null"`
	CreatedAt  time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Recovery) TableName() string { return "recoveries" }
