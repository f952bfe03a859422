package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Pool is the vault's aggregate state. A single row named "main" exists;
// TotalShares is the pool-share supply and TotalAssets the capital those
// shares claim. APYBps is recomputed from utilization whenever financing
// changes.
type Pool struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	Name          string       `gorm:"type:text;not null;uniqueIndex"`
	TotalAssets   int64        `gorm:"not null;default:0"`
	TotalShares   int64        `gorm:"not null;default:0"`
	TotalFinanced int64        `gorm:"not null;default:0"`
	APYBps        int64        `gorm:"not null;default:0"`
	CreatedAt     time.Time    `gorm:"not null"`
	UpdatedAt     time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Pool) TableName() string { return "pools" }

// UtilizationBps is financed capital over total assets in basis points.
func (p Pool) UtilizationBps() int64 {
	if p.TotalAssets == 0 {
		return 0
	}
	return p.TotalFinanced * 10000 / p.TotalAssets
}

// Position is one investor's pool-share holding plus its reward accrual
// state. Rewards accrue lazily; LastAccrualAt anchors the next accrual.
type Position struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	Account       string       `gorm:"type:text;not null;uniqueIndex"`
	Shares        int64        `gorm:"not null;default:0"`
	Accrued       int64        `gorm:"not null;default:0"`
	LastAccrualAt time.Time    `gorm:"not null"`
	CreatedAt     time.Time    `gorm:"not null"`
	UpdatedAt     time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Position) TableName() string { return "pool_positions" }

// Strategy is a matching rule routing financing requests to compatible
// capital. An invoice must meet every bound of the strategy it matches.
type Strategy struct {
	ID                  snowflake.ID `gorm:"primaryKey"`
	Name                string       `gorm:"type:text;not null;uniqueIndex"`
	RiskLevel           int          `gorm:"not null"`
	MinCreditScore      int          `gorm:"not null"`
	MaxInterestBps      int64        `gorm:"not null"`
	MaxDurationDays     int          `gorm:"not null"`
	TargetAllocationBps int64        `gorm:"not null"`
	Active              bool         `gorm:"not null;default:true"`
	CreatedAt           time.Time    `gorm:"not null"`
	UpdatedAt           time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Strategy) TableName() string { return "pool_strategies" }

// Financing records the pool's principal allocated to one invoice.
type Financing struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	InvoiceID  snowflake.ID `gorm:"not null;uniqueIndex"`
	StrategyID snowflake.ID `gorm:"not null;index"`
	Principal  int64        `gorm:"not null"`
	Received   int64        `gorm:"not null;default:0"`
	Settled    bool         `gorm:"not null;default:false"`
	CreatedAt  time.Time    `gorm:"not null"`
	SettledAt  *time.Time   ``
}

// TableName sets the database table name.
func (Financing) TableName() string { return "pool_financings" }

// Flow types recorded on pool cash movements.
const (
	FlowDeposit   = "deposit"
	FlowWithdraw  = "withdraw"
	FlowReward    = "reward"
	FlowFinance   = "finance"
	FlowRepayment = "repayment"
)

// Flow is the append-only record of one pool cash movement.
type Flow struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Type      string       `gorm:"type:text;not null;index"`
	Account   string       `gorm:"type:text;index"`
	Amount    int64        `gorm:"not null"`
	Shares    int64        `gorm:"not null;default:0"`
	Fee       int64        `gorm:"not null;default:0"`
	RefID     snowflake.ID `gorm:"index"`
	CreatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Flow) TableName() string { return "pool_flows" }
