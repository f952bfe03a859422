package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account holds one party's balance in smallest currency units. System
// accounts (platform fees, per-invoice collection, escrow, pool) share the
// table with user accounts and are addressed by reserved owner prefixes.
type Account struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Owner     string       `gorm:"type:text;not null;uniqueIndex"`
	Balance   int64        `gorm:"not null;default:0"`
	CreatedAt time.Time    `gorm:"not null"`
	UpdatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "treasury_accounts" }

// Transfer is the append-only record of one balance movement. FromOwner is
// empty for external inflows (funding, recorded debtor payments).
type Transfer struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	FromOwner string       `gorm:"type:text;index"`
	ToOwner   string       `gorm:"type:text;index"`
	Amount    int64        `gorm:"not null"`
	RefType   string       `gorm:"type:text;not null"`
	RefID     snowflake.ID `gorm:"index"`
	CreatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Transfer) TableName() string { return "treasury_transfers" }

// PoolAccount holds the liquidity pool's capital.
const PoolAccount = "pool"

// InvoiceAccount is the per-invoice collection account debtor payments land
// on and distributions pay out from.
func InvoiceAccount(id snowflake.ID) string { return "invoice:" + id.String() }

// EscrowAccount holds a payer's deposit for one invoice.
func EscrowAccount(id snowflake.ID) string { return "escrow:" + id.String() }

// MarketHoldAccount holds live bid collateral for one invoice's auction.
func MarketHoldAccount(id snowflake.ID) string { return "market:hold:" + id.String() }

// Reference types recorded on transfers.
const (
	RefTypeFunding      = "funding"
	RefTypeListingSale  = "listing_sale"
	RefTypeBidHold      = "bid_hold"
	RefTypeBidRefund    = "bid_refund"
	RefTypeBidSale      = "bid_sale"
	RefTypePlatformFee  = "platform_fee"
	RefTypeEscrow       = "escrow"
	RefTypePayment      = "payment"
	RefTypeRecovery     = "recovery"
	RefTypeDistribution = "distribution"
	RefTypePoolDeposit  = "pool_deposit"
	RefTypePoolWithdraw = "pool_withdraw"
	RefTypePoolFinance  = "pool_finance"
	RefTypePoolReward   = "pool_reward"
)
