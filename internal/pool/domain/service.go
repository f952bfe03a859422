package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/pkg/db/pagination"
)

type CreateStrategyRequest struct {
	Name                string
	RiskLevel           int
	MinCreditScore      int
	MaxInterestBps      int64
	MaxDurationDays     int
	TargetAllocationBps int64
}

// Service runs the capital vault: proportional pool-shares over deposited
// assets, strategy-matched invoice financing, and utilization-driven yield.
type Service interface {
	// Deposit converts assets to pool-shares at the current supply/assets
	// ratio, net of the deposit fee.
	Deposit(ctx context.Context, account string, amount int64) (Position, error)

	// Withdraw burns pool-shares back to assets at the current ratio, net
	// of the withdrawal fee and, for positions younger than the lock
	// period, the early-withdrawal penalty.
	Withdraw(ctx context.Context, account string, shares int64) (int64, error)

	// ClaimRewards pays out the accrued reward net of the performance fee
	// and resets the accrual clock.
	ClaimRewards(ctx context.Context, account string) (int64, error)

	// FinanceInvoice routes an invoice to the best matching active
	// strategy, advances the principal to the issuer, and creates the
	// payment schedule with the pool as sole investor.
	FinanceInvoice(ctx context.Context, invoiceID snowflake.ID, amount int64) (Financing, error)

	// RecordRepayment folds a debtor payment on a pool-financed invoice
	// into the pool's books; on settlement the margin over principal
	// becomes pool yield.
	RecordRepayment(ctx context.Context, invoiceID snowflake.ID, payer string, amount int64) error

	CreateStrategy(ctx context.Context, actor string, req CreateStrategyRequest) (Strategy, error)
	SetStrategyActive(ctx context.Context, actor string, strategyID snowflake.ID, active bool) error

	GetPool(ctx context.Context) (Pool, error)
	GetPosition(ctx context.Context, account string) (Position, error)
	PendingRewards(ctx context.Context, account string) (int64, error)
	ListStrategies(ctx context.Context, page pagination.Request) ([]Strategy, pagination.PageInfo, error)
	ListFlows(ctx context.Context, account string, page pagination.Request) ([]Flow, pagination.PageInfo, error)
}

var (
	ErrDepositBelowMin    = errors.New("deposit_below_minimum")
	ErrDepositAboveMax    = errors.New("deposit_above_maximum")
	ErrPoolCapExceeded    = errors.New("pool_cap_exceeded")
	ErrPoolDrained        = errors.New("pool_drained")
	ErrInvalidShares      = errors.New("invalid_share_amount")
	ErrPositionNotFound   = errors.New("position_not_found")
	ErrInsufficientShares = errors.New("insufficient_pool_shares")
	ErrNoRewards          = errors.New("no_rewards")
	ErrInvalidStrategy    = errors.New("invalid_strategy")
	ErrStrategyNotFound   = errors.New("strategy_not_found")
	ErrNoMatchingStrategy = errors.New("no_matching_strategy")
	ErrInvalidPrincipal   = errors.New("invalid_principal")
	ErrAlreadyFinanced    = errors.New("already_financed")
	ErrInsufficientAssets = errors.New("insufficient_pool_assets")
	ErrFinancingNotFound  = errors.New("financing_not_found")
)
