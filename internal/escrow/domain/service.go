package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/pkg/db/pagination"
)

// Service runs the single-payer settlement path: one deposit covering the
// full invoice value, released to the current majority holder or refunded.
type Service interface {
	// Deposit escrows at least the invoice's face value for a verified,
	// unpaid invoice. At most one live deposit per invoice.
	Deposit(ctx context.Context, payer string, invoiceID snowflake.ID, amount int64) (Deposit, error)

	// Release pays the current majority holder net of the platform fee and
	// marks the invoice paid. The caller must be the debtor, the majority
	// holder, or hold the escrow release capability.
	Release(ctx context.Context, actor string, invoiceID snowflake.ID) error

	// AutoRelease is Release without the caller check, available to anyone
	// once the invoice is past due or the deposit has timed out.
	AutoRelease(ctx context.Context, invoiceID snowflake.ID) error

	// Refund returns the deposit to the payer. Dispute path, requires the
	// escrow refund capability.
	Refund(ctx context.Context, actor string, invoiceID snowflake.ID) error

	// EmergencyRefund lets the original payer reclaim a deposit stuck past
	// twice the escrow timeout with no administrator involvement.
	EmergencyRefund(ctx context.Context, payer string, invoiceID snowflake.ID) error

	Get(ctx context.Context, invoiceID snowflake.ID) (Deposit, error)
	ListReleasable(ctx context.Context, now time.Time, page pagination.Request) ([]Deposit, pagination.PageInfo, error)
}

var (
	ErrBelowFaceValue      = errors.New("deposit_below_face_value")
	ErrActiveDepositExists = errors.New("active_deposit_exists")
	ErrDepositNotFound     = errors.New("deposit_not_found")
	ErrDepositResolved     = errors.New("deposit_resolved")
	ErrNotReleaseParty     = errors.New("not_release_party")
	ErrAutoReleaseNotDue   = errors.New("auto_release_not_due")
	ErrEmergencyNotDue     = errors.New("emergency_refund_not_due")
	ErrNotPayer            = errors.New("not_payer")
)
