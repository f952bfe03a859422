package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/pkg/db/pagination"
	"gorm.io/gorm"
)

// Service moves funds between internal accounts. The Tx variants run inside
// the caller's transaction so a component's precondition checks, state
// mutations and fund movements commit or roll back together.
type Service interface {
	// Fund credits an account from the external payment rail. Restricted to
	// the treasury funding capability.
	Fund(ctx context.Context, actor string, owner string, amount int64) error

	Balance(ctx context.Context, owner string) (int64, error)
	ListTransfers(ctx context.Context, owner string, page pagination.Request) ([]Transfer, pagination.PageInfo, error)

	CreditTx(ctx context.Context, tx *gorm.DB, owner string, amount int64, refType string, refID snowflake.ID) error
	DebitTx(ctx context.Context, tx *gorm.DB, owner string, amount int64, refType string, refID snowflake.ID) error
	TransferTx(ctx context.Context, tx *gorm.DB, from, to string, amount int64, refType string, refID snowflake.ID) error
	BalanceTx(ctx context.Context, tx *gorm.DB, owner string) (int64, error)
}

var (
	ErrInvalidOwner      = errors.New("invalid_owner")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInsufficientFunds = errors.New("insufficient_funds")
)
