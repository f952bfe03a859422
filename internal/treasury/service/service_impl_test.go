package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/internal/clock"
	treasurydomain "github.com/fylaro/finternet/internal/treasury/domain"
	"github.com/fylaro/finternet/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type allowAll struct{}

func (allowAll) Authorize(ctx context.Context, actor, object, action string) error { return nil }

type denyAll struct{}

func (denyAll) Authorize(ctx context.Context, actor, object, action string) error {
	return errors.New("forbidden")
}

func setupTreasury(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&treasurydomain.Account{}, &treasurydomain.Transfer{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFixed(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		Authz: allowAll{},
	})
	return svc.(*Service), db
}

func TestFundAndBalance(t *testing.T) {
	svc, _ := setupTreasury(t)
	ctx := context.Background()

	if err := svc.Fund(ctx, "user:root", "user:alice", 5_000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	bal, err := svc.Balance(ctx, "user:alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 5_000 {
		t.Fatalf("expected 5000, got %d", bal)
	}
}

func TestFundRejectsBadInput(t *testing.T) {
	svc, _ := setupTreasury(t)
	ctx := context.Background()

	if err := svc.Fund(ctx, "user:root", "", 100); !errors.Is(err, treasurydomain.ErrInvalidOwner) {
		t.Fatalf("expected invalid owner, got %v", err)
	}
	if err := svc.Fund(ctx, "user:root", "user:alice", 0); !errors.Is(err, treasurydomain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestTransferConservesTotal(t *testing.T) {
	svc, db := setupTreasury(t)
	ctx := context.Background()

	if err := svc.Fund(ctx, "user:root", "user:alice", 10_000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.TransferTx(ctx, tx, "user:alice", "user:bob", 4_000, treasurydomain.RefTypeListingSale, 0)
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	a, _ := svc.Balance(ctx, "user:alice")
	b, _ := svc.Balance(ctx, "user:bob")
	if a != 6_000 || b != 4_000 {
		t.Fatalf("expected 6000/4000, got %d/%d", a, b)
	}
	if a+b != 10_000 {
		t.Fatalf("total not conserved: %d", a+b)
	}
}

func TestDebitInsufficientFundsRollsBack(t *testing.T) {
	svc, db := setupTreasury(t)
	ctx := context.Background()

	if err := svc.Fund(ctx, "user:root", "user:alice", 1_000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.DebitTx(ctx, tx, "user:alice", 600, treasurydomain.RefTypeBidHold, 0); err != nil {
			return err
		}
		return svc.DebitTx(ctx, tx, "user:alice", 600, treasurydomain.RefTypeBidHold, 0)
	})
	if !errors.Is(err, treasurydomain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	// first debit must have rolled back with the second
	bal, _ := svc.Balance(ctx, "user:alice")
	if bal != 1_000 {
		t.Fatalf("expected rollback to 1000, got %d", bal)
	}
}

func TestDebitUnknownAccount(t *testing.T) {
	svc, db := setupTreasury(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.DebitTx(ctx, tx, "user:ghost", 1, treasurydomain.RefTypePayment, 0)
	})
	if !errors.Is(err, treasurydomain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestFundRequiresCapability(t *testing.T) {
	svc, _ := setupTreasury(t)
	svc.authz = denyAll{}

	if err := svc.Fund(context.Background(), "user:mallory", "user:mallory", 100); err == nil {
		t.Fatal("expected authorization failure")
	}
}

func TestListTransfers(t *testing.T) {
	svc, _ := setupTreasury(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.Fund(ctx, "user:root", "user:alice", 100); err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
	transfers, info, err := svc.ListTransfers(ctx, "user:alice", pagination.Request{Page: 1, PerPage: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(transfers) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(transfers))
	}
	if info.TotalCount != 3 {
		t.Fatalf("expected total 3, got %d", info.TotalCount)
	}
}
