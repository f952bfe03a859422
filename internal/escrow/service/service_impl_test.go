package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/internal/authorization"
	"github.com/fylaro/finternet/internal/clock"
	"github.com/fylaro/finternet/internal/config"
	escrowdomain "github.com/fylaro/finternet/internal/escrow/domain"
	"github.com/fylaro/finternet/internal/events"
	registrydomain "github.com/fylaro/finternet/internal/registry/domain"
	registryservice "github.com/fylaro/finternet/internal/registry/service"
	treasurydomain "github.com/fylaro/finternet/internal/treasury/domain"
	treasuryservice "github.com/fylaro/finternet/internal/treasury/service"
	"github.com/fylaro/finternet/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type allowAll struct{}

func (allowAll) Authorize(ctx context.Context, actor, object, action string) error { return nil }

type denyAll struct{}

func (denyAll) Authorize(ctx context.Context, actor, object, action string) error {
	return authorization.ErrForbidden
}

type escrowEnv struct {
	db       *gorm.DB
	clk      *clock.Fixed
	registry registrydomain.Service
	treasury treasurydomain.Service
	escrow   escrowdomain.Service
}

func newEscrow(t *testing.T, authz authorization.Service) *escrowEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&registrydomain.Invoice{},
		&registrydomain.ShareBalance{},
		&escrowdomain.Deposit{},
		&treasurydomain.Account{},
		&treasurydomain.Transfer{},
		&events.Record{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := clock.NewFixed(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.Default()
	outbox := events.NewOutbox(node)

	treasurySvc := treasuryservice.NewService(treasuryservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Authz: allowAll{},
	})
	registrySvc := registryservice.NewService(registryservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Cfg: cfg, Authz: allowAll{}, Outbox: outbox,
	})
	escrowSvc := NewService(Params{
		DB: db, Log: log, GenID: node, Clock: clk, Cfg: cfg, Authz: authz,
		Registry: registrySvc, Treasury: treasurySvc, Outbox: outbox,
	})
	return &escrowEnv{
		db:       db,
		clk:      clk,
		registry: registrySvc,
		treasury: treasurySvc,
		escrow:   escrowSvc,
	}
}

func (e *escrowEnv) tokenizeVerified(t *testing.T, externalID string, due time.Time) registrydomain.Invoice {
	t.Helper()
	invoice, err := e.registry.Tokenize(context.Background(), registrydomain.TokenizeRequest{
		ExternalID:  externalID,
		Issuer:      "user:issuer",
		Debtor:      "user:debtor",
		FaceValue:   100_000,
		TotalShares: 10_000,
		CreditScore: 700,
		DueDate:     due,
	})
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	err = e.registry.Verify(context.Background(), "user:vera", invoice.ID, registrydomain.VerificationResult{
		Authentic:  true,
		Confidence: decimal.NewFromFloat(0.9),
		FraudScore: decimal.NewFromFloat(0.1),
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	return invoice
}

func (e *escrowEnv) fund(t *testing.T, owner string, amount int64) {
	t.Helper()
	if err := e.treasury.Fund(context.Background(), "user:root", owner, amount); err != nil {
		t.Fatalf("fund %s: %v", owner, err)
	}
}

func TestDepositValidation(t *testing.T) {
	e := newEscrow(t, denyAll{})
	ctx := context.Background()
	due := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	invoice := e.tokenizeVerified(t, "ESC-1", due)
	e.fund(t, "user:payer", 300_000)

	if _, err := e.escrow.Deposit(ctx, "user:payer", invoice.ID, 99_999); !errors.Is(err, escrowdomain.ErrBelowFaceValue) {
		t.Fatalf("expected below face value, got %v", err)
	}
	if _, err := e.escrow.Deposit(ctx, "user:payer", invoice.ID, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := e.escrow.Deposit(ctx, "user:payer", invoice.ID, 100_000); !errors.Is(err, escrowdomain.ErrActiveDepositExists) {
		t.Fatalf("expected active deposit exists, got %v", err)
	}

	held, _ := e.treasury.Balance(ctx, treasurydomain.EscrowAccount(invoice.ID))
	if held != 100_000 {
		t.Fatalf("expected 100000 in escrow, got %d", held)
	}
}

func TestReleaseByDebtorPaysHolder(t *testing.T) {
	e := newEscrow(t, denyAll{})
	ctx := context.Background()
	due := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	invoice := e.tokenizeVerified(t, "ESC-2", due)
	e.fund(t, "user:payer", 100_000)

	if _, err := e.escrow.Deposit(ctx, "user:payer", invoice.ID, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.escrow.Release(ctx, "user:debtor", invoice.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	// 250 bps of 100000 = 2500, holder nets 97500
	holder, _ := e.treasury.Balance(ctx, "user:issuer")
	fees, _ := e.treasury.Balance(ctx, "platform:fees")
	if holder != 97_500 {
		t.Fatalf("expected holder 97500, got %d", holder)
	}
	if fees != 2_500 {
		t.Fatalf("expected fee 2500, got %d", fees)
	}

	got, err := e.registry.GetInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if !got.Paid {
		t.Fatal("expected invoice marked paid")
	}

	deposit, err := e.escrow.Get(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("get deposit: %v", err)
	}
	if !deposit.Released || deposit.Refunded {
		t.Fatalf("expected released only, got released=%v refunded=%v", deposit.Released, deposit.Refunded)
	}
	if deposit.ReleasedTo != "user:issuer" {
		t.Fatalf("expected released to issuer, got %s", deposit.ReleasedTo)
	}

	// frozen after release
	if err := e.escrow.Release(ctx, "user:debtor", invoice.ID); !errors.Is(err, escrowdomain.ErrDepositResolved) {
		t.Fatalf("expected resolved on re-release, got %v", err)
	}
	if err := e.escrow.Refund(ctx, "user:root", invoice.ID); err == nil {
		t.Fatal("expected refund after release to fail")
	}
}

func TestReleaseParties(t *testing.T) {
	e := newEscrow(t, denyAll{})
	ctx := context.Background()
	invoice := e.tokenizeVerified(t, "ESC-3", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	e.fund(t, "user:payer", 100_000)
	if _, err := e.escrow.Deposit(ctx, "user:payer", invoice.ID, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := e.escrow.Release(ctx, "user:stranger", invoice.ID); !errors.Is(err, escrowdomain.ErrNotReleaseParty) {
		t.Fatalf("expected not release party, got %v", err)
	}
	// the majority holder may release
	if err := e.escrow.Release(ctx, "user:issuer", invoice.ID); err != nil {
		t.Fatalf("release by holder: %v", err)
	}
}

func TestAutoRelease(t *testing.T) {
	e := newEscrow(t, denyAll{})
	ctx := context.Background()
	due := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	invoice := e.tokenizeVerified(t, "ESC-4", due)
	e.fund(t, "user:payer", 100_000)
	if _, err := e.escrow.Deposit(ctx, "user:payer", invoice.ID, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := e.escrow.AutoRelease(ctx, invoice.ID); !errors.Is(err, escrowdomain.ErrAutoReleaseNotDue) {
		t.Fatalf("expected not due, got %v", err)
	}

	// past due date plus the auto-release lag, any caller may force it
	e.clk.Set(due.Add(8 * 24 * time.Hour))
	if err := e.escrow.AutoRelease(ctx, invoice.ID); err != nil {
		t.Fatalf("auto release: %v", err)
	}
	holder, _ := e.treasury.Balance(ctx, "user:issuer")
	if holder != 97_500 {
		t.Fatalf("expected holder 97500, got %d", holder)
	}
}

func TestAutoReleaseOnDepositTimeout(t *testing.T) {
	e := newEscrow(t, denyAll{})
	ctx := context.Background()
	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	invoice := e.tokenizeVerified(t, "ESC-5", due)
	e.fund(t, "user:payer", 100_000)
	if _, err := e.escrow.Deposit(ctx, "user:payer", invoice.ID, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// far-future due date, but the deposit itself times out after 30 days
	e.clk.Advance(31 * 24 * time.Hour)
	if err := e.escrow.AutoRelease(ctx, invoice.ID); err != nil {
		t.Fatalf("auto release on timeout: %v", err)
	}
}

func TestRefundRequiresCapability(t *testing.T) {
	denied := newEscrow(t, denyAll{})
	ctx := context.Background()
	invoice := denied.tokenizeVerified(t, "ESC-6", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	denied.fund(t, "user:payer", 100_000)
	if _, err := denied.escrow.Deposit(ctx, "user:payer", invoice.ID, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := denied.escrow.Refund(ctx, "user:payer", invoice.ID); !errors.Is(err, authorization.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	allowed := newEscrow(t, allowAll{})
	invoice = allowed.tokenizeVerified(t, "ESC-7", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	allowed.fund(t, "user:payer", 100_000)
	if _, err := allowed.escrow.Deposit(ctx, "user:payer", invoice.ID, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := allowed.escrow.Refund(ctx, "user:root", invoice.ID); err != nil {
		t.Fatalf("refund: %v", err)
	}

	payer, _ := allowed.treasury.Balance(ctx, "user:payer")
	if payer != 100_000 {
		t.Fatalf("expected payer made whole, got %d", payer)
	}
	deposit, _ := allowed.escrow.Get(ctx, invoice.ID)
	if deposit.Released || !deposit.Refunded {
		t.Fatalf("expected refunded only, got released=%v refunded=%v", deposit.Released, deposit.Refunded)
	}
}

func TestEmergencyRefund(t *testing.T) {
	e := newEscrow(t, denyAll{})
	ctx := context.Background()
	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	invoice := e.tokenizeVerified(t, "ESC-8", due)
	e.fund(t, "user:payer", 100_000)
	if _, err := e.escrow.Deposit(ctx, "user:payer", invoice.ID, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := e.escrow.EmergencyRefund(ctx, "user:other", invoice.ID); !errors.Is(err, escrowdomain.ErrNotPayer) {
		t.Fatalf("expected not payer, got %v", err)
	}
	if err := e.escrow.EmergencyRefund(ctx, "user:payer", invoice.ID); !errors.Is(err, escrowdomain.ErrEmergencyNotDue) {
		t.Fatalf("expected not due, got %v", err)
	}

	// twice the escrow timeout with no administrator in sight
	e.clk.Advance(61 * 24 * time.Hour)
	if err := e.escrow.EmergencyRefund(ctx, "user:payer", invoice.ID); err != nil {
		t.Fatalf("emergency refund: %v", err)
	}
	payer, _ := e.treasury.Balance(ctx, "user:payer")
	if payer != 100_000 {
		t.Fatalf("expected payer made whole, got %d", payer)
	}
}

func TestListReleasable(t *testing.T) {
	e := newEscrow(t, denyAll{})
	ctx := context.Background()
	near := e.tokenizeVerified(t, "ESC-9", time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC))
	far := e.tokenizeVerified(t, "ESC-10", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	e.fund(t, "user:payer", 300_000)
	if _, err := e.escrow.Deposit(ctx, "user:payer", near.ID, 100_000); err != nil {
		t.Fatalf("deposit near: %v", err)
	}
	if _, err := e.escrow.Deposit(ctx, "user:payer", far.ID, 100_000); err != nil {
		t.Fatalf("deposit far: %v", err)
	}

	deposits, _, err := e.escrow.ListReleasable(ctx, e.clk.Now(), pagination.Request{})
	if err != nil {
		t.Fatalf("list releasable: %v", err)
	}
	if len(deposits) != 0 {
		t.Fatalf("expected none releasable yet, got %d", len(deposits))
	}

	e.clk.Set(time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC))
	deposits, _, err = e.escrow.ListReleasable(ctx, e.clk.Now(), pagination.Request{})
	if err != nil {
		t.Fatalf("list releasable: %v", err)
	}
	if len(deposits) != 1 || deposits[0].InvoiceID != near.ID {
		t.Fatalf("expected the past-due deposit only, got %d", len(deposits))
	}
}
