package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/internal/clock"
	"github.com/fylaro/finternet/internal/config"
	distributiondomain "github.com/fylaro/finternet/internal/distribution/domain"
	distributionservice "github.com/fylaro/finternet/internal/distribution/service"
	escrowdomain "github.com/fylaro/finternet/internal/escrow/domain"
	escrowservice "github.com/fylaro/finternet/internal/escrow/service"
	"github.com/fylaro/finternet/internal/events"
	marketdomain "github.com/fylaro/finternet/internal/marketplace/domain"
	marketservice "github.com/fylaro/finternet/internal/marketplace/service"
	registrydomain "github.com/fylaro/finternet/internal/registry/domain"
	registryservice "github.com/fylaro/finternet/internal/registry/service"
	scheduledomain "github.com/fylaro/finternet/internal/schedule/domain"
	scheduleservice "github.com/fylaro/finternet/internal/schedule/service"
	treasurydomain "github.com/fylaro/finternet/internal/treasury/domain"
	treasuryservice "github.com/fylaro/finternet/internal/treasury/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type allowAll struct{}

func (allowAll) Authorize(ctx context.Context, actor, object, action string) error { return nil }

func TestRunOnceSweeps(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&registrydomain.Invoice{},
		&registrydomain.ShareBalance{},
		&marketdomain.Listing{},
		&marketdomain.Bid{},
		&escrowdomain.Deposit{},
		&scheduledomain.PaymentSchedule{},
		&scheduledomain.Investor{},
		&scheduledomain.Payment{},
		&scheduledomain.Recovery{},
		&distributiondomain.Distribution{},
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
	distributionSvc := distributionservice.NewService(distributionservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Cfg: cfg, Authz: allowAll{},
		Treasury: treasurySvc, Outbox: outbox,
	})
	scheduleSvc := scheduleservice.NewService(scheduleservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Cfg: cfg, Authz: allowAll{},
		Registry: registrySvc, Treasury: treasurySvc, Distribution: distributionSvc, Outbox: outbox,
	})
	marketSvc := marketservice.NewService(marketservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Cfg: cfg,
		Registry: registrySvc, Treasury: treasurySvc, Outbox: outbox,
	})
	escrowSvc := escrowservice.NewService(escrowservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Cfg: cfg, Authz: allowAll{},
		Registry: registrySvc, Treasury: treasurySvc, Outbox: outbox,
	})
	worker := New(Params{
		Log: log, Clock: clk, Cfg: cfg,
		Schedule: scheduleSvc, Market: marketSvc, Escrow: escrowSvc,
	})

	ctx := context.Background()
	tokenize := func(externalID string, due time.Time) registrydomain.Invoice {
		invoice, err := registrySvc.Tokenize(ctx, registrydomain.TokenizeRequest{
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
		if err := registrySvc.Verify(ctx, "user:vera", invoice.ID, registrydomain.VerificationResult{
			Authentic:  true,
			Confidence: decimal.NewFromFloat(0.9),
			FraudScore: decimal.NewFromFloat(0.1),
		}); err != nil {
			t.Fatalf("verify: %v", err)
		}
		return invoice
	}

	due := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	reviewed := tokenize("SW-1", due)
	if _, err := scheduleSvc.CreateSchedule(ctx, scheduledomain.CreateScheduleRequest{
		InvoiceID:      reviewed.ID,
		ExpectedAmount: 100_000,
		GraceDays:      5,
		Investors:      []distributiondomain.InvestorShare{{Account: "user:inv1", ShareBps: 10000}},
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	listed := tokenize("SW-2", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	if _, err := marketSvc.ListForSale(ctx, "user:issuer", listed.ID, 1_000, 24*time.Hour); err != nil {
		t.Fatalf("list for sale: %v", err)
	}

	escrowed := tokenize("SW-3", due)
	if err := treasurySvc.Fund(ctx, "user:root", "user:payer", 100_000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := escrowSvc.Deposit(ctx, "user:payer", escrowed.ID, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// nothing is due yet
	worker.RunOnce(ctx)
	sched, _ := scheduleSvc.GetByInvoice(ctx, reviewed.ID)
	if sched.Status != scheduledomain.StatusScheduled {
		t.Fatalf("expected scheduled before due, got %s", sched.Status)
	}

	// a week past due: the schedule is overdue, the listing has expired,
	// and the escrowed invoice auto-releases
	clk.Set(due.Add(8 * 24 * time.Hour))
	worker.RunOnce(ctx)

	sched, _ = scheduleSvc.GetByInvoice(ctx, reviewed.ID)
	if sched.Status != scheduledomain.StatusOverdue {
		t.Fatalf("expected overdue after sweep, got %s", sched.Status)
	}
	if _, err := marketSvc.ActiveListing(ctx, listed.ID); err == nil {
		t.Fatal("expected listing expired after sweep")
	}
	deposit, err := escrowSvc.Get(ctx, escrowed.ID)
	if err != nil {
		t.Fatalf("get deposit: %v", err)
	}
	if !deposit.Released {
		t.Fatal("expected escrow released after sweep")
	}
}
