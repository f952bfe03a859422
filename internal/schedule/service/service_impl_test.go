package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/internal/clock"
	"github.com/fylaro/finternet/internal/config"
	distributiondomain "github.com/fylaro/finternet/internal/distribution/domain"
	distributionservice "github.com/fylaro/finternet/internal/distribution/service"
	"github.com/fylaro/finternet/internal/events"
	registrydomain "github.com/fylaro/finternet/internal/registry/domain"
	registryservice "github.com/fylaro/finternet/internal/registry/service"
	scheduledomain "github.com/fylaro/finternet/internal/schedule/domain"
	treasurydomain "github.com/fylaro/finternet/internal/treasury/domain"
	treasuryservice "github.com/fylaro/finternet/internal/treasury/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type allowAll struct{}

func (allowAll) Authorize(ctx context.Context, actor, object, action string) error { return nil }

type engine struct {
	db           *gorm.DB
	clk          *clock.Fixed
	registry     registrydomain.Service
	treasury     treasurydomain.Service
	distribution distributiondomain.Service
	schedule     scheduledomain.Service
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&registrydomain.Invoice{},
		&registrydomain.ShareBalance{},
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
	scheduleSvc := NewService(Params{
		DB: db, Log: log, GenID: node, Clock: clk, Cfg: cfg, Authz: allowAll{},
		Registry: registrySvc, Treasury: treasurySvc, Distribution: distributionSvc, Outbox: outbox,
	})
	return &engine{
		db:           db,
		clk:          clk,
		registry:     registrySvc,
		treasury:     treasurySvc,
		distribution: distributionSvc,
		schedule:     scheduleSvc,
	}
}

func (e *engine) tokenizeVerified(t *testing.T, externalID string, faceValue int64, due time.Time) registrydomain.Invoice {
	t.Helper()
	invoice, err := e.registry.Tokenize(context.Background(), registrydomain.TokenizeRequest{
		ExternalID:  externalID,
		Issuer:      "user:issuer",
		Debtor:      "user:debtor",
		FaceValue:   faceValue,
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

func TestScenarioFullPaymentSettlesAndDistributes(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	due := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	invoice := e.tokenizeVerified(t, "INV-A", 100_000, due)

	_, err := e.schedule.CreateSchedule(ctx, scheduledomain.CreateScheduleRequest{
		InvoiceID:      invoice.ID,
		ExpectedAmount: 100_000,
		GraceDays:      5,
		Investors: []distributiondomain.InvestorShare{
			{Account: "user:inv1", ShareBps: 6000},
			{Account: "user:inv2", ShareBps: 4000},
		},
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	updated, err := e.schedule.RecordPayment(ctx, scheduledomain.RecordPaymentRequest{
		InvoiceID: invoice.ID,
		Payer:     "user:debtor",
		Amount:    100_000,
		Method:    "bank_transfer",
	})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if updated.Status != scheduledomain.StatusPaid {
		t.Fatalf("expected paid, got %s", updated.Status)
	}
	if !updated.Settled {
		t.Fatal("expected settled")
	}

	// fee 1% of 100000 = 1000, distributable 99000, payouts 59400/39600
	inv1, _ := e.treasury.Balance(ctx, "user:inv1")
	inv2, _ := e.treasury.Balance(ctx, "user:inv2")
	fees, _ := e.treasury.Balance(ctx, "platform:fees")
	if inv1 != 59_400 {
		t.Fatalf("expected inv1 59400, got %d", inv1)
	}
	if inv2 != 39_600 {
		t.Fatalf("expected inv2 39600, got %d", inv2)
	}
	if fees != 1_000 {
		t.Fatalf("expected fee 1000, got %d", fees)
	}

	got, err := e.registry.GetInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if !got.Paid || !got.Settled {
		t.Fatalf("expected paid+settled flags, got paid=%v settled=%v", got.Paid, got.Settled)
	}
}

func TestRecordPaymentAfterSettlementFails(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	invoice := e.tokenizeVerified(t, "INV-B", 50_000, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))

	if _, err := e.schedule.CreateSchedule(ctx, scheduledomain.CreateScheduleRequest{
		InvoiceID:      invoice.ID,
		ExpectedAmount: 50_000,
		Investors:      []distributiondomain.InvestorShare{{Account: "user:inv1", ShareBps: 10000}},
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	if _, err := e.schedule.RecordPayment(ctx, scheduledomain.RecordPaymentRequest{
		InvoiceID: invoice.ID, Payer: "user:debtor", Amount: 50_000,
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	_, err := e.schedule.RecordPayment(ctx, scheduledomain.RecordPaymentRequest{
		InvoiceID: invoice.ID, Payer: "user:debtor", Amount: 1,
	})
	if !errors.Is(err, scheduledomain.ErrScheduleSettled) {
		t.Fatalf("expected schedule settled, got %v", err)
	}
}

func TestDistributionIsIdempotent(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	invoice := e.tokenizeVerified(t, "INV-C", 10_000, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))

	created, err := e.schedule.CreateSchedule(ctx, scheduledomain.CreateScheduleRequest{
		InvoiceID:      invoice.ID,
		ExpectedAmount: 10_000,
		Investors:      []distributiondomain.InvestorShare{{Account: "user:inv1", ShareBps: 10000}},
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	if _, err := e.schedule.RecordPayment(ctx, scheduledomain.RecordPaymentRequest{
		InvoiceID: invoice.ID, Payer: "user:debtor", Amount: 10_000,
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	err = e.db.Transaction(func(tx *gorm.DB) error {
		_, err := e.distribution.DistributeTx(ctx, tx, distributiondomain.Request{
			InvoiceID:   invoice.ID,
			ScheduleID:  created.ID,
			TotalPaid:   10_000,
			SourceOwner: treasurydomain.InvoiceAccount(invoice.ID),
			Investors:   []distributiondomain.InvestorShare{{Account: "user:inv1", ShareBps: 10000}},
		})
		return err
	})
	if !errors.Is(err, distributiondomain.ErrAlreadyDistributed) {
		t.Fatalf("expected already distributed, got %v", err)
	}
}

func TestScenarioGraceOverdueDefault(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	due := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	invoice := e.tokenizeVerified(t, "INV-D", 100_000, due)

	if _, err := e.schedule.CreateSchedule(ctx, scheduledomain.CreateScheduleRequest{
		InvoiceID:      invoice.ID,
		ExpectedAmount: 100_000,
		GraceDays:      5,
		Investors:      []distributiondomain.InvestorShare{{Account: "user:inv1", ShareBps: 10000}},
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	e.clk.Set(due.Add(3 * 24 * time.Hour))
	status, err := e.schedule.UpdateStatus(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if status != scheduledomain.StatusInGracePeriod {
		t.Fatalf("at T+3d expected in_grace_period, got %s", status)
	}

	e.clk.Set(due.Add(6 * 24 * time.Hour))
	status, err = e.schedule.UpdateStatus(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if status != scheduledomain.StatusOverdue {
		t.Fatalf("at T+6d expected overdue, got %s", status)
	}

	e.clk.Set(due.Add(36 * 24 * time.Hour))
	status, err = e.schedule.UpdateStatus(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if status != scheduledomain.StatusDefault {
		t.Fatalf("at T+36d expected default, got %s", status)
	}

	var defaultEvents int64
	if err := e.db.Model(&events.Record{}).
		Where("event_type = ? AND invoice_id = ?", events.EventDefaulted, invoice.ID).
		Count(&defaultEvents).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if defaultEvents != 1 {
		t.Fatalf("expected one default event, got %d", defaultEvents)
	}
}

func TestHandleDefaultEligibility(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	due := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	invoice := e.tokenizeVerified(t, "INV-E", 100_000, due)

	if _, err := e.schedule.CreateSchedule(ctx, scheduledomain.CreateScheduleRequest{
		InvoiceID:      invoice.ID,
		ExpectedAmount: 100_000,
		GraceDays:      5,
		Investors:      []distributiondomain.InvestorShare{{Account: "user:inv1", ShareBps: 10000}},
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	// too early
	e.clk.Set(due.Add(10 * 24 * time.Hour))
	if err := e.schedule.HandleDefault(ctx, invoice.ID); !errors.Is(err, scheduledomain.ErrDefaultNotEligible) {
		t.Fatalf("expected not eligible, got %v", err)
	}

	e.clk.Set(due.Add(36 * 24 * time.Hour))
	if err := e.schedule.HandleDefault(ctx, invoice.ID); err != nil {
		t.Fatalf("handle default: %v", err)
	}
	// second call fails loudly
	if err := e.schedule.HandleDefault(ctx, invoice.ID); !errors.Is(err, scheduledomain.ErrDefaultNotEligible) {
		t.Fatalf("expected not eligible on repeat, got %v", err)
	}

	// once defaulted, ordinary payments are refused; recovery is the only way in
	_, err := e.schedule.RecordPayment(ctx, scheduledomain.RecordPaymentRequest{
		InvoiceID: invoice.ID,
		Payer:     "user:debtor",
		Amount:    10_000,
	})
	if !errors.Is(err, scheduledomain.ErrScheduleInDefault) {
		t.Fatalf("expected schedule_in_default, got %v", err)
	}
}

func TestRecoveryAfterDefaultSettles(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	due := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	invoice := e.tokenizeVerified(t, "INV-F", 100_000, due)

	if _, err := e.schedule.CreateSchedule(ctx, scheduledomain.CreateScheduleRequest{
		InvoiceID:      invoice.ID,
		ExpectedAmount: 100_000,
		GraceDays:      5,
		Investors:      []distributiondomain.InvestorShare{{Account: "user:inv1", ShareBps: 10000}},
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	e.clk.Set(due.Add(40 * 24 * time.Hour))
	if err := e.schedule.HandleDefault(ctx, invoice.ID); err != nil {
		t.Fatalf("handle default: %v", err)
	}

	if err := e.schedule.RecordRecovery(ctx, "user:root", invoice.ID, 0); !errors.Is(err, scheduledomain.ErrInvalidRecovery) {
		t.Fatalf("expected invalid recovery amount, got %v", err)
	}
	if err := e.schedule.RecordRecovery(ctx, "user:root", invoice.ID, 60_000); err != nil {
		t.Fatalf("record recovery: %v", err)
	}

	got, err := e.schedule.GetByInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if got.Status != scheduledomain.StatusRecovered {
		t.Fatalf("expected recovered, got %s", got.Status)
	}
	if !got.Settled {
		t.Fatal("expected settled after recovery")
	}

	// 60000 recovered, 1% fee = 600, investor gets 59400
	inv1, _ := e.treasury.Balance(ctx, "user:inv1")
	if inv1 != 59_400 {
		t.Fatalf("expected 59400 paid out from recovery, got %d", inv1)
	}

	// no further status changes after terminal recovery
	if _, err := e.schedule.RecordPayment(ctx, scheduledomain.RecordPaymentRequest{
		InvoiceID: invoice.ID, Payer: "user:debtor", Amount: 10,
	}); !errors.Is(err, scheduledomain.ErrScheduleSettled) {
		t.Fatalf("expected settled, got %v", err)
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	invoice := e.tokenizeVerified(t, "INV-G", 100_000, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))

	_, err := e.schedule.CreateSchedule(ctx, scheduledomain.CreateScheduleRequest{
		InvoiceID:      invoice.ID,
		ExpectedAmount: 100_000,
		Investors: []distributiondomain.InvestorShare{
			{Account: "user:inv1", ShareBps: 6000},
			{Account: "user:inv2", ShareBps: 3000},
		},
	})
	if !errors.Is(err, scheduledomain.ErrInvalidInvestorSplit) {
		t.Fatalf("expected invalid split, got %v", err)
	}

	if _, err := e.schedule.CreateSchedule(ctx, scheduledomain.CreateScheduleRequest{
		InvoiceID:      invoice.ID,
		ExpectedAmount: 100_000,
		Investors:      []distributiondomain.InvestorShare{{Account: "user:inv1", ShareBps: 10000}},
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	_, err = e.schedule.CreateSchedule(ctx, scheduledomain.CreateScheduleRequest{
		InvoiceID:      invoice.ID,
		ExpectedAmount: 100_000,
		Investors:      []distributiondomain.InvestorShare{{Account: "user:inv1", ShareBps: 10000}},
	})
	if !errors.Is(err, scheduledomain.ErrDuplicateSchedule) {
		t.Fatalf("expected duplicate schedule, got %v", err)
	}
}

func TestPartialPaymentStatus(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	invoice := e.tokenizeVerified(t, "INV-H", 100_000, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))

	if _, err := e.schedule.CreateSchedule(ctx, scheduledomain.CreateScheduleRequest{
		InvoiceID:      invoice.ID,
		ExpectedAmount: 100_000,
		Investors:      []distributiondomain.InvestorShare{{Account: "user:inv1", ShareBps: 10000}},
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	updated, err := e.schedule.RecordPayment(ctx, scheduledomain.RecordPaymentRequest{
		InvoiceID: invoice.ID, Payer: "user:debtor", Amount: 40_000,
	})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if updated.Status != scheduledomain.StatusPartiallyPaid {
		t.Fatalf("expected partially paid, got %s", updated.Status)
	}
	if updated.Settled {
		t.Fatal("partial payment must not settle")
	}
}

func TestDuplicateExternalPaymentRef(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	invoice := e.tokenizeVerified(t, "INV-I", 100_000, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))

	if _, err := e.schedule.CreateSchedule(ctx, scheduledomain.CreateScheduleRequest{
		InvoiceID:      invoice.ID,
		ExpectedAmount: 100_000,
		Investors:      []distributiondomain.InvestorShare{{Account: "user:inv1", ShareBps: 10000}},
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	if _, err := e.schedule.RecordPayment(ctx, scheduledomain.RecordPaymentRequest{
		InvoiceID: invoice.ID, Payer: "user:debtor", Amount: 10_000, ExternalRef: "wire-1",
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}
	_, err := e.schedule.RecordPayment(ctx, scheduledomain.RecordPaymentRequest{
		InvoiceID: invoice.ID, Payer: "user:debtor", Amount: 10_000, ExternalRef: "wire-1",
	})
	if !errors.Is(err, scheduledomain.ErrDuplicatePaymentRef) {
		t.Fatalf("expected duplicate ref, got %v", err)
	}
}
