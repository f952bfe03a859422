package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/internal/authorization"
	"github.com/fylaro/finternet/internal/clock"
	"github.com/fylaro/finternet/internal/config"
	distributiondomain "github.com/fylaro/finternet/internal/distribution/domain"
	"github.com/fylaro/finternet/internal/events"
	registrydomain "github.com/fylaro/finternet/internal/registry/domain"
	scheduledomain "github.com/fylaro/finternet/internal/schedule/domain"
	treasurydomain "github.com/fylaro/finternet/internal/treasury/domain"
	"github.com/fylaro/finternet/pkg/db/pagination"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	Authz        authorization.Service
	Registry     registrydomain.Service
	Treasury     treasurydomain.Service
	Distribution distributiondomain.Service
	Outbox       *events.Outbox
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	cfg          config.EngineConfig
	authz        authorization.Service
	registry     registrydomain.Service
	treasury     treasurydomain.Service
	distribution distributiondomain.Service
	outbox       *events.Outbox
}

func NewService(p Params) scheduledomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("schedule.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		cfg:          p.Cfg.Engine,
		authz:        p.Authz,
		registry:     p.Registry,
		treasury:     p.Treasury,
		distribution: p.Distribution,
		outbox:       p.Outbox,
	}
}

func (s *Service) CreateSchedule(ctx context.Context, req scheduledomain.CreateScheduleRequest) (scheduledomain.PaymentSchedule, error) {
	var created scheduledomain.PaymentSchedule
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		created, err = s.CreateScheduleTx(ctx, tx, req)
		return err
	})
	return created, err
}

func (s *Service) CreateScheduleTx(ctx context.Context, tx *gorm.DB, req scheduledomain.CreateScheduleRequest) (scheduledomain.PaymentSchedule, error) {
	var zero scheduledomain.PaymentSchedule
	if req.ExpectedAmount <= 0 {
		return zero, scheduledomain.ErrInvalidExpectedAmount
	}
	if req.GraceDays < 0 {
		return zero, scheduledomain.ErrInvalidGracePeriod
	}
	var bpsSum int64
	for _, inv := range req.Investors {
		if strings.TrimSpace(inv.Account) == "" || inv.ShareBps <= 0 {
			return zero, scheduledomain.ErrInvalidInvestorSplit
		}
		bpsSum += inv.ShareBps
	}
	if len(req.Investors) == 0 || bpsSum != 10000 {
		return zero, scheduledomain.ErrInvalidInvestorSplit
	}

	invoice, err := s.registry.InvoiceTx(ctx, tx, req.InvoiceID)
	if err != nil {
		return zero, err
	}
	if !invoice.Verified {
		return zero, registrydomain.ErrNotVerified
	}

	var count int64
	if err := tx.WithContext(ctx).Model(&scheduledomain.PaymentSchedule{}).
		Where("invoice_id = ?", req.InvoiceID).Count(&count).Error; err != nil {
		return zero, err
	}
	if count > 0 {
		return zero, scheduledomain.ErrDuplicateSchedule
	}

	due := req.DueDate
	if due.IsZero() {
		due = invoice.DueDate
	}
	now := s.clock.Now()
	schedule := scheduledomain.PaymentSchedule{
		ID:             s.genID.Generate(),
		InvoiceID:      req.InvoiceID,
		Debtor:         invoice.Debtor,
		ExpectedAmount: req.ExpectedAmount,
		DueDate:        due.UTC(),
		GraceDays:      req.GraceDays,
		Status:         scheduledomain.StatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.WithContext(ctx).Create(&schedule).Error; err != nil {
		return zero, err
	}
	for _, inv := range req.Investors {
		row := scheduledomain.Investor{
			ID:         s.genID.Generate(),
			ScheduleID: schedule.ID,
			Account:    inv.Account,
			ShareBps:   inv.ShareBps,
			CreatedAt:  now,
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return zero, err
		}
	}
	return schedule, nil
}

func (s *Service) RecordPayment(ctx context.Context, req scheduledomain.RecordPaymentRequest) (scheduledomain.PaymentSchedule, error) {
	var updated scheduledomain.PaymentSchedule
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		updated, err = s.RecordPaymentTx(ctx, tx, req)
		return err
	})
	return updated, err
}

func (s *Service) RecordPaymentTx(ctx context.Context, tx *gorm.DB, req scheduledomain.RecordPaymentRequest) (scheduledomain.PaymentSchedule, error) {
	var zero scheduledomain.PaymentSchedule
	if strings.TrimSpace(req.Payer) == "" {
		return zero, scheduledomain.ErrInvalidPayer
	}
	if req.Amount <= 0 {
		return zero, scheduledomain.ErrInvalidPaymentAmount
	}

	schedule, err := s.scheduleByInvoiceTx(ctx, tx, req.InvoiceID)
	if err != nil {
		return zero, err
	}
	if schedule.Settled {
		return zero, scheduledomain.ErrScheduleSettled
	}
	if schedule.Status == scheduledomain.StatusDefault {
		return zero, scheduledomain.ErrScheduleInDefault
	}

	ref := strings.TrimSpace(req.ExternalRef)
	if ref == "" {
		ref = uuid.NewString()
	} else {
		var dup int64
		if err := tx.WithContext(ctx).Model(&scheduledomain.Payment{}).
			Where("external_ref = ?", ref).Count(&dup).Error; err != nil {
			return zero, err
		}
		if dup > 0 {
			return zero, scheduledomain.ErrDuplicatePaymentRef
		}
	}

	now := s.clock.Now()
	payment := scheduledomain.Payment{
		ID:          s.genID.Generate(),
		ScheduleID:  schedule.ID,
		InvoiceID:   schedule.InvoiceID,
		Payer:       req.Payer,
		Amount:      req.Amount,
		Method:      strings.TrimSpace(req.Method),
		ExternalRef: ref,
		ReceivedAt:  now,
	}
	if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
		return zero, err
	}
	if err := s.treasury.CreditTx(ctx, tx, treasurydomain.InvoiceAccount(schedule.InvoiceID), req.Amount, treasurydomain.RefTypePayment, schedule.InvoiceID); err != nil {
		return zero, err
	}

	schedule.TotalPaid += req.Amount
	if err := tx.WithContext(ctx).Model(&scheduledomain.PaymentSchedule{}).
		Where("id = ?", schedule.ID).
		Updates(map[string]any{"total_paid": schedule.TotalPaid, "updated_at": now}).Error; err != nil {
		return zero, err
	}
	if err := s.outbox.PublishTx(ctx, tx, now, events.Event{
		InvoiceID: schedule.InvoiceID,
		Type:      events.EventPaymentReceived,
		DedupeKey: "payment:" + ref,
		Payload: map[string]any{
			"payer":      req.Payer,
			"amount":     req.Amount,
			"method":     payment.Method,
			"total_paid": schedule.TotalPaid,
		},
	}); err != nil {
		return zero, err
	}

	next := scheduledomain.Evaluate(schedule.TotalPaid, schedule.ExpectedAmount, schedule.DueDate, schedule.GracePeriod(), s.cfg.DefaultAfter(), now)
	if err := s.applyStatus(ctx, tx, &schedule, next, now); err != nil {
		return zero, err
	}

	if schedule.TotalPaid >= schedule.ExpectedAmount && !schedule.Settled {
		if err := s.settle(ctx, tx, &schedule, now); err != nil {
			return zero, err
		}
	}
	return schedule, nil
}

func (s *Service) UpdateStatus(ctx context.Context, invoiceID snowflake.ID) (scheduledomain.Status, error) {
	var status scheduledomain.Status
	err := s.db.Transaction(func(tx *gorm.DB) error {
		schedule, err := s.scheduleByInvoiceTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		status = schedule.Status
		if schedule.Settled && schedule.Status.Terminal() {
			return nil
		}
		if schedule.Status == scheduledomain.StatusDefault {
			return nil
		}
		now := s.clock.Now()
		next := scheduledomain.Evaluate(schedule.TotalPaid, schedule.ExpectedAmount, schedule.DueDate, schedule.GracePeriod(), s.cfg.DefaultAfter(), now)
		if err := s.applyStatus(ctx, tx, &schedule, next, now); err != nil {
			return err
		}
		status = schedule.Status
		return nil
	})
	return status, err
}

func (s *Service) HandleDefault(ctx context.Context, invoiceID snowflake.ID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		schedule, err := s.scheduleByInvoiceTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if schedule.Settled {
			return scheduledomain.ErrScheduleSettled
		}
		if schedule.Status == scheduledomain.StatusDefault {
			return scheduledomain.ErrDefaultNotEligible
		}
		now := s.clock.Now()
		deadline := schedule.DueDate.Add(schedule.GracePeriod()).Add(s.cfg.DefaultAfter())
		if schedule.TotalPaid >= schedule.ExpectedAmount || !now.After(deadline) {
			return scheduledomain.ErrDefaultNotEligible
		}
		return s.applyStatus(ctx, tx, &schedule, scheduledomain.StatusDefault, now)
	})
}

func (s *Service) RecordRecovery(ctx context.Context, actor string, invoiceID snowflake.ID, amount int64) error {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectSchedule, authorization.ActionScheduleRecover); err != nil {
		return err
	}
	if amount <= 0 {
		return scheduledomain.ErrInvalidRecovery
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		schedule, err := s.scheduleByInvoiceTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if schedule.Status != scheduledomain.StatusDefault {
			return scheduledomain.ErrNotInDefault
		}
		if schedule.Settled {
			return scheduledomain.ErrScheduleSettled
		}

		now := s.clock.Now()
		recovery := scheduledomain.Recovery{
			ID:         s.genID.Generate(),
			ScheduleID: schedule.ID,
			InvoiceID:  schedule.InvoiceID,
			Amount:     amount,
			RecordedBy: actor,
			CreatedAt:  now,
		}
		if err := tx.WithContext(ctx).Create(&recovery).Error; err != nil {
			return err
		}
		if err := s.treasury.CreditTx(ctx, tx, treasurydomain.InvoiceAccount(schedule.InvoiceID), amount, treasurydomain.RefTypeRecovery, schedule.InvoiceID); err != nil {
			return err
		}

		schedule.TotalPaid += amount
		if err := tx.WithContext(ctx).Model(&scheduledomain.PaymentSchedule{}).
			Where("id = ?", schedule.ID).
			Updates(map[string]any{"total_paid": schedule.TotalPaid, "updated_at": now}).Error; err != nil {
			return err
		}
		if err := s.applyStatus(ctx, tx, &schedule, scheduledomain.StatusRecovered, now); err != nil {
			return err
		}
		if err := s.outbox.PublishTx(ctx, tx, now, events.Event{
			InvoiceID: schedule.InvoiceID,
			Type:      events.EventRecovered,
			DedupeKey: "recovered:" + schedule.ID.String(),
			Payload: map[string]any{
				"amount":      amount,
				"recorded_by": actor,
				"total_paid":  schedule.TotalPaid,
			},
		}); err != nil {
			return err
		}
		return s.settle(ctx, tx, &schedule, now)
	})
}

// settle marks the invoice settled and distributes in the same transaction
// so a settled-but-undistributed state is never observable.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, schedule *scheduledomain.PaymentSchedule, now time.Time) error {
	if schedule.Settled {
		return scheduledomain.ErrScheduleSettled
	}
	schedule.Settled = true
	if err := tx.WithContext(ctx).Model(&scheduledomain.PaymentSchedule{}).
		Where("id = ?", schedule.ID).
		Updates(map[string]any{"settled": true, "updated_at": now}).Error; err != nil {
		return err
	}

	if schedule.TotalPaid >= schedule.ExpectedAmount {
		if err := s.registry.MarkPaidTx(ctx, tx, schedule.InvoiceID); err != nil && !errors.Is(err, registrydomain.ErrAlreadyPaid) {
			return err
		}
	}
	if err := s.registry.MarkSettledTx(ctx, tx, schedule.InvoiceID); err != nil {
		return err
	}

	investors, err := s.investorsTx(ctx, tx, schedule.ID)
	if err != nil {
		return err
	}
	shares := make([]distributiondomain.InvestorShare, 0, len(investors))
	for _, inv := range investors {
		shares = append(shares, distributiondomain.InvestorShare{Account: inv.Account, ShareBps: inv.ShareBps})
	}
	result, err := s.distribution.DistributeTx(ctx, tx, distributiondomain.Request{
		InvoiceID:   schedule.InvoiceID,
		ScheduleID:  schedule.ID,
		TotalPaid:   schedule.TotalPaid,
		SourceOwner: treasurydomain.InvoiceAccount(schedule.InvoiceID),
		Investors:   shares,
	})
	if err != nil {
		return err
	}
	s.log.Info("schedule settled",
		zap.Int64("total_paid", schedule.TotalPaid),
		zap.Int64("fee", result.Fee),
		zap.Int("owed", result.OwedCount),
	)

	return s.outbox.PublishTx(ctx, tx, now, events.Event{
		InvoiceID: schedule.InvoiceID,
		Type:      events.EventSettled,
		DedupeKey: "settled:" + schedule.ID.String(),
		Payload: map[string]any{
			"total_paid":    schedule.TotalPaid,
			"fee":           result.Fee,
			"distributable": result.Distributable,
			"dust":          result.Dust,
		},
	})
}

func (s *Service) applyStatus(ctx context.Context, tx *gorm.DB, schedule *scheduledomain.PaymentSchedule, next scheduledomain.Status, now time.Time) error {
	if next == schedule.Status {
		return nil
	}
	if !scheduledomain.CanTransition(schedule.Status, next) {
		return nil
	}
	prev := schedule.Status
	updates := map[string]any{"status": next, "updated_at": now}
	if next == scheduledomain.StatusDefault {
		updates["defaulted_at"] = now
	}
	if err := tx.WithContext(ctx).Model(&scheduledomain.PaymentSchedule{}).
		Where("id = ?", schedule.ID).Updates(updates).Error; err != nil {
		return err
	}
	schedule.Status = next
	if next == scheduledomain.StatusDefault {
		t := now
		schedule.DefaultedAt = &t
	}

	if err := s.outbox.PublishTx(ctx, tx, now, events.Event{
		InvoiceID: schedule.InvoiceID,
		Type:      events.EventStatusUpdated,
		Payload: map[string]any{
			"from": string(prev),
			"to":   string(next),
		},
	}); err != nil {
		return err
	}
	if next == scheduledomain.StatusDefault {
		s.log.Warn("schedule defaulted",
			zap.Int64("unpaid", schedule.Remaining()),
		)
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			InvoiceID: schedule.InvoiceID,
			Type:      events.EventDefaulted,
			DedupeKey: "defaulted:" + schedule.ID.String(),
			Payload: map[string]any{
				"unpaid":     schedule.Remaining(),
				"total_paid": schedule.TotalPaid,
				"expected":   schedule.ExpectedAmount,
			},
		})
	}
	return nil
}

func (s *Service) GetByInvoice(ctx context.Context, invoiceID snowflake.ID) (scheduledomain.PaymentSchedule, error) {
	return s.scheduleByInvoiceTx(ctx, s.db, invoiceID)
}

func (s *Service) scheduleByInvoiceTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (scheduledomain.PaymentSchedule, error) {
	var schedule scheduledomain.PaymentSchedule
	err := tx.WithContext(ctx).Where("invoice_id = ?", invoiceID).First(&schedule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return scheduledomain.PaymentSchedule{}, scheduledomain.ErrScheduleNotFound
	}
	return schedule, err
}

func (s *Service) Investors(ctx context.Context, scheduleID snowflake.ID) ([]scheduledomain.Investor, error) {
	return s.investorsTx(ctx, s.db, scheduleID)
}

func (s *Service) investorsTx(ctx context.Context, tx *gorm.DB, scheduleID snowflake.ID) ([]scheduledomain.Investor, error) {
	var investors []scheduledomain.Investor
	err := tx.WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Order("share_bps DESC").
		Find(&investors).Error
	return investors, err
}

func (s *Service) ListPayments(ctx context.Context, invoiceID snowflake.ID, page pagination.Request) ([]scheduledomain.Payment, pagination.PageInfo, error) {
	q := s.db.WithContext(ctx).Model(&scheduledomain.Payment{}).
		Where("invoice_id = ?", invoiceID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	var payments []scheduledomain.Payment
	if err := q.Order("id ASC").Scopes(page.Scope()).Find(&payments).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return payments, page.Info(total), nil
}

func (s *Service) ListDueForReview(ctx context.Context, now time.Time, limit int) ([]scheduledomain.PaymentSchedule, error) {
	if limit <= 0 {
		limit = 100
	}
	var schedules []scheduledomain.PaymentSchedule
	err := s.db.WithContext(ctx).
		Where("settled = ? AND status NOT IN ? AND due_date < ?",
			false,
			[]scheduledomain.Status{scheduledomain.StatusPaid, scheduledomain.StatusDefault, scheduledomain.StatusRecovered},
			now,
		).
		Order("due_date ASC").
		Limit(limit).
		Find(&schedules).Error
	return schedules, err
}
