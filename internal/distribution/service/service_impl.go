package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/internal/authorization"
	"github.com/fylaro/finternet/internal/clock"
	"github.com/fylaro/finternet/internal/config"
	distributiondomain "github.com/fylaro/finternet/internal/distribution/domain"
	"github.com/fylaro/finternet/internal/events"
	treasurydomain "github.com/fylaro/finternet/internal/treasury/domain"
	"github.com/fylaro/finternet/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Authz    authorization.Service
	Treasury treasurydomain.Service
	Outbox   *events.Outbox
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      config.EngineConfig
	authz    authorization.Service
	treasury treasurydomain.Service
	outbox   *events.Outbox
}

func NewService(p Params) distributiondomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("distribution.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Cfg.Engine,
		authz:    p.Authz,
		treasury: p.Treasury,
		outbox:   p.Outbox,
	}
}

func (s *Service) DistributeTx(ctx context.Context, tx *gorm.DB, req distributiondomain.Request) (distributiondomain.Result, error) {
	var zero distributiondomain.Result
	if req.InvoiceID == 0 || req.ScheduleID == 0 || req.SourceOwner == "" || req.TotalPaid <= 0 {
		return zero, distributiondomain.ErrInvalidRequest
	}
	var bpsSum int64
	for _, inv := range req.Investors {
		if inv.Account == "" || inv.ShareBps <= 0 {
			return zero, distributiondomain.ErrInvalidShareSplit
		}
		bpsSum += inv.ShareBps
	}
	if len(req.Investors) == 0 || bpsSum != 10000 {
		return zero, distributiondomain.ErrInvalidShareSplit
	}

	var existing int64
	if err := tx.WithContext(ctx).Model(&distributiondomain.Distribution{}).
		Where("schedule_id = ?", req.ScheduleID).Count(&existing).Error; err != nil {
		return zero, err
	}
	if existing > 0 {
		return zero, distributiondomain.ErrAlreadyDistributed
	}

	now := s.clock.Now()
	result := distributiondomain.Result{
		Fee:           req.TotalPaid * s.cfg.DistributionFeeBps / 10000,
		Distributable: req.TotalPaid - req.TotalPaid*s.cfg.DistributionFeeBps/10000,
	}

	// Fee transfer happens once, before the investor loop. Best-effort:
	// skipped when the balance cannot cover it, never double-charged.
	if result.Fee > 0 {
		balance, err := s.treasury.BalanceTx(ctx, tx, req.SourceOwner)
		if err != nil {
			return zero, err
		}
		if balance >= result.Fee {
			if err := s.treasury.TransferTx(ctx, tx, req.SourceOwner, s.cfg.FeeRecipient, result.Fee, treasurydomain.RefTypePlatformFee, req.InvoiceID); err != nil {
				return zero, err
			}
		} else {
			result.FeeSkipped = true
			s.log.Warn("distribution fee skipped, balance too low",
				zap.Int64("fee", result.Fee),
				zap.Int64("balance", balance),
			)
		}
	}

	var paidOut int64
	for _, inv := range req.Investors {
		payout := result.Distributable * inv.ShareBps / 10000
		row := distributiondomain.Distribution{
			ID:         s.genID.Generate(),
			InvoiceID:  req.InvoiceID,
			ScheduleID: req.ScheduleID,
			Investor:   inv.Account,
			ShareBps:   inv.ShareBps,
			Amount:     payout,
			CreatedAt:  now,
		}
		if payout > 0 {
			balance, err := s.treasury.BalanceTx(ctx, tx, req.SourceOwner)
			if err != nil {
				return zero, err
			}
			if balance >= payout {
				if err := s.treasury.TransferTx(ctx, tx, req.SourceOwner, inv.Account, payout, treasurydomain.RefTypeDistribution, req.InvoiceID); err != nil {
					return zero, err
				}
				row.Success = true
				row.PaidAt = &now
				paidOut += payout
			}
		} else {
			row.Success = true
			row.PaidAt = &now
		}
		if row.Success {
			result.PaidCount++
		} else {
			result.OwedCount++
			s.log.Warn("distribution payout unfunded, recorded as owed",
				zap.String("investor", inv.Account),
				zap.Int64("amount", payout),
			)
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return zero, err
		}
	}

	// Dust from bps truncation stays on the collection account unclaimed.
	result.Dust = result.Distributable - func() int64 {
		var sum int64
		for _, inv := range req.Investors {
			sum += result.Distributable * inv.ShareBps / 10000
		}
		return sum
	}()

	err := s.outbox.PublishTx(ctx, tx, now, events.Event{
		InvoiceID: req.InvoiceID,
		Type:      events.EventDistributed,
		DedupeKey: "distributed:" + req.ScheduleID.String(),
		Payload: map[string]any{
			"schedule_id":   req.ScheduleID.String(),
			"total_paid":    req.TotalPaid,
			"fee":           result.Fee,
			"fee_skipped":   result.FeeSkipped,
			"distributable": result.Distributable,
			"paid_out":      paidOut,
			"dust":          result.Dust,
			"owed_count":    result.OwedCount,
		},
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}

// RetryOwed re-attempts payouts that were recorded as owed. Only rows with
// success=false are touched, so a retry can never pay twice.
func (s *Service) RetryOwed(ctx context.Context, actor string, scheduleID snowflake.ID) (int, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectSchedule, authorization.ActionScheduleRetryOwed); err != nil {
		return 0, err
	}

	recovered := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var owed []distributiondomain.Distribution
		if err := tx.WithContext(ctx).
			Where("schedule_id = ? AND success = ?", scheduleID, false).
			Order("id ASC").
			Find(&owed).Error; err != nil {
			return err
		}
		if len(owed) == 0 {
			return distributiondomain.ErrNothingOwed
		}
		now := s.clock.Now()
		for _, row := range owed {
			source := treasurydomain.InvoiceAccount(row.InvoiceID)
			balance, err := s.treasury.BalanceTx(ctx, tx, source)
			if err != nil {
				return err
			}
			if balance < row.Amount {
				continue
			}
			if err := s.treasury.TransferTx(ctx, tx, source, row.Investor, row.Amount, treasurydomain.RefTypeDistribution, row.InvoiceID); err != nil {
				return err
			}
			if err := tx.WithContext(ctx).Model(&distributiondomain.Distribution{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{"success": true, "paid_at": now}).Error; err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return recovered, nil
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID snowflake.ID, page pagination.Request) ([]distributiondomain.Distribution, pagination.PageInfo, error) {
	q := s.db.WithContext(ctx).Model(&distributiondomain.Distribution{}).
		Where("invoice_id = ?", invoiceID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	var rows []distributiondomain.Distribution
	if err := q.Order("id ASC").Scopes(page.Scope()).Find(&rows).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return rows, page.Info(total), nil
}
