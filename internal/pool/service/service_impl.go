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
	pooldomain "github.com/fylaro/finternet/internal/pool/domain"
	registrydomain "github.com/fylaro/finternet/internal/registry/domain"
	scheduledomain "github.com/fylaro/finternet/internal/schedule/domain"
	treasurydomain "github.com/fylaro/finternet/internal/treasury/domain"
	"github.com/fylaro/finternet/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const poolName = "main"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Authz    authorization.Service
	Registry registrydomain.Service
	Schedule scheduledomain.Service
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
	registry registrydomain.Service
	schedule scheduledomain.Service
	treasury treasurydomain.Service
	outbox   *events.Outbox
}

func NewService(p Params) pooldomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("pool.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Cfg.Engine,
		authz:    p.Authz,
		registry: p.Registry,
		schedule: p.Schedule,
		treasury: p.Treasury,
		outbox:   p.Outbox,
	}
}

func (s *Service) Deposit(ctx context.Context, account string, amount int64) (pooldomain.Position, error) {
	var zero pooldomain.Position
	account = strings.TrimSpace(account)
	if account == "" {
		return zero, pooldomain.ErrPositionNotFound
	}
	if amount < s.cfg.Pool.MinDeposit {
		return zero, pooldomain.ErrDepositBelowMin
	}
	if amount > s.cfg.Pool.MaxDeposit {
		return zero, pooldomain.ErrDepositAboveMax
	}

	var position pooldomain.Position
	err := s.db.Transaction(func(tx *gorm.DB) error {
		pool, err := s.poolTx(ctx, tx)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		fee := amount * s.cfg.Pool.DepositFeeBps / 10000
		net := amount - fee
		if pool.TotalAssets+net > s.cfg.Pool.Cap {
			return pooldomain.ErrPoolCapExceeded
		}

		// mint at the current supply/assets ratio, 1:1 into an empty pool;
		// with shares outstanding but no assets left there is no ratio to
		// price the mint at, so refuse rather than wipe out existing holders
		shares := net
		if pool.TotalShares > 0 {
			if pool.TotalAssets <= 0 {
				return pooldomain.ErrPoolDrained
			}
			shares = net * pool.TotalShares / pool.TotalAssets
		}

		position, err = s.positionTx(ctx, tx, account, now)
		if err != nil {
			return err
		}
		if err := s.accrueTx(ctx, tx, pool, &position, now); err != nil {
			return err
		}

		if err := s.treasury.TransferTx(ctx, tx, account, treasurydomain.PoolAccount, amount, treasurydomain.RefTypePoolDeposit, pool.ID); err != nil {
			return err
		}
		if fee > 0 {
			if err := s.treasury.TransferTx(ctx, tx, treasurydomain.PoolAccount, s.cfg.FeeRecipient, fee, treasurydomain.RefTypePlatformFee, pool.ID); err != nil {
				return err
			}
		}

		position.Shares += shares
		position.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(&position).Error; err != nil {
			return err
		}

		pool.TotalAssets += net
		pool.TotalShares += shares
		if err := s.savePoolTx(ctx, tx, pool, now); err != nil {
			return err
		}
		if err := s.recordFlowTx(ctx, tx, pooldomain.Flow{
			Type: pooldomain.FlowDeposit, Account: account,
			Amount: net, Shares: shares, Fee: fee, CreatedAt: now,
		}); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			Type: events.EventPoolDeposit,
			Payload: map[string]any{
				"account": account,
				"amount":  amount,
				"net":     net,
				"fee":     fee,
				"shares":  shares,
			},
		})
	})
	if err != nil {
		return zero, err
	}
	return position, nil
}

func (s *Service) Withdraw(ctx context.Context, account string, shares int64) (int64, error) {
	if shares <= 0 {
		return 0, pooldomain.ErrInvalidShares
	}
	var payout int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		pool, err := s.poolTx(ctx, tx)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		position, err := s.existingPositionTx(ctx, tx, account)
		if err != nil {
			return err
		}
		if err := s.accrueTx(ctx, tx, pool, &position, now); err != nil {
			return err
		}
		if shares > position.Shares {
			return pooldomain.ErrInsufficientShares
		}

		assets := shares * pool.TotalAssets / pool.TotalShares
		if assets > pool.TotalAssets-pool.TotalFinanced {
			return pooldomain.ErrInsufficientAssets
		}

		fee := assets * s.cfg.Pool.WithdrawFeeBps / 10000
		penalty := int64(0)
		if now.Before(position.CreatedAt.Add(s.cfg.Pool.MinLockPeriod())) {
			penalty = assets * s.cfg.Pool.EarlyWithdrawBps / 10000
		}
		payout = assets - fee - penalty

		position.Shares -= shares
		position.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(&position).Error; err != nil {
			return err
		}
		pool.TotalAssets -= assets
		pool.TotalShares -= shares
		if err := s.savePoolTx(ctx, tx, pool, now); err != nil {
			return err
		}

		if err := s.treasury.TransferTx(ctx, tx, treasurydomain.PoolAccount, account, payout, treasurydomain.RefTypePoolWithdraw, pool.ID); err != nil {
			return err
		}
		if fee+penalty > 0 {
			if err := s.treasury.TransferTx(ctx, tx, treasurydomain.PoolAccount, s.cfg.FeeRecipient, fee+penalty, treasurydomain.RefTypePlatformFee, pool.ID); err != nil {
				return err
			}
		}
		if err := s.recordFlowTx(ctx, tx, pooldomain.Flow{
			Type: pooldomain.FlowWithdraw, Account: account,
			Amount: assets, Shares: shares, Fee: fee + penalty, CreatedAt: now,
		}); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			Type: events.EventPoolWithdrawal,
			Payload: map[string]any{
				"account": account,
				"assets":  assets,
				"payout":  payout,
				"fee":     fee,
				"penalty": penalty,
				"shares":  shares,
			},
		})
	})
	if err != nil {
		return 0, err
	}
	return payout, nil
}

func (s *Service) ClaimRewards(ctx context.Context, account string) (int64, error) {
	var payout int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		pool, err := s.poolTx(ctx, tx)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		position, err := s.existingPositionTx(ctx, tx, account)
		if err != nil {
			return err
		}
		if err := s.accrueTx(ctx, tx, pool, &position, now); err != nil {
			return err
		}
		reward := position.Accrued
		// rewards only pay out of free pool cash; the remainder stays
		// accrued until repayments replenish the pool
		if free := pool.TotalAssets - pool.TotalFinanced; reward > free {
			reward = free
		}
		if reward <= 0 {
			return pooldomain.ErrNoRewards
		}

		fee := reward * s.cfg.Pool.PerformanceFeeBps / 10000
		payout = reward - fee

		position.Accrued -= reward
		position.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(&position).Error; err != nil {
			return err
		}
		// rewards are paid from pool cash, so the asset base shrinks
		pool.TotalAssets -= reward
		if err := s.savePoolTx(ctx, tx, pool, now); err != nil {
			return err
		}

		if err := s.treasury.TransferTx(ctx, tx, treasurydomain.PoolAccount, account, payout, treasurydomain.RefTypePoolReward, pool.ID); err != nil {
			return err
		}
		if fee > 0 {
			if err := s.treasury.TransferTx(ctx, tx, treasurydomain.PoolAccount, s.cfg.FeeRecipient, fee, treasurydomain.RefTypePlatformFee, pool.ID); err != nil {
				return err
			}
		}
		if err := s.recordFlowTx(ctx, tx, pooldomain.Flow{
			Type: pooldomain.FlowReward, Account: account,
			Amount: reward, Fee: fee, CreatedAt: now,
		}); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			Type: events.EventRewardsClaimed,
			Payload: map[string]any{
				"account": account,
				"reward":  reward,
				"payout":  payout,
				"fee":     fee,
			},
		})
	})
	if err != nil {
		return 0, err
	}
	return payout, nil
}

func (s *Service) FinanceInvoice(ctx context.Context, invoiceID snowflake.ID, amount int64) (pooldomain.Financing, error) {
	var zero pooldomain.Financing
	if amount <= 0 {
		return zero, pooldomain.ErrInvalidPrincipal
	}
	var financing pooldomain.Financing
	err := s.db.Transaction(func(tx *gorm.DB) error {
		pool, err := s.poolTx(ctx, tx)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		invoice, err := s.registry.InvoiceTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if !invoice.Verified {
			return registrydomain.ErrNotVerified
		}
		if invoice.Paid {
			return registrydomain.ErrAlreadyPaid
		}

		var existing int64
		if err := tx.WithContext(ctx).Model(&pooldomain.Financing{}).
			Where("invoice_id = ?", invoiceID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return pooldomain.ErrAlreadyFinanced
		}

		strategy, err := s.matchStrategyTx(ctx, tx, invoice, now)
		if err != nil {
			return err
		}
		if amount > pool.TotalAssets-pool.TotalFinanced {
			return pooldomain.ErrInsufficientAssets
		}

		financing = pooldomain.Financing{
			ID:         s.genID.Generate(),
			InvoiceID:  invoiceID,
			StrategyID: strategy.ID,
			Principal:  amount,
			CreatedAt:  now,
		}
		if err := tx.WithContext(ctx).Create(&financing).Error; err != nil {
			return err
		}

		if _, err := s.schedule.CreateScheduleTx(ctx, tx, scheduledomain.CreateScheduleRequest{
			InvoiceID:      invoiceID,
			ExpectedAmount: invoice.FaceValue,
			Investors: []distributiondomain.InvestorShare{
				{Account: treasurydomain.PoolAccount, ShareBps: 10000},
			},
		}); err != nil {
			return err
		}
		if err := s.treasury.TransferTx(ctx, tx, treasurydomain.PoolAccount, invoice.Issuer, amount, treasurydomain.RefTypePoolFinance, invoiceID); err != nil {
			return err
		}

		pool.TotalFinanced += amount
		if err := s.savePoolTx(ctx, tx, pool, now); err != nil {
			return err
		}
		if err := s.recordFlowTx(ctx, tx, pooldomain.Flow{
			Type: pooldomain.FlowFinance, Account: invoice.Issuer,
			Amount: amount, RefID: invoiceID, CreatedAt: now,
		}); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			InvoiceID: invoiceID,
			Type:      events.EventPoolFinanced,
			Payload: map[string]any{
				"strategy_id": strategy.ID.String(),
				"principal":   amount,
				"issuer":      invoice.Issuer,
			},
		})
	})
	if err != nil {
		return zero, err
	}
	return financing, nil
}

func (s *Service) RecordRepayment(ctx context.Context, invoiceID snowflake.ID, payer string, amount int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var financing pooldomain.Financing
		err := tx.WithContext(ctx).Where("invoice_id = ?", invoiceID).First(&financing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pooldomain.ErrFinancingNotFound
		}
		if err != nil {
			return err
		}

		sched, err := s.schedule.RecordPaymentTx(ctx, tx, scheduledomain.RecordPaymentRequest{
			InvoiceID: invoiceID,
			Payer:     payer,
			Amount:    amount,
			Method:    "pool_repayment",
		})
		if err != nil {
			return err
		}
		if !sched.Settled || financing.Settled {
			return nil
		}

		// settlement: whatever the distribution actually paid the pool is
		// the realized return; margin over principal becomes pool yield
		var received int64
		if err := tx.WithContext(ctx).Model(&distributiondomain.Distribution{}).
			Where("invoice_id = ? AND investor = ? AND success = ?", invoiceID, treasurydomain.PoolAccount, true).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&received).Error; err != nil {
			return err
		}

		now := s.clock.Now()
		financing.Received = received
		financing.Settled = true
		financing.SettledAt = &now
		if err := tx.WithContext(ctx).Save(&financing).Error; err != nil {
			return err
		}

		pool, err := s.poolTx(ctx, tx)
		if err != nil {
			return err
		}
		pool.TotalFinanced -= financing.Principal
		pool.TotalAssets += received - financing.Principal
		if err := s.savePoolTx(ctx, tx, pool, now); err != nil {
			return err
		}
		if err := s.recordFlowTx(ctx, tx, pooldomain.Flow{
			Type: pooldomain.FlowRepayment, Account: payer,
			Amount: received, RefID: invoiceID, CreatedAt: now,
		}); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			InvoiceID: invoiceID,
			Type:      events.EventPoolRepayment,
			Payload: map[string]any{
				"principal": financing.Principal,
				"received":  received,
				"margin":    received - financing.Principal,
			},
		})
	})
}

func (s *Service) CreateStrategy(ctx context.Context, actor string, req pooldomain.CreateStrategyRequest) (pooldomain.Strategy, error) {
	var zero pooldomain.Strategy
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectPool, authorization.ActionPoolManageStrategy); err != nil {
		return zero, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.MinCreditScore < 0 || req.MaxInterestBps < 0 ||
		req.MaxDurationDays <= 0 || req.TargetAllocationBps < 0 || req.TargetAllocationBps > 10000 {
		return zero, pooldomain.ErrInvalidStrategy
	}

	now := s.clock.Now()
	strategy := pooldomain.Strategy{
		ID:                  s.genID.Generate(),
		Name:                req.Name,
		RiskLevel:           req.RiskLevel,
		MinCreditScore:      req.MinCreditScore,
		MaxInterestBps:      req.MaxInterestBps,
		MaxDurationDays:     req.MaxDurationDays,
		TargetAllocationBps: req.TargetAllocationBps,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.db.WithContext(ctx).Create(&strategy).Error; err != nil {
		return zero, err
	}
	return strategy, nil
}

func (s *Service) SetStrategyActive(ctx context.Context, actor string, strategyID snowflake.ID, active bool) error {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectPool, authorization.ActionPoolManageStrategy); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&pooldomain.Strategy{}).
		Where("id = ?", strategyID).
		Updates(map[string]any{"active": active, "updated_at": s.clock.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pooldomain.ErrStrategyNotFound
	}
	return nil
}

func (s *Service) GetPool(ctx context.Context) (pooldomain.Pool, error) {
	var pool pooldomain.Pool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		pool, err = s.poolTx(ctx, tx)
		return err
	})
	return pool, err
}

func (s *Service) GetPosition(ctx context.Context, account string) (pooldomain.Position, error) {
	return s.existingPositionTx(ctx, s.db, account)
}

// PendingRewards previews the claimable reward without mutating state.
func (s *Service) PendingRewards(ctx context.Context, account string) (int64, error) {
	position, err := s.existingPositionTx(ctx, s.db, account)
	if err != nil {
		return 0, err
	}
	pool, err := s.GetPool(ctx)
	if err != nil {
		return 0, err
	}
	pending := position.Accrued
	if pool.TotalShares > 0 {
		userAssets := position.Shares * pool.TotalAssets / pool.TotalShares
		pending += pooldomain.AccrueReward(userAssets, pool.APYBps, s.clock.Now().Sub(position.LastAccrualAt))
	}
	return pending, nil
}

func (s *Service) ListStrategies(ctx context.Context, page pagination.Request) ([]pooldomain.Strategy, pagination.PageInfo, error) {
	q := s.db.WithContext(ctx).Model(&pooldomain.Strategy{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	var strategies []pooldomain.Strategy
	if err := q.Order("id").Scopes(page.Scope()).Find(&strategies).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return strategies, page.Info(total), nil
}

func (s *Service) ListFlows(ctx context.Context, account string, page pagination.Request) ([]pooldomain.Flow, pagination.PageInfo, error) {
	q := s.db.WithContext(ctx).Model(&pooldomain.Flow{})
	if account != "" {
		q = q.Where("account = ?", account)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	var flows []pooldomain.Flow
	if err := q.Order("id DESC").Scopes(page.Scope()).Find(&flows).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return flows, page.Info(total), nil
}

func (s *Service) poolTx(ctx context.Context, tx *gorm.DB) (pooldomain.Pool, error) {
	var pool pooldomain.Pool
	err := tx.WithContext(ctx).Where("name = ?", poolName).First(&pool).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := s.clock.Now()
		pool = pooldomain.Pool{
			ID:        s.genID.Generate(),
			Name:      poolName,
			APYBps:    pooldomain.APYForUtilization(0),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&pool).Error; err != nil {
			return pooldomain.Pool{}, err
		}
		return pool, nil
	}
	return pool, err
}

// savePoolTx persists the pool row with the APY recomputed from the new
// utilization.
func (s *Service) savePoolTx(ctx context.Context, tx *gorm.DB, pool pooldomain.Pool, now time.Time) error {
	pool.APYBps = pooldomain.APYForUtilization(pool.UtilizationBps())
	pool.UpdatedAt = now
	return tx.WithContext(ctx).Save(&pool).Error
}

// positionTx loads the account's position, creating an empty one on first
// deposit.
func (s *Service) positionTx(ctx context.Context, tx *gorm.DB, account string, now time.Time) (pooldomain.Position, error) {
	var position pooldomain.Position
	err := tx.WithContext(ctx).Where("account = ?", account).First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		position = pooldomain.Position{
			ID:            s.genID.Generate(),
			Account:       account,
			LastAccrualAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.WithContext(ctx).Create(&position).Error; err != nil {
			return pooldomain.Position{}, err
		}
		return position, nil
	}
	return position, err
}

func (s *Service) existingPositionTx(ctx context.Context, tx *gorm.DB, account string) (pooldomain.Position, error) {
	var position pooldomain.Position
	err := tx.WithContext(ctx).Where("account = ?", strings.TrimSpace(account)).First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pooldomain.Position{}, pooldomain.ErrPositionNotFound
	}
	return position, err
}

// accrueTx folds the reward earned since the last accrual into the position
// and advances the accrual clock. Must run before any share change so the
// old holding earns at the old ratio.
func (s *Service) accrueTx(ctx context.Context, tx *gorm.DB, pool pooldomain.Pool, position *pooldomain.Position, now time.Time) error {
	if pool.TotalShares > 0 && position.Shares > 0 {
		userAssets := position.Shares * pool.TotalAssets / pool.TotalShares
		position.Accrued += pooldomain.AccrueReward(userAssets, pool.APYBps, now.Sub(position.LastAccrualAt))
	}
	position.LastAccrualAt = now
	return tx.WithContext(ctx).Model(&pooldomain.Position{}).
		Where("id = ?", position.ID).
		Updates(map[string]any{
			"accrued":         position.Accrued,
			"last_accrual_at": position.LastAccrualAt,
		}).Error
}

// matchStrategyTx picks the tightest active strategy the invoice satisfies.
// Financing fails rather than falling back to an unsuitable strategy.
func (s *Service) matchStrategyTx(ctx context.Context, tx *gorm.DB, invoice registrydomain.Invoice, now time.Time) (pooldomain.Strategy, error) {
	durationDays := int(invoice.DueDate.Sub(now) / (24 * time.Hour))
	var strategies []pooldomain.Strategy
	err := tx.WithContext(ctx).
		Where("active = ?", true).
		Order("min_credit_score DESC").
		Find(&strategies).Error
	if err != nil {
		return pooldomain.Strategy{}, err
	}
	for _, strategy := range strategies {
		if invoice.CreditScore >= strategy.MinCreditScore &&
			invoice.InterestBps <= strategy.MaxInterestBps &&
			durationDays <= strategy.MaxDurationDays {
			return strategy, nil
		}
	}
	return pooldomain.Strategy{}, pooldomain.ErrNoMatchingStrategy
}

func (s *Service) recordFlowTx(ctx context.Context, tx *gorm.DB, flow pooldomain.Flow) error {
	flow.ID = s.genID.Generate()
	return tx.WithContext(ctx).Create(&flow).Error
}
