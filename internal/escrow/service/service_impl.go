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
	escrowdomain "github.com/fylaro/finternet/internal/escrow/domain"
	"github.com/fylaro/finternet/internal/events"
	registrydomain "github.com/fylaro/finternet/internal/registry/domain"
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
	Registry registrydomain.Service
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
	treasury treasurydomain.Service
	outbox   *events.Outbox
}

func NewService(p Params) escrowdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("escrow.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Cfg.Engine,
		authz:    p.Authz,
		registry: p.Registry,
		treasury: p.Treasury,
		outbox:   p.Outbox,
	}
}

func (s *Service) Deposit(ctx context.Context, payer string, invoiceID snowflake.ID, amount int64) (escrowdomain.Deposit, error) {
	var zero escrowdomain.Deposit
	payer = strings.TrimSpace(payer)
	if payer == "" {
		return zero, escrowdomain.ErrNotPayer
	}

	now := s.clock.Now()
	deposit := escrowdomain.Deposit{
		ID:        s.genID.Generate(),
		InvoiceID: invoiceID,
		Payer:     payer,
		Amount:    amount,
		CreatedAt: now,
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
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
		if amount < invoice.FaceValue {
			return escrowdomain.ErrBelowFaceValue
		}

		var live int64
		if err := tx.WithContext(ctx).Model(&escrowdomain.Deposit{}).
			Where("invoice_id = ? AND released = ? AND refunded = ?", invoiceID, false, false).
			Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return escrowdomain.ErrActiveDepositExists
		}

		if err := s.treasury.TransferTx(ctx, tx, payer, treasurydomain.EscrowAccount(invoiceID), amount, treasurydomain.RefTypeEscrow, invoiceID); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Create(&deposit).Error; err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			InvoiceID: invoiceID,
			Type:      events.EventEscrowDeposited,
			Payload: map[string]any{
				"deposit_id": deposit.ID.String(),
				"payer":      payer,
				"amount":     amount,
			},
		})
	})
	if err != nil {
		return zero, err
	}
	return deposit, nil
}

func (s *Service) Release(ctx context.Context, actor string, invoiceID snowflake.ID) error {
	actor = strings.TrimSpace(actor)
	return s.db.Transaction(func(tx *gorm.DB) error {
		deposit, err := s.liveDepositTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		invoice, err := s.registry.InvoiceTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		holder, err := s.registry.MajorityHolderTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if actor != invoice.Debtor && actor != holder {
			if err := s.authz.Authorize(ctx, actor, authorization.ObjectEscrow, authorization.ActionEscrowRelease); err != nil {
				return escrowdomain.ErrNotReleaseParty
			}
		}
		return s.releaseTx(ctx, tx, deposit, holder, actor)
	})
}

// AutoRelease skips the caller check once the counterparty has had its
// window: past the invoice due date plus the auto-release lag, or past the
// escrow timeout measured from the deposit.
func (s *Service) AutoRelease(ctx context.Context, invoiceID snowflake.ID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		deposit, err := s.liveDepositTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		invoice, err := s.registry.InvoiceTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		pastDue := now.After(invoice.DueDate.Add(s.cfg.AutoReleaseLag()))
		timedOut := now.After(deposit.CreatedAt.Add(s.cfg.EscrowTimeout()))
		if !pastDue && !timedOut {
			return escrowdomain.ErrAutoReleaseNotDue
		}
		holder, err := s.registry.MajorityHolderTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		return s.releaseTx(ctx, tx, deposit, holder, "system")
	})
}

func (s *Service) Refund(ctx context.Context, actor string, invoiceID snowflake.ID) error {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectEscrow, authorization.ActionEscrowRefund); err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		deposit, err := s.liveDepositTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		return s.refundTx(ctx, tx, deposit, actor)
	})
}

func (s *Service) EmergencyRefund(ctx context.Context, payer string, invoiceID snowflake.ID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		deposit, err := s.liveDepositTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if deposit.Payer != strings.TrimSpace(payer) {
			return escrowdomain.ErrNotPayer
		}
		if !s.clock.Now().After(deposit.CreatedAt.Add(2 * s.cfg.EscrowTimeout())) {
			return escrowdomain.ErrEmergencyNotDue
		}
		return s.refundTx(ctx, tx, deposit, payer)
	})
}

func (s *Service) Get(ctx context.Context, invoiceID snowflake.ID) (escrowdomain.Deposit, error) {
	var deposit escrowdomain.Deposit
	err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("id DESC").
		First(&deposit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return escrowdomain.Deposit{}, escrowdomain.ErrDepositNotFound
	}
	return deposit, err
}

// ListReleasable returns live deposits the auto-release sweep may settle.
func (s *Service) ListReleasable(ctx context.Context, now time.Time, page pagination.Request) ([]escrowdomain.Deposit, pagination.PageInfo, error) {
	q := s.db.WithContext(ctx).Model(&escrowdomain.Deposit{}).
		Joins("JOIN invoices ON invoices.id = escrow_deposits.invoice_id").
		Where("escrow_deposits.released = ? AND escrow_deposits.refunded = ?", false, false).
		Where("invoices.due_date < ? OR escrow_deposits.created_at < ?",
			now.Add(-s.cfg.AutoReleaseLag()), now.Add(-s.cfg.EscrowTimeout()))

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	var deposits []escrowdomain.Deposit
	if err := q.Order("escrow_deposits.id").Scopes(page.Scope()).Find(&deposits).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return deposits, page.Info(total), nil
}

// releaseTx freezes the deposit and marks the invoice paid before any funds
// move, then pays the holder net of the platform fee.
func (s *Service) releaseTx(ctx context.Context, tx *gorm.DB, deposit escrowdomain.Deposit, holder, actor string) error {
	now := s.clock.Now()
	if err := tx.WithContext(ctx).Model(&escrowdomain.Deposit{}).
		Where("id = ? AND released = ? AND refunded = ?", deposit.ID, false, false).
		Updates(map[string]any{
			"released":    true,
			"released_to": holder,
			"resolved_at": now,
		}).Error; err != nil {
		return err
	}
	if err := s.registry.MarkPaidTx(ctx, tx, deposit.InvoiceID); err != nil {
		return err
	}

	escrowAccount := treasurydomain.EscrowAccount(deposit.InvoiceID)
	fee := deposit.Amount * s.cfg.PlatformFeeBps / 10000
	if err := s.treasury.TransferTx(ctx, tx, escrowAccount, holder, deposit.Amount-fee, treasurydomain.RefTypeEscrow, deposit.InvoiceID); err != nil {
		return err
	}
	if fee > 0 {
		if err := s.treasury.TransferTx(ctx, tx, escrowAccount, s.cfg.FeeRecipient, fee, treasurydomain.RefTypePlatformFee, deposit.InvoiceID); err != nil {
			return err
		}
	}
	return s.outbox.PublishTx(ctx, tx, now, events.Event{
		InvoiceID: deposit.InvoiceID,
		Type:      events.EventEscrowReleased,
		DedupeKey: "escrow_released:" + deposit.ID.String(),
		Payload: map[string]any{
			"deposit_id": deposit.ID.String(),
			"holder":     holder,
			"amount":     deposit.Amount,
			"fee":        fee,
			"actor":      actor,
		},
	})
}

func (s *Service) refundTx(ctx context.Context, tx *gorm.DB, deposit escrowdomain.Deposit, actor string) error {
	now := s.clock.Now()
	if err := tx.WithContext(ctx).Model(&escrowdomain.Deposit{}).
		Where("id = ? AND released = ? AND refunded = ?", deposit.ID, false, false).
		Updates(map[string]any{
			"refunded":    true,
			"resolved_at": now,
		}).Error; err != nil {
		return err
	}
	if err := s.treasury.TransferTx(ctx, tx, treasurydomain.EscrowAccount(deposit.InvoiceID), deposit.Payer, deposit.Amount, treasurydomain.RefTypeEscrow, deposit.InvoiceID); err != nil {
		return err
	}
	return s.outbox.PublishTx(ctx, tx, now, events.Event{
		InvoiceID: deposit.InvoiceID,
		Type:      events.EventEscrowRefunded,
		DedupeKey: "escrow_refunded:" + deposit.ID.String(),
		Payload: map[string]any{
			"deposit_id": deposit.ID.String(),
			"payer":      deposit.Payer,
			"amount":     deposit.Amount,
			"actor":      actor,
		},
	})
}

func (s *Service) liveDepositTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (escrowdomain.Deposit, error) {
	var deposit escrowdomain.Deposit
	err := tx.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("id DESC").
		First(&deposit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return escrowdomain.Deposit{}, escrowdomain.ErrDepositNotFound
	}
	if err != nil {
		return escrowdomain.Deposit{}, err
	}
	if !deposit.Live() {
		return escrowdomain.Deposit{}, escrowdomain.ErrDepositResolved
	}
	return deposit, nil
}
