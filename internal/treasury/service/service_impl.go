package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/internal/authorization"
	"github.com/fylaro/finternet/internal/clock"
	treasurydomain "github.com/fylaro/finternet/internal/treasury/domain"
	"github.com/fylaro/finternet/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Authz authorization.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	authz authorization.Service
}

func NewService(p Params) treasurydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("treasury.service"),
		genID: p.GenID,
		clock: p.Clock,
		authz: p.Authz,
	}
}

func (s *Service) Fund(ctx context.Context, actor, owner string, amount int64) error {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectTreasury, authorization.ActionTreasuryFund); err != nil {
		return err
	}
	if strings.TrimSpace(owner) == "" {
		return treasurydomain.ErrInvalidOwner
	}
	if amount <= 0 {
		return treasurydomain.ErrInvalidAmount
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.CreditTx(ctx, tx, owner, amount, treasurydomain.RefTypeFunding, 0)
	})
}

func (s *Service) Balance(ctx context.Context, owner string) (int64, error) {
	return s.BalanceTx(ctx, s.db, owner)
}

func (s *Service) BalanceTx(ctx context.Context, tx *gorm.DB, owner string) (int64, error) {
	if strings.TrimSpace(owner) == "" {
		return 0, treasurydomain.ErrInvalidOwner
	}
	var acct treasurydomain.Account
	err := tx.WithContext(ctx).Where("owner = ?", owner).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (s *Service) ListTransfers(ctx context.Context, owner string, page pagination.Request) ([]treasurydomain.Transfer, pagination.PageInfo, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, pagination.PageInfo{}, treasurydomain.ErrInvalidOwner
	}
	q := s.db.WithContext(ctx).Model(&treasurydomain.Transfer{}).
		Where("from_owner = ? OR to_owner = ?", owner, owner)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	var transfers []treasurydomain.Transfer
	if err := q.Order("id DESC").Scopes(page.Scope()).Find(&transfers).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return transfers, page.Info(total), nil
}

func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, owner string, amount int64, refType string, refID snowflake.ID) error {
	if err := s.credit(ctx, tx, owner, amount); err != nil {
		return err
	}
	return s.record(ctx, tx, "", owner, amount, refType, refID)
}

func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, owner string, amount int64, refType string, refID snowflake.ID) error {
	if err := s.debit(ctx, tx, owner, amount); err != nil {
		return err
	}
	return s.record(ctx, tx, owner, "", amount, refType, refID)
}

func (s *Service) TransferTx(ctx context.Context, tx *gorm.DB, from, to string, amount int64, refType string, refID snowflake.ID) error {
	if from == to {
		return treasurydomain.ErrInvalidOwner
	}
	if err := s.debit(ctx, tx, from, amount); err != nil {
		return err
	}
	if err := s.credit(ctx, tx, to, amount); err != nil {
		return err
	}
	return s.record(ctx, tx, from, to, amount, refType, refID)
}

func (s *Service) credit(ctx context.Context, tx *gorm.DB, owner string, amount int64) error {
	if strings.TrimSpace(owner) == "" {
		return treasurydomain.ErrInvalidOwner
	}
	if amount <= 0 {
		return treasurydomain.ErrInvalidAmount
	}
	now := s.clock.Now()
	var acct treasurydomain.Account
	err := tx.WithContext(ctx).Where("owner = ?", owner).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		acct = treasurydomain.Account{
			ID:        s.genID.Generate(),
			Owner:     owner,
			Balance:   amount,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.WithContext(ctx).Create(&acct).Error
	}
	if err != nil {
		return err
	}
	return tx.WithContext(ctx).Model(&treasurydomain.Account{}).
		Where("id = ?", acct.ID).
		Updates(map[string]any{"balance": gorm.Expr("balance + ?", amount), "updated_at": now}).Error
}

func (s *Service) debit(ctx context.Context, tx *gorm.DB, owner string, amount int64) error {
	if strings.TrimSpace(owner) == "" {
		return treasurydomain.ErrInvalidOwner
	}
	if amount <= 0 {
		return treasurydomain.ErrInvalidAmount
	}
	var acct treasurydomain.Account
	err := tx.WithContext(ctx).Where("owner = ?", owner).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return treasurydomain.ErrInsufficientFunds
	}
	if err != nil {
		return err
	}
	if acct.Balance < amount {
		return treasurydomain.ErrInsufficientFunds
	}
	return tx.WithContext(ctx).Model(&treasurydomain.Account{}).
		Where("id = ?", acct.ID).
		Updates(map[string]any{"balance": gorm.Expr("balance - ?", amount), "updated_at": s.clock.Now()}).Error
}

func (s *Service) record(ctx context.Context, tx *gorm.DB, from, to string, amount int64, refType string, refID snowflake.ID) error {
	transfer := treasurydomain.Transfer{
		ID:        s.genID.Generate(),
		FromOwner: from,
		ToOwner:   to,
		Amount:    amount,
		RefType:   refType,
		RefID:     refID,
		CreatedAt: s.clock.Now(),
	}
	return tx.WithContext(ctx).Create(&transfer).Error
}
