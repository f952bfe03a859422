package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/internal/authorization"
	"github.com/fylaro/finternet/internal/clock"
	"github.com/fylaro/finternet/internal/config"
	"github.com/fylaro/finternet/internal/events"
	registrydomain "github.com/fylaro/finternet/internal/registry/domain"
	"github.com/fylaro/finternet/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Cfg    config.Config
	Authz  authorization.Service
	Outbox *events.Outbox
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	cfg    config.EngineConfig
	authz  authorization.Service
	outbox *events.Outbox
}

func NewService(p Params) registrydomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("registry.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		cfg:    p.Cfg.Engine,
		authz:  p.Authz,
		outbox: p.Outbox,
	}
}

func (s *Service) Tokenize(ctx context.Context, req registrydomain.TokenizeRequest) (registrydomain.Invoice, error) {
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	req.Issuer = strings.TrimSpace(req.Issuer)
	req.Debtor = strings.TrimSpace(req.Debtor)
	if req.ExternalID == "" {
		return registrydomain.Invoice{}, registrydomain.ErrInvalidExternalID
	}
	if req.Issuer == "" || req.Debtor == "" {
		return registrydomain.Invoice{}, registrydomain.ErrInvalidParty
	}
	if req.FaceValue <= 0 {
		return registrydomain.Invoice{}, registrydomain.ErrInvalidFaceValue
	}
	if req.TotalShares <= 0 {
		return registrydomain.Invoice{}, registrydomain.ErrInvalidShares
	}
	if req.TotalShares > s.cfg.TotalSharesCap {
		return registrydomain.Invoice{}, registrydomain.ErrSharesExceedCap
	}
	now := s.clock.Now()
	if !req.DueDate.After(now) {
		return registrydomain.Invoice{}, registrydomain.ErrPastDueDate
	}

	invoice := registrydomain.Invoice{
		ID:          s.genID.Generate(),
		ExternalID:  req.ExternalID,
		Issuer:      req.Issuer,
		Debtor:      req.Debtor,
		Industry:    strings.TrimSpace(req.Industry),
		FaceValue:   req.FaceValue,
		TotalShares: req.TotalShares,
		InterestBps: req.InterestBps,
		CreditScore: req.CreditScore,
		DueDate:     req.DueDate.UTC(),
		CreatedAt:   now,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.WithContext(ctx).Model(&registrydomain.Invoice{}).
			Where("external_id = ?", invoice.ExternalID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return registrydomain.ErrDuplicateExternalID
		}
		if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
			return err
		}
		balance := registrydomain.ShareBalance{
			ID:        s.genID.Generate(),
			InvoiceID: invoice.ID,
			Holder:    invoice.Issuer,
			Shares:    invoice.TotalShares,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&balance).Error; err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			InvoiceID: invoice.ID,
			Type:      events.EventTokenized,
			DedupeKey: "tokenized:" + invoice.ExternalID,
			Payload: map[string]any{
				"external_id":  invoice.ExternalID,
				"issuer":       invoice.Issuer,
				"debtor":       invoice.Debtor,
				"face_value":   invoice.FaceValue,
				"total_shares": invoice.TotalShares,
				"due_date":     invoice.DueDate,
			},
		})
	})
	if err != nil {
		return registrydomain.Invoice{}, err
	}
	s.log.Info("invoice tokenized",
		zap.String("external_id", invoice.ExternalID),
		zap.Int64("face_value", invoice.FaceValue),
		zap.Int64("total_shares", invoice.TotalShares),
	)
	return invoice, nil
}

func (s *Service) Verify(ctx context.Context, actor string, invoiceID snowflake.ID, result registrydomain.VerificationResult) error {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectInvoice, authorization.ActionInvoiceVerify); err != nil {
		return err
	}
	if !result.Authentic || result.FraudScore.GreaterThan(s.cfg.FraudScoreThreshold()) {
		return registrydomain.ErrVerificationRejected
	}

	now := s.clock.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		invoice, err := s.InvoiceTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice.Verified {
			return registrydomain.ErrAlreadyVerified
		}
		updates := map[string]any{
			"verified":    true,
			"verified_by": actor,
			"verified_at": now,
			"confidence":  result.Confidence,
			"fraud_score": result.FraudScore,
		}
		if err := tx.WithContext(ctx).Model(&registrydomain.Invoice{}).
			Where("id = ?", invoiceID).Updates(updates).Error; err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			InvoiceID: invoiceID,
			Type:      events.EventVerified,
			DedupeKey: "verified:" + invoiceID.String(),
			Payload: map[string]any{
				"verified_by": actor,
				"confidence":  result.Confidence.String(),
				"fraud_score": result.FraudScore.String(),
			},
		})
	})
}

func (s *Service) Transfer(ctx context.Context, invoiceID snowflake.ID, from, to string, shares int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.TransferTx(ctx, tx, invoiceID, from, to, shares)
	})
}

// TransferTx debits from, credits to with shares less the skimmed fee, and
// credits the fee recipient with the fee. The three balance writes keep
// sum(balances) == totalShares exactly.
func (s *Service) TransferTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, from, to string, shares int64) error {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" || to == "" {
		return registrydomain.ErrInvalidHolder
	}
	if from == to {
		return registrydomain.ErrSelfTransfer
	}
	if shares <= 0 {
		return registrydomain.ErrInvalidShares
	}

	invoice, err := s.InvoiceTx(ctx, tx, invoiceID)
	if err != nil {
		return err
	}
	if !invoice.Verified {
		return registrydomain.ErrNotVerified
	}

	var fromBalance registrydomain.ShareBalance
	err = tx.WithContext(ctx).
		Where("invoice_id = ? AND holder = ?", invoiceID, from).
		First(&fromBalance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return registrydomain.ErrInsufficientShares
	}
	if err != nil {
		return err
	}
	if fromBalance.Shares < shares {
		return registrydomain.ErrInsufficientShares
	}

	fee := shares * s.cfg.TransferFeeBps / 10000
	if to == s.cfg.FeeRecipient {
		fee = 0
	}

	now := s.clock.Now()
	if err := tx.WithContext(ctx).Model(&registrydomain.ShareBalance{}).
		Where("id = ?", fromBalance.ID).
		Updates(map[string]any{"shares": gorm.Expr("shares - ?", shares), "updated_at": now}).Error; err != nil {
		return err
	}
	if err := s.creditShares(ctx, tx, invoiceID, to, shares-fee); err != nil {
		return err
	}
	if fee > 0 {
		if err := s.creditShares(ctx, tx, invoiceID, s.cfg.FeeRecipient, fee); err != nil {
			return err
		}
	}

	return s.outbox.PublishTx(ctx, tx, now, events.Event{
		InvoiceID: invoiceID,
		Type:      events.EventSharesTransferred,
		Payload: map[string]any{
			"from":    from,
			"to":      to,
			"shares":  shares,
			"fee":     fee,
		},
	})
}

func (s *Service) creditShares(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, holder string, shares int64) error {
	if shares == 0 {
		return nil
	}
	var balance registrydomain.ShareBalance
	err := tx.WithContext(ctx).
		Where("invoice_id = ? AND holder = ?", invoiceID, holder).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := s.clock.Now()
		balance = registrydomain.ShareBalance{
			ID:        s.genID.Generate(),
			InvoiceID: invoiceID,
			Holder:    holder,
			Shares:    shares,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.WithContext(ctx).Create(&balance).Error
	}
	if err != nil {
		return err
	}
	return tx.WithContext(ctx).Model(&registrydomain.ShareBalance{}).
		Where("id = ?", balance.ID).
		Updates(map[string]any{"shares": gorm.Expr("shares + ?", shares), "updated_at": s.clock.Now()}).Error
}

func (s *Service) GetInvoice(ctx context.Context, id snowflake.ID) (registrydomain.Invoice, error) {
	return s.InvoiceTx(ctx, s.db, id)
}

func (s *Service) GetByExternalID(ctx context.Context, externalID string) (registrydomain.Invoice, error) {
	var invoice registrydomain.Invoice
	err := s.db.WithContext(ctx).Where("external_id = ?", strings.TrimSpace(externalID)).First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return registrydomain.Invoice{}, registrydomain.ErrInvoiceNotFound
	}
	return invoice, err
}

func (s *Service) InvoiceTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (registrydomain.Invoice, error) {
	var invoice registrydomain.Invoice
	err := tx.WithContext(ctx).Where("id = ?", id).First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return registrydomain.Invoice{}, registrydomain.ErrInvoiceNotFound
	}
	return invoice, err
}

func (s *Service) BalanceOf(ctx context.Context, invoiceID snowflake.ID, holder string) (int64, error) {
	var balance registrydomain.ShareBalance
	err := s.db.WithContext(ctx).
		Where("invoice_id = ? AND holder = ?", invoiceID, holder).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance.Shares, nil
}

func (s *Service) Holders(ctx context.Context, invoiceID snowflake.ID, page pagination.Request) ([]registrydomain.ShareBalance, pagination.PageInfo, error) {
	q := s.db.WithContext(ctx).Model(&registrydomain.ShareBalance{}).
		Where("invoice_id = ? AND shares > 0", invoiceID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	var holders []registrydomain.ShareBalance
	if err := q.Order("shares DESC").Scopes(page.Scope()).Find(&holders).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return holders, page.Info(total), nil
}

func (s *Service) HoldersTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) ([]registrydomain.ShareBalance, error) {
	var holders []registrydomain.ShareBalance
	err := tx.WithContext(ctx).
		Where("invoice_id = ? AND shares > 0", invoiceID).
		Order("shares DESC").
		Find(&holders).Error
	return holders, err
}

func (s *Service) MajorityHolderTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (string, error) {
	holders, err := s.HoldersTx(ctx, tx, invoiceID)
	if err != nil {
		return "", err
	}
	if len(holders) == 0 {
		return "", registrydomain.ErrNoHolders
	}
	return holders[0].Holder, nil
}

func (s *Service) MarkPaidTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) error {
	invoice, err := s.InvoiceTx(ctx, tx, invoiceID)
	if err != nil {
		return err
	}
	if invoice.Paid {
		return registrydomain.ErrAlreadyPaid
	}
	return tx.WithContext(ctx).Model(&registrydomain.Invoice{}).
		Where("id = ?", invoiceID).Update("paid", true).Error
}

func (s *Service) MarkSettledTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) error {
	invoice, err := s.InvoiceTx(ctx, tx, invoiceID)
	if err != nil {
		return err
	}
	if invoice.Settled {
		return registrydomain.ErrAlreadySettled
	}
	return tx.WithContext(ctx).Model(&registrydomain.Invoice{}).
		Where("id = ?", invoiceID).Update("settled", true).Error
}
