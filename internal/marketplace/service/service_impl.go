package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/internal/clock"
	"github.com/fylaro/finternet/internal/config"
	"github.com/fylaro/finternet/internal/events"
	marketdomain "github.com/fylaro/finternet/internal/marketplace/domain"
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
	registry registrydomain.Service
	treasury treasurydomain.Service
	outbox   *events.Outbox
}

func NewService(p Params) marketdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("marketplace.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Cfg.Engine,
		registry: p.Registry,
		treasury: p.Treasury,
		outbox:   p.Outbox,
	}
}

func (s *Service) ListForSale(ctx context.Context, seller string, invoiceID snowflake.ID, price int64, duration time.Duration) (marketdomain.Listing, error) {
	var zero marketdomain.Listing
	seller = strings.TrimSpace(seller)
	if seller == "" {
		return zero, marketdomain.ErrNotSeller
	}
	if price <= 0 {
		return zero, marketdomain.ErrInvalidPrice
	}
	if duration <= 0 || duration > s.cfg.MaxListingDuration() {
		return zero, marketdomain.ErrInvalidDuration
	}

	now := s.clock.Now()
	listing := marketdomain.Listing{
		ID:        s.genID.Generate(),
		InvoiceID: invoiceID,
		Seller:    seller,
		Price:     price,
		Active:    true,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
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
			return marketdomain.ErrInvoicePaid
		}

		var balance registrydomain.ShareBalance
		err = tx.WithContext(ctx).
			Where("invoice_id = ? AND holder = ?", invoiceID, seller).
			First(&balance).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && balance.Shares == 0) {
			return marketdomain.ErrNoShares
		}
		if err != nil {
			return err
		}

		var active int64
		if err := tx.WithContext(ctx).Model(&marketdomain.Listing{}).
			Where("invoice_id = ? AND active = ? AND expires_at > ?", invoiceID, true, now).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return marketdomain.ErrActiveListingExists
		}

		if err := tx.WithContext(ctx).Create(&listing).Error; err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			InvoiceID: invoiceID,
			Type:      events.EventListingCreated,
			Payload: map[string]any{
				"listing_id": listing.ID.String(),
				"seller":     seller,
				"price":      price,
				"expires_at": listing.ExpiresAt,
			},
		})
	})
	if err != nil {
		return zero, err
	}
	return listing, nil
}

// BuyListing transfers the seller's holding, pays the seller net of the
// platform fee, refunds any overpayment, and deactivates the listing.
// The four effects commit together or not at all.
func (s *Service) BuyListing(ctx context.Context, buyer string, listingID snowflake.ID, payment int64) error {
	buyer = strings.TrimSpace(buyer)
	if buyer == "" {
		return marketdomain.ErrSelfPurchase
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		listing, err := s.listingTx(ctx, tx, listingID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if !listing.Active {
			return marketdomain.ErrListingInactive
		}
		if now.After(listing.ExpiresAt) {
			return marketdomain.ErrListingExpired
		}
		if buyer == listing.Seller {
			return marketdomain.ErrSelfPurchase
		}
		if payment < listing.Price {
			return marketdomain.ErrInsufficientPayment
		}

		var balance registrydomain.ShareBalance
		err = tx.WithContext(ctx).
			Where("invoice_id = ? AND holder = ?", listing.InvoiceID, listing.Seller).
			First(&balance).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && balance.Shares == 0) {
			return marketdomain.ErrNoShares
		}
		if err != nil {
			return err
		}

		// take the full payment, then settle out of the hold so the refund
		// shows up as an explicit transfer
		hold := treasurydomain.MarketHoldAccount(listing.InvoiceID)
		if err := s.treasury.TransferTx(ctx, tx, buyer, hold, payment, treasurydomain.RefTypeListingSale, listing.InvoiceID); err != nil {
			return err
		}
		fee := listing.Price * s.cfg.PlatformFeeBps / 10000
		if err := s.treasury.TransferTx(ctx, tx, hold, listing.Seller, listing.Price-fee, treasurydomain.RefTypeListingSale, listing.InvoiceID); err != nil {
			return err
		}
		if fee > 0 {
			if err := s.treasury.TransferTx(ctx, tx, hold, s.cfg.FeeRecipient, fee, treasurydomain.RefTypePlatformFee, listing.InvoiceID); err != nil {
				return err
			}
		}
		if refund := payment - listing.Price; refund > 0 {
			if err := s.treasury.TransferTx(ctx, tx, hold, buyer, refund, treasurydomain.RefTypeListingSale, listing.InvoiceID); err != nil {
				return err
			}
		}

		if err := s.registry.TransferTx(ctx, tx, listing.InvoiceID, listing.Seller, buyer, balance.Shares); err != nil {
			return err
		}
		if err := s.deactivateListing(ctx, tx, listing.ID); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			InvoiceID: listing.InvoiceID,
			Type:      events.EventListingSold,
			DedupeKey: "listing_sold:" + listing.ID.String(),
			Payload: map[string]any{
				"listing_id": listing.ID.String(),
				"seller":     listing.Seller,
				"buyer":      buyer,
				"price":      listing.Price,
				"fee":        fee,
				"shares":     balance.Shares,
			},
		})
	})
	if errors.Is(err, marketdomain.ErrListingExpired) {
		// persist the lazy expiry outside the rolled-back purchase
		if derr := s.deactivateListing(ctx, s.db, listingID); derr != nil {
			s.log.Warn("deactivate expired listing", zap.String("listing_id", listingID.String()), zap.Error(derr))
		}
	}
	return err
}

func (s *Service) CancelListing(ctx context.Context, seller string, listingID snowflake.ID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		listing, err := s.listingTx(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if listing.Seller != strings.TrimSpace(seller) {
			return marketdomain.ErrNotSeller
		}
		if !listing.Active {
			return marketdomain.ErrListingInactive
		}
		if err := s.deactivateListing(ctx, tx, listing.ID); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, s.clock.Now(), events.Event{
			InvoiceID: listing.InvoiceID,
			Type:      events.EventListingCancelled,
			Payload:   map[string]any{"listing_id": listing.ID.String()},
		})
	})
}

// PlaceBid takes the new bid's funds as collateral and refunds the previous
// highest bidder in full before the new highest is recorded.
func (s *Service) PlaceBid(ctx context.Context, bidder string, invoiceID snowflake.ID, amount int64) (marketdomain.Bid, error) {
	var zero marketdomain.Bid
	bidder = strings.TrimSpace(bidder)
	if bidder == "" {
		return zero, marketdomain.ErrNotBidOwner
	}
	if amount <= 0 {
		return zero, marketdomain.ErrInvalidBidAmount
	}

	now := s.clock.Now()
	bid := marketdomain.Bid{
		ID:        s.genID.Generate(),
		InvoiceID: invoiceID,
		Bidder:    bidder,
		Amount:    amount,
		Active:    true,
		Highest:   true,
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
			return marketdomain.ErrInvoicePaid
		}

		previous, err := s.highestBidTx(ctx, tx, invoiceID)
		if err != nil && !errors.Is(err, marketdomain.ErrNoActiveBid) {
			return err
		}
		hasPrevious := err == nil
		if hasPrevious && amount <= previous.Amount {
			return marketdomain.ErrBidTooLow
		}

		hold := treasurydomain.MarketHoldAccount(invoiceID)
		if hasPrevious {
			// refund the outbid party before the new funds are recorded
			if err := s.treasury.TransferTx(ctx, tx, hold, previous.Bidder, previous.Amount, treasurydomain.RefTypeBidRefund, invoiceID); err != nil {
				return err
			}
			if err := s.resolveBid(ctx, tx, previous.ID, marketdomain.BidResolutionOutbid, now); err != nil {
				return err
			}
			if err := s.outbox.PublishTx(ctx, tx, now, events.Event{
				InvoiceID: invoiceID,
				Type:      events.EventBidOutbid,
				Payload: map[string]any{
					"bid_id":   previous.ID.String(),
					"bidder":   previous.Bidder,
					"refunded": previous.Amount,
				},
			}); err != nil {
				return err
			}
		}
		if err := s.treasury.TransferTx(ctx, tx, bidder, hold, amount, treasurydomain.RefTypeBidHold, invoiceID); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Create(&bid).Error; err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			InvoiceID: invoiceID,
			Type:      events.EventBidPlaced,
			Payload: map[string]any{
				"bid_id": bid.ID.String(),
				"bidder": bidder,
				"amount": amount,
			},
		})
	})
	if err != nil {
		return zero, err
	}
	return bid, nil
}

func (s *Service) AcceptBid(ctx context.Context, seller string, invoiceID snowflake.ID) error {
	seller = strings.TrimSpace(seller)
	if seller == "" {
		return marketdomain.ErrNotSeller
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		bid, err := s.highestBidTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}

		var balance registrydomain.ShareBalance
		err = tx.WithContext(ctx).
			Where("invoice_id = ? AND holder = ?", invoiceID, seller).
			First(&balance).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && balance.Shares == 0) {
			return marketdomain.ErrNoShares
		}
		if err != nil {
			return err
		}

		now := s.clock.Now()
		hold := treasurydomain.MarketHoldAccount(invoiceID)
		fee := bid.Amount * s.cfg.PlatformFeeBps / 10000
		if err := s.treasury.TransferTx(ctx, tx, hold, seller, bid.Amount-fee, treasurydomain.RefTypeBidSale, invoiceID); err != nil {
			return err
		}
		if fee > 0 {
			if err := s.treasury.TransferTx(ctx, tx, hold, s.cfg.FeeRecipient, fee, treasurydomain.RefTypePlatformFee, invoiceID); err != nil {
				return err
			}
		}
		if err := s.registry.TransferTx(ctx, tx, invoiceID, seller, bid.Bidder, balance.Shares); err != nil {
			return err
		}
		if err := s.resolveBid(ctx, tx, bid.ID, marketdomain.BidResolutionAccepted, now); err != nil {
			return err
		}

		// the sale supersedes any open listing for the same invoice
		if err := tx.WithContext(ctx).Model(&marketdomain.Listing{}).
			Where("invoice_id = ? AND active = ?", invoiceID, true).
			Update("active", false).Error; err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			InvoiceID: invoiceID,
			Type:      events.EventBidAccepted,
			DedupeKey: "bid_accepted:" + bid.ID.String(),
			Payload: map[string]any{
				"bid_id": bid.ID.String(),
				"seller": seller,
				"buyer":  bid.Bidder,
				"amount": bid.Amount,
				"fee":    fee,
				"shares": balance.Shares,
			},
		})
	})
}

// WithdrawBid refunds a still-active bid in full. The current highest bid
// is live auction collateral and cannot be withdrawn.
//
// Since PlaceBid refunds and resolves the outbid offer immediately, every
// active bid is also the highest one and the refund path below cannot be
// reached today. The operation stays on the surface so the escape hatch
// survives if outbid offers are ever kept open instead.
func (s *Service) WithdrawBid(ctx context.Context, bidder string, bidID snowflake.ID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var bid marketdomain.Bid
		err := tx.WithContext(ctx).Where("id = ?", bidID).First(&bid).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return marketdomain.ErrBidNotFound
		}
		if err != nil {
			return err
		}
		if bid.Bidder != strings.TrimSpace(bidder) {
			return marketdomain.ErrNotBidOwner
		}
		if !bid.Active {
			return marketdomain.ErrBidInactive
		}
		if bid.Highest {
			return marketdomain.ErrHighestBidLocked
		}

		now := s.clock.Now()
		hold := treasurydomain.MarketHoldAccount(bid.InvoiceID)
		if err := s.treasury.TransferTx(ctx, tx, hold, bid.Bidder, bid.Amount, treasurydomain.RefTypeBidRefund, bid.InvoiceID); err != nil {
			return err
		}
		if err := s.resolveBid(ctx, tx, bid.ID, marketdomain.BidResolutionWithdrawn, now); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, now, events.Event{
			InvoiceID: bid.InvoiceID,
			Type:      events.EventBidWithdrawn,
			Payload: map[string]any{
				"bid_id":   bid.ID.String(),
				"bidder":   bid.Bidder,
				"refunded": bid.Amount,
			},
		})
	})
}

func (s *Service) GetListing(ctx context.Context, id snowflake.ID) (marketdomain.Listing, error) {
	return s.listingTx(ctx, s.db, id)
}

func (s *Service) ActiveListing(ctx context.Context, invoiceID snowflake.ID) (marketdomain.Listing, error) {
	var listing marketdomain.Listing
	err := s.db.WithContext(ctx).
		Where("invoice_id = ? AND active = ? AND expires_at > ?", invoiceID, true, s.clock.Now()).
		First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return marketdomain.Listing{}, marketdomain.ErrListingNotFound
	}
	return listing, err
}

func (s *Service) HighestBid(ctx context.Context, invoiceID snowflake.ID) (marketdomain.Bid, error) {
	return s.highestBidTx(ctx, s.db, invoiceID)
}

func (s *Service) ListBids(ctx context.Context, invoiceID snowflake.ID, page pagination.Request) ([]marketdomain.Bid, pagination.PageInfo, error) {
	q := s.db.WithContext(ctx).Model(&marketdomain.Bid{}).
		Where("invoice_id = ?", invoiceID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	var bids []marketdomain.Bid
	if err := q.Order("id DESC").Scopes(page.Scope()).Find(&bids).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return bids, page.Info(total), nil
}

// ExpireListings deactivates listings past their expiry. Called by the
// background sweep; expiry is also enforced lazily on buy.
func (s *Service) ExpireListings(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	expired := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var listings []marketdomain.Listing
		if err := tx.WithContext(ctx).
			Where("active = ? AND expires_at <= ?", true, now).
			Limit(limit).
			Find(&listings).Error; err != nil {
			return err
		}
		for _, listing := range listings {
			if err := s.deactivateListing(ctx, tx, listing.ID); err != nil {
				return err
			}
			if err := s.outbox.PublishTx(ctx, tx, now, events.Event{
				InvoiceID: listing.InvoiceID,
				Type:      events.EventListingExpired,
				Payload:   map[string]any{"listing_id": listing.ID.String()},
			}); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	return expired, err
}

func (s *Service) listingTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (marketdomain.Listing, error) {
	var listing marketdomain.Listing
	err := tx.WithContext(ctx).Where("id = ?", id).First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return marketdomain.Listing{}, marketdomain.ErrListingNotFound
	}
	return listing, err
}

func (s *Service) highestBidTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (marketdomain.Bid, error) {
	var bid marketdomain.Bid
	err := tx.WithContext(ctx).
		Where("invoice_id = ? AND active = ? AND highest = ?", invoiceID, true, true).
		First(&bid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return marketdomain.Bid{}, marketdomain.ErrNoActiveBid
	}
	return bid, err
}

func (s *Service) resolveBid(ctx context.Context, tx *gorm.DB, bidID snowflake.ID, resolution string, now time.Time) error {
	return tx.WithContext(ctx).Model(&marketdomain.Bid{}).
		Where("id = ?", bidID).
		Updates(map[string]any{
			"active":      false,
			"highest":     false,
			"resolution":  resolution,
			"resolved_at": now,
		}).Error
}

func (s *Service) deactivateListing(ctx context.Context, tx *gorm.DB, listingID snowflake.ID) error {
	return tx.WithContext(ctx).Model(&marketdomain.Listing{}).
		Where("id = ?", listingID).
		Update("active", false).Error
}
