package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/pkg/db/pagination"
)

// Service runs the listing and auction surface over invoice shares.
type Service interface {
	ListForSale(ctx context.Context, seller string, invoiceID snowflake.ID, price int64, duration time.Duration) (Listing, error)
	BuyListing(ctx context.Context, buyer string, listingID snowflake.ID, payment int64) error
	CancelListing(ctx context.Context, seller string, listingID snowflake.ID) error

	PlaceBid(ctx context.Context, bidder string, invoiceID snowflake.ID, amount int64) (Bid, error)
	AcceptBid(ctx context.Context, seller string, invoiceID snowflake.ID) error
	WithdrawBid(ctx context.Context, bidder string, bidID snowflake.ID) error

	GetListing(ctx context.Context, id snowflake.ID) (Listing, error)
	ActiveListing(ctx context.Context, invoiceID snowflake.ID) (Listing, error)
	HighestBid(ctx context.Context, invoiceID snowflake.ID) (Bid, error)
	ListBids(ctx context.Context, invoiceID snowflake.ID, page pagination.Request) ([]Bid, pagination.PageInfo, error)
	ExpireListings(ctx context.Context, now time.Time, limit int) (int, error)
}

var (
	ErrInvalidPrice        = errors.New("invalid_price")
	ErrInvalidDuration     = errors.New("invalid_duration")
	ErrActiveListingExists = errors.New("active_listing_exists")
	ErrListingNotFound     = errors.New("listing_not_found")
	ErrListingInactive     = errors.New("listing_inactive")
	ErrListingExpired      = errors.New("listing_expired")
	ErrSelfPurchase        = errors.New("self_purchase")
	ErrInsufficientPayment = errors.New("insufficient_payment")
	ErrNoShares            = errors.New("no_shares")
	ErrInvoicePaid         = errors.New("invoice_already_paid")
	ErrInvalidBidAmount    = errors.New("invalid_bid_amount")
	ErrBidTooLow           = errors.New("bid_too_low")
	ErrBidNotFound         = errors.New("bid_not_found")
	ErrBidInactive         = errors.New("bid_inactive")
	ErrNoActiveBid         = errors.New("no_active_bid")
	ErrHighestBidLocked    = errors.New("highest_bid_locked")
	ErrNotBidOwner         = errors.New("not_bid_owner")
	ErrNotSeller           = errors.New("not_seller")
)
