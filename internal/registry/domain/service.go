package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/pkg/db/pagination"
	"gorm.io/gorm"
)

type TokenizeRequest struct {
	ExternalID  string
	Issuer      string
	Debtor      string
	Industry    string
	FaceValue   int64
	TotalShares int64
	InterestBps int64
	CreditScore int
	DueDate     time.Time
}

// Service owns invoice records and fractional share accounting. The Tx
// variants participate in a caller's transaction so marketplace sales and
// settlement paths stay atomic.
type Service interface {
	Tokenize(ctx context.Context, req TokenizeRequest) (Invoice, error)
	Verify(ctx context.Context, actor string, invoiceID snowflake.ID, result VerificationResult) error
	Transfer(ctx context.Context, invoiceID snowflake.ID, from, to string, shares int64) error

	GetInvoice(ctx context.Context, id snowflake.ID) (Invoice, error)
	GetByExternalID(ctx context.Context, externalID string) (Invoice, error)
	BalanceOf(ctx context.Context, invoiceID snowflake.ID, holder string) (int64, error)
	Holders(ctx context.Context, invoiceID snowflake.ID, page pagination.Request) ([]ShareBalance, pagination.PageInfo, error)

	InvoiceTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (Invoice, error)
	TransferTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, from, to string, shares int64) error
	HoldersTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) ([]ShareBalance, error)
	MajorityHolderTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (string, error)
	MarkPaidTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) error
	MarkSettledTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) error
}

var (
	ErrInvalidExternalID    = errors.New("invalid_external_id")
	ErrDuplicateExternalID  = errors.New("duplicate_external_id")
	ErrInvalidParty         = errors.New("invalid_party")
	ErrInvalidFaceValue     = errors.New("invalid_face_value")
	ErrInvalidShares        = errors.New("invalid_shares")
	ErrSharesExceedCap      = errors.New("shares_exceed_cap")
	ErrPastDueDate          = errors.New("past_due_date")
	ErrInvoiceNotFound      = errors.New("invoice_not_found")
	ErrAlreadyVerified      = errors.New("already_verified")
	ErrNotVerified          = errors.New("not_verified")
	ErrVerificationRejected = errors.New("verification_rejected")
	ErrInvalidHolder        = errors.New("invalid_holder")
	ErrSelfTransfer         = errors.New("self_transfer")
	ErrInsufficientShares   = errors.New("insufficient_shares")
	ErrAlreadyPaid          = errors.New("already_paid")
	ErrAlreadySettled       = errors.New("already_settled")
	ErrNoHolders            = errors.New("no_holders")
)
