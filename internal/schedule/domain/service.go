package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	distributiondomain "github.com/fylaro/finternet/internal/distribution/domain"
	"github.com/fylaro/finternet/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateScheduleRequest struct {
	InvoiceID      snowflake.ID
	ExpectedAmount int64
	DueDate        time.Time
	GraceDays      int
	Investors      []distributiondomain.InvestorShare
}

type RecordPaymentRequest struct {
	InvoiceID   snowflake.ID
	Payer       string
	Amount      int64
	Method      string
	ExternalRef string
}

// Service advances the expected-vs-received state machine and triggers
// settlement. RecordPaymentTx exists so the liquidity pool can fold a
// repayment and its own bookkeeping into one transaction.
type Service interface {
	CreateSchedule(ctx context.Context, req CreateScheduleRequest) (PaymentSchedule, error)
	CreateScheduleTx(ctx context.Context, tx *gorm.DB, req CreateScheduleRequest) (PaymentSchedule, error)
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (PaymentSchedule, error)
	RecordPaymentTx(ctx context.Context, tx *gorm.DB, req RecordPaymentRequest) (PaymentSchedule, error)
	UpdateStatus(ctx context.Context, invoiceID snowflake.ID) (Status, error)
	HandleDefault(ctx context.Context, invoiceID snowflake.ID) error
	RecordRecovery(ctx context.Context, actor string, invoiceID snowflake.ID, amount int64) error

	GetByInvoice(ctx context.Context, invoiceID snowflake.ID) (PaymentSchedule, error)
	Investors(ctx context.Context, scheduleID snowflake.ID) ([]Investor, error)
	ListPayments(ctx context.Context, invoiceID snowflake.ID, page pagination.Request) ([]Payment, pagination.PageInfo, error)
	ListDueForReview(ctx context.Context, now time.Time, limit int) ([]PaymentSchedule, error)
}

var (
	ErrInvalidExpectedAmount = errors.New("invalid_expected_amount")
	ErrInvalidGracePeriod    = errors.New("invalid_grace_period")
	ErrInvalidInvestorSplit  = errors.New("invalid_investor_split")
	ErrInvalidPayer          = errors.New("invalid_payer")
	ErrInvalidPaymentAmount  = errors.New("invalid_payment_amount")
	ErrDuplicateSchedule     = errors.New("duplicate_schedule")
	ErrDuplicatePaymentRef   = errors.New("duplicate_payment_ref")
	ErrScheduleNotFound      = errors.New("schedule_not_found")
	ErrScheduleSettled       = errors.New("schedule_settled")
	ErrScheduleInDefault     = errors.New("schedule_in_default")
	ErrNotInDefault          = errors.New("not_in_default")
	ErrDefaultNotEligible    = errors.New("default_not_eligible")
	ErrInvalidRecovery       = errors.New("invalid_recovery_amount")
)
