package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/fylaro/finternet/pkg/db/pagination"
	"gorm.io/gorm"
)

// Request carries everything the engine needs to split a settled total.
// SourceOwner is the treasury account the funds sit on.
type Request struct {
	InvoiceID   snowflake.ID
	ScheduleID  snowflake.ID
	TotalPaid   int64
	SourceOwner string
	Investors   []InvestorShare
}

// Result summarizes one distribution run.
type Result struct {
	Fee           int64
	FeeSkipped    bool
	Distributable int64
	Dust          int64
	PaidCount     int
	OwedCount     int
}

// Service splits a settled invoice's collected total among claim-holders
// net of the platform fee. DistributeTx runs inside the settlement
// transaction so "settled but undistributed" is never observable.
type Service interface {
	DistributeTx(ctx context.Context, tx *gorm.DB, req Request) (Result, error)
	RetryOwed(ctx context.Context, actor string, scheduleID snowflake.ID) (int, error)
	ListByInvoice(ctx context.Context, invoiceID snowflake.ID, page pagination.Request) ([]Distribution, pagination.PageInfo, error)
}

var (
	ErrInvalidRequest     = errors.New("invalid_distribution_request")
	ErrInvalidShareSplit  = errors.New("invalid_share_split")
	ErrAlreadyDistributed = errors.New("already_distributed")
	ErrNothingOwed        = errors.New("nothing_owed")
)
