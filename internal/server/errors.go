package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fylaro/finternet/internal/authorization"
	distributiondomain "github.com/fylaro/finternet/internal/distribution/domain"
	escrowdomain "github.com/fylaro/finternet/internal/escrow/domain"
	marketdomain "github.com/fylaro/finternet/internal/marketplace/domain"
	pooldomain "github.com/fylaro/finternet/internal/pool/domain"
	registrydomain "github.com/fylaro/finternet/internal/registry/domain"
	scheduledomain "github.com/fylaro/finternet/internal/schedule/domain"
	treasurydomain "github.com/fylaro/finternet/internal/treasury/domain"
)

// ErrNotFound hides resources from callers that should not learn they exist.
var ErrNotFound = errors.New("not_found")

type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string { return e.code }

func invalidRequestError() error {
	return &apiError{status: http.StatusBadRequest, code: "invalid_request", message: "malformed request body"}
}

func newValidationError(field, code, message string) error {
	return &apiError{status: http.StatusBadRequest, code: code, message: field + ": " + message}
}

type errStatus struct {
	err    error
	status int
}

// statusTable maps domain sentinels to HTTP statuses. Anything not listed
// is a 500; validation sentinels fall through to the invalid_* prefix rule.
var statusTable = []errStatus{
	{ErrNotFound, http.StatusNotFound},
	{registrydomain.ErrInvoiceNotFound, http.StatusNotFound},
	{marketdomain.ErrListingNotFound, http.StatusNotFound},
	{marketdomain.ErrBidNotFound, http.StatusNotFound},
	{escrowdomain.ErrDepositNotFound, http.StatusNotFound},
	{scheduledomain.ErrScheduleNotFound, http.StatusNotFound},
	{pooldomain.ErrPositionNotFound, http.StatusNotFound},
	{pooldomain.ErrStrategyNotFound, http.StatusNotFound},
	{pooldomain.ErrFinancingNotFound, http.StatusNotFound},

	{authorization.ErrForbidden, http.StatusForbidden},
	{escrowdomain.ErrNotReleaseParty, http.StatusForbidden},
	{escrowdomain.ErrNotPayer, http.StatusForbidden},
	{marketdomain.ErrNotSeller, http.StatusForbidden},
	{marketdomain.ErrNotBidOwner, http.StatusForbidden},

	{registrydomain.ErrDuplicateExternalID, http.StatusConflict},
	{registrydomain.ErrAlreadyVerified, http.StatusConflict},
	{registrydomain.ErrAlreadyPaid, http.StatusConflict},
	{registrydomain.ErrAlreadySettled, http.StatusConflict},
	{marketdomain.ErrActiveListingExists, http.StatusConflict},
	{marketdomain.ErrListingInactive, http.StatusConflict},
	{marketdomain.ErrBidInactive, http.StatusConflict},
	{marketdomain.ErrHighestBidLocked, http.StatusConflict},
	{escrowdomain.ErrActiveDepositExists, http.StatusConflict},
	{escrowdomain.ErrDepositResolved, http.StatusConflict},
	{scheduledomain.ErrDuplicateSchedule, http.StatusConflict},
	{scheduledomain.ErrDuplicatePaymentRef, http.StatusConflict},
	{scheduledomain.ErrScheduleSettled, http.StatusConflict},
	{distributiondomain.ErrAlreadyDistributed, http.StatusConflict},
	{pooldomain.ErrAlreadyFinanced, http.StatusConflict},

	{marketdomain.ErrListingExpired, http.StatusGone},

	{treasurydomain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{registrydomain.ErrInsufficientShares, http.StatusUnprocessableEntity},
	{registrydomain.ErrSelfTransfer, http.StatusUnprocessableEntity},
	{registrydomain.ErrSharesExceedCap, http.StatusUnprocessableEntity},
	{registrydomain.ErrPastDueDate, http.StatusUnprocessableEntity},
	{registrydomain.ErrNotVerified, http.StatusUnprocessableEntity},
	{registrydomain.ErrVerificationRejected, http.StatusUnprocessableEntity},
	{registrydomain.ErrNoHolders, http.StatusUnprocessableEntity},
	{marketdomain.ErrSelfPurchase, http.StatusUnprocessableEntity},
	{marketdomain.ErrInsufficientPayment, http.StatusUnprocessableEntity},
	{marketdomain.ErrNoShares, http.StatusUnprocessableEntity},
	{marketdomain.ErrInvoicePaid, http.StatusUnprocessableEntity},
	{marketdomain.ErrBidTooLow, http.StatusUnprocessableEntity},
	{marketdomain.ErrNoActiveBid, http.StatusUnprocessableEntity},
	{escrowdomain.ErrBelowFaceValue, http.StatusUnprocessableEntity},
	{escrowdomain.ErrAutoReleaseNotDue, http.StatusUnprocessableEntity},
	{escrowdomain.ErrEmergencyNotDue, http.StatusUnprocessableEntity},
	{scheduledomain.ErrScheduleInDefault, http.StatusUnprocessableEntity},
	{scheduledomain.ErrNotInDefault, http.StatusUnprocessableEntity},
	{scheduledomain.ErrDefaultNotEligible, http.StatusUnprocessableEntity},
	{distributiondomain.ErrNothingOwed, http.StatusUnprocessableEntity},
	{pooldomain.ErrDepositBelowMin, http.StatusUnprocessableEntity},
	{pooldomain.ErrDepositAboveMax, http.StatusUnprocessableEntity},
	{pooldomain.ErrPoolCapExceeded, http.StatusUnprocessableEntity},
	{pooldomain.ErrPoolDrained, http.StatusUnprocessableEntity},
	{pooldomain.ErrInsufficientShares, http.StatusUnprocessableEntity},
	{pooldomain.ErrInsufficientAssets, http.StatusUnprocessableEntity},
	{pooldomain.ErrNoRewards, http.StatusUnprocessableEntity},
	{pooldomain.ErrNoMatchingStrategy, http.StatusUnprocessableEntity},

	{registrydomain.ErrInvalidExternalID, http.StatusBadRequest},
	{registrydomain.ErrInvalidParty, http.StatusBadRequest},
	{registrydomain.ErrInvalidFaceValue, http.StatusBadRequest},
	{registrydomain.ErrInvalidShares, http.StatusBadRequest},
	{registrydomain.ErrInvalidHolder, http.StatusBadRequest},
	{treasurydomain.ErrInvalidOwner, http.StatusBadRequest},
	{treasurydomain.ErrInvalidAmount, http.StatusBadRequest},
	{marketdomain.ErrInvalidPrice, http.StatusBadRequest},
	{marketdomain.ErrInvalidDuration, http.StatusBadRequest},
	{marketdomain.ErrInvalidBidAmount, http.StatusBadRequest},
	{scheduledomain.ErrInvalidExpectedAmount, http.StatusBadRequest},
	{scheduledomain.ErrInvalidGracePeriod, http.StatusBadRequest},
	{scheduledomain.ErrInvalidInvestorSplit, http.StatusBadRequest},
	{scheduledomain.ErrInvalidPayer, http.StatusBadRequest},
	{scheduledomain.ErrInvalidPaymentAmount, http.StatusBadRequest},
	{scheduledomain.ErrInvalidRecovery, http.StatusBadRequest},
	{distributiondomain.ErrInvalidRequest, http.StatusBadRequest},
	{distributiondomain.ErrInvalidShareSplit, http.StatusBadRequest},
	{pooldomain.ErrInvalidShares, http.StatusBadRequest},
	{pooldomain.ErrInvalidStrategy, http.StatusBadRequest},
	{pooldomain.ErrInvalidPrincipal, http.StatusBadRequest},
}

// AbortWithError renders a sentinel as a JSON error response.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		c.AbortWithStatusJSON(apiErr.status, gin.H{"error": gin.H{
			"code":    apiErr.code,
			"message": apiErr.message,
		}})
		return
	}

	for _, entry := range statusTable {
		if errors.Is(err, entry.err) {
			c.AbortWithStatusJSON(entry.status, gin.H{"error": gin.H{
				"code":    entry.err.Error(),
				"message": err.Error(),
			}})
			return
		}
	}

	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{
		"code":    "internal",
		"message": "internal server error",
	}})
}
