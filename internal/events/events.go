package events

// Engine event types. Every state transition leaves one immutable row in the
// outbox for downstream indexing; delivery is out of scope.
const (
	EventTokenized         = "invoice.tokenized"
	EventVerified          = "invoice.verified"
	EventSharesTransferred = "invoice.shares_transferred"

	EventListingCreated   = "market.listing_created"
	EventListingSold      = "market.listing_sold"
	EventListingCancelled = "market.listing_cancelled"
	EventListingExpired   = "market.listing_expired"
	EventBidPlaced        = "market.bid_placed"
	EventBidAccepted      = "market.bid_accepted"
	EventBidWithdrawn     = "market.bid_withdrawn"
	EventBidOutbid        = "market.bid_outbid"

	EventPaymentReceived = "schedule.payment_received"
	EventStatusUpdated   = "schedule.status_updated"
	EventSettled         = "schedule.settled"
	EventDefaulted       = "schedule.defaulted"
	EventRecovered       = "schedule.recovered"

	EventDistributed = "distribution.completed"

	EventEscrowDeposited = "escrow.deposited"
	EventEscrowReleased  = "escrow.released"
	EventEscrowRefunded  = "escrow.refunded"

	EventPoolDeposit    = "pool.deposit"
	EventPoolWithdrawal = "pool.withdrawal"
	EventPoolFinanced   = "pool.invoice_financed"
	EventPoolRepayment  = "pool.repayment"
	EventRewardsClaimed = "pool.rewards_claimed"
)
