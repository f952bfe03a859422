package authorization

import "context"

// Service is the single capability-check interface injected into every
// restricted operation. Role issuance happens outside the engine.
type Service interface {
	Authorize(ctx context.Context, actor string, object string, action string) error
}

// Roles consumed by the engine.
const (
	RoleAdministrator = "administrator"
	RoleVerifier      = "verifier"
	RoleManager       = "manager"
)

// Objects and actions guarded by capability checks.
const (
	ObjectInvoice  = "invoice"
	ObjectEscrow   = "escrow"
	ObjectSchedule = "schedule"
	ObjectPool     = "pool"
	ObjectTreasury = "treasury"

	ActionInvoiceVerify      = "verify"
	ActionEscrowRefund       = "refund"
	ActionEscrowRelease      = "release"
	ActionScheduleRecover    = "recover"
	ActionScheduleRetryOwed  = "retry_owed"
	ActionPoolManageStrategy = "manage_strategy"
	ActionTreasuryFund       = "fund"
)
