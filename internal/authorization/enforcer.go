package authorization

import (
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == "system" || g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// NewEnforcer builds the casbin enforcer backed by the engine database.
func NewEnforcer(db *gorm.DB) (*casbin.Enforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// seedPolicies installs the fixed role capabilities. Administrators hold
// every capability; verifier and manager are narrow.
func seedPolicies(e *casbin.Enforcer) error {
	policies := [][]string{
		{RoleVerifier, ObjectInvoice, ActionInvoiceVerify},
		{RoleAdministrator, ObjectInvoice, ActionInvoiceVerify},
		{RoleAdministrator, ObjectEscrow, ActionEscrowRefund},
		{RoleAdministrator, ObjectEscrow, ActionEscrowRelease},
		{RoleAdministrator, ObjectSchedule, ActionScheduleRecover},
		{RoleAdministrator, ObjectSchedule, ActionScheduleRetryOwed},
		{RoleAdministrator, ObjectTreasury, ActionTreasuryFund},
		{RoleAdministrator, ObjectPool, ActionPoolManageStrategy},
		{RoleManager, ObjectPool, ActionPoolManageStrategy},
	}
	for _, p := range policies {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return err
		}
	}
	return e.SavePolicy()
}
