package authorization

import (
	"context"
	"errors"
	"testing"

	"github.com/casbin/casbin/v2"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestAuthorizeAllowsVerifier(t *testing.T) {
	svc, enforcer := setupAuthz(t)
	if err := Grant(enforcer, "user:vera", RoleVerifier); err != nil {
		t.Fatalf("grant: %v", err)
	}

	if err := svc.Authorize(context.Background(), "user:vera", ObjectInvoice, ActionInvoiceVerify); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestAuthorizeDeniesMissingRole(t *testing.T) {
	svc, _ := setupAuthz(t)

	err := svc.Authorize(context.Background(), "user:mallory", ObjectEscrow, ActionEscrowRefund)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAuthorizeDeniesVerifierOutsideScope(t *testing.T) {
	svc, enforcer := setupAuthz(t)
	if err := Grant(enforcer, "user:vera", RoleVerifier); err != nil {
		t.Fatalf("grant: %v", err)
	}

	err := svc.Authorize(context.Background(), "user:vera", ObjectSchedule, ActionScheduleRecover)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAuthorizeAdministratorHoldsAllCapabilities(t *testing.T) {
	svc, enforcer := setupAuthz(t)
	if err := Grant(enforcer, "user:root", RoleAdministrator); err != nil {
		t.Fatalf("grant: %v", err)
	}

	checks := [][2]string{
		{ObjectInvoice, ActionInvoiceVerify},
		{ObjectEscrow, ActionEscrowRefund},
		{ObjectSchedule, ActionScheduleRecover},
		{ObjectTreasury, ActionTreasuryFund},
		{ObjectPool, ActionPoolManageStrategy},
	}
	for _, c := range checks {
		if err := svc.Authorize(context.Background(), "user:root", c[0], c[1]); err != nil {
			t.Fatalf("expected allow for %s/%s, got %v", c[0], c[1], err)
		}
	}
}

func TestAuthorizeSystemActor(t *testing.T) {
	svc, _ := setupAuthz(t)
	if err := svc.Authorize(context.Background(), "system", ObjectSchedule, ActionScheduleRecover); err != nil {
		t.Fatalf("expected allow for system, got %v", err)
	}
}

func TestAuthorizeRejectsEmptyActor(t *testing.T) {
	svc, _ := setupAuthz(t)
	err := svc.Authorize(context.Background(), "  ", ObjectInvoice, ActionInvoiceVerify)
	if !errors.Is(err, ErrInvalidActor) {
		t.Fatalf("expected invalid actor, got %v", err)
	}
}

func setupAuthz(t *testing.T) (Service, *casbin.Enforcer) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	return NewService(zap.NewNop(), enforcer), enforcer
}
