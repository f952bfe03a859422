package authorization

import (
	"context"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/fylaro/finternet/internal/cache"
	"go.uber.org/zap"
)

const decisionTTL = time.Minute

type decisionKey struct {
	actor  string
	object string
	action string
}

// ServiceImpl answers capability checks from the casbin enforcer, with a
// short-lived decision cache on the hot path.
type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.Enforcer
	cache    cache.Cache[decisionKey, bool]
}

func NewService(log *zap.Logger, enforcer *casbin.Enforcer) Service {
	return &ServiceImpl{
		log:      log.Named("authorization.service"),
		enforcer: enforcer,
		cache:    cache.NewTTLCache[decisionKey, bool](),
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor, object, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	if strings.TrimSpace(object) == "" {
		return ErrInvalidObject
	}
	if strings.TrimSpace(action) == "" {
		return ErrInvalidAction
	}

	key := decisionKey{actor: actor, object: object, action: action}
	if allowed, ok := s.cache.Get(key); ok {
		if allowed {
			return nil
		}
		return ErrForbidden
	}

	allowed, err := s.enforcer.Enforce(actor, object, action)
	if err != nil {
		return err
	}
	s.cache.Set(key, allowed, decisionTTL)
	if !allowed {
		s.log.Debug("capability denied",
			zap.String("actor", actor),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

// Grant assigns a role to an actor. Exposed for seeding and tests; role
// issuance in production belongs to the identity collaborator.
func Grant(e *casbin.Enforcer, actor, role string) error {
	_, err := e.AddGroupingPolicy(actor, role)
	return err
}
