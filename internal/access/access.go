// Package access decides who may do what.
//
// Classification is computed from a single operator store lookup. Any store
// failure yields an unprivileged classification: privileged operations must
// never fail open.
package access

import (
	"context"
	"errors"

	"pollbot/internal/operator"
	logx "pollbot/pkg/logx"
)

var ErrUnauthorized = errors.New("not authorized")

type Classification struct {
	IsCreator bool
	IsAdmin   bool
}

// Privileged reports whether the identity may manage polls.
func (c Classification) Privileged() bool { return c.IsCreator || c.IsAdmin }

type Service struct {
	ops operator.Store
	log logx.Logger
}

func New(ops operator.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{ops: ops, log: log}
}

// Classify resolves the role flags for an identity.
//
// Unknown ids and store errors both come back as the zero Classification
// (deny by default). Store errors are logged, not surfaced: the caller only
// needs to know the identity is not privileged right now.
func (s *Service) Classify(ctx context.Context, id int64) Classification {
	op, err := s.ops.GetOperator(ctx, id)
	if err != nil {
		if !errors.Is(err, operator.ErrNotFound) {
			s.log.Warn("operator lookup failed; denying", logx.Int64("operator_id", id), logx.Err(err))
		}
		return Classification{}
	}
	switch op.Role {
	case operator.RoleCreator:
		return Classification{IsCreator: true}
	case operator.RoleAdmin:
		return Classification{IsAdmin: true}
	default:
		return Classification{}
	}
}

// Privileged is a convenience for callers that only need the combined flag.
func (s *Service) Privileged(ctx context.Context, id int64) bool {
	return s.Classify(ctx, id).Privileged()
}

// Grant makes target an admin. Creator-only.
//
// Granting an id that is already an admin (or the creator) is a no-op that
// returns the existing record.
func (s *Service) Grant(ctx context.Context, actorID, targetID int64, name string) (operator.Operator, error) {
	if !s.Classify(ctx, actorID).IsCreator {
		return operator.Operator{}, ErrUnauthorized
	}
	op, err := s.ops.AddAdmin(ctx, targetID, name)
	if err != nil {
		return operator.Operator{}, err
	}
	s.log.Info("admin granted",
		logx.Int64("actor_id", actorID),
		logx.Int64("operator_id", op.ID),
		logx.String("role", string(op.Role)),
	)
	return op, nil
}

// Revoke removes an admin. Creator-only; the creator itself is immutable.
func (s *Service) Revoke(ctx context.Context, actorID, targetID int64) error {
	if !s.Classify(ctx, actorID).IsCreator {
		return ErrUnauthorized
	}
	if err := s.ops.RemoveAdmin(ctx, targetID); err != nil {
		return err
	}
	s.log.Info("admin revoked", logx.Int64("actor_id", actorID), logx.Int64("operator_id", targetID))
	return nil
}

// List returns all operators. Restricted to privileged callers.
func (s *Service) List(ctx context.Context, actorID int64) ([]operator.Operator, error) {
	if !s.Privileged(ctx, actorID) {
		return nil, ErrUnauthorized
	}
	return s.ops.ListOperators(ctx)
}
