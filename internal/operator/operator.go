// Package operator holds the privileged-identity model: the singleton
// creator plus the admins it delegates poll management to.
package operator

import (
	"context"
	"errors"
	"time"
)

type Role string

const (
	RoleCreator Role = "creator"
	RoleAdmin   Role = "admin"
)

var (
	ErrNotFound = errors.New("operator not found")

	// ErrCreatorImmutable is returned when a revoke targets the creator.
	ErrCreatorImmutable = errors.New("creator cannot be removed")
)

type Operator struct {
	ID          int64
	DisplayName string
	Role        Role
	GrantedAt   time.Time
}

func (o Operator) IsCreator() bool { return o.Role == RoleCreator }

// Store is the persistence contract for operator records.
//
// All mutating operations are idempotent:
//   - UpsertCreator creates the creator only if no creator row exists yet and
//     returns the current creator either way.
//   - AddAdmin returns the existing record unchanged when the id is already
//     an admin or the creator.
//   - RemoveAdmin deletes an admin record; it returns ErrCreatorImmutable for
//     the creator and ErrNotFound for unknown ids.
type Store interface {
	UpsertCreator(ctx context.Context, id int64, name string) (Operator, error)
	AddAdmin(ctx context.Context, id int64, name string) (Operator, error)
	RemoveAdmin(ctx context.Context, id int64) error
	GetOperator(ctx context.Context, id int64) (Operator, error)
	ListOperators(ctx context.Context) ([]Operator, error)
}
