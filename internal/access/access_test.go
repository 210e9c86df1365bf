package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"pollbot/internal/operator"
	logx "pollbot/pkg/logx"
)

type fakeOps struct {
	ops    map[int64]operator.Operator
	getErr error
}

func newFakeOps() *fakeOps { return &fakeOps{ops: map[int64]operator.Operator{}} }

func (f *fakeOps) put(id int64, role operator.Role) {
	f.ops[id] = operator.Operator{ID: id, Role: role, GrantedAt: time.Now()}
}

func (f *fakeOps) UpsertCreator(_ context.Context, id int64, name string) (operator.Operator, error) {
	for _, op := range f.ops {
		if op.Role == operator.RoleCreator {
			return op, nil
		}
	}
	op := operator.Operator{ID: id, DisplayName: name, Role: operator.RoleCreator}
	f.ops[id] = op
	return op, nil
}

func (f *fakeOps) AddAdmin(_ context.Context, id int64, name string) (operator.Operator, error) {
	if op, ok := f.ops[id]; ok {
		return op, nil
	}
	op := operator.Operator{ID: id, DisplayName: name, Role: operator.RoleAdmin}
	f.ops[id] = op
	return op, nil
}

func (f *fakeOps) RemoveAdmin(_ context.Context, id int64) error {
	op, ok := f.ops[id]
	if !ok {
		return operator.ErrNotFound
	}
	if op.Role == operator.RoleCreator {
		return operator.ErrCreatorImmutable
	}
	delete(f.ops, id)
	return nil
}

func (f *fakeOps) GetOperator(_ context.Context, id int64) (operator.Operator, error) {
	if f.getErr != nil {
		return operator.Operator{}, f.getErr
	}
	op, ok := f.ops[id]
	if !ok {
		return operator.Operator{}, operator.ErrNotFound
	}
	return op, nil
}

func (f *fakeOps) ListOperators(_ context.Context) ([]operator.Operator, error) {
	var out []operator.Operator
	for _, op := range f.ops {
		out = append(out, op)
	}
	return out, nil
}

const (
	creatorID  = int64(1)
	adminID    = int64(2)
	strangerID = int64(3)
)

func newTestService() (*Service, *fakeOps) {
	ops := newFakeOps()
	ops.put(creatorID, operator.RoleCreator)
	ops.put(adminID, operator.RoleAdmin)
	return New(ops, logx.Nop()), ops
}

func TestClassify(t *testing.T) {
	t.Parallel()
	s, _ := newTestService()
	ctx := context.Background()

	if c := s.Classify(ctx, creatorID); !c.IsCreator || c.IsAdmin {
		t.Fatalf("creator classified as %+v", c)
	}
	if c := s.Classify(ctx, adminID); !c.IsAdmin || c.IsCreator {
		t.Fatalf("admin classified as %+v", c)
	}
	if c := s.Classify(ctx, strangerID); c.Privileged() {
		t.Fatalf("stranger classified as privileged: %+v", c)
	}
}

func TestClassifyFailsClosed(t *testing.T) {
	t.Parallel()
	s, ops := newTestService()
	ops.getErr = errors.New("store down")

	if c := s.Classify(context.Background(), creatorID); c.Privileged() {
		t.Fatalf("store failure classified as privileged: %+v", c)
	}
}

func TestGrantIdempotent(t *testing.T) {
	t.Parallel()
	s, ops := newTestService()
	ctx := context.Background()

	op, err := s.Grant(ctx, creatorID, strangerID, "newbie")
	if err != nil {
		t.Fatalf("Grant error: %v", err)
	}
	if op.Role != operator.RoleAdmin {
		t.Fatalf("Role = %s, want admin", op.Role)
	}

	again, err := s.Grant(ctx, creatorID, strangerID, "other name")
	if err != nil {
		t.Fatalf("second Grant error: %v", err)
	}
	if again.DisplayName != "newbie" {
		t.Fatalf("second Grant changed the record: %+v", again)
	}
	if len(ops.ops) != 3 {
		t.Fatalf("operator count = %d, want 3", len(ops.ops))
	}
}

func TestGrantDeniedForAdmin(t *testing.T) {
	t.Parallel()
	s, ops := newTestService()

	_, err := s.Grant(context.Background(), adminID, strangerID, "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Grant = %v, want ErrUnauthorized", err)
	}
	if _, ok := ops.ops[strangerID]; ok {
		t.Fatal("denied grant still mutated the store")
	}
}

func TestRevoke(t *testing.T) {
	t.Parallel()
	s, ops := newTestService()
	ctx := context.Background()

	if err := s.Revoke(ctx, creatorID, adminID); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if _, ok := ops.ops[adminID]; ok {
		t.Fatal("admin still present after Revoke")
	}
	if err := s.Revoke(ctx, creatorID, adminID); !errors.Is(err, operator.ErrNotFound) {
		t.Fatalf("second Revoke = %v, want ErrNotFound", err)
	}
}

func TestRevokeCreatorImmutable(t *testing.T) {
	t.Parallel()
	s, ops := newTestService()

	err := s.Revoke(context.Background(), creatorID, creatorID)
	if !errors.Is(err, operator.ErrCreatorImmutable) {
		t.Fatalf("Revoke(creator) = %v, want ErrCreatorImmutable", err)
	}
	if _, ok := ops.ops[creatorID]; !ok {
		t.Fatal("creator removed")
	}
}

func TestListRequiresPrivilege(t *testing.T) {
	t.Parallel()
	s, _ := newTestService()
	ctx := context.Background()

	if _, err := s.List(ctx, strangerID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("List(stranger) = %v, want ErrUnauthorized", err)
	}
	got, err := s.List(ctx, adminID)
	if err != nil {
		t.Fatalf("List(admin) error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List = %d operators, want 2", len(got))
	}
}
