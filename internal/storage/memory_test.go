package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pollbot/internal/operator"
	"pollbot/internal/poll"
)

func testPoll(id string, created time.Time) poll.Poll {
	return poll.Poll{
		ID:          id,
		Destination: -100111,
		Question:    "Lunch?",
		Options:     []string{"yes", "no"},
		Days:        poll.WeekdaySet{poll.Mon, poll.Wed},
		At:          poll.Clock{Hour: 9, Minute: 5},
		Active:      true,
		Anonymous:   true,
		CreatedBy:   7,
		CreatedAt:   created,
	}
}

func TestMemoryUpsertCreatorIdempotent(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	first, err := m.UpsertCreator(ctx, 1, "boss")
	if err != nil {
		t.Fatalf("UpsertCreator error: %v", err)
	}
	// Same id again: no change.
	again, err := m.UpsertCreator(ctx, 1, "renamed")
	if err != nil {
		t.Fatalf("UpsertCreator error: %v", err)
	}
	if diff := cmp.Diff(first, again); diff != "" {
		t.Fatalf("second upsert changed the creator:\n%s", diff)
	}
	// Different id: the existing creator wins.
	other, err := m.UpsertCreator(ctx, 2, "impostor")
	if err != nil {
		t.Fatalf("UpsertCreator error: %v", err)
	}
	if other.ID != 1 {
		t.Fatalf("creator id = %d, want 1", other.ID)
	}
}

func TestMemoryAdminLifecycle(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.UpsertCreator(ctx, 1, "boss"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddAdmin(ctx, 2, "helper"); err != nil {
		t.Fatalf("AddAdmin error: %v", err)
	}
	// Idempotent.
	op, err := m.AddAdmin(ctx, 2, "other")
	if err != nil {
		t.Fatalf("AddAdmin error: %v", err)
	}
	if op.DisplayName != "helper" {
		t.Fatalf("AddAdmin overwrote the record: %+v", op)
	}

	if err := m.RemoveAdmin(ctx, 1); !errors.Is(err, operator.ErrCreatorImmutable) {
		t.Fatalf("RemoveAdmin(creator) = %v, want ErrCreatorImmutable", err)
	}
	if err := m.RemoveAdmin(ctx, 2); err != nil {
		t.Fatalf("RemoveAdmin error: %v", err)
	}
	if err := m.RemoveAdmin(ctx, 2); !errors.Is(err, operator.ErrNotFound) {
		t.Fatalf("RemoveAdmin(gone) = %v, want ErrNotFound", err)
	}

	ops, err := m.ListOperators(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Role != operator.RoleCreator {
		t.Fatalf("ListOperators = %+v, want only the creator", ops)
	}
}

func TestMemoryDuePollsExactMatch(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	hit := testPoll("hit", base)
	miss := testPoll("wrong-minute", base)
	miss.At = poll.Clock{Hour: 9, Minute: 6}
	offday := testPoll("wrong-day", base)
	offday.Days = poll.WeekdaySet{poll.Fri}
	paused := testPoll("paused", base)
	paused.Active = false

	for _, p := range []poll.Poll{hit, miss, offday, paused} {
		if err := m.CreatePoll(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	due, err := m.DuePolls(ctx, poll.Mon, poll.Clock{Hour: 9, Minute: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != "hit" {
		t.Fatalf("DuePolls = %+v, want only %q", due, "hit")
	}
}

func TestMemoryListOrdering(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"oldest", "middle", "newest"} {
		p := testPoll(id, base.Add(time.Duration(i)*time.Hour))
		if err := m.CreatePoll(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.PollsByDestination(ctx, -100111)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	want := []string{"newest", "middle", "oldest"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("ordering mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryUpdateAndDelete(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	if err := m.CreatePoll(ctx, testPoll("p1", time.Now())); err != nil {
		t.Fatal(err)
	}

	p, err := m.UpdatePollSchedule(ctx, "p1", poll.WeekdaySet{poll.Sun}, poll.Clock{Hour: 20})
	if err != nil {
		t.Fatalf("UpdatePollSchedule error: %v", err)
	}
	if p.Days.String() != "Sun" || p.At.String() != "20:00" {
		t.Fatalf("schedule = %s %s", p.Days, p.At)
	}

	if _, err := m.UpdatePollSchedule(ctx, "nope", poll.WeekdaySet{poll.Sun}, poll.Clock{}); !errors.Is(err, poll.ErrNotFound) {
		t.Fatalf("UpdatePollSchedule(missing) = %v, want ErrNotFound", err)
	}
	if err := m.SetPollActive(ctx, "nope", false); !errors.Is(err, poll.ErrNotFound) {
		t.Fatalf("SetPollActive(missing) = %v, want ErrNotFound", err)
	}
	if err := m.DeletePoll(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := m.DeletePoll(ctx, "p1"); !errors.Is(err, poll.ErrNotFound) {
		t.Fatalf("DeletePoll(again) = %v, want ErrNotFound", err)
	}
}
