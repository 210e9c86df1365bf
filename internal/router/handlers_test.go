package router

import (
	"context"
	"strings"
	"testing"

	kit "pollbot/internal/transport"
)

func (h *harness) createPoll(t *testing.T) string {
	t.Helper()
	h.send(t, adminID, `/newpoll "Lunch today?" "yes" "no" --days mon,wed --time 9:5`)
	reply := h.adapter.lastText()
	if !strings.Contains(reply, "poll created:") {
		t.Fatalf("create reply = %q", reply)
	}
	polls, err := h.store.PollsByDestination(context.Background(), chatID)
	if err != nil || len(polls) != 1 {
		t.Fatalf("polls = %v, err = %v", polls, err)
	}
	return polls[0].ID
}

func TestNewPoll(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.createPoll(t)

	polls, _ := h.store.PollsByDestination(context.Background(), chatID)
	p := polls[0]
	if p.ID != id || p.Question != "Lunch today?" {
		t.Fatalf("poll = %+v", p)
	}
	// Single-digit input is stored canonical.
	if p.At.String() != "09:05" {
		t.Fatalf("At = %s, want 09:05", p.At)
	}
	if p.Days.String() != "Mon,Wed" {
		t.Fatalf("Days = %s", p.Days)
	}
	if !p.Anonymous {
		t.Fatal("default should be anonymous")
	}
}

func TestNewPollPublicFlag(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.send(t, adminID, `/newpoll "Q?" a b --days fri --time 10:00 --public`)
	polls, _ := h.store.PollsByDestination(context.Background(), chatID)
	if len(polls) != 1 || polls[0].Anonymous {
		t.Fatalf("polls = %+v, want one public poll", polls)
	}
}

func TestNewPollValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.send(t, adminID, `/newpoll "Q?" a b --days mon --time 25:00`)
	if got := h.adapter.lastText(); !strings.Contains(got, "invalid time") {
		t.Fatalf("reply = %q, want time validation error", got)
	}
	h.send(t, adminID, `/newpoll "Q?" a b --days funday --time 10:00`)
	if got := h.adapter.lastText(); !strings.Contains(got, "invalid days") {
		t.Fatalf("reply = %q, want days validation error", got)
	}
	h.send(t, adminID, `/newpoll "Q?" onlyone --days mon --time 10:00`)
	if got := h.adapter.lastText(); !strings.Contains(got, "usage:") {
		t.Fatalf("reply = %q, want usage", got)
	}

	polls, _ := h.store.PollsByDestination(context.Background(), chatID)
	if len(polls) != 0 {
		t.Fatalf("invalid input persisted %d polls", len(polls))
	}
}

func TestSetSchedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.createPoll(t)

	h.send(t, adminID, "/setschedule "+id+" fri 17:30")
	if got := h.adapter.lastText(); !strings.Contains(got, "schedule updated") {
		t.Fatalf("reply = %q", got)
	}
	p, err := h.store.GetPoll(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Days.String() != "Fri" || p.At.String() != "17:30" {
		t.Fatalf("schedule = %s %s", p.Days, p.At)
	}
}

func TestSetScheduleMissingPoll(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.send(t, adminID, "/setschedule nope mon 10:00")
	if got := h.adapter.lastText(); !strings.Contains(got, "no such poll") {
		t.Fatalf("reply = %q", got)
	}
}

func TestPauseResumeDelete(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.createPoll(t)
	ctx := context.Background()

	h.send(t, adminID, "/pausepoll "+id)
	if p, _ := h.store.GetPoll(ctx, id); p.Active {
		t.Fatal("poll still active after /pausepoll")
	}
	h.send(t, adminID, "/resumepoll "+id)
	if p, _ := h.store.GetPoll(ctx, id); !p.Active {
		t.Fatal("poll not active after /resumepoll")
	}
	h.send(t, adminID, "/delpoll "+id)
	if got := h.adapter.lastText(); !strings.Contains(got, "poll deleted") {
		t.Fatalf("reply = %q", got)
	}
	h.send(t, adminID, "/delpoll "+id)
	if got := h.adapter.lastText(); !strings.Contains(got, "no such poll") {
		t.Fatalf("second delete reply = %q", got)
	}
}

func TestScheduleListsChatPolls(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.createPoll(t)

	h.send(t, adminID, "/schedule")
	got := h.adapter.lastText()
	if !strings.Contains(got, "Lunch today?") || !strings.Contains(got, "Mon,Wed") || !strings.Contains(got, "09:05") {
		t.Fatalf("schedule reply = %q", got)
	}

	h.send(t, adminID, "/schedule --chat 12345")
	if got := h.adapter.lastText(); !strings.Contains(got, "no polls scheduled") {
		t.Fatalf("empty chat reply = %q", got)
	}
}

func TestMyPolls(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.createPoll(t)

	h.send(t, creatorID, "/mypolls")
	if got := h.adapter.lastText(); !strings.Contains(got, "you have no polls") {
		t.Fatalf("creator reply = %q", got)
	}
	h.send(t, adminID, "/mypolls")
	if got := h.adapter.lastText(); !strings.Contains(got, "Lunch today?") {
		t.Fatalf("admin reply = %q", got)
	}
}

func TestAddAdminByReply(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.sendMsg(t, kit.Message{
		ChatID:          chatID,
		FromID:          creatorID,
		Text:            "/addadmin",
		ReplyToID:       42,
		ReplyToUsername: "newbie",
	})
	if got := h.adapter.lastText(); !strings.Contains(got, "newbie is now an admin") {
		t.Fatalf("reply = %q", got)
	}

	// The grant is effective immediately.
	h.send(t, 42, `/newpoll "Q?" a b --days mon --time 10:00`)
	if got := h.adapter.lastText(); !strings.Contains(got, "poll created:") {
		t.Fatalf("new admin cannot create polls: %q", got)
	}
}

func TestAddAdminById(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.send(t, creatorID, "/addadmin 43 Deputy")
	if got := h.adapter.lastText(); !strings.Contains(got, "Deputy is now an admin") {
		t.Fatalf("reply = %q", got)
	}
	// Idempotent.
	h.send(t, creatorID, "/addadmin 43 Other")
	if got := h.adapter.lastText(); !strings.Contains(got, "Deputy is now an admin") {
		t.Fatalf("second grant reply = %q", got)
	}

	h.send(t, creatorID, "/addadmin")
	if got := h.adapter.lastText(); !strings.Contains(got, "reply to the user") {
		t.Fatalf("missing target reply = %q", got)
	}
}

func TestDelAdmin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.send(t, creatorID, "/deladmin 2")
	if got := h.adapter.lastText(); !strings.Contains(got, "admin revoked") {
		t.Fatalf("reply = %q", got)
	}
	// Revocation is effective immediately.
	h.send(t, adminID, `/newpoll "Q?" a b --days mon --time 10:00`)
	if got := h.adapter.lastText(); !strings.Contains(got, "not allowed") {
		t.Fatalf("revoked admin reply = %q", got)
	}

	h.send(t, creatorID, "/deladmin 1")
	if got := h.adapter.lastText(); !strings.Contains(got, "creator cannot be removed") {
		t.Fatalf("creator revoke reply = %q", got)
	}
	h.send(t, creatorID, "/deladmin 999")
	if got := h.adapter.lastText(); !strings.Contains(got, "no such operator") {
		t.Fatalf("missing operator reply = %q", got)
	}
}

func TestAdminsList(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.send(t, adminID, "/admins")
	got := h.adapter.lastText()
	if !strings.Contains(got, "boss") || !strings.Contains(got, "helper") {
		t.Fatalf("admins reply = %q", got)
	}
	if !strings.Contains(got, "creator") {
		t.Fatalf("admins reply misses roles: %q", got)
	}
}
