package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"pollbot/internal/eventbus"
	"pollbot/internal/poll"
	logx "pollbot/pkg/logx"
)

type fakeGateway struct {
	mu    sync.Mutex
	sent  []int64 // destinations, in dispatch order
	fail  map[int64]error
	calls int

	started chan struct{} // receives once per send, before any blocking
	gate    chan struct{} // when set, sends wait here before completing
}

func (g *fakeGateway) SendPoll(_ context.Context, chatID int64, _ string, _ []string, _ bool) error {
	if g.started != nil {
		select {
		case g.started <- struct{}{}:
		default:
		}
	}
	if g.gate != nil {
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if err := g.fail[chatID]; err != nil {
		return err
	}
	g.sent = append(g.sent, chatID)
	return nil
}

type fakeStore struct {
	polls []poll.Poll
	err   error
}

func (s *fakeStore) DuePolls(_ context.Context, day poll.Weekday, at poll.Clock) ([]poll.Poll, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []poll.Poll
	for _, p := range s.polls {
		if p.Active && p.At == at && p.Days.Contains(day) {
			out = append(out, p)
		}
	}
	return out, nil
}

func duePoll(id string, dest int64) poll.Poll {
	return poll.Poll{
		ID:          id,
		Destination: dest,
		Question:    "Lunch?",
		Options:     []string{"yes", "no"},
		Days:        poll.WeekdaySet{poll.Mon},
		At:          poll.Clock{Hour: 9, Minute: 5},
		Active:      true,
		Anonymous:   true,
	}
}

func newTestService(gw Gateway, store Store, bus eventbus.Bus) *Service {
	return New(Config{Enabled: true, Location: time.UTC}, gw, store, bus, logx.Nop())
}

// monday0905 is a Monday at 09:05 UTC.
var monday0905 = time.Date(2024, 5, 6, 9, 5, 0, 0, time.UTC)

func TestTickDispatchesExactMatches(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	store := &fakeStore{polls: []poll.Poll{
		duePoll("a", 100),
		duePoll("b", 200),
	}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := newTestService(gw, store, bus)
	s.tick(context.Background(), monday0905)

	if len(gw.sent) != 2 {
		t.Fatalf("sent %d polls, want 2", len(gw.sent))
	}

	var tickSeen bool
	for len(events) > 0 {
		e := <-events
		if e.Type == "scheduler.tick" {
			tickSeen = true
			r := e.Data.(TickResult)
			if r.Due != 2 || r.Sent != 2 || r.Failed != 0 {
				t.Fatalf("tick result = %+v", r)
			}
		}
	}
	if !tickSeen {
		t.Fatal("no scheduler.tick event published")
	}
}

func TestTickNoMatchesNextMinute(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	store := &fakeStore{polls: []poll.Poll{duePoll("a", 100)}}
	s := newTestService(gw, store, eventbus.New())

	s.tick(context.Background(), monday0905.Add(time.Minute))
	if gw.calls != 0 {
		t.Fatalf("dispatched %d polls one minute late, want 0", gw.calls)
	}
}

func TestTickFailureIsolation(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{fail: map[int64]error{100: errors.New("blocked")}}
	store := &fakeStore{polls: []poll.Poll{
		duePoll("bad", 100),
		duePoll("good", 200),
	}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := newTestService(gw, store, bus)
	s.tick(context.Background(), monday0905)

	if len(gw.sent) != 1 || gw.sent[0] != 200 {
		t.Fatalf("sent = %v, want [200]", gw.sent)
	}

	var failed, dispatched int
	for len(events) > 0 {
		e := <-events
		switch e.Type {
		case "poll.dispatch_failed":
			failed++
		case "poll.dispatched":
			dispatched++
		}
	}
	if failed != 1 || dispatched != 1 {
		t.Fatalf("events: %d failed, %d dispatched; want 1 and 1", failed, dispatched)
	}
}

func TestTickAbandonedOnStoreOutage(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	store := &fakeStore{err: errors.New("store down")}
	s := newTestService(gw, store, eventbus.New())

	s.tick(context.Background(), monday0905)
	if gw.calls != 0 {
		t.Fatalf("dispatched %d polls during store outage, want 0", gw.calls)
	}
}

func TestTickHonorsLocationDayRollover(t *testing.T) {
	t.Parallel()
	// 23:30 Monday UTC is already 02:30 Tuesday at +03:00. A poll scheduled
	// Tue 02:30 must fire; one scheduled Mon 23:30 must not.
	loc := time.FixedZone("UTC+03:00", 3*60*60)
	instant := time.Date(2024, 5, 6, 23, 30, 0, 0, time.UTC)

	tue := duePoll("tue", 100)
	tue.Days = poll.WeekdaySet{poll.Tue}
	tue.At = poll.Clock{Hour: 2, Minute: 30}

	mon := duePoll("mon", 200)
	mon.Days = poll.WeekdaySet{poll.Mon}
	mon.At = poll.Clock{Hour: 23, Minute: 30}

	gw := &fakeGateway{}
	store := &fakeStore{polls: []poll.Poll{tue, mon}}
	s := New(Config{Enabled: true, Location: loc}, gw, store, eventbus.New(), logx.Nop())

	s.tick(context.Background(), instant.In(loc))
	if len(gw.sent) != 1 || gw.sent[0] != 100 {
		t.Fatalf("sent = %v, want [100]", gw.sent)
	}
}

func TestTickDispatchLoopNeedsNoTunablesLock(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	gw := &fakeGateway{started: make(chan struct{}, 1), gate: gate}
	store := &fakeStore{polls: []poll.Poll{
		duePoll("a", 100),
		duePoll("b", 200),
	}}
	s := newTestService(gw, store, eventbus.New())

	done := make(chan struct{})
	go func() {
		s.tick(context.Background(), monday0905)
		close(done)
	}()
	<-gw.started

	// A reload holds the tunables lock while a dispatch is in flight; the
	// rest of the tick must complete without needing it.
	s.mu.Lock()
	close(gate)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("tick blocked on the tunables lock mid-dispatch")
	}
	s.mu.Unlock()

	if len(gw.sent) != 2 {
		t.Fatalf("sent = %v, want both polls", gw.sent)
	}
}

func TestApplyReturnsDuringInFlightDispatch(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	gw := &fakeGateway{started: make(chan struct{}, 1), gate: gate}
	store := &fakeStore{polls: []poll.Poll{
		duePoll("a", 100),
		duePoll("b", 200),
	}}
	s := newTestService(gw, store, eventbus.New())

	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	done := make(chan struct{})
	go func() {
		s.tick(ctx, monday0905)
		close(done)
	}()
	<-gw.started

	applied := make(chan struct{})
	go func() {
		loc := time.FixedZone("UTC+07:00", 7*60*60)
		s.Apply(Config{Enabled: true, Location: loc, SendRatePerSec: 5})
		close(applied)
	}()
	select {
	case <-applied:
	case <-time.After(3 * time.Second):
		t.Fatal("Apply blocked on an in-flight dispatch")
	}

	close(gate)
	<-done
	if len(gw.sent) != 2 {
		t.Fatalf("sent = %v, want both polls", gw.sent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if got := s.cfg.Location.String(); got != "UTC+07:00" {
		t.Fatalf("location = %q after Apply", got)
	}
	if s.c == nil {
		t.Fatal("tick loop not restarted after location change")
	}
}

func TestApplySwapsRateLimiter(t *testing.T) {
	t.Parallel()
	s := newTestService(&fakeGateway{}, &fakeStore{}, eventbus.New())
	s.Apply(Config{Enabled: true, Location: time.UTC, SendRatePerSec: 2})
	s.mu.Lock()
	defer s.mu.Unlock()
	if got := s.limiter.Limit(); got != rate.Limit(2) {
		t.Fatalf("limiter limit = %v, want 2", got)
	}
}

func TestQuietTickPublishesResult(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := newTestService(&fakeGateway{}, &fakeStore{}, bus)
	s.tick(context.Background(), monday0905)

	select {
	case e := <-events:
		if e.Type != "scheduler.tick" {
			t.Fatalf("event = %q, want scheduler.tick", e.Type)
		}
		r := e.Data.(TickResult)
		if r.Due != 0 || r.Sent != 0 || r.Failed != 0 {
			t.Fatalf("tick result = %+v", r)
		}
	default:
		t.Fatal("quiet tick published no result")
	}
}

func TestRunTickDisabled(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	store := &fakeStore{polls: []poll.Poll{duePoll("a", 100)}}
	s := New(Config{Enabled: false, Location: time.UTC}, gw, store, eventbus.New(), logx.Nop())
	s.now = func() time.Time { return monday0905 }
	s.runCtx = context.Background()

	s.runTick()
	if gw.calls != 0 {
		t.Fatalf("disabled scheduler dispatched %d polls", gw.calls)
	}
}
