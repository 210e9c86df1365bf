package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"pollbot/internal/eventbus"
	"pollbot/internal/poll"
	logx "pollbot/pkg/logx"
)

// Gateway delivers one poll to its destination chat.
type Gateway interface {
	SendPoll(ctx context.Context, chatID int64, question string, options []string, anonymous bool) error
}

// Store is the read side the scheduler needs.
type Store interface {
	DuePolls(ctx context.Context, day poll.Weekday, at poll.Clock) ([]poll.Poll, error)
}

type Config struct {
	Enabled         bool
	Location        *time.Location // tick wall clock; nil means UTC
	SendRatePerSec  float64        // 0 means unlimited
	DispatchTimeout time.Duration  // per-poll send deadline; 0 means none
}

// TickResult is published on the bus after every completed tick.
type TickResult struct {
	Day     poll.Weekday
	At      poll.Clock
	Due     int
	Sent    int
	Failed  int
	Elapsed time.Duration
}

// DispatchEvent is published per poll, on both success and failure.
type DispatchEvent struct {
	PollID      string
	Destination int64
	Error       string // empty on success
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	gw    Gateway
	store Store
	bus   eventbus.Bus
	log   logx.Logger

	limiter *rate.Limiter
	c       *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc

	// tickMu serializes ticks. Cron already delays an overlapping entry, but
	// the guard keeps the invariant when tick is driven directly.
	tickMu sync.Mutex

	now func() time.Time
}

func New(cfg Config, gw Gateway, store Store, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		gw:      gw,
		store:   store,
		bus:     bus,
		log:     log,
		limiter: newLimiter(cfg.SendRatePerSec),
		now:     time.Now,
	}
}

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the runtime tunables. A location change while running restarts
// the cron loop in the new location; enable/disable is the caller's job via
// Start/Stop.
func (s *Service) Apply(cfg Config) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s.mu.Lock()
	locChanged := s.cfg.Location.String() != cfg.Location.String()
	if s.cfg.SendRatePerSec != cfg.SendRatePerSec {
		s.limiter = newLimiter(cfg.SendRatePerSec)
	}
	s.cfg = cfg
	old := s.c
	s.mu.Unlock()

	if old == nil || !locChanged {
		return
	}
	// Wait for the old loop outside the lock: an in-flight tick must be able
	// to finish while we drain it.
	<-old.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	// Stop may have raced the drain; a nil cron means we are shut down.
	if s.c != old {
		return
	}
	s.startCronLocked()
	s.log.Info("tick loop restarted", logx.String("location", cfg.Location.String()))
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.startCronLocked()
	s.log.Info("scheduler started",
		logx.String("location", s.cfg.Location.String()),
		logx.Bool("enabled", s.cfg.Enabled))
}

func (s *Service) startCronLocked() {
	clog := cronLogger{log: s.log.With(logx.String("unit", "cron"))}
	s.c = cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.Recover(clog), cron.DelayIfStillRunning(clog)),
	)
	// Every minute. The entry fans out to all polls matching that minute.
	if _, err := s.c.AddFunc("* * * * *", s.runTick); err != nil {
		// Static spec; can only fail if someone edits it.
		s.log.Error("tick entry rejected", logx.Err(err))
		return
	}
	s.c.Start()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	done := c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) runTick() {
	s.mu.Lock()
	ctx := s.runCtx
	enabled := s.cfg.Enabled
	loc := s.cfg.Location
	s.mu.Unlock()
	if ctx == nil || !enabled {
		return
	}
	s.tick(ctx, s.now().In(loc))
}

// tick dispatches every poll due at the given instant. The instant is
// truncated to (weekday, HH:MM) in its own location, so the caller decides
// the wall clock.
func (s *Service) tick(ctx context.Context, at time.Time) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	// Snapshot the tunables once; the dispatch loop must never touch s.mu so
	// that a concurrent Apply or Stop cannot wedge an in-flight tick.
	s.mu.Lock()
	limiter := s.limiter
	timeout := s.cfg.DispatchTimeout
	s.mu.Unlock()

	start := s.now()
	day := poll.WeekdayOf(at.Weekday())
	clock := poll.ClockOf(at)

	due, err := s.store.DuePolls(ctx, day, clock)
	if err != nil {
		// No partial dispatch on a store outage; the minute is simply lost.
		s.log.Warn("due query failed, tick abandoned",
			logx.String("day", string(day)),
			logx.String("at", clock.String()),
			logx.Err(err))
		return
	}

	var sent, failed int
	for _, p := range due {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := s.dispatch(ctx, p, timeout); err != nil {
			failed++
			s.log.Warn("poll dispatch failed",
				logx.String("poll", p.ID),
				logx.Int64("destination", p.Destination),
				logx.Err(err))
			s.bus.Publish(eventbus.Event{Type: "poll.dispatch_failed", Data: DispatchEvent{
				PollID: p.ID, Destination: p.Destination, Error: err.Error(),
			}})
			continue
		}
		sent++
		s.log.Info("poll dispatched",
			logx.String("poll", p.ID),
			logx.Int64("destination", p.Destination),
			logx.String("at", clock.String()))
		s.bus.Publish(eventbus.Event{Type: "poll.dispatched", Data: DispatchEvent{
			PollID: p.ID, Destination: p.Destination,
		}})
	}

	s.bus.Publish(eventbus.Event{Type: "scheduler.tick", Data: TickResult{
		Day: day, At: clock, Due: len(due), Sent: sent, Failed: failed,
		Elapsed: s.now().Sub(start),
	}})
}

func (s *Service) dispatch(ctx context.Context, p poll.Poll, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.gw.SendPoll(ctx, p.Destination, p.Question, p.Options, p.Anonymous)
}
