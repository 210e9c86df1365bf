package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pollbot/internal/access"
	"pollbot/internal/config"
	"pollbot/internal/eventbus"
	"pollbot/internal/poll"
	"pollbot/internal/router"
	supervisor "pollbot/internal/runtime/supervisor"
	"pollbot/internal/scheduler"
	"pollbot/internal/storage"
	kit "pollbot/internal/transport"
	"pollbot/internal/transport/telegram"
	logx "pollbot/pkg/logx"
)

// App owns construction, startup order and shutdown order of every component.
type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	adapter kit.Adapter
	bus     eventbus.Bus
	updates chan kit.Update

	store storage.Store
	acc   *access.Service
	polls *poll.Service
	sched *scheduler.Service
	rt    *router.Router

	sup *supervisor.Supervisor

	mu      sync.Mutex
	stopped bool
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		logs.Close()
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	return &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log.With(logx.String("comp", "app")),
		adapter: adapter,
		bus:     eventbus.New(),
		updates: make(chan kit.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	// Storage must be reachable before anything else starts; a bad DSN or an
	// unwritable path is a startup failure, not something to limp past.
	store, err := storage.Open(a.sup.Context(), mustStorageConfig(cfg), a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	a.acc = access.New(store, a.log.With(logx.String("comp", "access")))
	a.polls = poll.NewService(store, a.acc, a.log.With(logx.String("comp", "poll")))

	if err := a.bootstrapCreator(a.sup.Context(), cfg); err != nil {
		return err
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	a.sched = scheduler.New(schedCfg,
		adapterGateway{a.adapter},
		store,
		a.bus,
		a.log.With(logx.String("comp", "scheduler")),
	)

	a.rt = router.New(a.log.With(logx.String("comp", "router")), a.adapter, a.acc)
	deps := router.Deps{
		Polls:  a.polls,
		Access: a.acc,
		Router: a.rt,
		DefaultAnonymous: func() bool {
			return a.cfgm.Get().Scheduler.DefaultAnonymous()
		},
	}
	a.rt.Register(router.Commands(deps)...)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.rt.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.startConfigReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) bootstrapCreator(ctx context.Context, cfg *config.Config) error {
	if cfg.Bootstrap.CreatorID == 0 {
		a.log.Warn("no creator configured; nobody can manage polls")
		return nil
	}
	op, err := a.store.UpsertCreator(ctx, cfg.Bootstrap.CreatorID, cfg.Bootstrap.CreatorName)
	if err != nil {
		return fmt.Errorf("bootstrap creator: %w", err)
	}
	if op.ID != cfg.Bootstrap.CreatorID {
		a.log.Warn("creator already bootstrapped with a different id; config ignored",
			logx.Int64("configured", cfg.Bootstrap.CreatorID),
			logx.Int64("actual", op.ID))
		return nil
	}
	a.log.Info("creator ready", logx.Int64("creator_id", op.ID))
	return nil
}

// startConfigReload applies hot-reloadable sections: logging, and the
// scheduler's enable flag and tunables. Storage and telegram changes need a
// restart and are only warned about.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, old, cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	if old != nil && (old.Storage != cfg.Storage) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if old != nil && (old.Telegram != cfg.Telegram) {
		a.log.Warn("telegram config changed; restart required for changes to take effect")
	}
	if old != nil && (old.Bootstrap != cfg.Bootstrap) {
		a.log.Warn("bootstrap config changed; restart required for changes to take effect")
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		// Validator should have caught this; keep the previous settings.
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	a.sched.Apply(schedCfg)
	a.log.Info("config reloaded")
}

// Err reports the first fatal error from a supervised goroutine, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Done is closed when any supervised goroutine fails fatally.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return a.sup.Context().Done()
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	if a.sup == nil {
		a.logs.Close()
		return nil
	}

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step end", logx.String("name", name))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	a.log.Info("stopping")
	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.sup.Cancel()
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// adapterGateway narrows the transport adapter to what the scheduler needs.
type adapterGateway struct {
	a kit.Adapter
}

func (g adapterGateway) SendPoll(ctx context.Context, chatID int64, question string, options []string, anonymous bool) error {
	return g.a.SendPoll(ctx, kit.ChatTarget{ChatID: chatID}, question, options, anonymous)
}

// ---- config mapping ----

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	loc, err := config.ParseUTCOffset(cfg.Scheduler.UTCOffset)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("scheduler.dispatch_timeout", cfg.Scheduler.DispatchTimeout, 15*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	rate := float64(cfg.Scheduler.SendRatePerSec)
	if rate <= 0 {
		rate = 1
	}
	return scheduler.Config{
		Enabled:         cfg.Scheduler.Enabled,
		Location:        loc,
		SendRatePerSec:  rate,
		DispatchTimeout: timeout,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busy,
	}, nil
}

// mustStorageConfig is for the startup path, where Load() already validated.
func mustStorageConfig(cfg *config.Config) storage.Config {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		sc = storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, DSN: cfg.Storage.DSN}
	}
	return sc
}

// validateConfig rejects a hot-reload that would break runtime mapping.
func validateConfig(cfg *config.Config) error {
	if _, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "postgres", "pgx", "memory":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	return nil
}
