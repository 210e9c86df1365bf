package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"pollbot/internal/access"
	supervisor "pollbot/internal/runtime/supervisor"
	kit "pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessPrivileged
	AccessCreator
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string // positionals, flags stripped
	RawArgs []string
	Flags   map[string]string
	Bools   map[string]bool
	ReqID   string

	Class   access.Classification
	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.Adapter.SendText(ctx, r.Chat, text, nil)
}

// Router owns the command registry and the dispatch worker pool.
//
// Access is resolved per message from the operator store; there is no cached
// admin list to go stale.
type Router struct {
	mu    sync.RWMutex
	cmds  map[string]*Command // name and aliases -> command
	order []string            // registration order, for /help

	log     logx.Logger
	adapter kit.Adapter
	acc     *access.Service

	defaultTimeout time.Duration

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, acc *access.Service) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cmds:           map[string]*Command{},
		log:            log,
		adapter:        adapter,
		acc:            acc,
		defaultTimeout: 30 * time.Second,
		jobs:           make(chan func(), 256),
	}
}

func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		cc := c
		r.cmds[cc.Name] = &cc
		r.order = append(r.order, cc.Name)
		for _, a := range cc.Aliases {
			a = strings.TrimSpace(a)
			if a == "" {
				continue
			}
			r.cmds[a] = &cc
		}
	}
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes inbound updates until ctx is canceled or the channel
// closes. Handlers run on a bounded worker pool so one slow command cannot
// stall the pump.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "router"))),
		supervisor.WithCancelOnError(false),
	)
	r.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() { close(r.jobs) })
	}

	for i := 0; i < workers; i++ {
		idx := i
		name := "command.worker." + strconv.Itoa(idx)
		sup.GoRestart(name, func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					// Middleware already recovers; keep the worker alive anyway.
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job",
									logx.Int("worker", idx),
									logx.Any("panic", rec),
									logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.routeUpdate(ctx, up)
		}
	}
}

func (r *Router) routeUpdate(root context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	raw := parts[1:]

	r.mu.RLock()
	cmdp := r.cmds[word]
	r.mu.RUnlock()

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmdp == nil {
		// Stay quiet in groups; random slash text there is rarely for us.
		if !msg.IsGroup {
			_ = r.adapter.SendText(root, chat, "unknown command, try /help", nil)
		}
		return
	}
	cmd := *cmdp

	class := r.acc.Classify(root, msg.FromID)
	switch cmd.Access {
	case AccessPrivileged:
		if !class.Privileged() {
			_ = r.adapter.SendText(root, chat, "you are not allowed to do that", nil)
			return
		}
	case AccessCreator:
		if !class.IsCreator {
			_ = r.adapter.SendText(root, chat, "you are not allowed to do that", nil)
			return
		}
	}

	pos, flags, bools := parseFlags(raw)

	rid := newReqID()
	reqLog := r.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Name),
	)

	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    pos,
		RawArgs: raw,
		Flags:   flags,
		Bools:   bools,
		ReqID:   rid,
		Class:   class,
		Adapter: r.adapter,
		Logger:  reqLog,
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)

	if !r.tryEnqueue(func() { _ = final(root, req) }) {
		_ = r.adapter.SendText(root, chat, "busy, try again", nil)
	}
}

// HelpText renders the registry, filtered by what the classification may run.
func (r *Router) HelpText(class access.Classification) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("commands:\n")
	for _, name := range r.order {
		c := r.cmds[name]
		if c == nil {
			continue
		}
		switch c.Access {
		case AccessPrivileged:
			if !class.Privileged() {
				continue
			}
		case AccessCreator:
			if !class.IsCreator {
				continue
			}
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString(usage)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
