package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pollbot/internal/access"
	"pollbot/internal/operator"
	"pollbot/internal/poll"
)

// Deps carries the services the built-in commands need.
type Deps struct {
	Polls  *poll.Service
	Access *access.Service
	Router *Router

	// DefaultAnonymous is the configured default for new polls; the --public
	// and --anonymous flags override it per poll.
	DefaultAnonymous func() bool
}

// Commands builds the full command registry.
func Commands(d Deps) []Command {
	return []Command{
		{
			Name:        "help",
			Aliases:     []string{"start"},
			Description: "show this help",
			Usage:       "/help",
			Access:      AccessEveryone,
			Handle:      d.handleHelp,
		},
		{
			Name:        "newpoll",
			Description: "create a recurring poll",
			Usage:       `/newpoll "Question?" "Opt A" "Opt B" --days mon,wed --time 18:30 [--chat <id>] [--public]`,
			Access:      AccessPrivileged,
			Handle:      d.handleNewPoll,
		},
		{
			Name:        "setschedule",
			Description: "change a poll's days and time",
			Usage:       "/setschedule <poll-id> <days> <HH:MM>",
			Access:      AccessPrivileged,
			Handle:      d.handleSetSchedule,
		},
		{
			Name:        "schedule",
			Aliases:     []string{"viewschedule"},
			Description: "list polls scheduled for this chat",
			Usage:       "/schedule [--chat <id>]",
			Access:      AccessPrivileged,
			Handle:      d.handleSchedule,
		},
		{
			Name:        "mypolls",
			Description: "list polls you created",
			Usage:       "/mypolls",
			Access:      AccessPrivileged,
			Handle:      d.handleMyPolls,
		},
		{
			Name:        "pausepoll",
			Description: "stop a poll from firing without deleting it",
			Usage:       "/pausepoll <poll-id>",
			Access:      AccessPrivileged,
			Handle:      d.handlePausePoll,
		},
		{
			Name:        "resumepoll",
			Description: "resume a paused poll",
			Usage:       "/resumepoll <poll-id>",
			Access:      AccessPrivileged,
			Handle:      d.handleResumePoll,
		},
		{
			Name:        "delpoll",
			Description: "delete a poll permanently",
			Usage:       "/delpoll <poll-id>",
			Access:      AccessPrivileged,
			Handle:      d.handleDelPoll,
		},
		{
			Name:        "addadmin",
			Description: "grant admin (reply to the user, or pass an id)",
			Usage:       "/addadmin [<user-id> [name]]",
			Access:      AccessCreator,
			Handle:      d.handleAddAdmin,
		},
		{
			Name:        "deladmin",
			Description: "revoke admin",
			Usage:       "/deladmin [<user-id>]",
			Access:      AccessCreator,
			Handle:      d.handleDelAdmin,
		},
		{
			Name:        "admins",
			Description: "list operators",
			Usage:       "/admins",
			Access:      AccessPrivileged,
			Handle:      d.handleAdmins,
		},
	}
}

func (d Deps) handleHelp(ctx context.Context, req *Request) error {
	return req.Reply(ctx, d.Router.HelpText(req.Class))
}

func (d Deps) handleNewPoll(ctx context.Context, req *Request) error {
	if len(req.Args) < 1+poll.MinOptions {
		return req.Reply(ctx, "usage: "+`/newpoll "Question?" "Opt A" "Opt B" --days mon,wed --time 18:30`)
	}
	question := req.Args[0]
	options := req.Args[1:]

	daysRaw := req.Flags["days"]
	timeRaw := req.Flags["time"]
	if daysRaw == "" || timeRaw == "" {
		return req.Reply(ctx, "both --days and --time are required")
	}
	days, err := poll.ParseWeekdays(daysRaw)
	if err != nil {
		return req.Reply(ctx, replyError(err))
	}
	at, err := poll.ParseClock(timeRaw)
	if err != nil {
		return req.Reply(ctx, replyError(err))
	}

	dest := req.Chat.ChatID
	if raw := req.Flags["chat"]; raw != "" {
		dest, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req.Reply(ctx, "invalid --chat id")
		}
	}

	anonymous := d.DefaultAnonymous()
	if req.Bools["public"] {
		anonymous = false
	}
	if req.Bools["anonymous"] {
		anonymous = true
	}

	p, err := d.Polls.Create(ctx, req.FromID, poll.CreateArgs{
		Destination: dest,
		Question:    question,
		Options:     options,
		Days:        days,
		At:          at,
		Anonymous:   anonymous,
	})
	if err != nil {
		return req.Reply(ctx, replyError(err))
	}
	return req.Reply(ctx, fmt.Sprintf("poll created: %s\nfires %s at %s", p.ID, p.Days, p.At))
}

func (d Deps) handleSetSchedule(ctx context.Context, req *Request) error {
	id, args := popArg(req.Args)
	daysRaw := req.Flags["days"]
	timeRaw := req.Flags["time"]
	if daysRaw == "" && len(args) > 0 {
		daysRaw, args = args[0], args[1:]
	}
	if timeRaw == "" && len(args) > 0 {
		timeRaw = args[0]
	}
	if id == "" || daysRaw == "" || timeRaw == "" {
		return req.Reply(ctx, "usage: /setschedule <poll-id> <days> <HH:MM>")
	}

	days, err := poll.ParseWeekdays(daysRaw)
	if err != nil {
		return req.Reply(ctx, replyError(err))
	}
	at, err := poll.ParseClock(timeRaw)
	if err != nil {
		return req.Reply(ctx, replyError(err))
	}

	p, err := d.Polls.UpdateSchedule(ctx, req.FromID, id, days, at)
	if err != nil {
		return req.Reply(ctx, replyError(err))
	}
	return req.Reply(ctx, fmt.Sprintf("schedule updated: fires %s at %s", p.Days, p.At))
}

func (d Deps) handleSchedule(ctx context.Context, req *Request) error {
	dest := req.Chat.ChatID
	if raw := req.Flags["chat"]; raw != "" {
		var err error
		dest, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req.Reply(ctx, "invalid --chat id")
		}
	}
	polls, err := d.Polls.ListByDestination(ctx, req.FromID, dest)
	if err != nil {
		return req.Reply(ctx, replyError(err))
	}
	if len(polls) == 0 {
		return req.Reply(ctx, "no polls scheduled for this chat")
	}
	return req.Reply(ctx, formatPolls(polls))
}

func (d Deps) handleMyPolls(ctx context.Context, req *Request) error {
	polls, err := d.Polls.ListByOwner(ctx, req.FromID)
	if err != nil {
		return req.Reply(ctx, replyError(err))
	}
	if len(polls) == 0 {
		return req.Reply(ctx, "you have no polls")
	}
	return req.Reply(ctx, formatPolls(polls))
}

func (d Deps) handlePausePoll(ctx context.Context, req *Request) error {
	id, _ := popArg(req.Args)
	if id == "" {
		return req.Reply(ctx, "usage: /pausepoll <poll-id>")
	}
	if err := d.Polls.Deactivate(ctx, req.FromID, id); err != nil {
		return req.Reply(ctx, replyError(err))
	}
	return req.Reply(ctx, "poll paused")
}

func (d Deps) handleResumePoll(ctx context.Context, req *Request) error {
	id, _ := popArg(req.Args)
	if id == "" {
		return req.Reply(ctx, "usage: /resumepoll <poll-id>")
	}
	if err := d.Polls.Resume(ctx, req.FromID, id); err != nil {
		return req.Reply(ctx, replyError(err))
	}
	return req.Reply(ctx, "poll resumed")
}

func (d Deps) handleDelPoll(ctx context.Context, req *Request) error {
	id, _ := popArg(req.Args)
	if id == "" {
		return req.Reply(ctx, "usage: /delpoll <poll-id>")
	}
	if err := d.Polls.Delete(ctx, req.FromID, id); err != nil {
		return req.Reply(ctx, replyError(err))
	}
	return req.Reply(ctx, "poll deleted")
}

// resolveTarget picks the subject of an operator command: the replied-to user
// wins, otherwise the first positional argument is parsed as a user id.
func resolveTarget(req *Request) (id int64, name string, err error) {
	if msg := req.Update.Message; msg != nil && msg.ReplyToID != 0 {
		return msg.ReplyToID, msg.ReplyToUsername, nil
	}
	raw, args := popArg(req.Args)
	if raw == "" {
		return 0, "", errors.New("reply to the user's message or pass a user id")
	}
	id, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, "", errors.New("invalid user id")
	}
	if len(args) > 0 {
		name = strings.Join(args, " ")
	}
	return id, name, nil
}

func (d Deps) handleAddAdmin(ctx context.Context, req *Request) error {
	target, name, err := resolveTarget(req)
	if err != nil {
		return req.Reply(ctx, err.Error())
	}
	op, err := d.Access.Grant(ctx, req.FromID, target, name)
	if err != nil {
		return req.Reply(ctx, replyError(err))
	}
	return req.Reply(ctx, fmt.Sprintf("%s is now an admin", displayName(op)))
}

func (d Deps) handleDelAdmin(ctx context.Context, req *Request) error {
	target, _, err := resolveTarget(req)
	if err != nil {
		return req.Reply(ctx, err.Error())
	}
	if err := d.Access.Revoke(ctx, req.FromID, target); err != nil {
		return req.Reply(ctx, replyError(err))
	}
	return req.Reply(ctx, "admin revoked")
}

func (d Deps) handleAdmins(ctx context.Context, req *Request) error {
	ops, err := d.Access.List(ctx, req.FromID)
	if err != nil {
		return req.Reply(ctx, replyError(err))
	}
	var b strings.Builder
	b.WriteString("operators:\n")
	for _, op := range ops {
		fmt.Fprintf(&b, "%s (%d) %s\n", displayName(op), op.ID, op.Role)
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func popArg(args []string) (string, []string) {
	if len(args) == 0 {
		return "", nil
	}
	return args[0], args[1:]
}

func displayName(op operator.Operator) string {
	if op.DisplayName != "" {
		return op.DisplayName
	}
	return strconv.FormatInt(op.ID, 10)
}

func formatPolls(polls []poll.Poll) string {
	var b strings.Builder
	for _, p := range polls {
		status := ""
		if !p.Active {
			status = " [paused]"
		}
		fmt.Fprintf(&b, "%s\n  %q %s %s%s\n", p.ID, p.Question, p.Days, p.At, status)
	}
	return strings.TrimRight(b.String(), "\n")
}

// replyError maps service errors onto user-facing text. Unexpected errors get
// a generic retryable message; details stay in the logs.
func replyError(err error) string {
	var verr *poll.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, access.ErrUnauthorized):
		return "you are not allowed to do that"
	case errors.Is(err, poll.ErrNotFound):
		return "no such poll"
	case errors.Is(err, operator.ErrNotFound):
		return "no such operator"
	case errors.Is(err, operator.ErrCreatorImmutable):
		return "the creator cannot be removed"
	default:
		return "temporary failure, try again"
	}
}
