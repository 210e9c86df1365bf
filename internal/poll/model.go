// Package poll holds the recurring poll model and its lifecycle rules.
//
// Schedule matching is exact: weekday codes and the HH:MM clock are
// canonicalized once, at the data-model boundary, and both the writer and the
// tick matcher go through the same routines. Single-digit hours or minutes
// never reach storage un-padded.
package poll

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	MinOptions = 2
	MaxOptions = 10
)

var ErrNotFound = errors.New("poll not found")

// ValidationError reports a malformed poll definition. Nothing is persisted
// when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Weekday is a canonical three-letter weekday code ("Mon".."Sun").
type Weekday string

const (
	Mon Weekday = "Mon"
	Tue Weekday = "Tue"
	Wed Weekday = "Wed"
	Thu Weekday = "Thu"
	Fri Weekday = "Fri"
	Sat Weekday = "Sat"
	Sun Weekday = "Sun"
)

// weekOrder fixes the canonical ordering of a WeekdaySet.
var weekOrder = [...]Weekday{Mon, Tue, Wed, Thu, Fri, Sat, Sun}

var weekdayAliases = map[string]Weekday{
	"mon": Mon, "monday": Mon,
	"tue": Tue, "tues": Tue, "tuesday": Tue,
	"wed": Wed, "wednesday": Wed,
	"thu": Thu, "thur": Thu, "thurs": Thu, "thursday": Thu,
	"fri": Fri, "friday": Fri,
	"sat": Sat, "saturday": Sat,
	"sun": Sun, "sunday": Sun,
}

// WeekdayOf maps a time.Weekday to its canonical code.
func WeekdayOf(d time.Weekday) Weekday {
	switch d {
	case time.Monday:
		return Mon
	case time.Tuesday:
		return Tue
	case time.Wednesday:
		return Wed
	case time.Thursday:
		return Thu
	case time.Friday:
		return Fri
	case time.Saturday:
		return Sat
	default:
		return Sun
	}
}

// WeekdaySet is a normalized set of weekday codes: unique, ordered Mon..Sun.
type WeekdaySet []Weekday

// ParseWeekdays parses a comma-separated day list ("mon,wed" or
// "Monday,Wednesday", case-insensitive). Duplicates are collapsed and the
// result is ordered Mon..Sun.
func ParseWeekdays(raw string) (WeekdaySet, error) {
	seen := map[Weekday]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		d, ok := weekdayAliases[part]
		if !ok {
			return nil, &ValidationError{Field: "days", Reason: fmt.Sprintf("unknown weekday %q", part)}
		}
		seen[d] = true
	}
	if len(seen) == 0 {
		return nil, &ValidationError{Field: "days", Reason: "at least one weekday is required"}
	}
	out := make(WeekdaySet, 0, len(seen))
	for _, d := range weekOrder {
		if seen[d] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (ws WeekdaySet) Contains(d Weekday) bool {
	for _, w := range ws {
		if w == d {
			return true
		}
	}
	return false
}

func (ws WeekdaySet) String() string {
	parts := make([]string, len(ws))
	for i, d := range ws {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

// Clock is a wall-clock time of day with minute granularity.
//
// Its String() form is the single canonical representation ("09:05") used
// both in storage and by the tick matcher.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock accepts "HH:MM" with or without zero padding ("9:5" is fine on
// input) and canonicalizes. Out-of-range values are rejected.
func ParseClock(raw string) (Clock, error) {
	s := strings.TrimSpace(raw)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return Clock{}, &ValidationError{Field: "time", Reason: fmt.Sprintf("%q is not HH:MM", raw)}
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return Clock{}, &ValidationError{Field: "time", Reason: fmt.Sprintf("invalid hour in %q", raw)}
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return Clock{}, &ValidationError{Field: "time", Reason: fmt.Sprintf("invalid minute in %q", raw)}
	}
	return Clock{Hour: h, Minute: m}, nil
}

// ClockOf truncates an instant to its minute-of-day in that instant's location.
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Clock) valid() bool {
	return c.Hour >= 0 && c.Hour <= 23 && c.Minute >= 0 && c.Minute <= 59
}

// Poll is one recurring poll definition.
//
// The scheduler is a read-only consumer: only the lifecycle service mutates
// these records, and only through the Store.
type Poll struct {
	ID          string
	Destination int64
	Question    string
	Options     []string
	Days        WeekdaySet
	At          Clock
	Active      bool
	Anonymous   bool
	CreatedBy   int64
	CreatedAt   time.Time
}

// Validate checks the data-model invariants. It is called before every write;
// match time never sees a malformed record.
func (p Poll) Validate() error {
	if strings.TrimSpace(p.Question) == "" {
		return &ValidationError{Field: "question", Reason: "must not be empty"}
	}
	if len(p.Options) < MinOptions {
		return &ValidationError{Field: "options", Reason: fmt.Sprintf("need at least %d options", MinOptions)}
	}
	if len(p.Options) > MaxOptions {
		return &ValidationError{Field: "options", Reason: fmt.Sprintf("at most %d options allowed", MaxOptions)}
	}
	for _, o := range p.Options {
		if strings.TrimSpace(o) == "" {
			return &ValidationError{Field: "options", Reason: "options must not be empty"}
		}
	}
	if len(p.Days) == 0 {
		return &ValidationError{Field: "days", Reason: "at least one weekday is required"}
	}
	if !p.At.valid() {
		return &ValidationError{Field: "time", Reason: fmt.Sprintf("%02d:%02d is out of range", p.At.Hour, p.At.Minute)}
	}
	return nil
}

// Store is the persistence contract for poll records.
//
// List results are ordered by CreatedAt descending. DuePolls is an exact
// equality query over (active, day, canonical clock).
type Store interface {
	CreatePoll(ctx context.Context, p Poll) error
	GetPoll(ctx context.Context, id string) (Poll, error)
	UpdatePollSchedule(ctx context.Context, id string, days WeekdaySet, at Clock) (Poll, error)
	SetPollActive(ctx context.Context, id string, active bool) error
	DeletePoll(ctx context.Context, id string) error
	PollsByOwner(ctx context.Context, ownerID int64) ([]Poll, error)
	PollsByDestination(ctx context.Context, chatID int64) ([]Poll, error)
	DuePolls(ctx context.Context, day Weekday, at Clock) ([]Poll, error)
}
