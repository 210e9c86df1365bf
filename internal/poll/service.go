package poll

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pollbot/internal/access"
	logx "pollbot/pkg/logx"
)

// Authorizer gates poll management. Implemented by access.Service.
type Authorizer interface {
	Privileged(ctx context.Context, id int64) bool
}

// Service applies lifecycle operations against the store, enforcing
// authorization and the data-model invariants. Validation happens before any
// write; there are no partial writes.
//
// Ownership policy: any admin or the creator may manage any poll, not just
// the one who created it.
type Service struct {
	store Store
	auth  Authorizer
	log   logx.Logger
	now   func() time.Time
}

func NewService(store Store, auth Authorizer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, auth: auth, log: log, now: time.Now}
}

type CreateArgs struct {
	Destination int64
	Question    string
	Options     []string
	Days        WeekdaySet
	At          Clock
	Anonymous   bool
}

func (s *Service) Create(ctx context.Context, actorID int64, args CreateArgs) (Poll, error) {
	if !s.auth.Privileged(ctx, actorID) {
		return Poll{}, access.ErrUnauthorized
	}

	p := Poll{
		ID:          uuid.NewString(),
		Destination: args.Destination,
		Question:    args.Question,
		Options:     append([]string(nil), args.Options...),
		Days:        append(WeekdaySet(nil), args.Days...),
		At:          args.At,
		Active:      true,
		Anonymous:   args.Anonymous,
		CreatedBy:   actorID,
		CreatedAt:   s.now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return Poll{}, err
	}
	if err := s.store.CreatePoll(ctx, p); err != nil {
		return Poll{}, err
	}
	s.log.Info("poll created",
		logx.String("poll_id", p.ID),
		logx.Int64("destination", p.Destination),
		logx.String("days", p.Days.String()),
		logx.String("at", p.At.String()),
	)
	return p, nil
}

// UpdateSchedule replaces the poll's days and time atomically. The active
// flag is untouched.
func (s *Service) UpdateSchedule(ctx context.Context, actorID int64, id string, days WeekdaySet, at Clock) (Poll, error) {
	if !s.auth.Privileged(ctx, actorID) {
		return Poll{}, access.ErrUnauthorized
	}
	if len(days) == 0 {
		return Poll{}, &ValidationError{Field: "days", Reason: "at least one weekday is required"}
	}
	if !at.valid() {
		return Poll{}, &ValidationError{Field: "time", Reason: "time of day is out of range"}
	}
	p, err := s.store.UpdatePollSchedule(ctx, id, days, at)
	if err != nil {
		return Poll{}, err
	}
	s.log.Info("poll schedule updated",
		logx.String("poll_id", id),
		logx.String("days", days.String()),
		logx.String("at", at.String()),
	)
	return p, nil
}

// Deactivate retains the poll but removes it from future tick matches.
func (s *Service) Deactivate(ctx context.Context, actorID int64, id string) error {
	return s.setActive(ctx, actorID, id, false)
}

// Resume re-enables a deactivated poll.
func (s *Service) Resume(ctx context.Context, actorID int64, id string) error {
	return s.setActive(ctx, actorID, id, true)
}

func (s *Service) setActive(ctx context.Context, actorID int64, id string, active bool) error {
	if !s.auth.Privileged(ctx, actorID) {
		return access.ErrUnauthorized
	}
	if err := s.store.SetPollActive(ctx, id, active); err != nil {
		return err
	}
	s.log.Info("poll active flag set", logx.String("poll_id", id), logx.Bool("active", active))
	return nil
}

func (s *Service) Delete(ctx context.Context, actorID int64, id string) error {
	if !s.auth.Privileged(ctx, actorID) {
		return access.ErrUnauthorized
	}
	if err := s.store.DeletePoll(ctx, id); err != nil {
		return err
	}
	s.log.Info("poll deleted", logx.String("poll_id", id))
	return nil
}

// ListByOwner returns the actor's own polls, newest first.
func (s *Service) ListByOwner(ctx context.Context, actorID int64) ([]Poll, error) {
	if !s.auth.Privileged(ctx, actorID) {
		return nil, access.ErrUnauthorized
	}
	return s.store.PollsByOwner(ctx, actorID)
}

// ListByDestination returns all polls targeting a chat, newest first.
func (s *Service) ListByDestination(ctx context.Context, actorID int64, chatID int64) ([]Poll, error) {
	if !s.auth.Privileged(ctx, actorID) {
		return nil, access.ErrUnauthorized
	}
	return s.store.PollsByDestination(ctx, chatID)
}
