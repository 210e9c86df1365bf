package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"pollbot/internal/operator"
	"pollbot/internal/poll"
)

// Memory is an in-process Store for tests and local development.
type Memory struct {
	mu        sync.RWMutex
	operators map[int64]operator.Operator
	polls     map[string]poll.Poll
}

func NewMemory() *Memory {
	return &Memory{
		operators: make(map[int64]operator.Operator),
		polls:     make(map[string]poll.Poll),
	}
}

func (m *Memory) Close() error { return nil }

// ---- operators ----

func (m *Memory) UpsertCreator(_ context.Context, id int64, name string) (operator.Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.operators {
		if op.Role == operator.RoleCreator {
			return op, nil
		}
	}
	op := operator.Operator{
		ID:          id,
		DisplayName: name,
		Role:        operator.RoleCreator,
		GrantedAt:   time.Now().UTC(),
	}
	m.operators[id] = op
	return op, nil
}

func (m *Memory) AddAdmin(_ context.Context, id int64, name string) (operator.Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.operators[id]; ok {
		return op, nil
	}
	op := operator.Operator{
		ID:          id,
		DisplayName: name,
		Role:        operator.RoleAdmin,
		GrantedAt:   time.Now().UTC(),
	}
	m.operators[id] = op
	return op, nil
}

func (m *Memory) RemoveAdmin(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.operators[id]
	if !ok {
		return operator.ErrNotFound
	}
	if op.Role == operator.RoleCreator {
		return operator.ErrCreatorImmutable
	}
	delete(m.operators, id)
	return nil
}

func (m *Memory) GetOperator(_ context.Context, id int64) (operator.Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.operators[id]
	if !ok {
		return operator.Operator{}, operator.ErrNotFound
	}
	return op, nil
}

func (m *Memory) ListOperators(_ context.Context) ([]operator.Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]operator.Operator, 0, len(m.operators))
	for _, op := range m.operators {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Role == operator.RoleCreator) != (out[j].Role == operator.RoleCreator) {
			return out[i].Role == operator.RoleCreator
		}
		return out[i].GrantedAt.Before(out[j].GrantedAt)
	})
	return out, nil
}

// ---- polls ----

func (m *Memory) CreatePoll(_ context.Context, p poll.Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls[p.ID] = clonePoll(p)
	return nil
}

func (m *Memory) GetPoll(_ context.Context, id string) (poll.Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.polls[id]
	if !ok {
		return poll.Poll{}, poll.ErrNotFound
	}
	return clonePoll(p), nil
}

func (m *Memory) UpdatePollSchedule(_ context.Context, id string, days poll.WeekdaySet, at poll.Clock) (poll.Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.polls[id]
	if !ok {
		return poll.Poll{}, poll.ErrNotFound
	}
	p.Days = append(poll.WeekdaySet(nil), days...)
	p.At = at
	m.polls[id] = p
	return clonePoll(p), nil
}

func (m *Memory) SetPollActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.polls[id]
	if !ok {
		return poll.ErrNotFound
	}
	p.Active = active
	m.polls[id] = p
	return nil
}

func (m *Memory) DeletePoll(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.polls[id]; !ok {
		return poll.ErrNotFound
	}
	delete(m.polls, id)
	return nil
}

func (m *Memory) PollsByOwner(_ context.Context, ownerID int64) ([]poll.Poll, error) {
	return m.filter(func(p poll.Poll) bool { return p.CreatedBy == ownerID }), nil
}

func (m *Memory) PollsByDestination(_ context.Context, chatID int64) ([]poll.Poll, error) {
	return m.filter(func(p poll.Poll) bool { return p.Destination == chatID }), nil
}

func (m *Memory) DuePolls(_ context.Context, day poll.Weekday, at poll.Clock) ([]poll.Poll, error) {
	return m.filter(func(p poll.Poll) bool {
		return p.Active && p.At == at && p.Days.Contains(day)
	}), nil
}

func (m *Memory) filter(keep func(poll.Poll) bool) []poll.Poll {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []poll.Poll
	for _, p := range m.polls {
		if keep(p) {
			out = append(out, clonePoll(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func clonePoll(p poll.Poll) poll.Poll {
	p.Options = append([]string(nil), p.Options...)
	p.Days = append(poll.WeekdaySet(nil), p.Days...)
	return p
}
