package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pollbot/internal/operator"
	"pollbot/internal/poll"
	logx "pollbot/pkg/logx"
)

// PgxConn is satisfied by *pgx.Conn and *pgxpool.Pool.
type PgxConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS operators (
    id           BIGINT PRIMARY KEY,
    display_name TEXT,
    role         TEXT NOT NULL CHECK (role IN ('creator', 'admin')),
    granted_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS polls (
    id          TEXT PRIMARY KEY,
    destination BIGINT NOT NULL,
    question    TEXT NOT NULL,
    options     TEXT NOT NULL,
    days        TEXT NOT NULL,
    at          TEXT NOT NULL,
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    anonymous   BOOLEAN NOT NULL DEFAULT TRUE,
    created_by  BIGINT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS polls_due_idx ON polls(active, at);
CREATE INDEX IF NOT EXISTS polls_owner_idx ON polls(created_by, created_at);
CREATE INDEX IF NOT EXISTS polls_destination_idx ON polls(destination, created_at);
`

var pgSleep = time.Sleep

type postgresStore struct {
	conn PgxConn
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres driver requires a dsn")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	st, err := newPostgres(ctx, pool, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	st.pool = pool
	return st, nil
}

// newPostgres prepares the schema on any PgxConn. Startup races between
// instances make the first CREATE attempts flaky, so retry with backoff.
func newPostgres(ctx context.Context, conn PgxConn, log logx.Logger) (*postgresStore, error) {
	var err error
	for n := 0; n < 3; n++ {
		_, err = conn.Exec(ctx, pgSchema)
		if err == nil {
			break
		}
		pgSleep(time.Duration(math.Pow(2, float64(n))) * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("could not create schema: %w", err)
	}
	return &postgresStore{conn: conn, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// ---- operators ----

func (s *postgresStore) UpsertCreator(ctx context.Context, id int64, name string) (operator.Operator, error) {
	cur, err := s.getCreator(ctx)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, operator.ErrNotFound) {
		return operator.Operator{}, err
	}

	_, err = s.conn.Exec(ctx,
		`INSERT INTO operators(id, display_name, role, granted_at) VALUES($1,$2,'creator',$3)
		 ON CONFLICT(id) DO UPDATE SET role='creator'`,
		id, nullStr(name), time.Now().UTC(),
	)
	if err != nil {
		return operator.Operator{}, err
	}
	return s.GetOperator(ctx, id)
}

func (s *postgresStore) getCreator(ctx context.Context) (operator.Operator, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT id, display_name, role, granted_at FROM operators WHERE role = 'creator' LIMIT 1`)
	return scanPgOperator(row)
}

func (s *postgresStore) AddAdmin(ctx context.Context, id int64, name string) (operator.Operator, error) {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO operators(id, display_name, role, granted_at) VALUES($1,$2,'admin',$3)
		 ON CONFLICT(id) DO NOTHING`,
		id, nullStr(name), time.Now().UTC(),
	)
	if err != nil {
		return operator.Operator{}, err
	}
	return s.GetOperator(ctx, id)
}

func (s *postgresStore) RemoveAdmin(ctx context.Context, id int64) error {
	op, err := s.GetOperator(ctx, id)
	if err != nil {
		return err
	}
	if op.Role == operator.RoleCreator {
		return operator.ErrCreatorImmutable
	}
	_, err = s.conn.Exec(ctx, `DELETE FROM operators WHERE id = $1 AND role = 'admin'`, id)
	return err
}

func (s *postgresStore) GetOperator(ctx context.Context, id int64) (operator.Operator, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT id, display_name, role, granted_at FROM operators WHERE id = $1`, id)
	return scanPgOperator(row)
}

func (s *postgresStore) ListOperators(ctx context.Context) ([]operator.Operator, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT id, display_name, role, granted_at FROM operators
		 ORDER BY role = 'creator' DESC, granted_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []operator.Operator
	for rows.Next() {
		op, err := scanPgOperator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func scanPgOperator(row pgx.Row) (operator.Operator, error) {
	var (
		op   operator.Operator
		name *string
	)
	err := row.Scan(&op.ID, &name, (*string)(&op.Role), &op.GrantedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return operator.Operator{}, operator.ErrNotFound
	}
	if err != nil {
		return operator.Operator{}, err
	}
	if name != nil {
		op.DisplayName = *name
	}
	return op, nil
}

// ---- polls ----

func (s *postgresStore) CreatePoll(ctx context.Context, p poll.Poll) error {
	opts, err := encodeOptions(p.Options)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx,
		`INSERT INTO polls(`+pollColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.Destination, p.Question, opts, encodeDays(p.Days), p.At.String(),
		p.Active, p.Anonymous, p.CreatedBy, p.CreatedAt,
	)
	return err
}

func (s *postgresStore) GetPoll(ctx context.Context, id string) (poll.Poll, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id)
	return scanPgPoll(row)
}

func (s *postgresStore) UpdatePollSchedule(ctx context.Context, id string, days poll.WeekdaySet, at poll.Clock) (poll.Poll, error) {
	tag, err := s.conn.Exec(ctx,
		`UPDATE polls SET days = $1, at = $2 WHERE id = $3`,
		encodeDays(days), at.String(), id,
	)
	if err != nil {
		return poll.Poll{}, err
	}
	if tag.RowsAffected() == 0 {
		return poll.Poll{}, poll.ErrNotFound
	}
	return s.GetPoll(ctx, id)
}

func (s *postgresStore) SetPollActive(ctx context.Context, id string, active bool) error {
	tag, err := s.conn.Exec(ctx, `UPDATE polls SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return poll.ErrNotFound
	}
	return nil
}

func (s *postgresStore) DeletePoll(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM polls WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return poll.ErrNotFound
	}
	return nil
}

func (s *postgresStore) PollsByOwner(ctx context.Context, ownerID int64) ([]poll.Poll, error) {
	return s.queryPolls(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE created_by = $1 ORDER BY created_at DESC`, ownerID)
}

func (s *postgresStore) PollsByDestination(ctx context.Context, chatID int64) ([]poll.Poll, error) {
	return s.queryPolls(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE destination = $1 ORDER BY created_at DESC`, chatID)
}

func (s *postgresStore) DuePolls(ctx context.Context, day poll.Weekday, at poll.Clock) ([]poll.Poll, error) {
	return s.queryPolls(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE active AND at = $1 AND strpos(days, $2) > 0`,
		at.String(), dayToken(day))
}

func (s *postgresStore) queryPolls(ctx context.Context, query string, args ...any) ([]poll.Poll, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []poll.Poll
	for rows.Next() {
		p, err := scanPgPoll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPgPoll(row pgx.Row) (poll.Poll, error) {
	var (
		p    poll.Poll
		opts string
		days string
		at   string
	)
	err := row.Scan(&p.ID, &p.Destination, &p.Question, &opts, &days, &at,
		&p.Active, &p.Anonymous, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return poll.Poll{}, poll.ErrNotFound
	}
	if err != nil {
		return poll.Poll{}, err
	}
	if p.Options, err = decodeOptions(opts); err != nil {
		return poll.Poll{}, err
	}
	p.Days = decodeDays(days)
	if p.At, err = poll.ParseClock(at); err != nil {
		return poll.Poll{}, err
	}
	return p, nil
}
