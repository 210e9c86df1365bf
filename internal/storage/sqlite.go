package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pollbot/internal/operator"
	"pollbot/internal/poll"
	logx "pollbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./pollbot.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- operators ----

func (s *sqliteStore) UpsertCreator(ctx context.Context, id int64, name string) (operator.Operator, error) {
	// A bootstrapped creator wins; reconfiguring the creator id does not
	// produce a second one.
	cur, err := s.getCreator(ctx)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, operator.ErrNotFound) {
		return operator.Operator{}, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO operators(id, display_name, role, granted_at) VALUES(?,?,'creator',?)
		 ON CONFLICT(id) DO UPDATE SET role='creator'`,
		id, nullStr(name), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return operator.Operator{}, err
	}
	return s.GetOperator(ctx, id)
}

func (s *sqliteStore) getCreator(ctx context.Context) (operator.Operator, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, role, granted_at FROM operators WHERE role = 'creator' LIMIT 1`)
	return scanOperator(row)
}

func (s *sqliteStore) AddAdmin(ctx context.Context, id int64, name string) (operator.Operator, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operators(id, display_name, role, granted_at) VALUES(?,?,'admin',?)
		 ON CONFLICT(id) DO NOTHING`,
		id, nullStr(name), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return operator.Operator{}, err
	}
	return s.GetOperator(ctx, id)
}

func (s *sqliteStore) RemoveAdmin(ctx context.Context, id int64) error {
	op, err := s.GetOperator(ctx, id)
	if err != nil {
		return err
	}
	if op.Role == operator.RoleCreator {
		return operator.ErrCreatorImmutable
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM operators WHERE id = ? AND role = 'admin'`, id)
	return err
}

func (s *sqliteStore) GetOperator(ctx context.Context, id int64) (operator.Operator, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, role, granted_at FROM operators WHERE id = ?`, id)
	return scanOperator(row)
}

func (s *sqliteStore) ListOperators(ctx context.Context) ([]operator.Operator, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, role, granted_at FROM operators
		 ORDER BY role = 'creator' DESC, granted_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []operator.Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperator(row rowScanner) (operator.Operator, error) {
	var (
		op   operator.Operator
		name sql.NullString
		at   string
	)
	err := row.Scan(&op.ID, &name, (*string)(&op.Role), &at)
	if errors.Is(err, sql.ErrNoRows) {
		return operator.Operator{}, operator.ErrNotFound
	}
	if err != nil {
		return operator.Operator{}, err
	}
	op.DisplayName = name.String
	op.GrantedAt, _ = time.Parse(time.RFC3339Nano, at)
	return op, nil
}

// ---- polls ----

const pollColumns = `id, destination, question, options, days, at, active, anonymous, created_by, created_at`

func (s *sqliteStore) CreatePoll(ctx context.Context, p poll.Poll) error {
	opts, err := encodeOptions(p.Options)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO polls(`+pollColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Destination, p.Question, opts, encodeDays(p.Days), p.At.String(),
		boolInt(p.Active), boolInt(p.Anonymous), p.CreatedBy, p.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetPoll(ctx context.Context, id string) (poll.Poll, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = ?`, id)
	return scanPoll(row)
}

func (s *sqliteStore) UpdatePollSchedule(ctx context.Context, id string, days poll.WeekdaySet, at poll.Clock) (poll.Poll, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE polls SET days = ?, at = ? WHERE id = ?`,
		encodeDays(days), at.String(), id,
	)
	if err != nil {
		return poll.Poll{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return poll.Poll{}, poll.ErrNotFound
	}
	return s.GetPoll(ctx, id)
}

func (s *sqliteStore) SetPollActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE polls SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return poll.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeletePoll(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM polls WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return poll.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) PollsByOwner(ctx context.Context, ownerID int64) ([]poll.Poll, error) {
	return s.queryPolls(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE created_by = ? ORDER BY created_at DESC`, ownerID)
}

func (s *sqliteStore) PollsByDestination(ctx context.Context, chatID int64) ([]poll.Poll, error) {
	return s.queryPolls(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE destination = ? ORDER BY created_at DESC`, chatID)
}

func (s *sqliteStore) DuePolls(ctx context.Context, day poll.Weekday, at poll.Clock) ([]poll.Poll, error) {
	return s.queryPolls(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE active = 1 AND at = ? AND instr(days, ?) > 0`,
		at.String(), dayToken(day))
}

func (s *sqliteStore) queryPolls(ctx context.Context, query string, args ...any) ([]poll.Poll, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []poll.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPoll(row rowScanner) (poll.Poll, error) {
	var (
		p         poll.Poll
		opts      string
		days      string
		at        string
		active    int
		anonymous int
		created   string
	)
	err := row.Scan(&p.ID, &p.Destination, &p.Question, &opts, &days, &at, &active, &anonymous, &p.CreatedBy, &created)
	if errors.Is(err, sql.ErrNoRows) {
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
	p.Active = active != 0
	p.Anonymous = anonymous != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return p, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
