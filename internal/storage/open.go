package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"pollbot/internal/operator"
	"pollbot/internal/poll"
	logx "pollbot/pkg/logx"
)

// Config configures storage.
//
// Driver values: "sqlite" (default when empty), "postgres", "memory".
type Config struct {
	Driver      string
	Path        string        // sqlite file path
	DSN         string        // postgres connection string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the services.
type Store interface {
	operator.Store
	poll.Store
	Close() error
}

// Open initializes the configured store. The connection must be usable before
// the bot starts; callers treat an error here as fatal.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "pgx":
		return openPostgres(ctx, cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
