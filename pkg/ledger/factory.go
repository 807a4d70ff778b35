package ledger

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend names accepted by New.
const (
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeRedis    = "redis"
	TypeHTTP     = "http"
)

// Options selects and configures a ledger backend.
type Options struct {
	Type          string
	DSN           string
	URL           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New creates the configured ledger. An empty type selects the memory ledger.
func New(ctx context.Context, opts Options) (Ledger, error) {
	logger := slog.Default().With("component", "ledger")

	switch opts.Type {
	case "", TypeMemory:
		logger.InfoContext(ctx, "using memory ledger")
		return NewMemory(), nil
	case TypeSQLite:
		dsn := opts.DSN
		if dsn == "" {
			dsn = "file:verichat-ledger.db"
		}
		logger.InfoContext(ctx, "using sqlite ledger")
		return OpenSQL(ctx, DialectSQLite, dsn)
	case TypePostgres:
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres ledger requires LEDGER_DSN")
		}
		logger.InfoContext(ctx, "using postgres ledger")
		return OpenSQL(ctx, DialectPostgres, opts.DSN)
	case TypeRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis ledger requires REDIS_ADDR")
		}
		r := NewRedisLedger(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
		logger.InfoContext(ctx, "using redis ledger", "addr", opts.RedisAddr)
		return r, nil
	case TypeHTTP:
		if opts.URL == "" {
			return nil, fmt.Errorf("http ledger requires LEDGER_URL")
		}
		logger.InfoContext(ctx, "using http ledger", "url", opts.URL)
		return NewHTTPLedger(opts.URL), nil
	default:
		return nil, fmt.Errorf("unknown ledger type %q", opts.Type)
	}
}
