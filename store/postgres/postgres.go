// Package postgres provides durable backends for the runtime's
// idempotency cache, single-use token set, and audit sink using
// PostgreSQL. The single-use set relies on ON CONFLICT DO NOTHING for
// its atomic set-if-absent, which holds across processes, so this is
// the backend for multi-replica deployments.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan-ai/castellan"
)

// StoreOption configures a PostgreSQL Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store backs the ResultCache, UsedTokenStore, and AuditSink contracts
// with PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ castellan.ResultCache = (*Store)(nil)
var _ castellan.UsedTokenStore = (*Store)(nil)
var _ castellan.AuditSink = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...StoreOption) *Store {
	s := &Store{pool: pool, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates all required tables. Safe to call multiple times
// (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tool_results (
			key TEXT PRIMARY KEY,
			outcome JSONB NOT NULL,
			expires_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS used_tokens (
			token TEXT PRIMARY KEY,
			expires_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_records (
			seq BIGSERIAL PRIMARY KEY,
			record TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_results_expires ON tool_results (expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_used_tokens_expires ON used_tokens (expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}
	return nil
}

// --- ResultCache ---

// Get returns the cached outcome for key, or nil if missing or expired.
func (s *Store) Get(ctx context.Context, key string) (*castellan.ToolOutcome, error) {
	var raw []byte
	var expiresAt int64
	err := s.pool.QueryRow(ctx,
		"SELECT outcome, expires_at FROM tool_results WHERE key = $1", key).
		Scan(&raw, &expiresAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	if expiresAt < castellan.NowUnix() {
		_, _ = s.pool.Exec(ctx, "DELETE FROM tool_results WHERE key = $1", key)
		return nil, nil
	}
	var outcome castellan.ToolOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	s.logger.Debug("postgres: result cache hit", "key", key)
	return &outcome, nil
}

// Set stores an outcome under key for ttl, replacing any prior entry.
func (s *Store) Set(ctx context.Context, key string, outcome castellan.ToolOutcome, ttl time.Duration) error {
	raw, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	expiresAt := castellan.NowUnix() + int64(ttl/time.Second)
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tool_results (key, outcome, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET outcome = EXCLUDED.outcome, expires_at = EXCLUDED.expires_at`,
		key, raw, expiresAt)
	if err != nil {
		return fmt.Errorf("set result: %w", err)
	}
	return nil
}

// --- UsedTokenStore ---

// MarkUsed inserts the token into the single-use set. ON CONFLICT DO
// NOTHING makes the set-if-absent atomic across processes; zero rows
// affected means replay. Expired rows are pruned opportunistically.
func (s *Store) MarkUsed(ctx context.Context, token string, expiresAt int64) (bool, error) {
	_, _ = s.pool.Exec(ctx, "DELETE FROM used_tokens WHERE expires_at < $1", castellan.NowUnix())

	tag, err := s.pool.Exec(ctx,
		"INSERT INTO used_tokens (token, expires_at) VALUES ($1, $2) ON CONFLICT (token) DO NOTHING",
		token, expiresAt)
	if err != nil {
		return false, fmt.Errorf("mark token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// --- AuditSink ---

// Append stores one serialized audit record.
func (s *Store) Append(ctx context.Context, record []byte) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO audit_records (record, created_at) VALUES ($1, $2)",
		string(record), castellan.NowUnix())
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// AuditRecords returns the stored audit records in insertion order,
// limited to limit (0 = all).
func (s *Store) AuditRecords(ctx context.Context, limit int) ([]string, error) {
	q := "SELECT record FROM audit_records ORDER BY seq"
	args := []any{}
	if limit > 0 {
		q += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit records: %w", err)
	}
	defer rows.Close()

	var records []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("audit records: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
