// Package sqlite provides durable backends for the runtime's idempotency
// cache, single-use token set, and audit sink using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/castellan-ai/castellan"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store backs the ResultCache, UsedTokenStore, and AuditSink contracts
// with a local SQLite file.
type Store struct {
	db     *sql.DB
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

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS tool_results (
			key TEXT PRIMARY KEY,
			outcome TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS used_tokens (
			token TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_records (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			record TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	s.logger.Debug("sqlite: init done", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- ResultCache ---

// Get returns the cached outcome for key, or nil if missing or expired.
// Expired rows are deleted on read.
func (s *Store) Get(ctx context.Context, key string) (*castellan.ToolOutcome, error) {
	var raw string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT outcome, expires_at FROM tool_results WHERE key = ?", key).
		Scan(&raw, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	if expiresAt < castellan.NowUnix() {
		_, _ = s.db.ExecContext(ctx, "DELETE FROM tool_results WHERE key = ?", key)
		return nil, nil
	}
	var outcome castellan.ToolOutcome
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	s.logger.Debug("sqlite: result cache hit", "key", key)
	return &outcome, nil
}

// Set stores an outcome under key for ttl, replacing any prior entry.
func (s *Store) Set(ctx context.Context, key string, outcome castellan.ToolOutcome, ttl time.Duration) error {
	raw, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	expiresAt := castellan.NowUnix() + int64(ttl/time.Second)
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO tool_results (key, outcome, expires_at) VALUES (?, ?, ?)",
		key, string(raw), expiresAt)
	if err != nil {
		return fmt.Errorf("set result: %w", err)
	}
	return nil
}

// --- UsedTokenStore ---

// MarkUsed inserts the token into the single-use set. INSERT OR IGNORE
// makes the set-if-absent atomic; zero rows affected means replay.
// Expired rows are pruned opportunistically on each insert.
func (s *Store) MarkUsed(ctx context.Context, token string, expiresAt int64) (bool, error) {
	_, _ = s.db.ExecContext(ctx, "DELETE FROM used_tokens WHERE expires_at < ?", castellan.NowUnix())

	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO used_tokens (token, expires_at) VALUES (?, ?)",
		token, expiresAt)
	if err != nil {
		return false, fmt.Errorf("mark token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark token: %w", err)
	}
	return n == 1, nil
}

// --- AuditSink ---

// Append stores one serialized audit record.
func (s *Store) Append(ctx context.Context, record []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_records (record, created_at) VALUES (?, ?)",
		string(record), castellan.NowUnix())
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// AuditRecords returns the stored audit records in insertion order,
// newest-limited to limit (0 = all). Used by operators to inspect the
// secondary sink.
func (s *Store) AuditRecords(ctx context.Context, limit int) ([]string, error) {
	q := "SELECT record FROM audit_records ORDER BY seq"
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, q+" LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q)
	}
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
