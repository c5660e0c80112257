package castellan

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// GenesisHash seeds the audit chain before the first record.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditSink receives a copy of every appended record. store/sqlite and
// store/postgres implement it for queryable audit storage; the JSONL file
// remains the integrity-bearing primary.
type AuditSink interface {
	Append(ctx context.Context, record []byte) error
}

// AuditLog is an append-only, hash-chained JSON-lines log. Each record
// carries prev_hash (the previous record's integrity hash, genesis = 64
// zero digits) and integrity_hash = sha256 of the record itself with the
// integrity field empty, serialized with sorted keys. Rewriting any line
// breaks every hash after it.
//
// A disk error switches the log into degraded mode: appends are logged
// and dropped rather than crashing the run.
type AuditLog struct {
	path     string
	mu       sync.Mutex
	prevHash string
	logger   *slog.Logger
	sink     AuditSink
	degraded bool
}

// AuditOption configures an AuditLog.
type AuditOption func(*AuditLog)

// WithAuditLogger sets the structured logger for append failures.
func WithAuditLogger(l *slog.Logger) AuditOption {
	return func(a *AuditLog) { a.logger = l }
}

// WithAuditSink adds a secondary sink that receives every record.
func WithAuditSink(s AuditSink) AuditOption {
	return func(a *AuditLog) { a.sink = s }
}

// NewAuditLog opens (or creates) the JSONL file at path and recovers the
// chain head from its last record.
func NewAuditLog(path string, opts ...AuditOption) (*AuditLog, error) {
	a := &AuditLog{path: path, prevHash: GenesisHash, logger: nopLogger}
	for _, o := range opts {
		o(a)
	}
	head, err := lastIntegrityHash(path)
	if err != nil {
		return nil, fmt.Errorf("audit: recover chain head: %w", err)
	}
	if head != "" {
		a.prevHash = head
	}
	return a, nil
}

// Append writes one chained record. The error return is advisory: a
// persistence failure degrades the log but never fails the caller's run.
func (a *AuditLog) Append(ctx context.Context, event string, details map[string]any, decision, risk string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if details == nil {
		details = map[string]any{}
	}
	record := map[string]any{
		"ts":             NowUnix(),
		"event":          event,
		"details":        details,
		"decision":       decision,
		"risk":           risk,
		"prev_hash":      a.prevHash,
		"integrity_hash": "",
	}
	canonical, err := Canonicalize(record)
	if err != nil {
		a.logger.Error("audit: serialize record", "event", event, "error", err.Error())
		return err
	}
	integrity := HashHex(canonical)
	record["integrity_hash"] = integrity

	line, err := Canonicalize(record)
	if err != nil {
		a.logger.Error("audit: serialize record", "event", event, "error", err.Error())
		return err
	}

	if err := a.writeLine(line); err != nil {
		a.degraded = true
		a.logger.Error("audit: append failed, entering degraded mode", "event", event, "error", err.Error())
		return err
	}
	a.prevHash = integrity

	if a.sink != nil {
		if err := a.sink.Append(ctx, []byte(line)); err != nil {
			a.logger.Warn("audit: secondary sink append failed", "error", err.Error())
		}
	}
	return nil
}

// Degraded reports whether a prior append hit a persistence failure.
func (a *AuditLog) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

func (a *AuditLog) writeLine(line string) error {
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return err
	}
	return f.Sync()
}

// VerifyAuditLog re-walks the chain at path and returns an error naming
// the first line whose prev_hash or integrity_hash does not check out.
func VerifyAuditLog(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	prev := GenesisHash
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return fmt.Errorf("audit line %d: %w", lineNo, err)
		}
		gotPrev, _ := record["prev_hash"].(string)
		if gotPrev != prev {
			return fmt.Errorf("audit line %d: chain break: prev_hash %s, want %s", lineNo, gotPrev, prev)
		}
		claimed, _ := record["integrity_hash"].(string)
		record["integrity_hash"] = ""
		canonical, err := Canonicalize(record)
		if err != nil {
			return fmt.Errorf("audit line %d: %w", lineNo, err)
		}
		if HashHex(canonical) != claimed {
			return fmt.Errorf("audit line %d: integrity hash mismatch", lineNo)
		}
		prev = claimed
	}
	return scanner.Err()
}

// lastIntegrityHash returns the integrity hash of the final record in an
// existing log, or "" when the file is missing or empty.
func lastIntegrityHash(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if text := strings.TrimSpace(scanner.Text()); text != "" {
			last = text
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if last == "" {
		return "", nil
	}
	var record struct {
		IntegrityHash string `json:"integrity_hash"`
	}
	if err := json.Unmarshal([]byte(last), &record); err != nil {
		return "", err
	}
	return record.IntegrityHash, nil
}
