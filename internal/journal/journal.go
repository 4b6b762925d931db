// Package journal keeps a SQLite record of every round the AI answered and
// every failure it caused, for tuning prompts and spotting flaky providers.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tatianab/story-loop/internal/provider"
)

// Failure kinds.
const (
	KindParse    = "parse"
	KindProvider = "provider"
)

// RoundEntry describes one successfully parsed AI answer.
type RoundEntry struct {
	SessionID       string
	Round           int
	RequestID       string
	Provider        provider.Provider
	Method          string
	Envelope        string
	AutoFixed       bool
	RawLength       int
	ExtractedLength int
	PromptTokens    int
	HistoryRounds   int
	Attempts        int
	Elapsed         time.Duration
	At              time.Time
}

// FailureEntry describes one failed attempt. Parse failures carry Phase,
// provider failures carry the classified record fields.
type FailureEntry struct {
	SessionID      string
	Round          int
	RequestID      string
	Provider       provider.Provider
	Kind           string
	Phase          string
	Code           string
	Severity       string
	Retryable      bool
	Recovery       string
	ProviderCode   string
	ProviderStatus int
	Message        string
	At             time.Time
}

// Stats summarizes the journal.
type Stats struct {
	Rounds    int
	AutoFixed int
	Methods   map[string]int
	Failures  map[string]int
}

// Journal is safe for concurrent use.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: empty path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS rounds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			request_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			method TEXT NOT NULL,
			envelope TEXT NOT NULL DEFAULT '',
			auto_fixed INTEGER NOT NULL,
			raw_length INTEGER NOT NULL,
			extracted_length INTEGER NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			history_rounds INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			elapsed_us INTEGER NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			request_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			kind TEXT NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL DEFAULT '',
			retryable INTEGER NOT NULL,
			recovery TEXT NOT NULL DEFAULT '',
			provider_code TEXT NOT NULL DEFAULT '',
			provider_status INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			at TEXT NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS rounds_session ON rounds(session_id, round);",
		"CREATE INDEX IF NOT EXISTS failures_session ON failures(session_id, round);",
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: init: %w", err)
		}
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (j *Journal) RecordRound(ctx context.Context, e RoundEntry) error {
	_, err := j.db.ExecContext(ctx, `INSERT INTO rounds
		(session_id, round, request_id, provider, method, envelope, auto_fixed, raw_length,
		 extracted_length, prompt_tokens, history_rounds, attempts, elapsed_us, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Round, e.RequestID, string(e.Provider), e.Method, e.Envelope, e.AutoFixed,
		e.RawLength, e.ExtractedLength, e.PromptTokens, e.HistoryRounds, e.Attempts,
		e.Elapsed.Microseconds(), timestamp(e.At))
	if err != nil {
		return fmt.Errorf("journal: record round: %w", err)
	}
	return nil
}

func (j *Journal) RecordFailure(ctx context.Context, e FailureEntry) error {
	_, err := j.db.ExecContext(ctx, `INSERT INTO failures
		(session_id, round, request_id, provider, kind, phase, code, severity, retryable,
		 recovery, provider_code, provider_status, message, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Round, e.RequestID, string(e.Provider), e.Kind, e.Phase, e.Code, e.Severity,
		e.Retryable, e.Recovery, e.ProviderCode, e.ProviderStatus, e.Message, timestamp(e.At))
	if err != nil {
		return fmt.Errorf("journal: record failure: %w", err)
	}
	return nil
}

// Rounds lists the recorded rounds of a session in order.
func (j *Journal) Rounds(ctx context.Context, sessionID string) ([]RoundEntry, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT session_id, round, request_id, provider, method, envelope,
		auto_fixed, raw_length, extracted_length, prompt_tokens, history_rounds, attempts, elapsed_us, at
		FROM rounds WHERE session_id = ? ORDER BY round, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("journal: query rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundEntry
	for rows.Next() {
		var (
			e         RoundEntry
			prov, at  string
			elapsedUS int64
		)
		if err := rows.Scan(&e.SessionID, &e.Round, &e.RequestID, &prov, &e.Method, &e.Envelope,
			&e.AutoFixed, &e.RawLength, &e.ExtractedLength, &e.PromptTokens, &e.HistoryRounds,
			&e.Attempts, &elapsedUS, &at); err != nil {
			return nil, fmt.Errorf("journal: scan round: %w", err)
		}
		e.Provider = provider.Provider(prov)
		e.Elapsed = time.Duration(elapsedUS) * time.Microsecond
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Failures lists the recorded failures of a session in order.
func (j *Journal) Failures(ctx context.Context, sessionID string) ([]FailureEntry, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT session_id, round, request_id, provider, kind, phase, code,
		severity, retryable, recovery, provider_code, provider_status, message, at
		FROM failures WHERE session_id = ? ORDER BY round, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("journal: query failures: %w", err)
	}
	defer rows.Close()

	var out []FailureEntry
	for rows.Next() {
		var (
			e        FailureEntry
			prov, at string
		)
		if err := rows.Scan(&e.SessionID, &e.Round, &e.RequestID, &prov, &e.Kind, &e.Phase, &e.Code,
			&e.Severity, &e.Retryable, &e.Recovery, &e.ProviderCode, &e.ProviderStatus, &e.Message, &at); err != nil {
			return nil, fmt.Errorf("journal: scan failure: %w", err)
		}
		e.Provider = provider.Provider(prov)
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats counts rounds by extraction method and failures by phase or code.
func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Methods: map[string]int{}, Failures: map[string]int{}}

	if err := j.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(auto_fixed), 0) FROM rounds").Scan(&s.Rounds, &s.AutoFixed); err != nil {
		return s, fmt.Errorf("journal: stats: %w", err)
	}
	if err := j.countInto(ctx, s.Methods, "SELECT method, COUNT(*) FROM rounds GROUP BY method"); err != nil {
		return s, err
	}
	if err := j.countInto(ctx, s.Failures,
		"SELECT CASE WHEN code != '' THEN code ELSE phase END, COUNT(*) FROM failures GROUP BY 1"); err != nil {
		return s, err
	}
	return s, nil
}

func (j *Journal) countInto(ctx context.Context, dst map[string]int, query string) error {
	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("journal: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("journal: stats: %w", err)
		}
		dst[key] = n
	}
	return rows.Err()
}
