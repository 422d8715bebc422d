// Package store persists per-step gating state and the audit event log in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/drillgate/internal/audit"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Table names.
const (
	tableUsage     = "budget_usage"
	tableStruggle  = "struggle_sessions"
	tableHints     = "requested_hints"
	tableChecklist = "checklists"
	tableProgress  = "step_progress"
	tableEvents    = "gate_events"
)

// Store holds the database handle and provides access to repositories.
type Store struct {
	db  *sql.DB
	seq *sequenceCounter
}

// Open creates a new Store connected to the SQLite database at dsn.
// It applies recommended pragmas and runs migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite is single-writer.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	seq, err := newSequenceCounter(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, seq: seq}, nil
}

// DB returns the underlying *sql.DB for raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Budgets returns the budget usage repository.
func (s *Store) Budgets() *BudgetRepo { return &BudgetRepo{db: s.db} }

// Struggles returns the struggle session repository.
func (s *Store) Struggles() *StruggleRepo { return &StruggleRepo{db: s.db} }

// Hints returns the requested hints repository.
func (s *Store) Hints() *HintRepo { return &HintRepo{db: s.db} }

// Checklists returns the safety checklist repository.
func (s *Store) Checklists() *ChecklistRepo { return &ChecklistRepo{db: s.db} }

// Progress returns the validation progress repository.
func (s *Store) Progress() *ProgressRepo { return &ProgressRepo{db: s.db} }

// Events returns the audit event repository.
func (s *Store) Events() *EventRepo { return &EventRepo{db: s.db, seq: s.seq} }

// ClearStep drops the per-step state of scope: requested hints, checklist,
// struggle session and validation progress. Budget usage and events are
// kept.
func (s *Store) ClearStep(ctx context.Context, scope audit.Scope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{tableHints, tableChecklist, tableStruggle, tableProgress} {
		query, args := entsql.Dialect(dialect.SQLite).
			Delete(table).
			Where(scopePredicate(scope)).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func scopePredicate(scope audit.Scope) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("learner_id", scope.LearnerID),
		entsql.EQ("step_id", scope.StepID),
	)
}

// applyPragmas configures SQLite for optimal single-user performance.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// migrate runs idempotent schema migrations.
func migrate(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS budget_usage (
			learner_id  TEXT NOT NULL,
			step_id     TEXT NOT NULL,
			hints_used  INTEGER NOT NULL DEFAULT 0,
			resets_used INTEGER NOT NULL DEFAULT 0,
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (learner_id, step_id)
		)`,
		`CREATE TABLE IF NOT EXISTS struggle_sessions (
			learner_id TEXT NOT NULL,
			step_id    TEXT NOT NULL,
			id         TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			lockout_ns INTEGER NOT NULL,
			log        TEXT,
			unlocked   BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (learner_id, step_id)
		)`,
		`CREATE TABLE IF NOT EXISTS requested_hints (
			learner_id   TEXT NOT NULL,
			step_id      TEXT NOT NULL,
			level        INTEGER NOT NULL,
			requested_at INTEGER NOT NULL,
			PRIMARY KEY (learner_id, step_id, level)
		)`,
		`CREATE TABLE IF NOT EXISTS checklists (
			learner_id TEXT NOT NULL,
			step_id    TEXT NOT NULL,
			command    TEXT NOT NULL,
			state      TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (learner_id, step_id)
		)`,
		`CREATE TABLE IF NOT EXISTS step_progress (
			learner_id TEXT NOT NULL,
			step_id    TEXT NOT NULL,
			attempt    INTEGER NOT NULL DEFAULT 1,
			passed     BOOLEAN NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (learner_id, step_id)
		)`,
		`CREATE TABLE IF NOT EXISTS gate_events (
			sequence   INTEGER PRIMARY KEY,
			id         TEXT NOT NULL UNIQUE,
			type       TEXT NOT NULL,
			learner_id TEXT NOT NULL,
			step_id    TEXT NOT NULL,
			timestamp  INTEGER NOT NULL,
			payload    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gate_events_scope ON gate_events(learner_id, step_id)`,
		`CREATE INDEX IF NOT EXISTS idx_gate_events_ts ON gate_events(timestamp)`,
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// DefaultDBPath resolves the database file path in priority order:
// 1. DRILLGATE_DB environment variable
// 2. $XDG_DATA_HOME/drillgate/drillgate.db
// 3. ~/.local/share/drillgate/drillgate.db
func DefaultDBPath() (string, error) {
	if p := os.Getenv("DRILLGATE_DB"); p != "" {
		return p, EnsureDir(p)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	p := filepath.Join(dataHome, "drillgate", "drillgate.db")
	return p, EnsureDir(p)
}

// EnsureDir creates the parent directory of path if it doesn't exist.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}
