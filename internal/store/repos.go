package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/budget"
	"github.com/abhisek/drillgate/internal/hints"
	"github.com/abhisek/drillgate/internal/safety"
	"github.com/abhisek/drillgate/internal/stepcheck"
	"github.com/abhisek/drillgate/internal/struggle"
	"github.com/abhisek/drillgate/internal/strugglelog"
)

func builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.SQLite)
}

// upsert inserts one row into table, replacing the row with the same
// (learner_id, step_id).
func upsert(ctx context.Context, db *sql.DB, table string, scope audit.Scope, cols []string, vals []any) error {
	query, args := builder().
		Insert(table).
		Columns(append([]string{"learner_id", "step_id"}, cols...)...).
		Values(append([]any{scope.LearnerID, scope.StepID}, vals...)...).
		OnConflict(
			entsql.ConflictColumns("learner_id", "step_id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// BudgetRepo stores budget usage. It implements budget.UsageRepo.
type BudgetRepo struct {
	db *sql.DB
}

var _ budget.UsageRepo = (*BudgetRepo)(nil)

func (r *BudgetRepo) LoadUsage(ctx context.Context, scope audit.Scope) (budget.Usage, bool, error) {
	query, args := builder().
		Select("hints_used", "resets_used").
		From(builder().Table(tableUsage)).
		Where(scopePredicate(scope)).
		Query()

	var u budget.Usage
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&u.HintsUsed, &u.ResetsUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return budget.Usage{}, false, nil
	}
	if err != nil {
		return budget.Usage{}, false, fmt.Errorf("query usage: %w", err)
	}
	return u, true, nil
}

func (r *BudgetRepo) SaveUsage(ctx context.Context, scope audit.Scope, u budget.Usage) error {
	return upsert(ctx, r.db, tableUsage, scope,
		[]string{"hints_used", "resets_used", "updated_at"},
		[]any{u.HintsUsed, u.ResetsUsed, time.Now().UnixNano()},
	)
}

// ChargeUsage increments the counter of res in the database when fewer
// than max units are used. The conditional UPDATE ... RETURNING is atomic
// in SQLite, so processes sharing the file cannot both take the last unit.
func (r *BudgetRepo) ChargeUsage(ctx context.Context, scope audit.Scope, res budget.Resource, max budget.Limit) (budget.Usage, bool, error) {
	col := "hints_used"
	if res == budget.ResourceReset {
		col = "resets_used"
	}
	now := time.Now().UnixNano()

	seed, args := builder().
		Insert(tableUsage).
		Columns("learner_id", "step_id", "hints_used", "resets_used", "updated_at").
		Values(scope.LearnerID, scope.StepID, 0, 0, now).
		OnConflict(
			entsql.ConflictColumns("learner_id", "step_id"),
			entsql.DoNothing(),
		).
		Query()
	if _, err := r.db.ExecContext(ctx, seed, args...); err != nil {
		return budget.Usage{}, false, fmt.Errorf("seed usage: %w", err)
	}

	pred := scopePredicate(scope)
	if max.Bounded() {
		pred = entsql.And(pred, entsql.LT(col, int(max)))
	}
	query, args := builder().
		Update(tableUsage).
		Add(col, 1).
		Set("updated_at", now).
		Where(pred).
		Returning("hints_used", "resets_used").
		Query()

	var u budget.Usage
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&u.HintsUsed, &u.ResetsUsed)
	if errors.Is(err, sql.ErrNoRows) {
		u, _, err = r.LoadUsage(ctx, scope)
		return u, false, err
	}
	if err != nil {
		return budget.Usage{}, false, fmt.Errorf("charge %s: %w", res, err)
	}
	return u, true, nil
}

// StruggleRepo stores struggle sessions. It implements struggle.Repo.
type StruggleRepo struct {
	db *sql.DB
}

var _ struggle.Repo = (*StruggleRepo)(nil)

func (r *StruggleRepo) SaveStruggle(ctx context.Context, scope audit.Scope, s struggle.SessionState) error {
	var logJSON sql.NullString
	if s.Log != nil {
		b, err := json.Marshal(s.Log)
		if err != nil {
			return fmt.Errorf("marshal struggle log: %w", err)
		}
		logJSON = sql.NullString{String: string(b), Valid: true}
	}
	return upsert(ctx, r.db, tableStruggle, scope,
		[]string{"id", "started_at", "lockout_ns", "log", "unlocked"},
		[]any{s.ID, s.StartedAt.UnixNano(), int64(s.Lockout), logJSON, s.Unlocked},
	)
}

// LoadStruggle returns the stored session for scope, if any.
func (r *StruggleRepo) LoadStruggle(ctx context.Context, scope audit.Scope) (struggle.SessionState, bool, error) {
	query, args := builder().
		Select("id", "started_at", "lockout_ns", "log", "unlocked").
		From(builder().Table(tableStruggle)).
		Where(scopePredicate(scope)).
		Query()

	var (
		s         struggle.SessionState
		startedAt int64
		lockout   int64
		logJSON   sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&s.ID, &startedAt, &lockout, &logJSON, &s.Unlocked)
	if errors.Is(err, sql.ErrNoRows) {
		return struggle.SessionState{}, false, nil
	}
	if err != nil {
		return struggle.SessionState{}, false, fmt.Errorf("query struggle session: %w", err)
	}

	s.StartedAt = time.Unix(0, startedAt).UTC()
	s.Lockout = time.Duration(lockout)
	if logJSON.Valid {
		var entry strugglelog.Entry
		if err := json.Unmarshal([]byte(logJSON.String), &entry); err != nil {
			return struggle.SessionState{}, false, fmt.Errorf("unmarshal struggle log: %w", err)
		}
		s.Log = &entry
	}
	return s, true, nil
}

// HintRepo stores the set of disclosed hint levels. It implements
// hints.Repo.
type HintRepo struct {
	db *sql.DB
}

var _ hints.Repo = (*HintRepo)(nil)

func (r *HintRepo) AddRequestedHint(ctx context.Context, scope audit.Scope, level int, at time.Time) error {
	query, args := builder().
		Insert(tableHints).
		Columns("learner_id", "step_id", "level", "requested_at").
		Values(scope.LearnerID, scope.StepID, level, at.UnixNano()).
		OnConflict(
			entsql.ConflictColumns("learner_id", "step_id", "level"),
			entsql.DoNothing(),
		).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert requested hint: %w", err)
	}
	return nil
}

// RequestedHints returns the disclosed levels for scope in ascending order.
func (r *HintRepo) RequestedHints(ctx context.Context, scope audit.Scope) ([]int, error) {
	query, args := builder().
		Select("level").
		From(builder().Table(tableHints)).
		Where(scopePredicate(scope)).
		OrderBy(entsql.Asc("level")).
		Query()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requested hints: %w", err)
	}
	defer rows.Close()

	var levels []int
	for rows.Next() {
		var lvl int
		if err := rows.Scan(&lvl); err != nil {
			return nil, fmt.Errorf("scan requested hint: %w", err)
		}
		levels = append(levels, lvl)
	}
	return levels, rows.Err()
}

// LastHintAt returns when the most recent hint for scope was disclosed.
// ok is false when none was.
func (r *HintRepo) LastHintAt(ctx context.Context, scope audit.Scope) (at time.Time, ok bool, err error) {
	query, args := builder().
		Select(entsql.Max("requested_at")).
		From(builder().Table(tableHints)).
		Where(scopePredicate(scope)).
		Query()

	var last sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
		return time.Time{}, false, fmt.Errorf("query last hint: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, last.Int64).UTC(), true, nil
}

// ChecklistRepo stores the open safety checklist. It implements
// safety.Repo.
type ChecklistRepo struct {
	db *sql.DB
}

var _ safety.Repo = (*ChecklistRepo)(nil)

func (r *ChecklistRepo) SaveChecklist(ctx context.Context, scope audit.Scope, command string, state map[string]bool) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checklist: %w", err)
	}
	return upsert(ctx, r.db, tableChecklist, scope,
		[]string{"command", "state", "updated_at"},
		[]any{command, string(b), time.Now().UnixNano()},
	)
}

func (r *ChecklistRepo) ClearChecklist(ctx context.Context, scope audit.Scope) error {
	query, args := builder().
		Delete(tableChecklist).
		Where(scopePredicate(scope)).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear checklist: %w", err)
	}
	return nil
}

// LoadChecklist returns the open checklist for scope, if any.
func (r *ChecklistRepo) LoadChecklist(ctx context.Context, scope audit.Scope) (command string, state map[string]bool, ok bool, err error) {
	query, args := builder().
		Select("command", "state").
		From(builder().Table(tableChecklist)).
		Where(scopePredicate(scope)).
		Query()

	var raw string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&command, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, fmt.Errorf("query checklist: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return "", nil, false, fmt.Errorf("unmarshal checklist: %w", err)
	}
	return command, state, true, nil
}

// ProgressRepo stores validation attempts. It implements stepcheck.Repo.
type ProgressRepo struct {
	db *sql.DB
}

var _ stepcheck.Repo = (*ProgressRepo)(nil)

func (r *ProgressRepo) SaveProgress(ctx context.Context, scope audit.Scope, attempt int, passed bool) error {
	return upsert(ctx, r.db, tableProgress, scope,
		[]string{"attempt", "passed", "updated_at"},
		[]any{attempt, passed, time.Now().UnixNano()},
	)
}

// LoadProgress returns the stored attempt number and pass flag. A step
// with no stored progress is on attempt 1.
func (r *ProgressRepo) LoadProgress(ctx context.Context, scope audit.Scope) (attempt int, passed bool, err error) {
	query, args := builder().
		Select("attempt", "passed").
		From(builder().Table(tableProgress)).
		Where(scopePredicate(scope)).
		Query()

	err = r.db.QueryRowContext(ctx, query, args...).Scan(&attempt, &passed)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query progress: %w", err)
	}
	return attempt, passed, nil
}
