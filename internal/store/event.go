package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/drillgate/internal/audit"
)

// sequenceCounter manages the global monotonic sequence number assigned to
// every stored event. Event IDs are random UUIDs and timestamps can collide,
// so this counter is what orders the log: a struggle unlock is always
// before the hint it permitted, even within the same clock tick.
//
// Uses raw SQL because the counter must be atomic at the database level.
// The mutex serializes within the process; the RETURNING clause makes the
// increment atomic at the database level.
type sequenceCounter struct {
	mu sync.Mutex
	db *sql.DB
}

// newSequenceCounter creates a counter and ensures the tracking table exists.
func newSequenceCounter(db *sql.DB) (*sequenceCounter, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS global_sequence (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		next_val INTEGER NOT NULL DEFAULT 1
	)`)
	if err != nil {
		return nil, fmt.Errorf("create sequence table: %w", err)
	}

	_, err = db.Exec(`INSERT OR IGNORE INTO global_sequence (id, next_val) VALUES (1, 1)`)
	if err != nil {
		return nil, fmt.Errorf("seed sequence: %w", err)
	}

	return &sequenceCounter{db: db}, nil
}

// Next atomically returns the next sequence number and increments the counter.
func (sc *sequenceCounter) Next(ctx context.Context) (int64, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var seq int64
	err := sc.db.QueryRowContext(ctx,
		`UPDATE global_sequence SET next_val = next_val + 1 WHERE id = 1 RETURNING next_val - 1`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return seq, nil
}

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	Scope  audit.Scope // empty fields match any value
	Types  []audit.Type
	Limit  int       // max results (0 = unlimited)
	After  int64     // sequence > After
	Before int64     // sequence < Before
	From   time.Time // timestamp >= From
	To     time.Time // timestamp <= To
}

// StoredEvent is an audit event with its position in the log.
type StoredEvent struct {
	Sequence int64
	audit.Event
}

// EventRepo is the durable audit log. It implements audit.Emitter.
type EventRepo struct {
	db     *sql.DB
	seq    *sequenceCounter
	Logger *slog.Logger
}

var _ audit.Emitter = (*EventRepo)(nil)

// Append stores ev and returns its sequence number.
func (r *EventRepo) Append(ctx context.Context, ev audit.Event) (int64, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	seqNum, err := r.seq.Next(ctx)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}

	query, args := builder().
		Insert(tableEvents).
		Columns("sequence", "id", "type", "learner_id", "step_id", "timestamp", "payload").
		Values(seqNum, ev.ID, string(ev.Type), ev.Scope.LearnerID, ev.Scope.StepID, ev.Timestamp.UnixNano(), string(payload)).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("save event: %w", err)
	}
	return seqNum, nil
}

// Emit appends ev, logging instead of failing: a lost audit record never
// changes a gating decision.
func (r *EventRepo) Emit(ctx context.Context, ev audit.Event) {
	if _, err := r.Append(ctx, ev); err != nil {
		logger := r.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.WarnContext(ctx, "failed to store audit event", "error", err, "type", string(ev.Type))
	}
}

// Query returns events matching opts in sequence order.
func (r *EventRepo) Query(ctx context.Context, opts QueryOpts) ([]StoredEvent, error) {
	var preds []*entsql.Predicate
	if opts.Scope.LearnerID != "" {
		preds = append(preds, entsql.EQ("learner_id", opts.Scope.LearnerID))
	}
	if opts.Scope.StepID != "" {
		preds = append(preds, entsql.EQ("step_id", opts.Scope.StepID))
	}
	if len(opts.Types) > 0 {
		types := make([]any, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
		preds = append(preds, entsql.In("type", types...))
	}
	if opts.After > 0 {
		preds = append(preds, entsql.GT("sequence", opts.After))
	}
	if opts.Before > 0 {
		preds = append(preds, entsql.LT("sequence", opts.Before))
	}
	if !opts.From.IsZero() {
		preds = append(preds, entsql.GTE("timestamp", opts.From.UnixNano()))
	}
	if !opts.To.IsZero() {
		preds = append(preds, entsql.LTE("timestamp", opts.To.UnixNano()))
	}

	sel := builder().
		Select("sequence", "id", "type", "learner_id", "step_id", "timestamp", "payload").
		From(builder().Table(tableEvents)).
		OrderBy(entsql.Asc("sequence"))
	if len(preds) > 0 {
		sel = sel.Where(entsql.And(preds...))
	}
	if opts.Limit > 0 {
		sel = sel.Limit(opts.Limit)
	}
	query, args := sel.Query()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			ev      StoredEvent
			typ     string
			ts      int64
			payload string
		)
		if err := rows.Scan(&ev.Sequence, &ev.ID, &typ, &ev.Scope.LearnerID, &ev.Scope.StepID, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = audit.Type(typ)
		ev.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload of event %d: %w", ev.Sequence, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
