// Package safety holds the acknowledgement checklist that must be fully
// ticked before a destructive action may run, and the catalog used to
// recognise such actions.
package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/clock"
	"github.com/abhisek/drillgate/internal/gating"
)

// ErrGateClosed is returned by any mutation after Proceed or Cancel.
var ErrGateClosed = errors.New("checklist gate already closed")

// Item is one acknowledgement the learner must tick.
type Item struct {
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
}

// DefaultChecklist is used when a destructive action has no
// pattern-specific items.
func DefaultChecklist() []Item {
	return []Item{
		{Key: "backup-confirmed", Label: "I have a backup of anything this could destroy"},
		{Key: "rollback-documented", Label: "I have written down how to roll this back"},
		{Key: "tested-in-isolation", Label: "I have tried this somewhere that does not matter"},
		{Key: "consequences-understood", Label: "I understand what this will do and that it may not be undoable"},
	}
}

// Action is the pending destructive action a gate guards.
type Action struct {
	Command  string
	Pattern  string
	Severity Severity
}

// Outcome is where a gate ended up.
type Outcome int

const (
	Pending Outcome = iota
	Proceeded
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Proceeded:
		return "proceeded"
	case Cancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// Repo persists the checklist state of the open gate per (learner, step).
type Repo interface {
	SaveChecklist(ctx context.Context, scope audit.Scope, command string, state map[string]bool) error
	ClearChecklist(ctx context.Context, scope audit.Scope) error
}

// Options configures a Gate. All fields are optional.
type Options struct {
	// Restore re-applies the persisted state of this same pending action.
	// It must never be carried over to a different action instance.
	Restore map[string]bool

	Emitter audit.Emitter
	Scope   audit.Scope
	Repo    Repo
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Gate is a single-shot checklist for one destructive action instance.
// A new action always gets a new gate; nothing carries over.
type Gate struct {
	mu      sync.Mutex
	action  Action
	items   []Item
	checked map[string]bool
	outcome Outcome

	emitter audit.Emitter
	scope   audit.Scope
	repo    Repo
	clock   clock.Clock
	logger  *slog.Logger
}

// NewGate opens a gate for action with every item unchecked. An empty
// items list falls back to DefaultChecklist.
func NewGate(action Action, items []Item, opts Options) *Gate {
	if len(items) == 0 {
		items = DefaultChecklist()
	}
	g := &Gate{
		action:  action,
		items:   append([]Item(nil), items...),
		checked: make(map[string]bool, len(items)),
		emitter: audit.OrNop(opts.Emitter),
		scope:   opts.Scope,
		repo:    opts.Repo,
		clock:   clock.OrReal(opts.Clock),
		logger:  opts.Logger,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	for _, it := range g.items {
		g.checked[it.Key] = opts.Restore[it.Key]
	}
	return g
}

// Action returns the guarded action.
func (g *Gate) Action() Action { return g.action }

// Items returns the checklist definition.
func (g *Gate) Items() []Item { return append([]Item(nil), g.items...) }

// UpdateItem sets one item. Unknown keys are rejected.
func (g *Gate) UpdateItem(ctx context.Context, key string, value bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.outcome != Pending {
		return ErrGateClosed
	}
	if _, ok := g.checked[key]; !ok {
		return fmt.Errorf("unknown checklist item %q", key)
	}
	g.checked[key] = value
	g.persist(ctx)

	g.emitter.Emit(ctx, audit.New(audit.TypeChecklistToggled, g.clock.Now(), g.scope, map[string]any{
		"command": g.action.Command,
		"item":    key,
		"checked": value,
	}))
	return nil
}

// State returns a copy of the checklist state.
func (g *Gate) State() map[string]bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]bool, len(g.checked))
	for k, v := range g.checked {
		out[k] = v
	}
	return out
}

// CanProceed reports whether every item is ticked.
func (g *Gate) CanProceed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcome == Pending && len(g.unchecked()) == 0
}

// Outcome returns the gate's final state, or Pending while open.
func (g *Gate) Outcome() Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcome
}

// Proceed closes the gate and permits the action. With unchecked items it
// returns ValidationFailed naming them and the gate stays open.
func (g *Gate) Proceed(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.outcome != Pending {
		return ErrGateClosed
	}
	if missing := g.unchecked(); len(missing) > 0 {
		err := gating.New(gating.KindValidationFailed, "%d of %d safety checks not confirmed", len(missing), len(g.items))
		err.Details = missing
		return err
	}

	g.outcome = Proceeded
	g.clear(ctx)
	g.emitter.Emit(ctx, audit.New(audit.TypeActionProceeded, g.clock.Now(), g.scope, map[string]any{
		"command":  g.action.Command,
		"pattern":  g.action.Pattern,
		"severity": string(g.action.Severity),
	}))
	return nil
}

// Cancel discards the pending action, resets every item and closes the gate.
func (g *Gate) Cancel(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.outcome != Pending {
		return ErrGateClosed
	}
	for k := range g.checked {
		g.checked[k] = false
	}
	g.outcome = Cancelled
	g.clear(ctx)
	g.emitter.Emit(ctx, audit.New(audit.TypeActionCancelled, g.clock.Now(), g.scope, map[string]any{
		"command":  g.action.Command,
		"pattern":  g.action.Pattern,
		"severity": string(g.action.Severity),
	}))
	return nil
}

// unchecked returns the labels of unticked items in checklist order.
func (g *Gate) unchecked() []string {
	var out []string
	for _, it := range g.items {
		if !g.checked[it.Key] {
			out = append(out, it.Label)
		}
	}
	return out
}

func (g *Gate) persist(ctx context.Context) {
	if g.repo == nil {
		return
	}
	state := make(map[string]bool, len(g.checked))
	for k, v := range g.checked {
		state[k] = v
	}
	if err := g.repo.SaveChecklist(ctx, g.scope, g.action.Command, state); err != nil {
		g.logger.WarnContext(ctx, "failed to persist checklist", "error", err)
	}
}

func (g *Gate) clear(ctx context.Context) {
	if g.repo == nil {
		return
	}
	if err := g.repo.ClearChecklist(ctx, g.scope); err != nil {
		g.logger.WarnContext(ctx, "failed to clear checklist", "error", err)
	}
}
