package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/budget"
	"github.com/abhisek/drillgate/internal/content"
	"github.com/abhisek/drillgate/internal/session"
	"github.com/abhisek/drillgate/internal/store"
)

// engine is the store plus a session for the configured learner. Every
// command that touches step state opens one; state carries over between
// invocations through the store.
type engine struct {
	store   *store.Store
	session *session.Session
}

func openEngine() (*engine, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	thresholds := cfg.Thresholds()
	sess, err := session.New(session.Options{
		LearnerID:       cfg.Learner,
		Phase:           budget.Phase(cfg.Phase),
		Policy:          cfg.Policy(),
		Thresholds:      &thresholds,
		Lockout:         cfg.Struggle.Lockout,
		HintCooldown:    cfg.Hints.Cooldown,
		ValidationPause: cfg.Validation.Pause,
		Repos:           session.ReposFromStore(st),
		Emitter:         audit.Multi{st.Events(), audit.LogEmitter{Logger: slog.Default()}},
		Logger:          slog.Default(),
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	return &engine{store: st, session: sess}, nil
}

func (e *engine) Close() error {
	return e.store.Close()
}

// startStep loads the step file at path and makes it the active step,
// resuming any state stored for it.
func (e *engine) startStep(ctx context.Context, path string) (*session.Step, error) {
	c, err := content.Load(path)
	if err != nil {
		return nil, err
	}
	st, err := e.session.StartStep(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("start step %s: %w", c.ID, err)
	}
	return st, nil
}

// withStep opens an engine, starts the step at path and runs fn.
func withStep(ctx context.Context, path string, fn func(*engine, *session.Step) error) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()
	st, err := e.startStep(ctx, path)
	if err != nil {
		return err
	}
	return fn(e, st)
}
