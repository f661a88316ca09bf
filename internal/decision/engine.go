package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/nextmove/internal/domain"
)

// Store is the persistence the engine reads from and writes back to.
type Store interface {
	ListActiveRelationships(userID string) ([]domain.Relationship, error)
	ListPendingActions(userID string) ([]domain.Action, error)
	LastCompletionByRelationship(userID string) (map[string]time.Time, error)
	UpdateActionScores(scores []domain.ActionScore) error
	// SetNextMove clears every next-move pointer of the user, then points
	// relationshipID at actionID.
	SetNextMove(userID, relationshipID, actionID string) error
	ClearNextMove(userID string) error
}

// SignalProvider returns email signals for a relationship, or nil when there are none.
type SignalProvider interface {
	GetSignals(ctx context.Context, userID, relationshipID string) (*domain.EmailSignals, error)
}

// Options control a single run.
type Options struct {
	Persist bool
	// ReferenceDate defaults to now.
	ReferenceDate time.Time
}

// Engine loads a user's rows, evaluates them, and optionally writes the
// engine-owned fields back.
type Engine struct {
	store   Store
	signals SignalProvider
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates an Engine. signals may be nil.
func NewEngine(store Store, signals SignalProvider) *Engine {
	return &Engine{store: store, signals: signals, logger: slog.Default(), now: time.Now}
}

// Run evaluates userID's pending actions and returns the result.
func (e *Engine) Run(ctx context.Context, userID string, opts Options) (*Result, error) {
	ref := opts.ReferenceDate
	if ref.IsZero() {
		ref = e.now()
	}

	in, err := e.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := Evaluate(in, ref)

	if opts.Persist {
		if err := e.Persist(userID, &res); err != nil {
			return nil, err
		}
	}
	return &res, nil
}

// Load reads everything Evaluate needs for userID. Candidates is left nil.
func (e *Engine) Load(ctx context.Context, userID string) (Inputs, error) {
	rels, err := e.store.ListActiveRelationships(userID)
	if err != nil {
		return Inputs{}, fmt.Errorf("listing relationships: %w", err)
	}
	pending, err := e.store.ListPendingActions(userID)
	if err != nil {
		return Inputs{}, fmt.Errorf("listing pending actions: %w", err)
	}
	last, err := e.store.LastCompletionByRelationship(userID)
	if err != nil {
		return Inputs{}, fmt.Errorf("loading completions: %w", err)
	}

	in := Inputs{Relationships: rels, Pending: pending, LastCompleted: last}
	if e.signals == nil {
		return in, nil
	}

	in.Signals = make(map[string]*domain.EmailSignals, len(rels))
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return Inputs{}, err
		}
		s, err := e.signals.GetSignals(ctx, userID, rel.ID)
		if err != nil {
			// Signals only refine stall risk; score without them.
			e.logger.Warn("email signals unavailable", "user_id", userID, "relationship_id", rel.ID, "error", err)
			continue
		}
		if s != nil {
			in.Signals[rel.ID] = s
		}
	}
	return in, nil
}

// Persist writes lane and score onto every candidate and moves the next-move
// pointer to the relationship of res.NextMove, clearing it when there is none.
func (e *Engine) Persist(userID string, res *Result) error {
	if err := e.store.UpdateActionScores(res.Scores()); err != nil {
		return fmt.Errorf("updating action scores: %w", err)
	}

	next := res.NextMove()
	if next == nil {
		if err := e.store.ClearNextMove(userID); err != nil {
			return fmt.Errorf("clearing next move: %w", err)
		}
		return nil
	}
	if err := e.store.SetNextMove(userID, *next.Action.PersonID, next.Action.ID); err != nil {
		return fmt.Errorf("setting next move: %w", err)
	}
	e.logger.Debug("next move updated",
		"user_id", userID,
		"relationship_id", *next.Action.PersonID,
		"action_id", next.Action.ID,
		"score", next.Scored.Score,
	)
	return nil
}
