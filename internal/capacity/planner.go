package capacity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/freebusy"
)

// historyDays is how far back completion history is loaded. It comfortably
// covers the last seven plan-days for users who skip days.
const historyDays = 30

// HistoryStore provides the behavioural inputs.
type HistoryStore interface {
	CompletionHistory(userID string, from, to time.Time) ([]domain.CompletionDay, error)
	LastCompletionAt(userID string) (*time.Time, error)
}

// FreeBusySource provides the calendar input.
type FreeBusySource interface {
	FreeBusy(ctx context.Context, userID string, date time.Time) (*freebusy.Lookup, error)
}

// Planner gathers the inputs for Resolve.
type Planner struct {
	history  HistoryStore
	freebusy FreeBusySource
	logger   *slog.Logger
}

// NewPlanner creates a Planner. freebusy may be nil, in which case every day
// resolves without calendar data.
func NewPlanner(history HistoryStore, fb FreeBusySource) *Planner {
	return &Planner{history: history, freebusy: fb, logger: slog.Default()}
}

// Budget resolves the capacity for userID on date. A calendar failure degrades
// to the no-calendar default rather than failing the plan.
func (p *Planner) Budget(ctx context.Context, userID string, date time.Time, override *Level) (Budget, error) {
	in := Input{Date: date, Override: override}

	if p.freebusy != nil {
		lookup, err := p.freebusy.FreeBusy(ctx, userID, date)
		if err != nil {
			p.logger.Warn("free/busy unavailable, using default capacity", "user_id", userID, "error", err)
		} else {
			in.FreeMinutes = lookup.FreeMinutes()
		}
	}

	if override == nil {
		from := date.AddDate(0, 0, -historyDays)
		history, err := p.history.CompletionHistory(userID, from, date)
		if err != nil {
			return Budget{}, fmt.Errorf("loading completion history: %w", err)
		}
		in.History = history

		last, err := p.history.LastCompletionAt(userID)
		if err != nil {
			return Budget{}, fmt.Errorf("loading last completion: %w", err)
		}
		in.LastCompletionAt = last
	}

	b := Resolve(in)
	p.logger.Debug("capacity resolved",
		"user_id", userID,
		"date", date.Format(domain.DateLayout),
		"level", b.Level,
		"actions", b.Actions,
		"source", b.Source,
		"adaptive_reason", b.AdaptiveReason,
	)
	return b, nil
}
