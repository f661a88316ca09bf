// Package relstate derives per-relationship metrics from raw rows.
package relstate

import (
	"time"

	"github.com/kalambet/nextmove/internal/domain"
)

const defaultCadenceDays = 30

// CadenceDays resolves the contact cadence in days. An explicit positive value
// wins over the enum.
func CadenceDays(c domain.Cadence, explicit *int) int {
	if explicit != nil && *explicit > 0 {
		return *explicit
	}
	switch c {
	case domain.CadenceFrequent:
		return 7
	case domain.CadenceModerate:
		return 14
	case domain.CadenceInfrequent:
		return 30
	case domain.CadenceAdHoc:
		return 90
	default:
		return defaultCadenceDays
	}
}

// Input is everything Reduce needs for one relationship.
type Input struct {
	Relationship domain.Relationship
	// Pending holds the relationship's NEW/SENT/SNOOZED actions. Other states
	// are ignored if present.
	Pending []domain.Action
	// LastCompletedAt is the completion time of the most recent DONE/REPLIED
	// action. Only consulted when the relationship has no LastInteractionAt.
	LastCompletedAt *time.Time
}

// Reduce builds the RelationshipState for in as of ref. A zero ref means now.
func Reduce(in Input, ref time.Time) domain.RelationshipState {
	if ref.IsZero() {
		ref = time.Now()
	}
	today := domain.Day(ref)
	rel := in.Relationship

	st := domain.RelationshipState{
		RelationshipID: rel.ID,
		Tier:           normalizeTier(rel.Tier),
		CadenceDays:    CadenceDays(rel.Cadence, rel.CadenceDays),
		MomentumTrend:  normalizeMomentum(rel.MomentumTrend),
	}

	for _, a := range in.Pending {
		if !a.State.Pending() {
			continue
		}
		st.PendingActionsCount++
		if a.State == domain.StateSent {
			st.AwaitingResponse = true
		}
		if a.DueDate != nil && domain.DaysBetween(today, *a.DueDate) < 0 {
			st.OverdueActionsCount++
		}
	}

	var last *time.Time
	switch {
	case rel.LastInteractionAt != nil:
		last = domain.TimePtr(domain.DayIn(*rel.LastInteractionAt, today.Location()))
	case in.LastCompletedAt != nil:
		last = domain.TimePtr(domain.DayIn(*in.LastCompletedAt, today.Location()))
	}
	if last != nil {
		days := domain.DaysBetween(*last, today)
		if days < 0 {
			days = 0
		}
		st.DaysSinceLastInteraction = &days
	}

	switch {
	case rel.NextTouchDueAt != nil:
		due := domain.DayIn(*rel.NextTouchDueAt, today.Location())
		st.NextTouchDueAt = &due
	case last != nil:
		due := last.AddDate(0, 0, st.CadenceDays)
		st.NextTouchDueAt = &due
	}

	return st
}

func normalizeTier(t domain.Tier) domain.Tier {
	switch t {
	case domain.TierInner, domain.TierActive, domain.TierWarm, domain.TierBackground:
		return t
	default:
		return domain.TierNone
	}
}

func normalizeMomentum(m domain.MomentumTrend) domain.MomentumTrend {
	switch m {
	case domain.MomentumIncreasing, domain.MomentumStable, domain.MomentumDeclining:
		return m
	default:
		return domain.MomentumUnknown
	}
}
