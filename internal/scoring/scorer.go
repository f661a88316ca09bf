// Package scoring computes the 0-100 NextMoveScore for candidate actions and
// picks the single best action.
package scoring

import (
	"sort"
	"strings"
	"time"

	"github.com/kalambet/nextmove/internal/domain"
)

const (
	maxUrgency    = 40
	maxStallRisk  = 25
	maxValue      = 20
	maxEffortBias = 15
)

// Breakdown holds the four independently capped components.
type Breakdown struct {
	Urgency    int `json:"urgency"`
	StallRisk  int `json:"stall_risk"`
	Value      int `json:"value"`
	EffortBias int `json:"effort_bias"`
}

// Total is the sum of the components.
func (b Breakdown) Total() int {
	return b.Urgency + b.StallRisk + b.Value + b.EffortBias
}

// ScoredAction is the scorer's output for a single action.
type ScoredAction struct {
	ActionID  string    `json:"action_id"`
	Score     int       `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
	Reason    string    `json:"reason"`
}

// Score computes the NextMoveScore of a as of ref. state and signals may be nil.
func Score(a domain.Action, state *domain.RelationshipState, ref time.Time, signals *domain.EmailSignals) ScoredAction {
	today := domain.Day(ref)
	var reasons []string

	urgency, urgencyReasons := urgencyScore(a, today)
	reasons = append(reasons, urgencyReasons...)

	stall, stallReasons := stallRiskScore(state, signals)
	reasons = append(reasons, stallReasons...)

	value := valueScore(state)
	if state != nil && state.Tier == domain.TierInner {
		reasons = append(reasons, "inner-circle relationship")
	} else if state != nil && state.Tier == domain.TierActive {
		reasons = append(reasons, "active relationship")
	}

	effort := effortScore(a.EstimatedMinutes)
	if effort == maxEffortBias {
		reasons = append(reasons, "quick task")
	}

	b := Breakdown{Urgency: urgency, StallRisk: stall, Value: value, EffortBias: effort}
	return ScoredAction{
		ActionID:  a.ID,
		Score:     b.Total(),
		Breakdown: b,
		Reason:    strings.Join(reasons, "; "),
	}
}

func urgencyScore(a domain.Action, today time.Time) (int, []string) {
	var reasons []string
	u := 5
	if a.DueDate != nil {
		switch d := domain.DaysBetween(today, *a.DueDate); {
		case d < 0:
			u = 40
			reasons = append(reasons, "overdue")
		case d <= 2:
			u = 30
			reasons = append(reasons, "high urgency")
		case d <= 7:
			u = 20
			reasons = append(reasons, "due this week")
		}
	}

	if a.PromisedDueAt != nil {
		switch d := domain.DaysBetween(today, *a.PromisedDueAt); {
		case d < 0:
			u = maxUrgency
			reasons = append(reasons, "overdue promise")
		case d <= 2:
			u = max(u, 35)
			reasons = append(reasons, "promise due soon")
		case d <= 7:
			u += 5
			reasons = append(reasons, "promise due this week")
		}
	}
	return min(u, maxUrgency), reasons
}

func stallRiskScore(state *domain.RelationshipState, signals *domain.EmailSignals) (int, []string) {
	if state == nil {
		return 0, nil
	}
	var reasons []string
	s := 0
	if state.MomentumTrend == domain.MomentumDeclining {
		s += 15
		reasons = append(reasons, "momentum declining")
	}
	if state.DaysSinceLastInteraction != nil && *state.DaysSinceLastInteraction > state.CadenceDays {
		s += 10
		reasons = append(reasons, "past cadence")
	}
	if signals != nil {
		if signals.HasOpenLoops {
			s += 8
			reasons = append(reasons, "open email loops")
		}
		if signals.HasUnansweredAsks {
			s += 7
			reasons = append(reasons, "unanswered asks")
		}
		if signals.DaysSinceLastEmail != nil && *signals.DaysSinceLastEmail > 14 {
			s += 5
			reasons = append(reasons, "email gone quiet")
		}
	}
	return min(s, maxStallRisk), reasons
}

func valueScore(state *domain.RelationshipState) int {
	if state == nil {
		return 5
	}
	switch state.Tier {
	case domain.TierInner:
		return maxValue
	case domain.TierActive:
		return 10
	default:
		return 5
	}
}

func effortScore(estimated *int) int {
	if estimated == nil {
		return 5
	}
	m := max(*estimated, 0)
	switch {
	case m <= 30:
		return maxEffortBias
	case m <= 120:
		return 10
	default:
		return 5
	}
}

// Candidate pairs a scored action with its action lane.
type Candidate struct {
	Scored ScoredAction
	Lane   domain.Lane
}

// SelectBestAction returns the highest-scoring Priority or In-Motion candidate,
// breaking ties by ascending action ID. Returns nil when none qualify.
func SelectBestAction(candidates []Candidate) *Candidate {
	var eligible []Candidate
	for _, c := range candidates {
		if c.Lane == domain.LanePriority || c.Lane == domain.LaneInMotion {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Scored.Score != eligible[j].Scored.Score {
			return eligible[i].Scored.Score > eligible[j].Scored.Score
		}
		return eligible[i].Scored.ActionID < eligible[j].Scored.ActionID
	})
	best := eligible[0]
	return &best
}
