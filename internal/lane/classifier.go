// Package lane assigns Priority / In-Motion / On-Deck lanes to relationships
// and actions. Both classifiers are ordered rule tables: the first rule whose
// predicate holds decides the lane.
package lane

import (
	"fmt"
	"time"

	"github.com/kalambet/nextmove/internal/domain"
)

const (
	insightBusinessDays  = 5
	awaitingResponseDays = 7
	nextTouchWindowDays  = 7
	actionPriorityDays   = 2
	actionInMotionDays   = 14
)

// Rank orders lanes for sorting: priority < in_motion < on_deck.
func Rank(l domain.Lane) int {
	switch l {
	case domain.LanePriority:
		return 0
	case domain.LaneInMotion:
		return 1
	default:
		return 2
	}
}

// Decision is the outcome of a classification.
type Decision struct {
	Lane   domain.Lane `json:"lane"`
	Rule   string      `json:"rule"`
	Reason string      `json:"reason"`
}

// RelationshipInput is what the relationship classifier looks at.
type RelationshipInput struct {
	State domain.RelationshipState
	// EarliestInsightAt is a precomputed hook; nil when there is none.
	EarliestInsightAt *time.Time
}

type relationshipRule struct {
	name   string
	lane   domain.Lane
	match  func(in RelationshipInput, today time.Time) bool
	reason func(in RelationshipInput, today time.Time) string
}

var relationshipRules = []relationshipRule{
	{
		name: "overdue_actions",
		lane: domain.LanePriority,
		match: func(in RelationshipInput, _ time.Time) bool {
			return in.State.OverdueActionsCount > 0
		},
		reason: func(in RelationshipInput, _ time.Time) string {
			return fmt.Sprintf("%d overdue action(s)", in.State.OverdueActionsCount)
		},
	},
	{
		name: "upcoming_insight",
		lane: domain.LanePriority,
		match: func(in RelationshipInput, today time.Time) bool {
			if in.EarliestInsightAt == nil {
				return false
			}
			deadline := domain.AddBusinessDays(today, insightBusinessDays)
			insight := domain.DayIn(*in.EarliestInsightAt, today.Location())
			return domain.DaysBetween(insight, deadline) >= 0
		},
		reason: func(in RelationshipInput, today time.Time) string {
			return "insight due " + domain.DayIn(*in.EarliestInsightAt, today.Location()).Format(domain.DateLayout)
		},
	},
	{
		name: "declining_past_cadence",
		lane: domain.LanePriority,
		match: func(in RelationshipInput, _ time.Time) bool {
			s := in.State
			return s.MomentumTrend == domain.MomentumDeclining &&
				s.DaysSinceLastInteraction != nil && *s.DaysSinceLastInteraction > s.CadenceDays
		},
		reason: func(in RelationshipInput, _ time.Time) string {
			return fmt.Sprintf("momentum declining, %d days since last touch (cadence %d)",
				*in.State.DaysSinceLastInteraction, in.State.CadenceDays)
		},
	},
	{
		name: "awaiting_response",
		lane: domain.LanePriority,
		match: func(in RelationshipInput, _ time.Time) bool {
			s := in.State
			return s.AwaitingResponse && s.DaysSinceLastInteraction != nil &&
				*s.DaysSinceLastInteraction > awaitingResponseDays
		},
		reason: func(in RelationshipInput, _ time.Time) string {
			return fmt.Sprintf("awaiting reply for %d days", *in.State.DaysSinceLastInteraction)
		},
	},
	{
		name: "pending_actions",
		lane: domain.LaneInMotion,
		match: func(in RelationshipInput, _ time.Time) bool {
			return in.State.PendingActionsCount > 0
		},
		reason: func(in RelationshipInput, _ time.Time) string {
			return fmt.Sprintf("%d pending action(s)", in.State.PendingActionsCount)
		},
	},
	{
		name: "touch_due_soon",
		lane: domain.LaneInMotion,
		match: func(in RelationshipInput, today time.Time) bool {
			if in.State.NextTouchDueAt == nil {
				return false
			}
			d := domain.DaysBetween(today, *in.State.NextTouchDueAt)
			return d >= 0 && d <= nextTouchWindowDays
		},
		reason: func(in RelationshipInput, _ time.Time) string {
			return "next touch due " + in.State.NextTouchDueAt.Format(domain.DateLayout)
		},
	},
}

// ClassifyRelationship returns the relationship's lane as of ref.
func ClassifyRelationship(in RelationshipInput, ref time.Time) Decision {
	today := domain.Day(ref)
	for _, r := range relationshipRules {
		if r.match(in, today) {
			return Decision{Lane: r.lane, Rule: r.name, Reason: r.reason(in, today)}
		}
	}
	return Decision{Lane: domain.LaneOnDeck, Rule: "default", Reason: "nothing pressing"}
}

// ActionInput is what the action classifier looks at.
type ActionInput struct {
	Action           domain.Action
	RelationshipLane domain.Lane
}

type actionRule struct {
	name   string
	lane   domain.Lane
	match  func(in ActionInput, today time.Time) bool
	reason func(in ActionInput, today time.Time) string
}

var commitmentTypes = map[domain.ActionType]bool{
	domain.ActionFollowUp: true,
	domain.ActionCallPrep: true,
	domain.ActionPostCall: true,
}

var actionRules = []actionRule{
	{
		name: "due_soon",
		lane: domain.LanePriority,
		match: func(in ActionInput, today time.Time) bool {
			d, ok := daysUntilDue(in.Action, today)
			return ok && d <= actionPriorityDays
		},
		reason: func(in ActionInput, today time.Time) string {
			d, _ := daysUntilDue(in.Action, today)
			if d < 0 {
				return fmt.Sprintf("overdue by %d day(s)", -d)
			}
			return fmt.Sprintf("due in %d day(s)", d)
		},
	},
	{
		name: "open_commitment",
		lane: domain.LanePriority,
		match: func(in ActionInput, _ time.Time) bool {
			s := in.Action.State
			return commitmentTypes[in.Action.ActionType] && (s == domain.StateNew || s == domain.StateSent)
		},
		reason: func(in ActionInput, _ time.Time) string {
			return "open " + string(in.Action.ActionType)
		},
	},
	{
		name: "active_relationship",
		lane: domain.LaneInMotion,
		match: func(in ActionInput, today time.Time) bool {
			d, ok := daysUntilDue(in.Action, today)
			return ok && d <= actionInMotionDays &&
				(in.RelationshipLane == domain.LanePriority || in.RelationshipLane == domain.LaneInMotion)
		},
		reason: func(in ActionInput, today time.Time) string {
			d, _ := daysUntilDue(in.Action, today)
			return fmt.Sprintf("due in %d day(s) on an active relationship", d)
		},
	},
}

// ClassifyAction returns the action's lane as of ref.
func ClassifyAction(in ActionInput, ref time.Time) Decision {
	today := domain.Day(ref)
	for _, r := range actionRules {
		if r.match(in, today) {
			return Decision{Lane: r.lane, Rule: r.name, Reason: r.reason(in, today)}
		}
	}
	return Decision{Lane: domain.LaneOnDeck, Rule: "default", Reason: "no near-term pressure"}
}

func daysUntilDue(a domain.Action, today time.Time) (int, bool) {
	if a.DueDate == nil {
		return 0, false
	}
	return domain.DaysBetween(today, *a.DueDate), true
}
