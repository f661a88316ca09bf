// Package domain holds the types shared by the decision engine, the plan
// builder, and the storage layer.
package domain

import (
	"encoding/json"
	"time"
)

type Tier string

const (
	TierInner      Tier = "inner"
	TierActive     Tier = "active"
	TierWarm       Tier = "warm"
	TierBackground Tier = "background"
	TierNone       Tier = "none"
)

type Cadence string

const (
	CadenceFrequent   Cadence = "frequent"
	CadenceModerate   Cadence = "moderate"
	CadenceInfrequent Cadence = "infrequent"
	CadenceAdHoc      Cadence = "ad_hoc"
)

type MomentumTrend string

const (
	MomentumIncreasing MomentumTrend = "increasing"
	MomentumStable     MomentumTrend = "stable"
	MomentumDeclining  MomentumTrend = "declining"
	MomentumUnknown    MomentumTrend = "unknown"
)

// Lane is a coarse urgency bucket for a relationship or an action.
type Lane string

const (
	LanePriority Lane = "priority"
	LaneInMotion Lane = "in_motion"
	LaneOnDeck   Lane = "on_deck"
)

type ActionState string

const (
	StateNew       ActionState = "NEW"
	StateSent      ActionState = "SENT"
	StateSnoozed   ActionState = "SNOOZED"
	StateDone      ActionState = "DONE"
	StateReplied   ActionState = "REPLIED"
	StateDismissed ActionState = "DISMISSED"
)

// Pending reports whether the action still needs attention.
func (s ActionState) Pending() bool {
	return s == StateNew || s == StateSent || s == StateSnoozed
}

// Completed reports whether the action counts as finished for activity tracking.
func (s ActionState) Completed() bool {
	return s == StateDone || s == StateReplied
}

type ActionType string

const (
	ActionFollowUp ActionType = "FOLLOW_UP"
	ActionCallPrep ActionType = "CALL_PREP"
	ActionPostCall ActionType = "POST_CALL"
	ActionOutreach ActionType = "OUTREACH"
	ActionIntro    ActionType = "INTRO"
	ActionCheckIn  ActionType = "CHECK_IN"
	ActionOther    ActionType = "OTHER"
)

const (
	RelationshipActive   = "ACTIVE"
	RelationshipArchived = "ARCHIVED"
)

// Relationship is a person the user keeps in touch with.
type Relationship struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	Name              string        `json:"name"`
	Status            string        `json:"status"`
	Tier              Tier          `json:"tier"`
	Cadence           Cadence       `json:"cadence,omitempty"`
	CadenceDays       *int          `json:"cadence_days,omitempty"`
	MomentumTrend     MomentumTrend `json:"momentum_trend"`
	LastInteractionAt *time.Time    `json:"last_interaction_at,omitempty"`
	NextTouchDueAt    *time.Time    `json:"next_touch_due_at,omitempty"`
	EarliestInsightAt *time.Time    `json:"earliest_insight_at,omitempty"`
	NextMoveActionID  *string       `json:"next_move_action_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Action is a unit of work attached (or not) to a relationship. Lane and
// NextMoveScore are the only fields the engine writes.
type Action struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	PersonID         *string     `json:"person_id,omitempty"`
	ActionType       ActionType  `json:"action_type"`
	State            ActionState `json:"state"`
	Title            string      `json:"title"`
	DueDate          *time.Time  `json:"due_date,omitempty"`
	EstimatedMinutes *int        `json:"estimated_minutes,omitempty"`
	PromisedDueAt    *time.Time  `json:"promised_due_at,omitempty"`
	SnoozeUntil      *time.Time  `json:"snooze_until,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	Lane             *Lane       `json:"lane,omitempty"`
	NextMoveScore    *int        `json:"next_move_score,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// RelationshipState is recomputed on every run and never persisted.
type RelationshipState struct {
	RelationshipID           string        `json:"relationship_id"`
	Tier                     Tier          `json:"tier"`
	CadenceDays              int           `json:"cadence_days"`
	DaysSinceLastInteraction *int          `json:"days_since_last_interaction,omitempty"`
	PendingActionsCount      int           `json:"pending_actions_count"`
	OverdueActionsCount      int           `json:"overdue_actions_count"`
	AwaitingResponse         bool          `json:"awaiting_response"`
	MomentumTrend            MomentumTrend `json:"momentum_trend"`
	NextTouchDueAt           *time.Time    `json:"next_touch_due_at,omitempty"`
}

// EmailSignals are coarse per-relationship signals produced upstream.
type EmailSignals struct {
	HasOpenLoops       bool `json:"has_open_loops"`
	HasUnansweredAsks  bool `json:"has_unanswered_asks"`
	DaysSinceLastEmail *int `json:"days_since_last_email,omitempty"`
}

// CompletionDay is one plan-day of completion history.
type CompletionDay struct {
	Date           time.Time `json:"date"`
	Planned        int       `json:"planned"`
	Completed      int       `json:"completed"`
	CompletionRate float64   `json:"completion_rate"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }

// TimePtr returns a pointer to v.
func TimePtr(v time.Time) *time.Time { return &v }

const (
	ConnectionActive       = "active"
	ConnectionAuthError    = "auth_error"
	ConnectionDisconnected = "disconnected"
)

// CalendarConnection is an already-authorized link to a calendar provider.
type CalendarConnection struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Provider    string    `json:"provider"`
	CalendarID  string    `json:"calendar_id"`
	AccessToken string    `json:"-"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserSettings carries the per-user knobs the engine reads.
type UserSettings struct {
	UserID           string `json:"user_id"`
	Timezone         string `json:"timezone"`
	WorkStart        string `json:"work_start"`
	WorkEnd          string `json:"work_end"`
	PendingActionCap int    `json:"pending_action_cap"`
}

// ActionScore is the engine-owned pair written back onto an action.
type ActionScore struct {
	ActionID string `json:"action_id"`
	Lane     Lane   `json:"lane"`
	Score    int    `json:"score"`
}

// DailyPlan is a persisted plan header. A header with a CapacityOverride and
// no Actions is a shell that a later build may complete.
type DailyPlan struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	Date             time.Time         `json:"-"`
	CapacityLevel    string            `json:"capacity_level"`
	CapacityOverride *string           `json:"capacity_override,omitempty"`
	FreeMinutes      *int              `json:"free_minutes,omitempty"`
	FocusStatement   *string           `json:"focus_statement,omitempty"`
	AdaptiveReason   *string           `json:"adaptive_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	Actions          []DailyPlanAction `json:"actions"`
}

// DailyPlanAction links an action into a plan at a dense 0-based position.
type DailyPlanAction struct {
	PlanID    string  `json:"plan_id"`
	ActionID  string  `json:"action_id"`
	Position  int     `json:"position"`
	IsFastWin bool    `json:"is_fast_win"`
	Action    *Action `json:"action,omitempty"`
}

// MarshalJSON renders Date as YYYY-MM-DD.
func (p DailyPlan) MarshalJSON() ([]byte, error) {
	type plan DailyPlan
	return json.Marshal(struct {
		plan
		Date string `json:"date"`
	}{plan: plan(p), Date: p.Date.Format(DateLayout)})
}
