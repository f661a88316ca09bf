// Package fixtures loads YAML seed files describing a user's relationships,
// actions, calendar connections, and plan history. Dates are written relative
// to a reference day so a seed stays meaningful whenever it is applied.
package fixtures

import (
	"bytes"
	"crypto/rand"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/freebusy"
)

//go:embed demo.yaml
var demo []byte

// Demo returns the built-in demo fixture.
func Demo() (Fixture, error) {
	return Parse(demo)
}

type Fixture struct {
	UserID        string         `yaml:"user_id"`
	Settings      *Settings      `yaml:"settings"`
	Relationships []Relationship `yaml:"relationships"`
	Actions       []Action       `yaml:"actions"`
	Signals       []Signal       `yaml:"signals"`
	Connections   []Connection   `yaml:"connections"`
	History       []HistoryDay   `yaml:"history"`
}

type Settings struct {
	Timezone         string `yaml:"timezone"`
	WorkStart        string `yaml:"work_start"`
	WorkEnd          string `yaml:"work_end"`
	PendingActionCap int    `yaml:"pending_action_cap"`
}

type Relationship struct {
	ID                    string `yaml:"id"`
	Name                  string `yaml:"name"`
	Tier                  string `yaml:"tier"`
	Cadence               string `yaml:"cadence"`
	CadenceDays           *int   `yaml:"cadence_days"`
	Momentum              string `yaml:"momentum"`
	LastInteractionAgo    *int   `yaml:"last_interaction_days_ago"`
	NextTouchInDays       *int   `yaml:"next_touch_in_days"`
	EarliestInsightInDays *int   `yaml:"earliest_insight_in_days"`
	Archived              bool   `yaml:"archived"`
}

type Action struct {
	ID               string `yaml:"id"`
	Person           string `yaml:"person"`
	Type             string `yaml:"type"`
	State            string `yaml:"state"`
	Title            string `yaml:"title"`
	DueInDays        *int   `yaml:"due_in_days"`
	EstimatedMinutes *int   `yaml:"estimated_minutes"`
	PromisedInDays   *int   `yaml:"promised_in_days"`
	SnoozeDays       *int   `yaml:"snooze_days"`
	CompletedDaysAgo *int   `yaml:"completed_days_ago"`
}

type Signal struct {
	Relationship       string `yaml:"relationship"`
	OpenLoops          bool   `yaml:"open_loops"`
	UnansweredAsks     bool   `yaml:"unanswered_asks"`
	DaysSinceLastEmail *int   `yaml:"days_since_last_email"`
}

type Connection struct {
	ID          string `yaml:"id"`
	Provider    string `yaml:"provider"`
	CalendarID  string `yaml:"calendar_id"`
	AccessToken string `yaml:"access_token"`
}

// HistoryDay is a past plan with Planned rows, Completed of them finished.
type HistoryDay struct {
	DaysAgo   int `yaml:"days_ago"`
	Planned   int `yaml:"planned"`
	Completed int `yaml:"completed"`
}

// Parse decodes and validates a fixture.
func Parse(data []byte) (Fixture, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Fixture{}, fmt.Errorf("fixtures: payload is empty")
	}
	var f Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Fixture{}, fmt.Errorf("fixtures: decode: %w", err)
	}
	if err := f.validate(); err != nil {
		return Fixture{}, err
	}
	return f, nil
}

// LoadFile reads and parses a fixture file.
func LoadFile(path string) (Fixture, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("fixtures: read %s: %w", path, err)
	}
	f, err := Parse(content)
	if err != nil {
		return Fixture{}, fmt.Errorf("fixtures: %s: %w", path, err)
	}
	return f, nil
}

func (f Fixture) validate() error {
	if f.UserID == "" {
		return fmt.Errorf("fixtures: user_id is required")
	}
	rels := make(map[string]bool, len(f.Relationships))
	for i, r := range f.Relationships {
		if r.ID == "" {
			return fmt.Errorf("fixtures: relationships[%d]: id is required", i)
		}
		if rels[r.ID] {
			return fmt.Errorf("fixtures: relationships[%d]: duplicate id %q", i, r.ID)
		}
		rels[r.ID] = true
	}
	for i, a := range f.Actions {
		if a.Person != "" && !rels[a.Person] {
			return fmt.Errorf("fixtures: actions[%d]: unknown person %q", i, a.Person)
		}
		if a.Title == "" {
			return fmt.Errorf("fixtures: actions[%d]: title is required", i)
		}
	}
	for i, s := range f.Signals {
		if !rels[s.Relationship] {
			return fmt.Errorf("fixtures: signals[%d]: unknown relationship %q", i, s.Relationship)
		}
	}
	for i, c := range f.Connections {
		if !freebusy.KnownProvider(c.Provider) {
			return fmt.Errorf("fixtures: connections[%d]: unsupported provider %q", i, c.Provider)
		}
	}
	for i, h := range f.History {
		if h.DaysAgo <= 0 {
			return fmt.Errorf("fixtures: history[%d]: days_ago must be positive", i)
		}
		if h.Completed > h.Planned {
			return fmt.Errorf("fixtures: history[%d]: completed exceeds planned", i)
		}
	}
	return nil
}

// Store is the subset of storage the seeder writes through.
type Store interface {
	UpsertUserSettings(s domain.UserSettings) error
	CreateRelationship(r domain.Relationship) error
	CreateAction(a domain.Action) error
	UpsertEmailSignals(userID, relationshipID string, sig domain.EmailSignals) error
	CreateCalendarConnection(c domain.CalendarConnection) error
	CreatePlan(p domain.DailyPlan) error
	InsertPlanActions(planID string, rows []domain.DailyPlanAction) error
}

// Summary counts what Apply wrote.
type Summary struct {
	Relationships int `json:"relationships"`
	Actions       int `json:"actions"`
	Signals       int `json:"signals"`
	Connections   int `json:"connections"`
	Plans         int `json:"plans"`
}

// Apply writes the fixture with every relative date resolved against today.
func (f Fixture) Apply(store Store, today time.Time) (Summary, error) {
	var sum Summary
	today = domain.Day(today)
	at := func(days int) *time.Time {
		t := today.AddDate(0, 0, days)
		return &t
	}
	atOpt := func(days *int, sign int) *time.Time {
		if days == nil {
			return nil
		}
		return at(sign * *days)
	}

	if f.Settings != nil {
		s := domain.UserSettings{
			UserID:           f.UserID,
			Timezone:         f.Settings.Timezone,
			WorkStart:        f.Settings.WorkStart,
			WorkEnd:          f.Settings.WorkEnd,
			PendingActionCap: f.Settings.PendingActionCap,
		}
		if err := store.UpsertUserSettings(s); err != nil {
			return sum, fmt.Errorf("seeding settings: %w", err)
		}
	}

	for _, r := range f.Relationships {
		rel := domain.Relationship{
			ID:                r.ID,
			UserID:            f.UserID,
			Name:              r.Name,
			Status:            domain.RelationshipActive,
			Tier:              domain.Tier(r.Tier),
			Cadence:           domain.Cadence(r.Cadence),
			CadenceDays:       r.CadenceDays,
			MomentumTrend:     domain.MomentumTrend(r.Momentum),
			LastInteractionAt: atOpt(r.LastInteractionAgo, -1),
			NextTouchDueAt:    atOpt(r.NextTouchInDays, 1),
			EarliestInsightAt: atOpt(r.EarliestInsightInDays, 1),
		}
		if r.Archived {
			rel.Status = domain.RelationshipArchived
		}
		if err := store.CreateRelationship(rel); err != nil {
			return sum, fmt.Errorf("seeding relationship %s: %w", r.ID, err)
		}
		sum.Relationships++
	}

	for _, a := range f.Actions {
		act := domain.Action{
			ID:               a.ID,
			UserID:           f.UserID,
			ActionType:       domain.ActionType(a.Type),
			State:            domain.ActionState(a.State),
			Title:            a.Title,
			DueDate:          atOpt(a.DueInDays, 1),
			EstimatedMinutes: a.EstimatedMinutes,
			PromisedDueAt:    atOpt(a.PromisedInDays, 1),
			SnoozeUntil:      atOpt(a.SnoozeDays, 1),
			CompletedAt:      atOpt(a.CompletedDaysAgo, -1),
		}
		if act.ID == "" {
			act.ID = uuid.New().String()
		}
		if act.ActionType == "" {
			act.ActionType = domain.ActionOther
		}
		if act.State == "" {
			act.State = domain.StateNew
		}
		if a.Person != "" {
			act.PersonID = domain.StringPtr(a.Person)
		}
		if err := store.CreateAction(act); err != nil {
			return sum, fmt.Errorf("seeding action %q: %w", a.Title, err)
		}
		sum.Actions++
	}

	for _, s := range f.Signals {
		sig := domain.EmailSignals{
			HasOpenLoops:       s.OpenLoops,
			HasUnansweredAsks:  s.UnansweredAsks,
			DaysSinceLastEmail: s.DaysSinceLastEmail,
		}
		if err := store.UpsertEmailSignals(f.UserID, s.Relationship, sig); err != nil {
			return sum, fmt.Errorf("seeding signals for %s: %w", s.Relationship, err)
		}
		sum.Signals++
	}

	for _, c := range f.Connections {
		conn := domain.CalendarConnection{
			ID:          c.ID,
			UserID:      f.UserID,
			Provider:    c.Provider,
			CalendarID:  c.CalendarID,
			AccessToken: c.AccessToken,
			Status:      domain.ConnectionActive,
		}
		if conn.ID == "" {
			conn.ID = uuid.New().String()
		}
		if err := store.CreateCalendarConnection(conn); err != nil {
			return sum, fmt.Errorf("seeding connection %s: %w", conn.ID, err)
		}
		sum.Connections++
	}

	for _, h := range f.History {
		if err := seedHistoryDay(store, f.UserID, today, h); err != nil {
			return sum, err
		}
		sum.Plans++
	}
	return sum, nil
}

// seedHistoryDay writes a past plan whose rows point at synthetic actions,
// Completed of them DONE and the rest DISMISSED.
func seedHistoryDay(store Store, userID string, today time.Time, h HistoryDay) error {
	date := today.AddDate(0, 0, -h.DaysAgo)
	planID := ulid.MustNew(ulid.Timestamp(date), ulid.Monotonic(rand.Reader, 0)).String()
	plan := domain.DailyPlan{ID: planID, UserID: userID, Date: date, CapacityLevel: "standard"}
	if err := store.CreatePlan(plan); err != nil {
		return fmt.Errorf("seeding plan for %s: %w", date.Format(domain.DateLayout), err)
	}

	rows := make([]domain.DailyPlanAction, 0, h.Planned)
	for i := 0; i < h.Planned; i++ {
		a := domain.Action{
			ID:         uuid.New().String(),
			UserID:     userID,
			ActionType: domain.ActionOther,
			State:      domain.StateDismissed,
			Title:      fmt.Sprintf("Planned item %d", i+1),
			DueDate:    domain.TimePtr(date),
		}
		if i < h.Completed {
			a.State = domain.StateDone
			a.CompletedAt = domain.TimePtr(date.Add(12 * time.Hour))
		}
		if err := store.CreateAction(a); err != nil {
			return fmt.Errorf("seeding history action: %w", err)
		}
		rows = append(rows, domain.DailyPlanAction{PlanID: planID, ActionID: a.ID, Position: i})
	}
	if err := store.InsertPlanActions(planID, rows); err != nil {
		return fmt.Errorf("seeding plan rows for %s: %w", date.Format(domain.DateLayout), err)
	}
	return nil
}
