package plan

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/nextmove/internal/capacity"
	"github.com/kalambet/nextmove/internal/decision"
	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/storage"
)

var planDate = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

func due(offset int) *time.Time {
	t := planDate.AddDate(0, 0, offset)
	return &t
}

// memStore implements both plan.Store and decision.Store.
type memStore struct {
	rels     []domain.Relationship
	actions  []domain.Action
	plans    map[string]*domain.DailyPlan
	settings domain.UserSettings

	scores   []domain.ActionScore
	nextMove [2]string
	created  []domain.Action
	deleted  []string
	updated  int
	failRows bool
	conflict bool

	// stale is handed out by the next GetPlan instead of the stored plan.
	stale  *domain.DailyPlan
	getErr error
	gets   int
}

func newMemStore() *memStore {
	return &memStore{plans: make(map[string]*domain.DailyPlan)}
}

func (m *memStore) GetPlan(userID string, date time.Time) (*domain.DailyPlan, error) {
	m.gets++
	if m.getErr != nil && m.gets > 1 {
		return nil, m.getErr
	}
	if m.stale != nil {
		cp := *m.stale
		m.stale = nil
		return &cp, nil
	}
	for _, p := range m.plans {
		if p.UserID == userID && p.Date.Equal(date) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) CreatePlan(p domain.DailyPlan) error {
	if m.conflict {
		m.plans["winner"] = &domain.DailyPlan{ID: "winner", UserID: p.UserID, Date: p.Date,
			Actions: []domain.DailyPlanAction{{PlanID: "winner", ActionID: "zz"}}}
		return fmt.Errorf("inserting plan: %w", storage.ErrConflict)
	}
	m.plans[p.ID] = &p
	return nil
}

func (m *memStore) CompletePlanShell(p domain.DailyPlan) error {
	m.updated++
	cur, ok := m.plans[p.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if len(cur.Actions) > 0 {
		return fmt.Errorf("plan %s: %w", p.ID, storage.ErrConflict)
	}
	if m.failRows {
		return errors.New("constraint failed")
	}
	m.plans[p.ID] = &p
	return nil
}

func (m *memStore) InsertPlanActions(planID string, rows []domain.DailyPlanAction) error {
	if m.failRows {
		return errors.New("constraint failed")
	}
	m.plans[planID].Actions = rows
	return nil
}

func (m *memStore) DeletePlan(id string) error {
	m.deleted = append(m.deleted, id)
	delete(m.plans, id)
	return nil
}

func (m *memStore) ListCandidateActions(_ string, date time.Time) ([]domain.Action, error) {
	var out []domain.Action
	for _, a := range m.actions {
		if a.DueDate == nil || domain.DaysBetween(*a.DueDate, date) < 0 {
			continue
		}
		switch a.State {
		case domain.StateNew:
			out = append(out, a)
		case domain.StateSnoozed:
			if a.SnoozeUntil == nil || domain.DaysBetween(*a.SnoozeUntil, date) >= 0 {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (m *memStore) CreateAction(a domain.Action) error {
	m.created = append(m.created, a)
	m.actions = append(m.actions, a)
	return nil
}

func (m *memStore) GetUserSettings(userID string) (domain.UserSettings, error) {
	s := m.settings
	s.UserID = userID
	return s, nil
}

func (m *memStore) ListActiveRelationships(string) ([]domain.Relationship, error) { return m.rels, nil }

func (m *memStore) ListPendingActions(string) ([]domain.Action, error) {
	var out []domain.Action
	for _, a := range m.actions {
		if a.State.Pending() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) LastCompletionByRelationship(string) (map[string]time.Time, error) {
	return nil, nil
}

func (m *memStore) UpdateActionScores(scores []domain.ActionScore) error {
	m.scores = append(m.scores, scores...)
	return nil
}

func (m *memStore) SetNextMove(_, relationshipID, actionID string) error {
	m.nextMove = [2]string{relationshipID, actionID}
	return nil
}

func (m *memStore) ClearNextMove(string) error {
	m.nextMove = [2]string{}
	return nil
}

type fixedBudget struct {
	actions  int
	override *capacity.Level
}

func (f *fixedBudget) Budget(_ context.Context, _ string, _ time.Time, override *capacity.Level) (capacity.Budget, error) {
	f.override = override
	if override != nil {
		return capacity.Budget{Level: *override, Actions: capacity.ForLevel(*override), Source: capacity.SourceOverride}, nil
	}
	return capacity.Budget{
		Level:          capacity.LevelLight,
		Actions:        f.actions,
		FreeMinutes:    domain.IntPtr(50),
		Source:         capacity.SourceAdaptive,
		AdaptiveReason: capacity.ReasonLowCompletion,
		FocusStatement: "Fewer moves today.",
	}, nil
}

func seeded() *memStore {
	m := newMemStore()
	r1, r2 := domain.StringPtr("r1"), domain.StringPtr("r2")
	m.rels = []domain.Relationship{
		{ID: "r1", Name: "Ada", Tier: domain.TierInner, Status: domain.RelationshipActive},
		{ID: "r2", Name: "Grace", Tier: domain.TierActive, Status: domain.RelationshipActive},
	}
	m.actions = []domain.Action{
		// Priority, 40+0+20+10 = 70, too long for a fast win.
		{ID: "a-long", PersonID: r1, ActionType: domain.ActionFollowUp, State: domain.StateNew, DueDate: due(-2), EstimatedMinutes: domain.IntPtr(60)},
		// Priority, 30+0+10+15 = 55, fast win.
		{ID: "a-quick", PersonID: r2, ActionType: domain.ActionOther, State: domain.StateNew, DueDate: due(0), EstimatedMinutes: domain.IntPtr(10)},
		// Priority via commitment, due today too.
		{ID: "a-call", PersonID: r2, ActionType: domain.ActionCallPrep, State: domain.StateSnoozed, DueDate: due(0), SnoozeUntil: due(-1)},
		{ID: "a-extra", ActionType: domain.ActionOther, State: domain.StateNew, DueDate: due(-1), EstimatedMinutes: domain.IntPtr(200)},
		// Not a candidate: snoozed past the plan date.
		{ID: "a-snoozed", PersonID: r1, ActionType: domain.ActionOther, State: domain.StateSnoozed, DueDate: due(0), SnoozeUntil: due(2)},
		// Not a candidate: due later.
		{ID: "a-later", PersonID: r1, ActionType: domain.ActionOther, State: domain.StateNew, DueDate: due(5)},
	}
	return m
}

func newBuilder(m *memStore, budget int) (*Builder, *fixedBudget) {
	fb := &fixedBudget{actions: budget}
	b := NewBuilder(m, decision.NewEngine(m, nil), fb, 0)
	b.now = func() time.Time { return planDate.Add(7 * time.Hour) }
	return b, fb
}

func assertPlanShape(t *testing.T, rows []domain.DailyPlanAction) {
	t.Helper()
	fast := 0
	for i, r := range rows {
		assert.Equal(t, i, r.Position, "positions are dense and 0-based")
		if r.IsFastWin {
			fast++
			assert.Equal(t, 0, r.Position, "fast win sits at position 0")
		}
	}
	assert.LessOrEqual(t, fast, 1)
}

func TestBuild_PersistsPlan(t *testing.T) {
	m := seeded()
	b, _ := newBuilder(m, 3)

	out, err := b.Build(context.Background(), "u1", planDate.Add(15*time.Hour), Options{Persist: true})
	require.NoError(t, err)
	require.Nil(t, out.Failure)
	assert.Equal(t, StatePersisted, out.State)

	p := out.Plan
	require.NotNil(t, p)
	assert.Len(t, p.ID, 26, "ULID")
	assert.Equal(t, planDate, p.Date)
	assert.Equal(t, "light", p.CapacityLevel)
	assert.Equal(t, 50, *p.FreeMinutes)
	assert.Equal(t, "low_completion", *p.AdaptiveReason)
	assert.Equal(t, "Fewer moves today.", *p.FocusStatement)

	require.Len(t, p.Actions, 3)
	assertPlanShape(t, p.Actions)
	assert.Equal(t, "a-quick", p.Actions[0].ActionID)
	assert.True(t, p.Actions[0].IsFastWin)
	assert.Equal(t, "a-long", p.Actions[1].ActionID)
	assert.Equal(t, p.ID, p.Actions[1].PlanID)

	stored := m.plans[p.ID]
	require.NotNil(t, stored)
	assert.Len(t, stored.Actions, 3)

	assert.Len(t, m.scores, 4, "every candidate gets lane and score")
	assert.Equal(t, [2]string{"r1", "a-long"}, m.nextMove)
}

func TestBuild_NoFastWin(t *testing.T) {
	m := newMemStore()
	m.rels = []domain.Relationship{{ID: "r1", Name: "Ada", Tier: domain.TierWarm}}
	m.actions = []domain.Action{
		{ID: "b", PersonID: domain.StringPtr("r1"), ActionType: domain.ActionOther, State: domain.StateNew, DueDate: due(0), EstimatedMinutes: domain.IntPtr(300)},
		{ID: "a", PersonID: domain.StringPtr("r1"), ActionType: domain.ActionOther, State: domain.StateNew, DueDate: due(0), EstimatedMinutes: domain.IntPtr(300)},
	}
	b, _ := newBuilder(m, 5)

	out, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true})
	require.NoError(t, err)
	require.Len(t, out.Plan.Actions, 2)
	assertPlanShape(t, out.Plan.Actions)
	assert.False(t, out.Plan.Actions[0].IsFastWin)
	assert.Equal(t, "a", out.Plan.Actions[0].ActionID, "ties break on action ID")
}

func TestBuild_FastWinExclusiveAcrossBudgets(t *testing.T) {
	for budget := 1; budget <= 6; budget++ {
		t.Run(fmt.Sprintf("budget=%d", budget), func(t *testing.T) {
			m := seeded()
			m.actions = append(m.actions,
				domain.Action{ID: "a-quick2", PersonID: domain.StringPtr("r1"), ActionType: domain.ActionFollowUp, State: domain.StateNew, DueDate: due(0), EstimatedMinutes: domain.IntPtr(5)},
			)
			b, _ := newBuilder(m, budget)

			out, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true})
			require.NoError(t, err)
			assert.LessOrEqual(t, len(out.Plan.Actions), budget)
			assertPlanShape(t, out.Plan.Actions)
			assert.True(t, out.Plan.Actions[0].IsFastWin)
		})
	}
}

func TestBuild_AlreadyExists(t *testing.T) {
	m := seeded()
	m.plans["p1"] = &domain.DailyPlan{ID: "p1", UserID: "u1", Date: planDate,
		Actions: []domain.DailyPlanAction{{PlanID: "p1", ActionID: "a-long"}}}
	b, _ := newBuilder(m, 3)

	out, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true})
	require.NoError(t, err)
	require.NotNil(t, out.Failure)
	assert.Equal(t, CodeAlreadyExists, out.Failure.Code)
	assert.Equal(t, "p1", out.Plan.ID)
	assert.Empty(t, m.scores)
}

func TestBuild_CompletesOverrideShell(t *testing.T) {
	m := seeded()
	created := planDate.Add(-time.Hour)
	m.plans["shell"] = &domain.DailyPlan{ID: "shell", UserID: "u1", Date: planDate,
		CapacityLevel: "micro", CapacityOverride: domain.StringPtr("micro"), CreatedAt: created}
	b, fb := newBuilder(m, 3)

	out, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true})
	require.NoError(t, err)
	require.Nil(t, out.Failure)

	require.NotNil(t, fb.override)
	assert.Equal(t, capacity.LevelMicro, *fb.override)
	assert.Equal(t, "shell", out.Plan.ID)
	assert.Equal(t, created, out.Plan.CreatedAt)
	assert.Equal(t, "micro", *out.Plan.CapacityOverride)
	assert.Len(t, out.Plan.Actions, 2)
	assert.Equal(t, 1, m.updated)
	assert.Len(t, m.plans["shell"].Actions, 2)
}

func TestBuild_CompensatingDelete(t *testing.T) {
	m := seeded()
	m.failRows = true
	b, _ := newBuilder(m, 3)

	_, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true})
	require.Error(t, err)
	assert.Len(t, m.deleted, 1)
	assert.Empty(t, m.plans, "no header without actions")
	assert.Empty(t, m.scores)
}

func TestBuild_ShellSurvivesRowFailure(t *testing.T) {
	m := seeded()
	m.failRows = true
	m.plans["shell"] = &domain.DailyPlan{ID: "shell", UserID: "u1", Date: planDate, CapacityOverride: domain.StringPtr("light")}
	b, _ := newBuilder(m, 3)

	_, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true})
	require.Error(t, err)
	assert.Empty(t, m.deleted)
	assert.Contains(t, m.plans, "shell")
}

func TestBuild_ConflictIsAlreadyExists(t *testing.T) {
	m := seeded()
	m.conflict = true
	b, _ := newBuilder(m, 3)

	out, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true})
	require.NoError(t, err)
	require.NotNil(t, out.Failure)
	assert.Equal(t, CodeAlreadyExists, out.Failure.Code)
	assert.Equal(t, "winner", out.Plan.ID)
}

func TestBuild_StaleShellIsAlreadyExists(t *testing.T) {
	m := seeded()
	shell := domain.DailyPlan{ID: "shell", UserID: "u1", Date: planDate, CapacityOverride: domain.StringPtr("light")}
	m.plans["shell"] = &shell
	b, _ := newBuilder(m, 3)

	first, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true})
	require.NoError(t, err)
	require.Nil(t, first.Failure)
	winner := *m.plans["shell"]
	scores := len(m.scores)

	// The second build read the shell before the first one wrote its rows.
	stale := shell
	m.stale = &stale
	out, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true})
	require.NoError(t, err)
	require.NotNil(t, out.Failure)
	assert.Equal(t, CodeAlreadyExists, out.Failure.Code)
	assert.Equal(t, StatePersisted, out.State)
	require.NotNil(t, out.Plan)
	assert.Equal(t, "shell", out.Plan.ID)
	assert.Len(t, out.Plan.Actions, len(winner.Actions))

	assert.Equal(t, winner.Actions, m.plans["shell"].Actions, "winner's rows are untouched")
	assert.Len(t, m.scores, scores, "losing build writes no scores")
	assert.Empty(t, m.deleted)
}

func TestBuild_ConflictReadFailureIsError(t *testing.T) {
	m := seeded()
	m.conflict = true
	m.getErr = errors.New("database is locked")
	b, _ := newBuilder(m, 3)

	out, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestBuild_CreatesOutreach(t *testing.T) {
	m := newMemStore()
	m.settings.PendingActionCap = 2
	m.rels = []domain.Relationship{
		{ID: "r3", Name: "Linus", Tier: domain.TierWarm},
		{ID: "r1", Name: "Ada", Tier: domain.TierInner},
		{ID: "r2", Name: "Grace", Tier: domain.TierActive},
	}
	m.actions = []domain.Action{
		{ID: "later", PersonID: domain.StringPtr("r2"), ActionType: domain.ActionOther, State: domain.StateNew, DueDate: due(9)},
	}
	b, _ := newBuilder(m, 4)

	out, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true})
	require.NoError(t, err)
	require.Nil(t, out.Failure)

	require.Len(t, m.created, 1, "cap of 2 with 1 pending leaves one slot")
	a := m.created[0]
	assert.Equal(t, domain.ActionOutreach, a.ActionType)
	assert.Equal(t, "r1", *a.PersonID)
	assert.Equal(t, "Reach out to Ada", a.Title)
	assert.Equal(t, planDate, *a.DueDate)

	require.Len(t, out.Plan.Actions, 1)
	assert.Equal(t, a.ID, out.Plan.Actions[0].ActionID)
}

func TestBuild_OutreachDryRunDoesNotWrite(t *testing.T) {
	m := newMemStore()
	m.rels = []domain.Relationship{{ID: "r1", Name: "Ada", Tier: domain.TierInner}}
	b, _ := newBuilder(m, 4)

	out, err := b.Build(context.Background(), "u1", planDate, Options{})
	require.NoError(t, err)
	require.Nil(t, out.Failure)
	assert.Equal(t, StateComputing, out.State)
	assert.Len(t, out.Plan.Actions, 1)
	assert.Empty(t, m.created)
	assert.Empty(t, m.plans)
	assert.Empty(t, m.scores)
}

func TestBuild_Failures(t *testing.T) {
	t.Run("no relationships", func(t *testing.T) {
		b, _ := newBuilder(newMemStore(), 3)
		out, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true})
		require.NoError(t, err)
		assert.Equal(t, StateFailed, out.State)
		assert.Equal(t, CodeNoRelationships, out.Failure.Code)
		assert.NotEmpty(t, out.Failure.Message)
	})

	t.Run("cap reached", func(t *testing.T) {
		m := newMemStore()
		m.settings.PendingActionCap = 1
		m.rels = []domain.Relationship{{ID: "r1"}, {ID: "r2"}}
		m.actions = []domain.Action{{ID: "x", PersonID: domain.StringPtr("r1"), State: domain.StateNew, DueDate: due(3)}}
		b, _ := newBuilder(m, 3)

		out, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true})
		require.NoError(t, err)
		assert.Equal(t, CodeNoCandidates, out.Failure.Code)
		assert.Empty(t, m.created)
	})

	t.Run("everything too long", func(t *testing.T) {
		m := seeded()
		b, _ := newBuilder(m, 3)
		out, err := b.Build(context.Background(), "u1", planDate, Options{Persist: true, MaxDurationMinutes: 5})
		require.NoError(t, err)
		require.Nil(t, out.Failure, "unestimated actions pass the duration filter")
		for _, r := range out.Plan.Actions {
			assert.Equal(t, "a-call", r.ActionID)
		}
	})
}

func TestSelectRows(t *testing.T) {
	cand := func(id string, l domain.Lane, score int, est *int) decision.Candidate {
		c := decision.Candidate{Action: domain.Action{ID: id, EstimatedMinutes: est}}
		c.Lane.Lane = l
		c.Scored.ActionID = id
		c.Scored.Score = score
		return c
	}
	sorted := []decision.Candidate{
		cand("p1", domain.LanePriority, 80, domain.IntPtr(45)),
		cand("p2", domain.LanePriority, 50, nil),
		cand("p3", domain.LanePriority, 49, domain.IntPtr(5)),
		cand("m1", domain.LaneInMotion, 90, domain.IntPtr(5)),
	}

	rows := selectRows(sorted, 3)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"p2", "p1", "p3"}, []string{rows[0].ActionID, rows[1].ActionID, rows[2].ActionID})
	assert.True(t, rows[0].IsFastWin)
	assertPlanShape(t, rows)

	assert.Len(t, selectRows(sorted, 1), 1)
	assert.Equal(t, "p2", selectRows(sorted, 1)[0].ActionID)
	assert.Empty(t, selectRows(sorted, 0))
	assert.Len(t, selectRows(sorted, 10), 4)
}
