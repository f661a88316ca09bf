package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/lane"
	"github.com/kalambet/nextmove/internal/scoring"
)

var ref = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC) // Monday

func due(offset int) *time.Time {
	t := ref.AddDate(0, 0, offset)
	return &t
}

func fixture() Inputs {
	return Inputs{
		Relationships: []domain.Relationship{
			{ID: "r2", Name: "Grace", Tier: domain.TierWarm, Status: domain.RelationshipActive},
			{ID: "r1", Name: "Ada", Tier: domain.TierInner, Status: domain.RelationshipActive},
		},
		Pending: []domain.Action{
			{ID: "a3", ActionType: domain.ActionOther, State: domain.StateNew, DueDate: due(20)},
			{ID: "a2", PersonID: domain.StringPtr("r1"), ActionType: domain.ActionOther, State: domain.StateNew, DueDate: due(10)},
			{ID: "a1", PersonID: domain.StringPtr("r1"), ActionType: domain.ActionFollowUp, State: domain.StateNew, DueDate: due(-1), EstimatedMinutes: domain.IntPtr(20)},
		},
	}
}

func TestEvaluate(t *testing.T) {
	res := Evaluate(fixture(), ref)

	assert.Equal(t, "2026-05-04", res.ReferenceDate)
	require.Len(t, res.Relationships, 2)
	assert.Equal(t, "r1", res.Relationships[0].RelationshipID)
	assert.Equal(t, domain.LanePriority, res.Relationships[0].Lane.Lane)
	assert.Equal(t, "overdue_actions", res.Relationships[0].Lane.Rule)
	assert.Equal(t, 2, res.Relationships[0].State.PendingActionsCount)
	assert.Equal(t, domain.LaneOnDeck, res.Relationships[1].Lane.Lane)

	require.Len(t, res.Candidates, 3)
	ids := []string{res.Candidates[0].Action.ID, res.Candidates[1].Action.ID, res.Candidates[2].Action.ID}
	assert.Equal(t, []string{"a1", "a2", "a3"}, ids)

	a1 := res.Candidates[0]
	assert.Equal(t, domain.LanePriority, a1.Lane.Lane)
	assert.Equal(t, 75, a1.Scored.Score)

	a2 := res.Candidates[1]
	assert.Equal(t, domain.LaneInMotion, a2.Lane.Lane)
	assert.Equal(t, "active_relationship", a2.Lane.Rule)
	assert.Equal(t, 30, a2.Scored.Score)

	a3 := res.Candidates[2]
	assert.Equal(t, domain.LaneOnDeck, a3.Lane.Lane)
	assert.Equal(t, 15, a3.Scored.Score)
	assert.Empty(t, a3.RelationshipLane)

	require.NotNil(t, res.Best)
	assert.Equal(t, "a1", res.Best.Action.ID)
}

func TestEvaluate_Deterministic(t *testing.T) {
	first := Evaluate(fixture(), ref)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Evaluate(fixture(), ref))
	}
}

func TestEvaluate_CandidatesSubset(t *testing.T) {
	in := fixture()
	in.Candidates = []domain.Action{in.Pending[1]}

	res := Evaluate(in, ref)

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "a2", res.Candidates[0].Action.ID)
	assert.Equal(t, 2, res.Relationships[0].State.PendingActionsCount, "state still sees every pending action")
}

func TestEvaluate_BestTieBreak(t *testing.T) {
	in := Inputs{Pending: []domain.Action{
		{ID: "b", ActionType: domain.ActionFollowUp, State: domain.StateNew, DueDate: due(1)},
		{ID: "a", ActionType: domain.ActionFollowUp, State: domain.StateNew, DueDate: due(1)},
	}}
	res := Evaluate(in, ref)
	require.NotNil(t, res.Best)
	assert.Equal(t, "a", res.Best.Action.ID)
}

func TestEvaluate_OnDeckIsNeverBest(t *testing.T) {
	in := Inputs{Pending: []domain.Action{
		{ID: "x", ActionType: domain.ActionOther, State: domain.StateNew, DueDate: due(30)},
	}}
	res := Evaluate(in, ref)
	assert.Len(t, res.Candidates, 1)
	assert.Nil(t, res.Best)
}

func TestEvaluate_UsesSignals(t *testing.T) {
	in := fixture()
	in.Signals = map[string]*domain.EmailSignals{"r1": {HasOpenLoops: true, HasUnansweredAsks: true}}

	res := Evaluate(in, ref)
	assert.Equal(t, 15, res.Candidates[0].Scored.Breakdown.StallRisk)
	assert.Equal(t, 0, res.Candidates[2].Scored.Breakdown.StallRisk)
}

type fakeStore struct {
	in         Inputs
	scores     []domain.ActionScore
	nextMove   [2]string
	cleared    int
	failScores bool
}

func (f *fakeStore) ListActiveRelationships(string) ([]domain.Relationship, error) {
	return f.in.Relationships, nil
}

func (f *fakeStore) ListPendingActions(string) ([]domain.Action, error) { return f.in.Pending, nil }

func (f *fakeStore) LastCompletionByRelationship(string) (map[string]time.Time, error) {
	return f.in.LastCompleted, nil
}

func (f *fakeStore) UpdateActionScores(scores []domain.ActionScore) error {
	if f.failScores {
		return errors.New("disk full")
	}
	f.scores = append(f.scores, scores...)
	return nil
}

func (f *fakeStore) SetNextMove(_, relationshipID, actionID string) error {
	f.nextMove = [2]string{relationshipID, actionID}
	return nil
}

func (f *fakeStore) ClearNextMove(string) error {
	f.cleared++
	f.nextMove = [2]string{}
	return nil
}

type fakeSignals map[string]*domain.EmailSignals

func (f fakeSignals) GetSignals(_ context.Context, _, relationshipID string) (*domain.EmailSignals, error) {
	if relationshipID == "r2" {
		return nil, errors.New("upstream unavailable")
	}
	return f[relationshipID], nil
}

func TestEngine_RunPersists(t *testing.T) {
	store := &fakeStore{in: fixture()}
	eng := NewEngine(store, fakeSignals{"r1": {HasOpenLoops: true}})

	res, err := eng.Run(context.Background(), "u1", Options{Persist: true, ReferenceDate: ref})
	require.NoError(t, err)

	assert.Equal(t, 8, res.Candidates[0].Scored.Breakdown.StallRisk)
	assert.Len(t, store.scores, 3)
	assert.Contains(t, store.scores, domain.ActionScore{ActionID: "a1", Lane: domain.LanePriority, Score: 83})
	assert.Contains(t, store.scores, domain.ActionScore{ActionID: "a3", Lane: domain.LaneOnDeck, Score: 15})
	assert.Equal(t, [2]string{"r1", "a1"}, store.nextMove)
}

func TestEngine_RunWithoutPersist(t *testing.T) {
	store := &fakeStore{in: fixture()}
	_, err := NewEngine(store, nil).Run(context.Background(), "u1", Options{ReferenceDate: ref})
	require.NoError(t, err)
	assert.Empty(t, store.scores)
	assert.Equal(t, [2]string{}, store.nextMove)
}

func TestEngine_ClearsPointerWithoutBest(t *testing.T) {
	store := &fakeStore{in: Inputs{Pending: []domain.Action{
		{ID: "x", ActionType: domain.ActionOther, State: domain.StateNew, DueDate: due(30)},
	}}}
	store.nextMove = [2]string{"old", "stale"}

	_, err := NewEngine(store, nil).Run(context.Background(), "u1", Options{Persist: true, ReferenceDate: ref})
	require.NoError(t, err)
	assert.Equal(t, 1, store.cleared)
	assert.Equal(t, [2]string{}, store.nextMove)
}

func candidate(id, person string, l domain.Lane, score int) Candidate {
	c := Candidate{
		Action: domain.Action{ID: id},
		Scored: scoring.ScoredAction{ActionID: id, Score: score},
		Lane:   lane.Decision{Lane: l},
	}
	if person != "" {
		c.Action.PersonID = domain.StringPtr(person)
	}
	return c
}

func TestResult_NextMoveSkipsUnattached(t *testing.T) {
	res := &Result{Candidates: []Candidate{
		candidate("inbox", "", domain.LanePriority, 90),
		candidate("call", "r2", domain.LaneInMotion, 60),
		candidate("note", "r1", domain.LanePriority, 60),
		candidate("later", "r3", domain.LaneOnDeck, 95),
	}}
	res.Best = &res.Candidates[0]

	next := res.NextMove()
	require.NotNil(t, next)
	assert.Equal(t, "call", next.Action.ID, "ties break on action ID")

	store := &fakeStore{}
	require.NoError(t, NewEngine(store, nil).Persist("u1", res))
	assert.Equal(t, [2]string{"r2", "call"}, store.nextMove)
	assert.Zero(t, store.cleared)

	only := &Result{Candidates: []Candidate{candidate("inbox", "", domain.LanePriority, 90)}}
	assert.Nil(t, only.NextMove())
	require.NoError(t, NewEngine(store, nil).Persist("u1", only))
	assert.Equal(t, 1, store.cleared)
}

func TestEngine_PersistError(t *testing.T) {
	store := &fakeStore{in: fixture(), failScores: true}
	_, err := NewEngine(store, nil).Run(context.Background(), "u1", Options{Persist: true, ReferenceDate: ref})
	assert.ErrorContains(t, err, "disk full")
}
