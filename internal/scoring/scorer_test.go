package scoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/nextmove/internal/domain"
)

var ref = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func due(offset int) *time.Time {
	t := ref.AddDate(0, 0, offset)
	return &t
}

func TestScore_DueTomorrowNoRelationship(t *testing.T) {
	a := domain.Action{ID: "a1", DueDate: due(1), EstimatedMinutes: domain.IntPtr(20)}

	got := Score(a, nil, ref, nil)

	assert.Equal(t, Breakdown{Urgency: 30, StallRisk: 0, Value: 5, EffortBias: 15}, got.Breakdown)
	assert.Equal(t, 50, got.Score)
	assert.Equal(t, "a1", got.ActionID)
	assert.Contains(t, got.Reason, "high urgency")
	assert.Contains(t, got.Reason, "quick task")
}

func TestScore_Urgency(t *testing.T) {
	tests := []struct {
		name    string
		due     *time.Time
		promise *time.Time
		want    int
	}{
		{"overdue", due(-1), nil, 40},
		{"due today", due(0), nil, 30},
		{"due in two days", due(2), nil, 30},
		{"due in a week", due(7), nil, 20},
		{"due later", due(8), nil, 5},
		{"no due date", nil, nil, 5},
		{"overdue promise forces max", due(30), due(-1), 40},
		{"promise within two days raises to 35", due(30), due(2), 35},
		{"promise within two days keeps higher base", due(-3), due(1), 40},
		{"promise within a week adds five", due(5), due(6), 25},
		{"promise within a week capped", due(-2), due(6), 40},
		{"distant promise ignored", due(9), due(20), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(domain.Action{ID: "a", DueDate: tt.due, PromisedDueAt: tt.promise}, nil, ref, nil)
			assert.Equal(t, tt.want, got.Breakdown.Urgency)
		})
	}
}

func TestScore_StallRisk(t *testing.T) {
	declining := &domain.RelationshipState{
		MomentumTrend:            domain.MomentumDeclining,
		CadenceDays:              14,
		DaysSinceLastInteraction: domain.IntPtr(20),
	}
	signals := &domain.EmailSignals{HasOpenLoops: true, HasUnansweredAsks: true, DaysSinceLastEmail: domain.IntPtr(30)}

	t.Run("capped at 25", func(t *testing.T) {
		got := Score(domain.Action{ID: "a"}, declining, ref, signals)
		assert.Equal(t, 25, got.Breakdown.StallRisk)
		assert.Contains(t, got.Reason, "momentum declining")
		assert.Contains(t, got.Reason, "unanswered asks")
	})

	t.Run("zero without relationship state", func(t *testing.T) {
		got := Score(domain.Action{ID: "a"}, nil, ref, signals)
		assert.Equal(t, 0, got.Breakdown.StallRisk)
	})

	t.Run("email signals only", func(t *testing.T) {
		st := &domain.RelationshipState{CadenceDays: 30, DaysSinceLastInteraction: domain.IntPtr(2)}
		got := Score(domain.Action{ID: "a"}, st, ref, &domain.EmailSignals{HasOpenLoops: true, DaysSinceLastEmail: domain.IntPtr(15)})
		assert.Equal(t, 13, got.Breakdown.StallRisk)
	})

	t.Run("past cadence only", func(t *testing.T) {
		st := &domain.RelationshipState{CadenceDays: 7, DaysSinceLastInteraction: domain.IntPtr(8)}
		got := Score(domain.Action{ID: "a"}, st, ref, nil)
		assert.Equal(t, 10, got.Breakdown.StallRisk)
	})
}

func TestScore_ValueAndEffort(t *testing.T) {
	tiers := map[domain.Tier]int{
		domain.TierInner:      20,
		domain.TierActive:     10,
		domain.TierWarm:       5,
		domain.TierBackground: 5,
		domain.TierNone:       5,
	}
	for tier, want := range tiers {
		got := Score(domain.Action{ID: "a"}, &domain.RelationshipState{Tier: tier}, ref, nil)
		assert.Equal(t, want, got.Breakdown.Value, "tier %s", tier)
	}

	efforts := []struct {
		minutes *int
		want    int
	}{
		{nil, 5},
		{domain.IntPtr(-10), 15},
		{domain.IntPtr(0), 15},
		{domain.IntPtr(30), 15},
		{domain.IntPtr(31), 10},
		{domain.IntPtr(120), 10},
		{domain.IntPtr(121), 5},
	}
	for _, e := range efforts {
		got := Score(domain.Action{ID: "a", EstimatedMinutes: e.minutes}, nil, ref, nil)
		assert.Equal(t, e.want, got.Breakdown.EffortBias)
	}
}

func TestScore_Bounds(t *testing.T) {
	trends := []domain.MomentumTrend{domain.MomentumDeclining, domain.MomentumStable, domain.MomentumUnknown}
	tiers := []domain.Tier{domain.TierInner, domain.TierActive, domain.TierWarm, domain.TierNone}
	offsets := []int{-10, -1, 0, 1, 2, 5, 7, 8, 60}

	for _, trend := range trends {
		for _, tier := range tiers {
			for _, off := range offsets {
				st := &domain.RelationshipState{
					Tier: tier, MomentumTrend: trend, CadenceDays: 7, DaysSinceLastInteraction: domain.IntPtr(off + 10),
				}
				a := domain.Action{ID: "a", DueDate: due(off), PromisedDueAt: due(off - 1), EstimatedMinutes: domain.IntPtr(off * 10)}
				got := Score(a, st, ref, &domain.EmailSignals{HasOpenLoops: true, HasUnansweredAsks: off%2 == 0})
				b := got.Breakdown
				require.GreaterOrEqual(t, b.Urgency, 0)
				require.LessOrEqual(t, b.Urgency, 40)
				require.GreaterOrEqual(t, b.StallRisk, 0)
				require.LessOrEqual(t, b.StallRisk, 25)
				require.GreaterOrEqual(t, b.Value, 0)
				require.LessOrEqual(t, b.Value, 20)
				require.GreaterOrEqual(t, b.EffortBias, 0)
				require.LessOrEqual(t, b.EffortBias, 15)
				require.Equal(t, b.Urgency+b.StallRisk+b.Value+b.EffortBias, got.Score)
				require.LessOrEqual(t, got.Score, 100)
			}
		}
	}
}

func TestScore_Deterministic(t *testing.T) {
	a := domain.Action{ID: "a", DueDate: due(3), PromisedDueAt: due(1), EstimatedMinutes: domain.IntPtr(45)}
	st := &domain.RelationshipState{Tier: domain.TierInner, MomentumTrend: domain.MomentumDeclining}
	assert.Equal(t, Score(a, st, ref, nil), Score(a, st, ref, nil))
}

func TestSelectBestAction(t *testing.T) {
	mk := func(id string, score int, l domain.Lane) Candidate {
		return Candidate{Scored: ScoredAction{ActionID: id, Score: score}, Lane: l}
	}

	t.Run("tie broken by smaller id", func(t *testing.T) {
		best := SelectBestAction([]Candidate{
			mk("b", 70, domain.LanePriority),
			mk("a", 70, domain.LaneInMotion),
			mk("c", 40, domain.LanePriority),
		})
		require.NotNil(t, best)
		assert.Equal(t, "a", best.Scored.ActionID)
	})

	t.Run("on deck never selected", func(t *testing.T) {
		best := SelectBestAction([]Candidate{
			mk("a", 99, domain.LaneOnDeck),
			mk("b", 10, domain.LaneInMotion),
		})
		require.NotNil(t, best)
		assert.Equal(t, "b", best.Scored.ActionID)
	})

	t.Run("nil when nothing eligible", func(t *testing.T) {
		assert.Nil(t, SelectBestAction([]Candidate{mk("a", 99, domain.LaneOnDeck)}))
		assert.Nil(t, SelectBestAction(nil))
	})

	t.Run("order independent", func(t *testing.T) {
		var cands []Candidate
		for i := 9; i >= 0; i-- {
			cands = append(cands, mk(fmt.Sprintf("id-%d", i), 50, domain.LanePriority))
		}
		assert.Equal(t, "id-0", SelectBestAction(cands).Scored.ActionID)
	})
}
