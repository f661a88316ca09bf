package capacity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/freebusy"
)

var planDate = time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return planDate.AddDate(0, 0, -n) }

func completion(back int, planned, completed int) domain.CompletionDay {
	return domain.CompletionDay{
		Date:           daysAgo(back),
		Planned:        planned,
		Completed:      completed,
		CompletionRate: float64(completed) / float64(planned),
	}
}

func TestForFreeMinutes_Monotonic(t *testing.T) {
	tests := []struct {
		free  int
		level Level
		min   int
		max   int
	}{
		{10, LevelMicro, 1, 2},
		{45, LevelLight, 3, 4},
		{90, LevelStandard, 6, 6},
		{200, LevelHeavy, 8, 8},
	}
	prev := 0
	for _, tt := range tests {
		b := ForFreeMinutes(domain.IntPtr(tt.free))
		assert.Equal(t, tt.level, b.Level, "free=%d", tt.free)
		assert.GreaterOrEqual(t, b.Actions, tt.min)
		assert.LessOrEqual(t, b.Actions, tt.max)
		assert.GreaterOrEqual(t, b.Actions, prev)
		prev = b.Actions
	}
}

func TestForFreeMinutes_Boundaries(t *testing.T) {
	tests := []struct {
		free    *int
		level   Level
		actions int
	}{
		{nil, LevelMicro, 1},
		{domain.IntPtr(-20), LevelMicro, 1},
		{domain.IntPtr(14), LevelMicro, 1},
		{domain.IntPtr(15), LevelMicro, 2},
		{domain.IntPtr(29), LevelMicro, 2},
		{domain.IntPtr(30), LevelLight, 3},
		{domain.IntPtr(45), LevelLight, 4},
		{domain.IntPtr(59), LevelLight, 4},
		{domain.IntPtr(60), LevelStandard, 6},
		{domain.IntPtr(119), LevelStandard, 6},
		{domain.IntPtr(120), LevelHeavy, 8},
	}
	for _, tt := range tests {
		b := ForFreeMinutes(tt.free)
		assert.Equal(t, tt.level, b.Level)
		assert.Equal(t, tt.actions, b.Actions)
	}
}

func TestResolve_NoCalendarUsesDefault(t *testing.T) {
	b := Resolve(Input{Date: planDate})
	assert.Equal(t, LevelDefault, b.Level)
	assert.Equal(t, 6, b.Actions)
	assert.Equal(t, SourceNoCalendar, b.Source)
	assert.Nil(t, b.FreeMinutes)
}

func TestResolve_ComebackBeatsHeavyCalendar(t *testing.T) {
	b := Resolve(Input{
		Date:             planDate,
		FreeMinutes:      domain.IntPtr(150),
		LastCompletionAt: domain.TimePtr(daysAgo(10)),
	})
	assert.Equal(t, LevelMicro, b.Level)
	assert.Equal(t, 2, b.Actions)
	assert.Equal(t, ReasonComeback, b.AdaptiveReason)
	assert.Equal(t, SourceAdaptive, b.Source)
	assert.NotEmpty(t, b.FocusStatement)
	require.NotNil(t, b.FreeMinutes)
	assert.Equal(t, 150, *b.FreeMinutes)
}

func TestResolve_AdaptivePrecedence(t *testing.T) {
	lowDays := []domain.CompletionDay{completion(1, 4, 1), completion(2, 4, 1), completion(3, 4, 0), completion(4, 4, 4)}
	streak := make([]domain.CompletionDay, 0, 7)
	for back := 1; back <= 7; back++ {
		streak = append(streak, completion(back, 5, 4))
	}

	tests := []struct {
		name    string
		in      Input
		level   Level
		actions int
		reason  string
	}{
		{
			name:    "comeback over low completion",
			in:      Input{FreeMinutes: domain.IntPtr(90), LastCompletionAt: domain.TimePtr(daysAgo(7)), History: lowDays},
			level:   LevelMicro,
			actions: 2,
			reason:  ReasonComeback,
		},
		{
			name:    "streak break",
			in:      Input{FreeMinutes: domain.IntPtr(90), LastCompletionAt: domain.TimePtr(daysAgo(2)), History: lowDays},
			level:   LevelMicro,
			actions: 2,
			reason:  ReasonStreakBreak,
		},
		{
			name:    "six days inactive is still a streak break",
			in:      Input{LastCompletionAt: domain.TimePtr(daysAgo(6))},
			level:   LevelMicro,
			actions: 2,
			reason:  ReasonStreakBreak,
		},
		{
			name:    "low completion",
			in:      Input{FreeMinutes: domain.IntPtr(200), LastCompletionAt: domain.TimePtr(daysAgo(1)), History: lowDays},
			level:   LevelLight,
			actions: 3,
			reason:  ReasonLowCompletion,
		},
		{
			name:    "high streak upgrades standard",
			in:      Input{FreeMinutes: domain.IntPtr(90), LastCompletionAt: domain.TimePtr(daysAgo(1)), History: streak},
			level:   LevelHeavy,
			actions: 8,
			reason:  ReasonHighStreak,
		},
		{
			name:    "high streak leaves heavy alone",
			in:      Input{FreeMinutes: domain.IntPtr(300), LastCompletionAt: domain.TimePtr(daysAgo(1)), History: streak},
			level:   LevelHeavy,
			actions: 8,
			reason:  "",
		},
		{
			name:    "streak with a gap does not count",
			in:      Input{FreeMinutes: domain.IntPtr(90), LastCompletionAt: domain.TimePtr(daysAgo(1)), History: streak[:6]},
			level:   LevelStandard,
			actions: 6,
			reason:  "",
		},
		{
			name:    "completed today is active",
			in:      Input{FreeMinutes: domain.IntPtr(50), LastCompletionAt: domain.TimePtr(planDate.Add(time.Hour))},
			level:   LevelLight,
			actions: 4,
			reason:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Date = planDate
			b := Resolve(tt.in)
			assert.Equal(t, tt.level, b.Level)
			assert.Equal(t, tt.actions, b.Actions)
			assert.Equal(t, tt.reason, b.AdaptiveReason)
		})
	}
}

func TestResolve_InactivityInUserZone(t *testing.T) {
	pdt := time.FixedZone("PDT", -7*60*60)
	date := time.Date(2026, 5, 6, 0, 0, 0, 0, pdt)
	// 20:00 local on May 4 is stored as 03:00 UTC on May 5.
	last := time.Date(2026, 5, 5, 3, 0, 0, 0, time.UTC)

	b := Resolve(Input{Date: date, FreeMinutes: domain.IntPtr(90), LastCompletionAt: &last})
	assert.Equal(t, ReasonStreakBreak, b.AdaptiveReason)
	assert.Equal(t, LevelMicro, b.Level)

	// 16:00 local on May 5 is still May 5 in both zones.
	yesterday := time.Date(2026, 5, 5, 23, 0, 0, 0, time.UTC)
	b = Resolve(Input{Date: date, FreeMinutes: domain.IntPtr(90), LastCompletionAt: &yesterday})
	assert.Empty(t, b.AdaptiveReason)
	assert.Equal(t, LevelStandard, b.Level)
}

func TestResolve_LowCompletionOnlyCountsLastSevenPlanDays(t *testing.T) {
	history := []domain.CompletionDay{
		completion(1, 2, 2), completion(2, 2, 2), completion(3, 2, 2), completion(4, 2, 2),
		completion(5, 2, 2), completion(6, 2, 2), completion(8, 2, 1),
		completion(9, 2, 0), completion(10, 2, 0), completion(11, 2, 0),
	}
	b := Resolve(Input{Date: planDate, FreeMinutes: domain.IntPtr(90), LastCompletionAt: domain.TimePtr(daysAgo(1)), History: history})
	assert.Empty(t, b.AdaptiveReason)
}

func TestResolve_HistoryIgnoresPlanDateAndEmptyPlans(t *testing.T) {
	history := []domain.CompletionDay{
		{Date: planDate, Planned: 3, Completed: 0},
		{Date: daysAgo(1), Planned: 0},
		{Date: daysAgo(2), Planned: 0},
		{Date: daysAgo(3), Planned: 0},
	}
	b := Resolve(Input{Date: planDate, FreeMinutes: domain.IntPtr(90), LastCompletionAt: domain.TimePtr(daysAgo(1)), History: history})
	assert.Empty(t, b.AdaptiveReason)
}

func TestResolve_OverrideWins(t *testing.T) {
	light := LevelLight
	b := Resolve(Input{
		Date:             planDate,
		FreeMinutes:      domain.IntPtr(300),
		Override:         &light,
		LastCompletionAt: domain.TimePtr(daysAgo(20)),
	})
	assert.Equal(t, LevelLight, b.Level)
	assert.Equal(t, 4, b.Actions)
	assert.Equal(t, SourceOverride, b.Source)
	assert.Empty(t, b.AdaptiveReason)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("heavy")
	require.NoError(t, err)
	assert.Equal(t, LevelHeavy, l)

	_, err = ParseLevel("extreme")
	assert.Error(t, err)
}

func TestDisplayFreeMinutes(t *testing.T) {
	for level, want := range map[Level]int{LevelMicro: 15, LevelLight: 45, LevelStandard: 90, LevelHeavy: 240} {
		got, ok := DisplayFreeMinutes(level)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := DisplayFreeMinutes(LevelDefault)
	assert.False(t, ok)
}

type fakeHistory struct {
	days []domain.CompletionDay
	last *time.Time
	err  error
}

func (f *fakeHistory) CompletionHistory(string, time.Time, time.Time) ([]domain.CompletionDay, error) {
	return f.days, f.err
}

func (f *fakeHistory) LastCompletionAt(string) (*time.Time, error) { return f.last, f.err }

type fakeFreeBusy struct {
	lookup *freebusy.Lookup
	err    error
}

func (f *fakeFreeBusy) FreeBusy(context.Context, string, time.Time) (*freebusy.Lookup, error) {
	return f.lookup, f.err
}

func TestPlanner_Budget(t *testing.T) {
	ctx := context.Background()
	fb := &fakeFreeBusy{lookup: &freebusy.Lookup{Result: &freebusy.Result{FreeMinutes: 100}}}
	p := NewPlanner(&fakeHistory{last: domain.TimePtr(daysAgo(1))}, fb)

	b, err := p.Budget(ctx, "u1", planDate, nil)
	require.NoError(t, err)
	assert.Equal(t, LevelStandard, b.Level)
	assert.Equal(t, 100, *b.FreeMinutes)

	fb.err = errors.New("settings unavailable")
	b, err = p.Budget(ctx, "u1", planDate, nil)
	require.NoError(t, err)
	assert.Equal(t, LevelDefault, b.Level)

	_, err = NewPlanner(&fakeHistory{err: errors.New("db closed")}, nil).Budget(ctx, "u1", planDate, nil)
	assert.Error(t, err)

	heavy := LevelHeavy
	b, err = NewPlanner(&fakeHistory{err: errors.New("db closed")}, nil).Budget(ctx, "u1", planDate, &heavy)
	require.NoError(t, err, "override skips history")
	assert.Equal(t, LevelHeavy, b.Level)
}
