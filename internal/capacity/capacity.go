// Package capacity turns calendar availability and recent completion history
// into the number of actions a day's plan may hold.
package capacity

import (
	"fmt"
	"sort"
	"time"

	"github.com/kalambet/nextmove/internal/domain"
)

type Level string

const (
	LevelMicro    Level = "micro"
	LevelLight    Level = "light"
	LevelStandard Level = "standard"
	LevelHeavy    Level = "heavy"
	LevelDefault  Level = "default"
)

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelMicro, LevelLight, LevelStandard, LevelHeavy, LevelDefault:
		return l, nil
	default:
		return "", fmt.Errorf("unknown capacity level %q", s)
	}
}

// Source says which rule produced a Budget.
type Source string

const (
	SourceOverride   Source = "override"
	SourceCalendar   Source = "calendar"
	SourceNoCalendar Source = "no_calendar"
	SourceAdaptive   Source = "adaptive"
)

// Adaptive reason tags.
const (
	ReasonComeback      = "comeback"
	ReasonStreakBreak   = "streak_break"
	ReasonLowCompletion = "low_completion"
	ReasonHighStreak    = "high_streak"
)

var focusStatements = map[string]string{
	ReasonComeback:      "Welcome back. Two small moves to get momentum going again.",
	ReasonStreakBreak:   "Pick the thread back up with a couple of quick touches.",
	ReasonLowCompletion: "Fewer moves today, all of them finishable.",
	ReasonHighStreak:    "You are on a streak. There is room for a bigger day.",
}

// Budget is the resolved capacity for a day.
type Budget struct {
	Level          Level  `json:"level"`
	Actions        int    `json:"actions"`
	FreeMinutes    *int   `json:"free_minutes,omitempty"`
	Source         Source `json:"source"`
	AdaptiveReason string `json:"adaptive_reason,omitempty"`
	FocusStatement string `json:"focus_statement,omitempty"`
}

// ForFreeMinutes maps free minutes to a level and action count. nil counts as
// no free time at all; callers without any calendar should use the default
// level instead.
func ForFreeMinutes(free *int) Budget {
	m := 0
	if free != nil {
		m = max(*free, 0)
	}
	b := Budget{FreeMinutes: free, Source: SourceCalendar}
	switch {
	case m < 15:
		b.Level, b.Actions = LevelMicro, 1
	case m < 30:
		b.Level, b.Actions = LevelMicro, 2
	case m < 45:
		b.Level, b.Actions = LevelLight, 3
	case m < 60:
		b.Level, b.Actions = LevelLight, 4
	case m < 120:
		b.Level, b.Actions = LevelStandard, 6
	default:
		b.Level, b.Actions = LevelHeavy, 8
	}
	return b
}

// ForLevel returns the action count used when a level is set directly.
func ForLevel(l Level) int {
	switch l {
	case LevelMicro:
		return 2
	case LevelLight:
		return 4
	case LevelHeavy:
		return 8
	default:
		return 6
	}
}

// DisplayFreeMinutes is the approximate free time shown for a level when no
// live calendar figure exists. It never feeds back into level selection.
func DisplayFreeMinutes(l Level) (int, bool) {
	switch l {
	case LevelMicro:
		return 15, true
	case LevelLight:
		return 45, true
	case LevelStandard:
		return 90, true
	case LevelHeavy:
		return 240, true
	default:
		return 0, false
	}
}

const (
	comebackDays         = 7
	streakBreakDays      = 2
	lowCompletionWindow  = 7
	lowCompletionDays    = 3
	lowCompletionRate    = 0.5
	highStreakDays       = 7
	highStreakRate       = 0.8
	adaptiveMicroActions = 2
	adaptiveLightActions = 3
	adaptiveHeavyActions = 8
)

// Input is everything Resolve looks at.
type Input struct {
	Date time.Time
	// FreeMinutes is nil when no calendar returned data.
	FreeMinutes *int
	// Override is a manual level for the day. It skips every other rule.
	Override *Level
	// History holds plan-days before Date, in any order.
	History []domain.CompletionDay
	// LastCompletionAt is the most recent time the user finished an action.
	LastCompletionAt *time.Time
}

// Resolve picks the day's budget: manual override first, then the calendar
// mapping, then the adaptive rules.
func Resolve(in Input) Budget {
	if in.Override != nil {
		return Budget{Level: *in.Override, Actions: ForLevel(*in.Override), FreeMinutes: in.FreeMinutes, Source: SourceOverride}
	}

	base := ForFreeMinutes(in.FreeMinutes)
	if in.FreeMinutes == nil {
		base = Budget{Level: LevelDefault, Actions: ForLevel(LevelDefault), Source: SourceNoCalendar}
	}

	reason := adaptiveReason(in, base.Level)
	if reason == "" {
		return base
	}

	b := Budget{
		FreeMinutes:    in.FreeMinutes,
		Source:         SourceAdaptive,
		AdaptiveReason: reason,
		FocusStatement: focusStatements[reason],
	}
	switch reason {
	case ReasonComeback, ReasonStreakBreak:
		b.Level, b.Actions = LevelMicro, adaptiveMicroActions
	case ReasonLowCompletion:
		b.Level, b.Actions = LevelLight, adaptiveLightActions
	case ReasonHighStreak:
		b.Level, b.Actions = LevelHeavy, adaptiveHeavyActions
	}
	return b
}

func adaptiveReason(in Input, base Level) string {
	if in.LastCompletionAt != nil {
		last := domain.DayIn(*in.LastCompletionAt, in.Date.Location())
		inactive := domain.DaysBetween(last, in.Date)
		switch {
		case inactive >= comebackDays:
			return ReasonComeback
		case inactive >= streakBreakDays:
			return ReasonStreakBreak
		}
	}

	prior := priorPlanDays(in.History, in.Date)

	low := 0
	for i := 0; i < len(prior) && i < lowCompletionWindow; i++ {
		if prior[i].CompletionRate < lowCompletionRate {
			low++
		}
	}
	if low >= lowCompletionDays {
		return ReasonLowCompletion
	}

	if base != LevelHeavy && highStreak(prior, in.Date) {
		return ReasonHighStreak
	}
	return ""
}

// priorPlanDays returns plan-days strictly before date with at least one
// planned action, newest first.
func priorPlanDays(history []domain.CompletionDay, date time.Time) []domain.CompletionDay {
	var out []domain.CompletionDay
	for _, d := range history {
		if d.Planned > 0 && domain.DaysBetween(d.Date, date) > 0 {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// highStreak reports whether each of the calendar days immediately before date
// had a plan completed at or above the streak rate.
func highStreak(prior []domain.CompletionDay, date time.Time) bool {
	byDay := make(map[int]float64, len(prior))
	for _, d := range prior {
		byDay[domain.DaysBetween(d.Date, date)] = d.CompletionRate
	}
	for back := 1; back <= highStreakDays; back++ {
		rate, ok := byDay[back]
		if !ok || rate < highStreakRate {
			return false
		}
	}
	return true
}
