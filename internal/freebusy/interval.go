package freebusy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Interval is a half-open busy span [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Minutes returns the interval's length in whole minutes.
func (iv Interval) Minutes() int {
	if !iv.End.After(iv.Start) {
		return 0
	}
	return int(iv.End.Sub(iv.Start) / time.Minute)
}

// mergeTolerance is how close two intervals must be to fuse. Zero means only
// overlapping or exactly touching intervals merge.
const mergeTolerance = 0

// Merge sorts intervals by start and sweeps overlapping or touching ones
// together. Empty and inverted intervals are dropped. The input is not modified.
func Merge(intervals []Interval) []Interval {
	sorted := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.End.After(iv.Start) {
			sorted = append(sorted, iv)
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End.Add(mergeTolerance)) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// TotalMinutes sums the lengths of intervals, which must already be merged.
func TotalMinutes(intervals []Interval) int {
	total := 0
	for _, iv := range intervals {
		total += iv.Minutes()
	}
	return total
}

// Window is the working-hours span of a single day.
type Window struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone"`
}

// Minutes returns the window's working minutes.
func (w Window) Minutes() int {
	return Interval{Start: w.Start, End: w.End}.Minutes()
}

// Clip trims intervals to the window and drops the ones outside it.
func (w Window) Clip(intervals []Interval) []Interval {
	var out []Interval
	for _, iv := range intervals {
		s, e := iv.Start, iv.End
		if s.Before(w.Start) {
			s = w.Start
		}
		if e.After(w.End) {
			e = w.End
		}
		if e.After(s) {
			out = append(out, Interval{Start: s, End: e})
		}
	}
	return out
}

const (
	DefaultWorkStart = "09:00"
	DefaultWorkEnd   = "17:00"
)

// NewWindow builds the working window for date in the named timezone.
// Empty workStart/workEnd default to 09:00-17:00; an empty timezone means UTC.
func NewWindow(date time.Time, timezone, workStart, workEnd string) (Window, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return Window{}, fmt.Errorf("loading timezone %q: %w", timezone, err)
		}
		loc = l
	}
	if workStart == "" {
		workStart = DefaultWorkStart
	}
	if workEnd == "" {
		workEnd = DefaultWorkEnd
	}
	sh, sm, err := parseClock(workStart)
	if err != nil {
		return Window{}, err
	}
	eh, em, err := parseClock(workEnd)
	if err != nil {
		return Window{}, err
	}

	y, m, d := date.Date()
	w := Window{
		Start:    time.Date(y, m, d, sh, sm, 0, 0, loc),
		End:      time.Date(y, m, d, eh, em, 0, 0, loc),
		Timezone: loc.String(),
	}
	if !w.End.After(w.Start) {
		return Window{}, fmt.Errorf("work end %s is not after work start %s", workEnd, workStart)
	}
	return w, nil
}

func parseClock(s string) (int, int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
