package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kalambet/nextmove/internal/decision"
	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/freebusy"
	"github.com/kalambet/nextmove/internal/plan"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func laneColor(l domain.Lane) string {
	switch l {
	case domain.LanePriority:
		return colorRed
	case domain.LaneOnDeck:
		return colorCyan
	default:
		return colorYellow
	}
}

func minutesLabel(m *int) string {
	if m == nil {
		return "?"
	}
	return fmt.Sprintf("%dm", *m)
}

// writePlan renders a build outcome as a numbered list.
func writePlan(w io.Writer, out *plan.Outcome) {
	if out.Budget != nil {
		fmt.Fprintf(w, "%s %s (%d actions, %s)\n",
			colorize(colorBold, "Capacity:"), out.Budget.Level, out.Budget.Actions, out.Budget.Source)
		if out.Budget.FocusStatement != "" {
			fmt.Fprintf(w, "%s\n", out.Budget.FocusStatement)
		}
	}
	if out.Failure != nil {
		fmt.Fprintf(w, "%s %s\n", colorize(colorYellow, string(out.Failure.Code)+":"), out.Failure.Message)
	}
	if out.Plan == nil {
		return
	}

	fmt.Fprintf(w, "%s %s [%s]\n", colorize(colorBold, "Plan"), out.Plan.Date.Format(domain.DateLayout), out.State)
	for _, row := range out.Plan.Actions {
		title, minutes := row.ActionID, "?"
		if row.Action != nil {
			title, minutes = row.Action.Title, minutesLabel(row.Action.EstimatedMinutes)
		}
		marker := " "
		if row.IsFastWin {
			marker = colorize(colorGreen, "*")
		}
		fmt.Fprintf(w, " %s %d. %s (%s)\n", marker, row.Position+1, title, minutes)
	}
}

// writeNextMove renders the best action followed by the ranked candidates.
func writeNextMove(w io.Writer, res *decision.Result) {
	if res.Best == nil {
		fmt.Fprintln(w, "Nothing to do right now.")
	} else {
		fmt.Fprintf(w, "%s %s\n  %s\n", colorize(colorBold, "Next move:"), res.Best.Action.Title, res.Best.Scored.Reason)
	}
	for i, c := range res.Candidates {
		lane := colorize(laneColor(c.Lane.Lane), fmt.Sprintf("%-10s", c.Lane.Lane))
		fmt.Fprintf(w, "  %2d. %s %3d  %s\n", i+1, lane, c.Scored.Score, c.Action.Title)
	}
}

func writeFreeBusy(w io.Writer, l *freebusy.Lookup) {
	if l.Result == nil {
		fmt.Fprintln(w, "No calendar data for this day.")
	} else {
		r := l.Result
		cached := ""
		if l.Cached {
			cached = " (cached)"
		}
		fmt.Fprintf(w, "%s %s: %d of %d working minutes free, %d calendar(s), %s confidence%s\n",
			colorize(colorBold, "Free/busy"), r.Date, r.FreeMinutes, r.WorkingMinutes, r.CalendarCount, r.Confidence, cached)
		for _, iv := range r.Busy {
			fmt.Fprintf(w, "  busy %s-%s\n", iv.Start.Format("15:04"), iv.End.Format("15:04"))
		}
	}
	for _, c := range l.Connections {
		if !c.OK() {
			fmt.Fprintf(w, "  %s %s (%s): %s\n", colorize(colorYellow, "failed"), c.ConnectionID, c.Provider, c.Error)
		}
	}
}
