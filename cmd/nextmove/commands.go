package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/nextmove/internal/config"
	"github.com/kalambet/nextmove/internal/decision"
	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/fixtures"
	"github.com/kalambet/nextmove/internal/freebusy"
	"github.com/kalambet/nextmove/internal/plan"
)

// resolveDay parses s in the user's timezone; empty means the user's today.
func resolveDay(a *app, userID, s string) (time.Time, error) {
	if s == "" {
		return a.fb.Today(userID)
	}
	loc, err := a.fb.Location(userID)
	if err != nil {
		return time.Time{}, err
	}
	d, err := domain.ParseDate(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

func addUserFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", "", "user ID")
	cmd.Flags().String("date", "", "day as YYYY-MM-DD (default today in the user's timezone)")
	cmd.Flags().Bool("json", false, "print JSON instead of text")
	cmd.MarkFlagRequired("user")
}

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build a daily plan against the local database",
	Long: `Build a daily plan against the local database.

Without --persist the plan is a dry run: nothing is written, including
auto-created outreach actions.

Examples:
  nextmove plan --user demo
  nextmove plan --user demo --date 2026-05-04 --persist
  nextmove plan --user demo --max-duration 20 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		dateStr, _ := cmd.Flags().GetString("date")
		persist, _ := cmd.Flags().GetBool("persist")
		maxDuration, _ := cmd.Flags().GetInt("max-duration")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		a, _, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		date, err := resolveDay(a, userID, dateStr)
		if err != nil {
			return err
		}
		out, err := a.builder.Build(ctx, userID, date, plan.Options{
			Persist:            persist,
			MaxDurationMinutes: max(maxDuration, 0),
		})
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), out)
		}
		writePlan(cmd.OutOrStdout(), out)
		if out.State == plan.StatePersisted && out.Failure == nil {
			printSuccess("Saved plan %s", out.Plan.ID)
		}
		return nil
	},
}

func init() {
	addUserFlags(planCmd)
	planCmd.Flags().Bool("persist", false, "store the plan")
	planCmd.Flags().Int("max-duration", 0, "skip actions estimated above this many minutes")
}

// --- next ---

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the best next move and the ranked candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		dateStr, _ := cmd.Flags().GetString("date")
		persist, _ := cmd.Flags().GetBool("persist")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		a, _, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		ref, err := resolveDay(a, userID, dateStr)
		if err != nil {
			return err
		}
		res, err := a.engine.Run(ctx, userID, decision.Options{Persist: persist, ReferenceDate: ref})
		if err != nil {
			return err
		}
		if limit > 0 && len(res.Candidates) > limit {
			res.Candidates = res.Candidates[:limit]
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		writeNextMove(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	addUserFlags(nextCmd)
	nextCmd.Flags().Bool("persist", false, "write lanes, scores and the next-move pointer back")
	nextCmd.Flags().Int("limit", 10, "maximum number of candidates to list (0 for all)")
}

// --- freebusy ---

var freeBusyCmd = &cobra.Command{
	Use:   "freebusy",
	Short: "Show merged free/busy time across the user's calendars",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		dateStr, _ := cmd.Flags().GetString("date")
		refreshed, _ := cmd.Flags().GetBool("refresh")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		a, _, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		date, err := resolveDay(a, userID, dateStr)
		if err != nil {
			return err
		}
		var l *freebusy.Lookup
		if refreshed {
			l, err = a.fb.Refresh(ctx, userID, date)
		} else {
			l, err = a.fb.FreeBusy(ctx, userID, date)
		}
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), l)
		}
		writeFreeBusy(cmd.OutOrStdout(), l)
		return nil
	},
}

func init() {
	addUserFlags(freeBusyCmd)
	freeBusyCmd.Flags().Bool("refresh", false, "bypass the cache")
}

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed [file.yaml]",
	Short: "Load a YAML fixture into the local database",
	Long: `Load a YAML fixture into the local database.

Day offsets in the fixture are resolved against --date. Without a file the
built-in demo fixture for user "demo" is loaded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dateStr, _ := cmd.Flags().GetString("date")

		var (
			f   fixtures.Fixture
			err error
		)
		if len(args) == 1 {
			f, err = fixtures.LoadFile(args[0])
		} else {
			f, err = fixtures.Demo()
		}
		if err != nil {
			return err
		}

		anchor := time.Now().UTC()
		if dateStr != "" {
			anchor, err = domain.ParseDate(dateStr, time.UTC)
			if err != nil {
				return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", dateStr)
			}
		}

		a, _, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		printStep("Seeding user %s relative to %s", f.UserID, anchor.Format(domain.DateLayout))
		sum, err := f.Apply(a.store, anchor)
		if err != nil {
			return err
		}
		printSuccess("Seeded %d relationships, %d actions, %d signals, %d connections, %d past plans",
			sum.Relationships, sum.Actions, sum.Signals, sum.Connections, sum.Plans)
		return nil
	},
}

func init() {
	seedCmd.Flags().String("date", "", "anchor day for relative offsets (default today, UTC)")
}

// --- warm ---

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Ask the running server to warm today's free/busy cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		jobID, err := requestWarm(cmd.Context(), client, userID)
		if err != nil {
			return err
		}
		printSuccess("Queued refresh job %s", jobID)
		return nil
	},
}

func init() {
	warmCmd.Flags().String("user", "", "user ID")
	warmCmd.MarkFlagRequired("user")
}

func requestWarm(ctx context.Context, client *apiClient, userID string) (string, error) {
	resp, err := client.post(ctx, "/users/"+userID+"/sessions", nil)
	if err != nil {
		return "", err
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}
	return result["job_id"], nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
