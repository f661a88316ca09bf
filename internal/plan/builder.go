// Package plan builds and persists a user's daily action plan.
package plan

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/kalambet/nextmove/internal/capacity"
	"github.com/kalambet/nextmove/internal/decision"
	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/storage"
)

// State is where a build ended up.
type State string

const (
	StateNoPlan    State = "NO_PLAN"
	StateComputing State = "COMPUTING"
	StatePersisted State = "PERSISTED"
	StateFailed    State = "FAILED"
)

const (
	fastWinMinScore   = 50
	fastWinMaxMinutes = 30

	// DefaultPendingActionCap bounds auto-created outreach when neither the
	// user nor the config sets a cap.
	DefaultPendingActionCap = 25
)

// Store is the persistence the builder needs. GetPlan returns
// storage.ErrNotFound when no header exists; CreatePlan and
// CompletePlanShell return storage.ErrConflict when another build got there
// first.
type Store interface {
	GetPlan(userID string, date time.Time) (*domain.DailyPlan, error)
	CreatePlan(p domain.DailyPlan) error
	CompletePlanShell(p domain.DailyPlan) error
	InsertPlanActions(planID string, rows []domain.DailyPlanAction) error
	DeletePlan(id string) error
	ListCandidateActions(userID string, date time.Time) ([]domain.Action, error)
	CreateAction(a domain.Action) error
	GetUserSettings(userID string) (domain.UserSettings, error)
}

// Evaluator is the decision engine as the builder uses it.
type Evaluator interface {
	Load(ctx context.Context, userID string) (decision.Inputs, error)
	Persist(userID string, res *decision.Result) error
}

// Budgeter resolves the day's capacity.
type Budgeter interface {
	Budget(ctx context.Context, userID string, date time.Time, override *capacity.Level) (capacity.Budget, error)
}

// Options for a single build.
type Options struct {
	// Persist writes the plan and engine fields. Without it the build is a dry run.
	Persist bool
	// ReferenceDate is used for scoring. Defaults to the plan date.
	ReferenceDate time.Time
	// MaxDurationMinutes drops candidates estimated above it. Zero means no limit.
	MaxDurationMinutes int
}

// Outcome is the result of Build. Exactly one of Plan and Failure is set
// unless the build errored.
type Outcome struct {
	State    State             `json:"state"`
	Plan     *domain.DailyPlan `json:"plan,omitempty"`
	Budget   *capacity.Budget  `json:"budget,omitempty"`
	Decision *decision.Result  `json:"decision,omitempty"`
	Failure  *Failure          `json:"failure,omitempty"`
}

// Builder orchestrates capacity, the decision engine and the store.
type Builder struct {
	store      Store
	engine     Evaluator
	budgeter   Budgeter
	pendingCap int
	logger     *slog.Logger
	now        func() time.Time
}

// NewBuilder creates a Builder. pendingCap <= 0 uses DefaultPendingActionCap.
func NewBuilder(store Store, engine Evaluator, budgeter Budgeter, pendingCap int) *Builder {
	if pendingCap <= 0 {
		pendingCap = DefaultPendingActionCap
	}
	return &Builder{
		store:      store,
		engine:     engine,
		budgeter:   budgeter,
		pendingCap: pendingCap,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// Build creates the plan for userID on date. Expected refusals come back as
// Outcome.Failure; only infrastructure problems are returned as errors.
func (b *Builder) Build(ctx context.Context, userID string, date time.Time, opts Options) (*Outcome, error) {
	date = domain.Day(date)
	log := b.logger.With("user_id", userID, "date", date.Format(domain.DateLayout))

	existing, err := b.store.GetPlan(userID, date)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading plan: %w", err)
	}
	if existing != nil && len(existing.Actions) > 0 {
		log.Debug("plan already exists", "plan_id", existing.ID)
		return &Outcome{State: StatePersisted, Plan: existing, Failure: newFailure(CodeAlreadyExists)}, nil
	}

	log.Debug("plan state", "state", StateComputing)
	out, err := b.compute(ctx, userID, date, existing, opts)
	if err != nil {
		log.Error("plan build failed", "error", err)
		return nil, err
	}
	if out.Failure != nil {
		log.Info("plan not created", "state", out.State, "code", out.Failure.Code)
	} else {
		log.Debug("plan state", "state", out.State, "actions", len(out.Plan.Actions))
	}
	return out, nil
}

func (b *Builder) compute(ctx context.Context, userID string, date time.Time, shell *domain.DailyPlan, opts Options) (*Outcome, error) {
	ref := opts.ReferenceDate
	if ref.IsZero() {
		ref = date
	}

	var override *capacity.Level
	if shell != nil && shell.CapacityOverride != nil {
		l, err := capacity.ParseLevel(*shell.CapacityOverride)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", shell.ID, err)
		}
		override = &l
	}
	budget, err := b.budgeter.Budget(ctx, userID, date, override)
	if err != nil {
		return nil, fmt.Errorf("resolving capacity: %w", err)
	}

	in, err := b.engine.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	candidates, err := b.store.ListCandidateActions(userID, date)
	if err != nil {
		return nil, fmt.Errorf("listing candidate actions: %w", err)
	}

	if len(candidates) == 0 {
		if len(in.Relationships) == 0 {
			return &Outcome{State: StateFailed, Budget: &budget, Failure: newFailure(CodeNoRelationships)}, nil
		}
		created, err := b.createOutreach(userID, date, in, opts.Persist)
		if err != nil {
			return nil, err
		}
		in.Pending = append(in.Pending, created...)
		candidates = created
	}

	in.Candidates = filterByDuration(candidates, opts.MaxDurationMinutes)
	if len(in.Candidates) == 0 {
		return &Outcome{State: StateFailed, Budget: &budget, Failure: newFailure(CodeNoCandidates)}, nil
	}

	res := decision.Evaluate(in, ref)
	rows := selectRows(res.Candidates, budget.Actions)

	p := domain.DailyPlan{
		UserID:        userID,
		Date:          date,
		CapacityLevel: string(budget.Level),
		FreeMinutes:   budget.FreeMinutes,
		CreatedAt:     b.now().UTC(),
	}
	if shell != nil {
		p.ID = shell.ID
		p.CapacityOverride = shell.CapacityOverride
		p.CreatedAt = shell.CreatedAt
	} else {
		p.ID = newPlanID(p.CreatedAt)
	}
	if budget.FocusStatement != "" {
		p.FocusStatement = domain.StringPtr(budget.FocusStatement)
	}
	if budget.AdaptiveReason != "" {
		p.AdaptiveReason = domain.StringPtr(budget.AdaptiveReason)
	}
	for i := range rows {
		rows[i].PlanID = p.ID
	}
	p.Actions = rows

	out := &Outcome{State: StateComputing, Plan: &p, Budget: &budget, Decision: &res}
	if !opts.Persist {
		return out, nil
	}

	f, err := b.persist(p, shell == nil)
	if err != nil {
		return nil, err
	}
	if f != nil {
		existing, err := b.store.GetPlan(userID, date)
		if err != nil {
			return nil, fmt.Errorf("loading conflicting plan: %w", err)
		}
		return &Outcome{State: StatePersisted, Plan: existing, Failure: f}, nil
	}
	if err := b.engine.Persist(userID, &res); err != nil {
		return nil, err
	}
	out.State = StatePersisted
	return out, nil
}

// persist writes the header and rows. If the rows fail, a header created by
// this call is deleted again so no header is left without actions. A shell
// is completed in a single store transaction.
func (b *Builder) persist(p domain.DailyPlan, created bool) (*Failure, error) {
	if !created {
		if err := b.store.CompletePlanShell(p); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return newFailure(CodeAlreadyExists), nil
			}
			return nil, fmt.Errorf("completing plan %s: %w", p.ID, err)
		}
		return nil, nil
	}

	header := p
	header.Actions = nil
	if err := b.store.CreatePlan(header); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return newFailure(CodeAlreadyExists), nil
		}
		return nil, fmt.Errorf("creating plan: %w", err)
	}
	if err := b.store.InsertPlanActions(p.ID, p.Actions); err != nil {
		if derr := b.store.DeletePlan(p.ID); derr != nil {
			b.logger.Error("compensating plan delete failed", "plan_id", p.ID, "error", derr)
		}
		return nil, fmt.Errorf("inserting plan actions: %w", err)
	}
	return nil, nil
}

// createOutreach adds one OUTREACH action per active relationship that has
// no open action, up to the user's pending-action cap. Without persist the
// actions exist only in memory.
func (b *Builder) createOutreach(userID string, date time.Time, in decision.Inputs, persist bool) ([]domain.Action, error) {
	settings, err := b.store.GetUserSettings(userID)
	if err != nil {
		return nil, fmt.Errorf("loading user settings: %w", err)
	}
	limit := b.pendingCap
	if settings.PendingActionCap > 0 {
		limit = settings.PendingActionCap
	}

	open := make(map[string]bool, len(in.Pending))
	for _, a := range in.Pending {
		if a.PersonID != nil {
			open[*a.PersonID] = true
		}
	}
	var quiet []domain.Relationship
	for _, r := range in.Relationships {
		if !open[r.ID] {
			quiet = append(quiet, r)
		}
	}
	sort.Slice(quiet, func(i, j int) bool { return quiet[i].ID < quiet[j].ID })

	slots := limit - len(in.Pending)
	var created []domain.Action
	now := b.now().UTC()
	for _, r := range quiet {
		if len(created) >= slots {
			break
		}
		a := domain.Action{
			ID:         uuid.New().String(),
			UserID:     userID,
			PersonID:   domain.StringPtr(r.ID),
			ActionType: domain.ActionOutreach,
			State:      domain.StateNew,
			Title:      "Reach out to " + r.Name,
			DueDate:    domain.TimePtr(date),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if persist {
			if err := b.store.CreateAction(a); err != nil {
				return nil, fmt.Errorf("creating outreach action: %w", err)
			}
		}
		created = append(created, a)
	}
	if len(created) > 0 {
		b.logger.Info("created outreach actions", "user_id", userID, "count", len(created), "persisted", persist)
	}
	return created, nil
}

func filterByDuration(actions []domain.Action, maxMinutes int) []domain.Action {
	out := make([]domain.Action, 0, len(actions))
	for _, a := range actions {
		if maxMinutes > 0 && a.EstimatedMinutes != nil && *a.EstimatedMinutes > maxMinutes {
			continue
		}
		out = append(out, a)
	}
	return out
}

// IsFastWin reports whether a candidate qualifies as the day's fast win.
func IsFastWin(c decision.Candidate) bool {
	if c.Lane.Lane != domain.LanePriority || c.Scored.Score < fastWinMinScore {
		return false
	}
	m := c.Action.EstimatedMinutes
	return m == nil || *m <= fastWinMaxMinutes
}

// selectRows picks up to budget actions from sorted candidates. The first
// fast-win candidate, if any, goes to position 0; the rest keep their order.
func selectRows(sorted []decision.Candidate, budget int) []domain.DailyPlanAction {
	if budget <= 0 {
		return nil
	}
	fast := -1
	for i, c := range sorted {
		if IsFastWin(c) {
			fast = i
			break
		}
	}

	rows := make([]domain.DailyPlanAction, 0, min(budget, len(sorted)))
	if fast >= 0 {
		a := sorted[fast].Action
		rows = append(rows, domain.DailyPlanAction{ActionID: a.ID, Position: 0, IsFastWin: true, Action: &a})
	}
	for i, c := range sorted {
		if len(rows) >= budget {
			break
		}
		if i == fast {
			continue
		}
		a := c.Action
		rows = append(rows, domain.DailyPlanAction{ActionID: a.ID, Position: len(rows), Action: &a})
	}
	return rows
}

func newPlanID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.Monotonic(rand.Reader, 0)).String()
}
