package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/nextmove/internal/decision"
	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/freebusy"
	"github.com/kalambet/nextmove/internal/plan"
	"github.com/kalambet/nextmove/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

var errInvalidDate = errors.New("invalid date")

// PlanBuilder builds a day's plan.
type PlanBuilder interface {
	Build(ctx context.Context, userID string, date time.Time, opts plan.Options) (*plan.Outcome, error)
}

// NextMover runs the decision engine for one user.
type NextMover interface {
	Run(ctx context.Context, userID string, opts decision.Options) (*decision.Result, error)
}

// Calendar is the free/busy service as the API uses it.
type Calendar interface {
	Location(userID string) (*time.Location, error)
	Today(userID string) (time.Time, error)
	FreeBusy(ctx context.Context, userID string, date time.Time) (*freebusy.Lookup, error)
	Refresh(ctx context.Context, userID string, date time.Time) (*freebusy.Lookup, error)
	Invalidate(ctx context.Context, userID string) error
}

type AppDeps struct {
	Store    *storage.Store
	Plans    PlanBuilder
	Engine   NextMover
	Calendar Calendar
	Token    string
}

// NewAppHandler returns the REST API. Everything except /health requires the
// bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/plans", handleBuildPlan(deps))
			r.Get("/plans/{date}", handleGetPlan(deps))
			r.Put("/plans/{date}/capacity", handleSetCapacity(deps))
			r.Get("/next-move", handleNextMove(deps))
			r.Get("/freebusy", handleFreeBusy(deps))
			r.Post("/calendar/connections", handleCreateConnection(deps))
			r.Delete("/calendar/connections/{id}", handleDeleteConnection(deps))
			r.Post("/calendar/refresh", handleRefreshCalendar(deps))
			r.Post("/sessions", handleSession(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// resolveDate parses s in the user's timezone. Empty means the user's today.
func resolveDate(cal Calendar, userID, s string) (time.Time, error) {
	if s == "" {
		return cal.Today(userID)
	}
	loc, err := cal.Location(userID)
	if err != nil {
		return time.Time{}, err
	}
	d, err := domain.ParseDate(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: want YYYY-MM-DD", errInvalidDate, s)
	}
	return d, nil
}

func writeDateError(w http.ResponseWriter, err error) {
	if errors.Is(err, errInvalidDate) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "resolving date: %v", err)
}
