package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/nextmove/internal/capacity"
	"github.com/kalambet/nextmove/internal/decision"
	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/plan"
	"github.com/kalambet/nextmove/internal/storage"
)

type BuildPlanRequest struct {
	Date               string `json:"date"`
	Persist            bool   `json:"persist"`
	ReferenceDate      string `json:"reference_date"`
	MaxDurationMinutes int    `json:"max_duration_minutes"`
}

type BuildPlanResponse struct {
	State   plan.State          `json:"state"`
	Date    string              `json:"date"`
	Plan    *domain.DailyPlan   `json:"plan,omitempty"`
	Budget  *capacity.Budget    `json:"budget,omitempty"`
	Best    *decision.Candidate `json:"best,omitempty"`
	Failure *plan.Failure       `json:"failure,omitempty"`
}

// failureStatus maps a build refusal to an HTTP status.
func failureStatus(code plan.Code) int {
	switch code {
	case plan.CodeAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func handleBuildPlan(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		userID := chi.URLParam(r, "userID")

		var req BuildPlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		date, err := resolveDate(deps.Calendar, userID, req.Date)
		if err != nil {
			writeDateError(w, err)
			return
		}
		opts := plan.Options{Persist: req.Persist, MaxDurationMinutes: max(req.MaxDurationMinutes, 0)}
		if req.ReferenceDate != "" {
			ref, err := resolveDate(deps.Calendar, userID, req.ReferenceDate)
			if err != nil {
				writeDateError(w, err)
				return
			}
			opts.ReferenceDate = ref
		}

		out, err := deps.Plans.Build(r.Context(), userID, date, opts)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "building plan: %v", err)
			return
		}

		resp := BuildPlanResponse{
			State:   out.State,
			Date:    date.Format(domain.DateLayout),
			Plan:    out.Plan,
			Budget:  out.Budget,
			Failure: out.Failure,
		}
		if out.Decision != nil {
			resp.Best = out.Decision.Best
		}

		code := http.StatusOK
		switch {
		case out.Failure != nil:
			code = failureStatus(out.Failure.Code)
		case out.State == plan.StatePersisted:
			code = http.StatusCreated
		}
		writeJSON(w, code, resp)
	}
}

func handleGetPlan(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		date, err := resolveDate(deps.Calendar, userID, chi.URLParam(r, "date"))
		if err != nil {
			writeDateError(w, err)
			return
		}

		p, err := deps.Store.GetPlan(userID, date)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no plan for %s", date.Format(domain.DateLayout))
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get plan: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type SetCapacityRequest struct {
	Level string `json:"level"`
}

func handleSetCapacity(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		userID := chi.URLParam(r, "userID")
		date, err := resolveDate(deps.Calendar, userID, chi.URLParam(r, "date"))
		if err != nil {
			writeDateError(w, err)
			return
		}

		var req SetCapacityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		level, err := capacity.ParseLevel(req.Level)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		p, err := deps.Store.SetCapacityOverride(userID, date, string(level))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to set capacity: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleNextMove(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		ref, err := resolveDate(deps.Calendar, userID, r.URL.Query().Get("date"))
		if err != nil {
			writeDateError(w, err)
			return
		}

		res, err := deps.Engine.Run(r.Context(), userID, decision.Options{
			Persist:       parseBoolParam(r, "persist"),
			ReferenceDate: ref,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "evaluating next move: %v", err)
			return
		}
		if limit := parseIntParam(r, "limit", 0, 100); limit > 0 && len(res.Candidates) > limit {
			res.Candidates = res.Candidates[:limit]
		}
		writeJSON(w, http.StatusOK, res)
	}
}
