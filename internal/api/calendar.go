package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/nextmove/internal/capacity"
	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/freebusy"
	"github.com/kalambet/nextmove/internal/refresh"
	"github.com/kalambet/nextmove/internal/storage"
)

type FreeBusyResponse struct {
	Date string `json:"date"`
	*freebusy.Lookup
	Capacity capacity.Budget `json:"capacity"`
}

func newFreeBusyResponse(date time.Time, l *freebusy.Lookup) FreeBusyResponse {
	budget := capacity.Budget{Level: capacity.LevelDefault, Actions: capacity.ForLevel(capacity.LevelDefault), Source: capacity.SourceNoCalendar}
	if free := l.FreeMinutes(); free != nil {
		budget = capacity.ForFreeMinutes(free)
	}
	return FreeBusyResponse{Date: date.Format(domain.DateLayout), Lookup: l, Capacity: budget}
}

func handleFreeBusy(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		date, err := resolveDate(deps.Calendar, userID, r.URL.Query().Get("date"))
		if err != nil {
			writeDateError(w, err)
			return
		}

		l, err := deps.Calendar.FreeBusy(r.Context(), userID, date)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "fetching free/busy: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newFreeBusyResponse(date, l))
	}
}

func handleRefreshCalendar(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		date, err := resolveDate(deps.Calendar, userID, r.URL.Query().Get("date"))
		if err != nil {
			writeDateError(w, err)
			return
		}

		l, err := deps.Calendar.Refresh(r.Context(), userID, date)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "refreshing free/busy: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newFreeBusyResponse(date, l))
	}
}

type CreateConnectionRequest struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	CalendarID  string `json:"calendar_id"`
	AccessToken string `json:"access_token"`
}

func handleCreateConnection(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		userID := chi.URLParam(r, "userID")

		var req CreateConnectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !freebusy.KnownProvider(req.Provider) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported provider %q", req.Provider)
			return
		}
		if req.AccessToken == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "access_token is required")
			return
		}
		if req.CalendarID == "" {
			req.CalendarID = "primary"
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}

		conn := domain.CalendarConnection{
			ID:          req.ID,
			UserID:      userID,
			Provider:    req.Provider,
			CalendarID:  req.CalendarID,
			AccessToken: req.AccessToken,
			Status:      domain.ConnectionActive,
			CreatedAt:   time.Now().UTC(),
		}
		if err := deps.Store.CreateCalendarConnection(conn); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				httpError(w, http.StatusConflict, "conflict", "connection %s already exists", req.ID)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create connection: %v", err)
			return
		}
		if err := deps.Calendar.Invalidate(r.Context(), userID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusCreated, conn)
	}
}

func handleDeleteConnection(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		id := chi.URLParam(r, "id")

		if err := deps.Store.DisconnectCalendarConnection(userID, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "connection not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to disconnect: %v", err)
			return
		}
		if err := deps.Calendar.Invalidate(r.Context(), userID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleSession is the login hook: it queues a background warm of today's
// free/busy so the first plan of the day does not wait on providers.
func handleSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		jobID, err := refresh.Enqueue(deps.Store, userID, nil)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
	}
}
