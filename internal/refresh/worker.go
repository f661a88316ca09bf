// Package refresh warms the free/busy cache in the background from the
// SQLite job queue.
package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/freebusy"
	"github.com/kalambet/nextmove/internal/storage"
)

// JobType is the queue type handled by Worker.
const JobType = "freebusy_refresh"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Refresher refetches a user's free/busy, bypassing the cache.
type Refresher interface {
	Refresh(ctx context.Context, userID string, date time.Time) (*freebusy.Lookup, error)
	Warm(ctx context.Context, userID string) (*freebusy.Lookup, error)
	Location(userID string) (*time.Location, error)
}

type payload struct {
	UserID string `json:"user_id"`
	// Date is YYYY-MM-DD in the user's timezone; empty means today.
	Date string `json:"date,omitempty"`
}

// Enqueue schedules a cache warm for userID. A nil date warms today.
func Enqueue(store JobStore, userID string, date *time.Time) (string, error) {
	p := payload{UserID: userID}
	if date != nil {
		p.Date = date.Format(domain.DateLayout)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding refresh payload: %w", err)
	}
	id := uuid.New().String()
	if err := store.EnqueueJob(storage.Job{ID: id, Type: JobType, PayloadJSON: string(body)}); err != nil {
		return "", fmt.Errorf("enqueueing refresh: %w", err)
	}
	return id, nil
}

// Worker processes freebusy_refresh jobs.
type Worker struct {
	store  JobStore
	fb     Refresher
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, fb Refresher, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		fb:     fb,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("refresh iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. It returns true if a job was
// processed, whether or not it succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("refresh job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

var errNoCalendar = errors.New("no calendar answered")

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var p payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if p.UserID == "" {
		return errors.New("payload has no user_id")
	}

	var lookup *freebusy.Lookup
	var err error
	if p.Date == "" {
		lookup, err = w.fb.Warm(ctx, p.UserID)
	} else {
		loc, lerr := w.fb.Location(p.UserID)
		if lerr != nil {
			return lerr
		}
		date, perr := domain.ParseDate(p.Date, loc)
		if perr != nil {
			return fmt.Errorf("parsing date %q: %w", p.Date, perr)
		}
		lookup, err = w.fb.Refresh(ctx, p.UserID, date)
	}
	if err != nil {
		return fmt.Errorf("refreshing free/busy for %s: %w", p.UserID, err)
	}

	// Connections that all failed leave nothing cached; retry later.
	if lookup != nil && lookup.Result == nil && len(lookup.Connections) > 0 {
		return errNoCalendar
	}
	w.logger.Debug("free/busy warmed", "user_id", p.UserID, "date", p.Date, "free_minutes", lookup.FreeMinutes())
	return nil
}
