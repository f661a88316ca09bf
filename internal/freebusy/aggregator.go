package freebusy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/nextmove/internal/domain"
)

const (
	defaultFetchTimeout = 10 * time.Second
	maxParallelFetches  = 4
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ConfidenceFor labels an aggregate by how many calendars contributed.
func ConfidenceFor(calendarCount int) Confidence {
	switch {
	case calendarCount >= 3:
		return ConfidenceHigh
	case calendarCount == 2:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ConnectionResult is the outcome of one connection's fetch.
type ConnectionResult struct {
	ConnectionID string     `json:"connection_id"`
	Provider     string     `json:"provider"`
	Busy         []Interval `json:"busy,omitempty"`
	FreeMinutes  int        `json:"free_minutes"`
	Err          error      `json:"-"`
	Error        string     `json:"error,omitempty"`
	AuthFailed   bool       `json:"auth_failed,omitempty"`
}

// OK reports whether the fetch succeeded.
func (c ConnectionResult) OK() bool { return c.Err == nil }

// Result is the merged view across every connection that answered.
type Result struct {
	Date           string     `json:"date"`
	Window         Window     `json:"window"`
	Busy           []Interval `json:"busy"`
	WorkingMinutes int        `json:"working_minutes"`
	BusyMinutes    int        `json:"busy_minutes"`
	FreeMinutes    int        `json:"free_minutes"`
	CalendarCount  int        `json:"calendar_count"`
	Confidence     Confidence `json:"confidence"`
	FetchedAt      time.Time  `json:"fetched_at"`
}

// Aggregator fans out to every connection and merges what comes back.
type Aggregator struct {
	providers Registry
	timeout   time.Duration
	limit     int
	logger    *slog.Logger
	now       func() time.Time
}

// NewAggregator creates an Aggregator. If timeout is <= 0 it defaults to 10s.
func NewAggregator(providers Registry, timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Aggregator{
		providers: providers,
		timeout:   timeout,
		limit:     maxParallelFetches,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// Aggregate fetches busy time from every connection, at most a.limit at a
// time. A failing or slow connection is reported in the per-connection
// results and left out of the merge. The merged Result is nil when no
// connection answered.
func (a *Aggregator) Aggregate(ctx context.Context, conns []domain.CalendarConnection, w Window) (*Result, []ConnectionResult) {
	results := make([]ConnectionResult, len(conns))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)
	for i, conn := range conns {
		g.Go(func() error {
			results[i] = a.fetchOne(gCtx, conn, w)
			// Connection failures stay in results. Only the caller going
			// away cancels the fetches still queued.
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.Warn("calendar aggregation cancelled", "connections", len(conns), "error", err)
	}

	var all []Interval
	count := 0
	for _, r := range results {
		if !r.OK() {
			a.logger.Warn("calendar fetch failed",
				"connection_id", r.ConnectionID,
				"provider", r.Provider,
				"auth_failed", r.AuthFailed,
				"error", r.Err,
			)
			continue
		}
		count++
		all = append(all, r.Busy...)
	}
	if count == 0 {
		return nil, results
	}

	merged := Merge(all)
	busy := TotalMinutes(merged)
	working := w.Minutes()
	return &Result{
		Date:           w.Start.Format(domain.DateLayout),
		Window:         w,
		Busy:           merged,
		WorkingMinutes: working,
		BusyMinutes:    busy,
		FreeMinutes:    max(0, working-busy),
		CalendarCount:  count,
		Confidence:     ConfidenceFor(count),
		FetchedAt:      a.now().UTC(),
	}, results
}

type fetchReply struct {
	busy []Interval
	err  error
}

func (a *Aggregator) fetchOne(ctx context.Context, conn domain.CalendarConnection, w Window) ConnectionResult {
	res := ConnectionResult{ConnectionID: conn.ID, Provider: conn.Provider}

	p, err := a.providers.lookup(conn.Provider)
	if err != nil {
		return res.fail(err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// Buffered so a provider that ignores ctx cannot leak a blocked sender.
	ch := make(chan fetchReply, 1)
	go func() {
		busy, err := p.FetchBusy(fetchCtx, conn.AccessToken, conn.CalendarID, w.Start, w.End, w.Timezone)
		ch <- fetchReply{busy: busy, err: err}
	}()

	var reply fetchReply
	select {
	case reply = <-ch:
	case <-fetchCtx.Done():
		reply.err = fmt.Errorf("fetching %s calendar: %w", conn.Provider, fetchCtx.Err())
	}
	if reply.err != nil {
		return res.fail(reply.err)
	}

	res.Busy = Merge(w.Clip(reply.busy))
	res.FreeMinutes = max(0, w.Minutes()-TotalMinutes(res.Busy))
	return res
}

func (c ConnectionResult) fail(err error) ConnectionResult {
	c.Err = err
	c.Error = err.Error()
	c.AuthFailed = IsAuthError(err)
	return c
}
