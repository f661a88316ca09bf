package freebusy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/nextmove/internal/domain"
)

// ConnectionStore is the subset of storage the service needs.
type ConnectionStore interface {
	ListCalendarConnections(userID string) ([]domain.CalendarConnection, error)
	SetCalendarConnectionStatus(id, status string) error
	GetUserSettings(userID string) (domain.UserSettings, error)
}

// Defaults fill in user settings that are left empty.
type Defaults struct {
	Timezone  string
	WorkStart string
	WorkEnd   string
}

// Lookup is what Service.FreeBusy returns. Result is nil when there is no
// calendar data for the day, which is not the same as zero free minutes.
type Lookup struct {
	Result      *Result            `json:"result"`
	Connections []ConnectionResult `json:"connections,omitempty"`
	Cached      bool               `json:"cached"`
}

// FreeMinutes returns the merged free minutes, or nil without calendar data.
func (l *Lookup) FreeMinutes() *int {
	if l == nil || l.Result == nil {
		return nil
	}
	v := l.Result.FreeMinutes
	return &v
}

// Service puts the cache in front of the aggregator and keeps connection
// status in sync with what providers report.
type Service struct {
	store    ConnectionStore
	agg      *Aggregator
	cache    Cache
	defaults Defaults
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires a Service. A nil cache means every call hits the providers.
func NewService(store ConnectionStore, agg *Aggregator, cache Cache, defaults Defaults) *Service {
	return &Service{
		store:    store,
		agg:      agg,
		cache:    cache,
		defaults: defaults,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// Location returns the user's configured timezone, falling back to the default.
func (s *Service) Location(userID string) (*time.Location, error) {
	settings, err := s.settings(userID)
	if err != nil {
		return nil, err
	}
	return loadLocation(settings.Timezone)
}

// Today returns the current calendar day in the user's timezone.
func (s *Service) Today(userID string) (time.Time, error) {
	loc, err := s.Location(userID)
	if err != nil {
		return time.Time{}, err
	}
	return domain.Day(s.now().In(loc)), nil
}

// FreeBusy returns the aggregated free/busy view of date for userID.
func (s *Service) FreeBusy(ctx context.Context, userID string, date time.Time) (*Lookup, error) {
	settings, err := s.settings(userID)
	if err != nil {
		return nil, err
	}
	loc, err := loadLocation(settings.Timezone)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		r, ok, err := s.cache.Get(ctx, userID, date)
		if err != nil {
			s.logger.Warn("free/busy cache read failed", "user_id", userID, "error", err)
		} else if ok {
			return &Lookup{Result: r, Cached: true}, nil
		}
	}

	conns, err := s.store.ListCalendarConnections(userID)
	if err != nil {
		return nil, fmt.Errorf("listing calendar connections: %w", err)
	}
	if len(conns) == 0 {
		return &Lookup{}, nil
	}

	w, err := NewWindow(date, settings.Timezone, settings.WorkStart, settings.WorkEnd)
	if err != nil {
		return nil, err
	}
	result, perConn := s.agg.Aggregate(ctx, conns, w)

	for _, c := range perConn {
		if !c.AuthFailed {
			continue
		}
		if err := s.store.SetCalendarConnectionStatus(c.ConnectionID, domain.ConnectionAuthError); err != nil {
			s.logger.Error("marking connection auth_error", "connection_id", c.ConnectionID, "error", err)
		}
	}

	if result != nil && s.cache != nil {
		today := domain.Day(s.now().In(loc))
		if err := s.cache.Set(ctx, userID, date, result, TTLFor(date, today)); err != nil {
			s.logger.Warn("free/busy cache write failed", "user_id", userID, "error", err)
		}
	}
	return &Lookup{Result: result, Connections: perConn}, nil
}

// Invalidate drops every cached day for userID. Called on connect, disconnect,
// and manual refresh.
func (s *Service) Invalidate(ctx context.Context, userID string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		return fmt.Errorf("invalidating free/busy cache: %w", err)
	}
	return nil
}

// Refresh drops the cached entry for date and fetches it again.
func (s *Service) Refresh(ctx context.Context, userID string, date time.Time) (*Lookup, error) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID, date); err != nil {
			return nil, fmt.Errorf("invalidating free/busy cache: %w", err)
		}
	}
	return s.FreeBusy(ctx, userID, date)
}

// Warm refetches today's entry for userID.
func (s *Service) Warm(ctx context.Context, userID string) (*Lookup, error) {
	today, err := s.Today(userID)
	if err != nil {
		return nil, err
	}
	return s.Refresh(ctx, userID, today)
}

func (s *Service) settings(userID string) (domain.UserSettings, error) {
	st, err := s.store.GetUserSettings(userID)
	if err != nil {
		return domain.UserSettings{}, fmt.Errorf("loading user settings: %w", err)
	}
	if st.Timezone == "" {
		st.Timezone = s.defaults.Timezone
	}
	if st.WorkStart == "" {
		st.WorkStart = s.defaults.WorkStart
	}
	if st.WorkEnd == "" {
		st.WorkEnd = s.defaults.WorkEnd
	}
	return st, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", name, err)
	}
	return loc, nil
}
