// Package freebusy fetches busy time from calendar providers, merges it across
// connections, and turns it into a free-minutes estimate for a working day.
package freebusy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider returns busy intervals for a calendar between start and end.
// Implementations return *AuthError when the access token is rejected.
type Provider interface {
	FetchBusy(ctx context.Context, accessToken, calendarID string, start, end time.Time, timezone string) ([]Interval, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, accessToken, calendarID string, start, end time.Time, timezone string) ([]Interval, error)

func (f ProviderFunc) FetchBusy(ctx context.Context, accessToken, calendarID string, start, end time.Time, timezone string) ([]Interval, error) {
	return f(ctx, accessToken, calendarID, start, end, timezone)
}

// AuthError marks a rejected or expired credential.
type AuthError struct {
	Provider string
	Status   int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authorization rejected (HTTP %d)", e.Provider, e.Status)
}

// IsAuthError reports whether err (or anything it wraps) is an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// ErrUnknownProvider is returned for connections naming an unregistered provider.
var ErrUnknownProvider = errors.New("unknown calendar provider")

// Provider names stored on calendar connections.
const (
	ProviderGoogle    = "google"
	ProviderMicrosoft = "microsoft"
)

// KnownProvider reports whether name is a supported provider.
func KnownProvider(name string) bool {
	return name == ProviderGoogle || name == ProviderMicrosoft
}

// Registry maps provider names to implementations.
type Registry map[string]Provider

func (r Registry) lookup(name string) (Provider, error) {
	p, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}
