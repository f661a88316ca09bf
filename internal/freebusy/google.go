package freebusy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const googleBaseURL = "https://www.googleapis.com/calendar/v3"

// GoogleProvider reads busy blocks from the Google Calendar freeBusy endpoint.
type GoogleProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewGoogleProvider creates a provider against the public Google API.
func NewGoogleProvider(httpClient *http.Client) *GoogleProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &GoogleProvider{baseURL: googleBaseURL, httpClient: httpClient}
}

// NewGoogleProviderWithBaseURL points the provider at a custom base URL (for testing).
func NewGoogleProviderWithBaseURL(baseURL string, httpClient *http.Client) *GoogleProvider {
	p := NewGoogleProvider(httpClient)
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

type googleFreeBusyRequest struct {
	TimeMin  string              `json:"timeMin"`
	TimeMax  string              `json:"timeMax"`
	TimeZone string              `json:"timeZone,omitempty"`
	Items    []googleCalendarRef `json:"items"`
}

type googleCalendarRef struct {
	ID string `json:"id"`
}

type googleFreeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"busy"`
		Errors []struct {
			Domain string `json:"domain"`
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"calendars"`
}

func (p *GoogleProvider) FetchBusy(ctx context.Context, accessToken, calendarID string, start, end time.Time, timezone string) ([]Interval, error) {
	if calendarID == "" {
		calendarID = "primary"
	}
	body, err := json.Marshal(googleFreeBusyRequest{
		TimeMin:  start.Format(time.RFC3339),
		TimeMax:  end.Format(time.RFC3339),
		TimeZone: timezone,
		Items:    []googleCalendarRef{{ID: calendarID}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/freeBusy", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{Provider: ProviderGoogle, Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("google freeBusy: unexpected status %d: %s", resp.StatusCode, string(b))
	}

	var out googleFreeBusyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	cal, ok := out.Calendars[calendarID]
	if !ok {
		return nil, fmt.Errorf("google freeBusy: calendar %q missing from response", calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("google freeBusy: calendar %q: %s", calendarID, cal.Errors[0].Reason)
	}

	busy := make([]Interval, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		s, err := time.Parse(time.RFC3339, b.Start)
		if err != nil {
			return nil, fmt.Errorf("parsing busy start %q: %w", b.Start, err)
		}
		e, err := time.Parse(time.RFC3339, b.End)
		if err != nil {
			return nil, fmt.Errorf("parsing busy end %q: %w", b.End, err)
		}
		busy = append(busy, Interval{Start: s, End: e})
	}
	return busy, nil
}
