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

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// graphDateTime is the zone-less layout Graph uses inside dateTimeTimeZone.
const graphDateTime = "2006-01-02T15:04:05.9999999"

// MicrosoftProvider reads busy blocks from Microsoft Graph getSchedule.
type MicrosoftProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewMicrosoftProvider creates a provider against the public Graph API.
func NewMicrosoftProvider(httpClient *http.Client) *MicrosoftProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &MicrosoftProvider{baseURL: graphBaseURL, httpClient: httpClient}
}

// NewMicrosoftProviderWithBaseURL points the provider at a custom base URL (for testing).
func NewMicrosoftProviderWithBaseURL(baseURL string, httpClient *http.Client) *MicrosoftProvider {
	p := NewMicrosoftProvider(httpClient)
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

type graphDateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphScheduleRequest struct {
	Schedules                []string          `json:"schedules"`
	StartTime                graphDateTimeZone `json:"startTime"`
	EndTime                  graphDateTimeZone `json:"endTime"`
	AvailabilityViewInterval int               `json:"availabilityViewInterval"`
}

type graphScheduleResponse struct {
	Value []struct {
		ScheduleID    string `json:"scheduleId"`
		ScheduleItems []struct {
			Status string            `json:"status"`
			Start  graphDateTimeZone `json:"start"`
			End    graphDateTimeZone `json:"end"`
		} `json:"scheduleItems"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"value"`
}

func (p *MicrosoftProvider) FetchBusy(ctx context.Context, accessToken, calendarID string, start, end time.Time, _ string) ([]Interval, error) {
	if calendarID == "" {
		return nil, fmt.Errorf("microsoft getSchedule: calendar id (mailbox address) is required")
	}
	body, err := json.Marshal(graphScheduleRequest{
		Schedules:                []string{calendarID},
		StartTime:                graphDateTimeZone{DateTime: start.UTC().Format(graphDateTime), TimeZone: "UTC"},
		EndTime:                  graphDateTimeZone{DateTime: end.UTC().Format(graphDateTime), TimeZone: "UTC"},
		AvailabilityViewInterval: 15,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/me/calendar/getSchedule", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{Provider: ProviderMicrosoft, Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("microsoft getSchedule: unexpected status %d: %s", resp.StatusCode, string(b))
	}

	var out graphScheduleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	var busy []Interval
	for _, sched := range out.Value {
		if sched.Error != nil {
			return nil, fmt.Errorf("microsoft getSchedule: %s: %s", sched.ScheduleID, sched.Error.Message)
		}
		for _, item := range sched.ScheduleItems {
			if strings.EqualFold(item.Status, "free") {
				continue
			}
			s, err := parseGraphTime(item.Start)
			if err != nil {
				return nil, err
			}
			e, err := parseGraphTime(item.End)
			if err != nil {
				return nil, err
			}
			busy = append(busy, Interval{Start: s, End: e})
		}
	}
	return busy, nil
}

func parseGraphTime(v graphDateTimeZone) (time.Time, error) {
	loc := time.UTC
	if v.TimeZone != "" && !strings.EqualFold(v.TimeZone, "UTC") {
		l, err := time.LoadLocation(v.TimeZone)
		if err != nil {
			return time.Time{}, fmt.Errorf("loading graph timezone %q: %w", v.TimeZone, err)
		}
		loc = l
	}
	t, err := time.ParseInLocation(graphDateTime, v.DateTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing graph time %q: %w", v.DateTime, err)
	}
	return t, nil
}
