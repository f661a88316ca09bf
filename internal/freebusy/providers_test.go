package freebusy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoogleProvider_FetchBusy(t *testing.T) {
	var got googleFreeBusyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/freeBusy", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"calendars":{"primary":{"busy":[
			{"start":"2026-05-04T09:00:00Z","end":"2026-05-04T10:00:00Z"},
			{"start":"2026-05-04T13:00:00+02:00","end":"2026-05-04T14:00:00+02:00"}
		]}}}`))
	}))
	defer srv.Close()

	p := NewGoogleProviderWithBaseURL(srv.URL+"/", srv.Client())
	busy, err := p.FetchBusy(context.Background(), "tok", "", at(9, 0), at(17, 0), "UTC")

	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.True(t, busy[0].Start.Equal(at(9, 0)))
	assert.True(t, busy[1].Start.Equal(at(11, 0)))
	assert.Equal(t, 60, busy[1].Minutes())

	assert.Equal(t, "primary", got.Items[0].ID)
	assert.Equal(t, "2026-05-04T09:00:00Z", got.TimeMin)
	assert.Equal(t, "UTC", got.TimeZone)
}

func TestGoogleProvider_AuthError(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		p := NewGoogleProviderWithBaseURL(srv.URL, srv.Client())
		_, err := p.FetchBusy(context.Background(), "expired", "work@example.com", at(9, 0), at(17, 0), "UTC")
		srv.Close()

		require.Error(t, err)
		assert.True(t, IsAuthError(err), "status %d", status)
	}
}

func TestGoogleProvider_Errors(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
	}{
		{"server error", http.StatusInternalServerError, `oops`},
		{"calendar missing", http.StatusOK, `{"calendars":{}}`},
		{"calendar error", http.StatusOK, `{"calendars":{"primary":{"errors":[{"domain":"global","reason":"notFound"}]}}}`},
		{"bad time", http.StatusOK, `{"calendars":{"primary":{"busy":[{"start":"yesterday","end":"today"}]}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewGoogleProviderWithBaseURL(srv.URL, srv.Client()).
				FetchBusy(context.Background(), "tok", "primary", at(9, 0), at(17, 0), "")
			require.Error(t, err)
			assert.False(t, IsAuthError(err))
		})
	}
}

func TestMicrosoftProvider_FetchBusy(t *testing.T) {
	var got graphScheduleRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/calendar/getSchedule", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"value":[{"scheduleId":"me@example.com","scheduleItems":[
			{"status":"busy","start":{"dateTime":"2026-05-04T09:00:00.0000000","timeZone":"UTC"},"end":{"dateTime":"2026-05-04T09:45:00.0000000","timeZone":"UTC"}},
			{"status":"free","start":{"dateTime":"2026-05-04T10:00:00.0000000","timeZone":"UTC"},"end":{"dateTime":"2026-05-04T11:00:00.0000000","timeZone":"UTC"}},
			{"status":"tentative","start":{"dateTime":"2026-05-04T15:00:00","timeZone":"UTC"},"end":{"dateTime":"2026-05-04T15:30:00","timeZone":"UTC"}}
		]}]}`))
	}))
	defer srv.Close()

	p := NewMicrosoftProviderWithBaseURL(srv.URL, srv.Client())
	busy, err := p.FetchBusy(context.Background(), "tok", "me@example.com", at(9, 0), at(17, 0), "UTC")

	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.True(t, busy[0].Start.Equal(at(9, 0)))
	assert.Equal(t, 45, busy[0].Minutes())
	assert.True(t, busy[1].Start.Equal(at(15, 0)))

	assert.Equal(t, []string{"me@example.com"}, got.Schedules)
	assert.Equal(t, "UTC", got.StartTime.TimeZone)
	assert.Equal(t, "2026-05-04T09:00:00", got.StartTime.DateTime)
}

func TestMicrosoftProvider_AuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewMicrosoftProviderWithBaseURL(srv.URL, srv.Client()).
		FetchBusy(context.Background(), "expired", "me@example.com", at(9, 0), at(17, 0), "UTC")
	assert.True(t, IsAuthError(err))
}

func TestMicrosoftProvider_ScheduleError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[{"scheduleId":"x@example.com","error":{"message":"mailbox not found"}}]}`))
	}))
	defer srv.Close()

	_, err := NewMicrosoftProviderWithBaseURL(srv.URL, srv.Client()).
		FetchBusy(context.Background(), "tok", "x@example.com", at(9, 0), at(17, 0), "UTC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox not found")

	_, err = NewMicrosoftProviderWithBaseURL(srv.URL, srv.Client()).
		FetchBusy(context.Background(), "tok", "", at(9, 0), at(17, 0), "UTC")
	assert.Error(t, err)
}

func TestParseGraphTime_NamedZone(t *testing.T) {
	got, err := parseGraphTime(graphDateTimeZone{DateTime: "2026-05-04T09:00:00", TimeZone: "Europe/Berlin"})
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)))
}
