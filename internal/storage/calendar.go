package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kalambet/nextmove/internal/domain"
)

// --- Calendar connections ---

func (s *Store) CreateCalendarConnection(c domain.CalendarConnection) error {
	if c.Status == "" {
		c.Status = domain.ConnectionActive
	}
	createdAt := s.timestamp()
	if !c.CreatedAt.IsZero() {
		createdAt = c.CreatedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`INSERT INTO calendar_connections (id, user_id, provider, calendar_id, access_token, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Provider, c.CalendarID, c.AccessToken, c.Status, createdAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting calendar connection: %w", err)
	}
	return nil
}

// ListCalendarConnections returns the user's active connections.
func (s *Store) ListCalendarConnections(userID string) ([]domain.CalendarConnection, error) {
	rows, err := s.db.Query(`SELECT id, user_id, provider, calendar_id, access_token, status, created_at
		FROM calendar_connections WHERE user_id = ? AND status = ? ORDER BY id ASC`,
		userID, domain.ConnectionActive)
	if err != nil {
		return nil, fmt.Errorf("listing calendar connections: %w", err)
	}
	defer rows.Close()

	var results []domain.CalendarConnection
	for rows.Next() {
		var c domain.CalendarConnection
		var createdAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Provider, &c.CalendarID, &c.AccessToken, &c.Status, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func (s *Store) SetCalendarConnectionStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE calendar_connections SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating connection %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DisconnectCalendarConnection marks the user's connection disconnected.
func (s *Store) DisconnectCalendarConnection(userID, id string) error {
	res, err := s.db.Exec(`UPDATE calendar_connections SET status = ? WHERE id = ? AND user_id = ?`,
		domain.ConnectionDisconnected, id, userID)
	if err != nil {
		return fmt.Errorf("disconnecting connection %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- User settings ---

func (s *Store) UpsertUserSettings(us domain.UserSettings) error {
	_, err := s.db.Exec(`INSERT INTO user_settings (user_id, timezone, work_start, work_end, pending_action_cap, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			timezone = excluded.timezone,
			work_start = excluded.work_start,
			work_end = excluded.work_end,
			pending_action_cap = excluded.pending_action_cap,
			updated_at = excluded.updated_at`,
		us.UserID, us.Timezone, us.WorkStart, us.WorkEnd, us.PendingActionCap, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("upserting user settings: %w", err)
	}
	return nil
}

// GetUserSettings returns the user's settings, or zero settings carrying only
// UserID when none are stored.
func (s *Store) GetUserSettings(userID string) (domain.UserSettings, error) {
	us := domain.UserSettings{UserID: userID}
	err := s.db.QueryRow(`SELECT timezone, work_start, work_end, pending_action_cap
		FROM user_settings WHERE user_id = ?`, userID).Scan(&us.Timezone, &us.WorkStart, &us.WorkEnd, &us.PendingActionCap)
	if err == sql.ErrNoRows {
		return us, nil
	}
	if err != nil {
		return domain.UserSettings{}, fmt.Errorf("loading user settings: %w", err)
	}
	return us, nil
}

// --- Email signals ---

func (s *Store) UpsertEmailSignals(userID, relationshipID string, sig domain.EmailSignals) error {
	_, err := s.db.Exec(`INSERT INTO email_signals (user_id, relationship_id, has_open_loops, has_unanswered_asks, days_since_last_email, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, relationship_id) DO UPDATE SET
			has_open_loops = excluded.has_open_loops,
			has_unanswered_asks = excluded.has_unanswered_asks,
			days_since_last_email = excluded.days_since_last_email,
			updated_at = excluded.updated_at`,
		userID, relationshipID, boolInt(sig.HasOpenLoops), boolInt(sig.HasUnansweredAsks),
		nullInt(sig.DaysSinceLastEmail), s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("upserting email signals: %w", err)
	}
	return nil
}

// GetSignals returns the stored signals for a relationship, or nil when none exist.
func (s *Store) GetSignals(ctx context.Context, userID, relationshipID string) (*domain.EmailSignals, error) {
	var openLoops, unanswered int
	var days sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT has_open_loops, has_unanswered_asks, days_since_last_email
		FROM email_signals WHERE user_id = ? AND relationship_id = ?`, userID, relationshipID).
		Scan(&openLoops, &unanswered, &days)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading email signals: %w", err)
	}
	return &domain.EmailSignals{
		HasOpenLoops:       openLoops == 1,
		HasUnansweredAsks:  unanswered == 1,
		DaysSinceLastEmail: intPtr(days),
	}, nil
}
