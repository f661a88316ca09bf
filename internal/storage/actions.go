package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kalambet/nextmove/internal/domain"
)

const actionColumns = `id, user_id, person_id, action_type, state, title, due_date, estimated_minutes,
	promised_due_at, snooze_until, completed_at, lane, next_move_score, created_at, updated_at`

func (s *Store) CreateAction(a domain.Action) error {
	now := s.timestamp()
	createdAt := now
	if !a.CreatedAt.IsZero() {
		createdAt = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	if a.State == "" {
		a.State = domain.StateNew
	}
	var lane any
	if a.Lane != nil {
		lane = string(*a.Lane)
	}
	_, err := s.db.Exec(`INSERT INTO actions (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, nullString(a.PersonID), string(a.ActionType), string(a.State), a.Title,
		nullDate(a.DueDate), nullInt(a.EstimatedMinutes), nullTime(a.PromisedDueAt),
		nullTime(a.SnoozeUntil), nullTime(a.CompletedAt), lane, nullInt(a.NextMoveScore),
		createdAt, now,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting action %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) GetAction(id string) (domain.Action, error) {
	row := s.db.QueryRow(`SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return domain.Action{}, ErrNotFound
	}
	return a, err
}

// ListPendingActions returns the user's NEW, SENT, and SNOOZED actions ordered by ID.
func (s *Store) ListPendingActions(userID string) ([]domain.Action, error) {
	return s.queryActions(`SELECT `+actionColumns+` FROM actions
		WHERE user_id = ? AND state IN (?, ?, ?) ORDER BY id ASC`,
		userID, string(domain.StateNew), string(domain.StateSent), string(domain.StateSnoozed))
}

// ListCandidateActions returns actions eligible for a plan on date: NEW, or
// SNOOZED with the snooze expired by the end of date, and due on or before date.
func (s *Store) ListCandidateActions(userID string, date time.Time) ([]domain.Action, error) {
	day := domain.Day(date)
	endOfDay := day.AddDate(0, 0, 1).UTC().Format(time.RFC3339)
	return s.queryActions(`SELECT `+actionColumns+` FROM actions
		WHERE user_id = ?
		  AND (state = ? OR (state = ? AND (snooze_until IS NULL OR snooze_until < ?)))
		  AND due_date IS NOT NULL AND due_date <= ?
		ORDER BY id ASC`,
		userID, string(domain.StateNew), string(domain.StateSnoozed), endOfDay, day.Format(domain.DateLayout))
}

// SetActionState moves an action to state. Entering DONE or REPLIED stamps
// completed_at; any other state clears it.
func (s *Store) SetActionState(id string, state domain.ActionState) error {
	now := s.timestamp()
	var completedAt any
	if state.Completed() {
		completedAt = now
	}
	res, err := s.db.Exec(`UPDATE actions SET state = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(state), completedAt, now, id)
	if err != nil {
		return fmt.Errorf("updating action %s: %w", id, err)
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

// UpdateActionScores writes the engine-owned lane and score fields. Missing
// actions are skipped.
func (s *Store) UpdateActionScores(scores []domain.ActionScore) error {
	if len(scores) == 0 {
		return nil
	}
	now := s.timestamp()
	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`UPDATE actions SET lane = ?, next_move_score = ?, updated_at = ? WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("preparing score update: %w", err)
		}
		defer stmt.Close()
		for _, sc := range scores {
			if _, err := stmt.Exec(string(sc.Lane), sc.Score, now, sc.ActionID); err != nil {
				return fmt.Errorf("updating score for %s: %w", sc.ActionID, err)
			}
		}
		return nil
	})
}

// LastCompletionByRelationship maps relationship IDs to the latest completed_at
// of their DONE or REPLIED actions.
func (s *Store) LastCompletionByRelationship(userID string) (map[string]time.Time, error) {
	rows, err := s.db.Query(`SELECT person_id, MAX(completed_at) FROM actions
		WHERE user_id = ? AND person_id IS NOT NULL AND state IN (?, ?) AND completed_at IS NOT NULL
		GROUP BY person_id`, userID, string(domain.StateDone), string(domain.StateReplied))
	if err != nil {
		return nil, fmt.Errorf("querying last completions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var personID, completedAt string
		if err := rows.Scan(&personID, &completedAt); err != nil {
			return nil, err
		}
		t, err := parseTime(completedAt)
		if err != nil {
			return nil, err
		}
		out[personID] = t
	}
	return out, rows.Err()
}

// LastCompletionAt returns the user's most recent completion, or nil if the
// user has never finished an action.
func (s *Store) LastCompletionAt(userID string) (*time.Time, error) {
	var completedAt sql.NullString
	err := s.db.QueryRow(`SELECT MAX(completed_at) FROM actions
		WHERE user_id = ? AND state IN (?, ?)`, userID, string(domain.StateDone), string(domain.StateReplied)).Scan(&completedAt)
	if err != nil {
		return nil, fmt.Errorf("querying last completion: %w", err)
	}
	return parseNullTime(completedAt)
}

func (s *Store) queryActions(query string, args ...any) ([]domain.Action, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	defer rows.Close()

	var results []domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

func scanAction(row rowScanner) (domain.Action, error) {
	var a domain.Action
	var actionType, state, createdAt, updatedAt string
	var personID, dueDate, promised, snooze, completed, lane sql.NullString
	var estimate, score sql.NullInt64
	err := row.Scan(&a.ID, &a.UserID, &personID, &actionType, &state, &a.Title, &dueDate, &estimate,
		&promised, &snooze, &completed, &lane, &score, &createdAt, &updatedAt)
	if err != nil {
		return domain.Action{}, err
	}
	a.PersonID = stringPtr(personID)
	a.ActionType = domain.ActionType(actionType)
	a.State = domain.ActionState(state)
	a.EstimatedMinutes = intPtr(estimate)
	a.NextMoveScore = intPtr(score)
	if lane.Valid {
		l := domain.Lane(lane.String)
		a.Lane = &l
	}
	if a.DueDate, err = parseNullDate(dueDate); err != nil {
		return domain.Action{}, err
	}
	if a.PromisedDueAt, err = parseNullTime(promised); err != nil {
		return domain.Action{}, err
	}
	if a.SnoozeUntil, err = parseNullTime(snooze); err != nil {
		return domain.Action{}, err
	}
	if a.CompletedAt, err = parseNullTime(completed); err != nil {
		return domain.Action{}, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Action{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}
