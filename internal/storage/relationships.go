package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kalambet/nextmove/internal/domain"
)

const relationshipColumns = `id, user_id, name, status, tier, cadence, cadence_days, momentum_trend,
	last_interaction_at, next_touch_due_at, earliest_insight_at, next_move_action_id, created_at`

func (s *Store) CreateRelationship(r domain.Relationship) error {
	if r.Status == "" {
		r.Status = domain.RelationshipActive
	}
	if r.Tier == "" {
		r.Tier = domain.TierNone
	}
	if r.MomentumTrend == "" {
		r.MomentumTrend = domain.MomentumUnknown
	}
	createdAt := s.timestamp()
	if !r.CreatedAt.IsZero() {
		createdAt = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`INSERT INTO relationships (`+relationshipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Name, r.Status, string(r.Tier), string(r.Cadence), nullInt(r.CadenceDays),
		string(r.MomentumTrend), nullTime(r.LastInteractionAt), nullTime(r.NextTouchDueAt),
		nullTime(r.EarliestInsightAt), nullString(r.NextMoveActionID), createdAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting relationship %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetRelationship(id string) (domain.Relationship, error) {
	row := s.db.QueryRow(`SELECT `+relationshipColumns+` FROM relationships WHERE id = ?`, id)
	r, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return domain.Relationship{}, ErrNotFound
	}
	return r, err
}

// ListActiveRelationships returns the user's ACTIVE relationships ordered by ID.
func (s *Store) ListActiveRelationships(userID string) ([]domain.Relationship, error) {
	rows, err := s.db.Query(`SELECT `+relationshipColumns+` FROM relationships
		WHERE user_id = ? AND status = ? ORDER BY id ASC`, userID, domain.RelationshipActive)
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}
	defer rows.Close()

	var results []domain.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SetNextMove clears every next-move pointer the user has, then points
// relationshipID at actionID, in one transaction.
func (s *Store) SetNextMove(userID, relationshipID, actionID string) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE relationships SET next_move_action_id = NULL
			WHERE user_id = ? AND next_move_action_id IS NOT NULL`, userID); err != nil {
			return fmt.Errorf("clearing next moves: %w", err)
		}
		res, err := tx.Exec(`UPDATE relationships SET next_move_action_id = ?
			WHERE id = ? AND user_id = ?`, actionID, relationshipID, userID)
		if err != nil {
			return fmt.Errorf("setting next move: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) ClearNextMove(userID string) error {
	if _, err := s.db.Exec(`UPDATE relationships SET next_move_action_id = NULL
		WHERE user_id = ? AND next_move_action_id IS NOT NULL`, userID); err != nil {
		return fmt.Errorf("clearing next moves: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelationship(row rowScanner) (domain.Relationship, error) {
	var r domain.Relationship
	var tier, cadence, momentum, createdAt string
	var cadenceDays sql.NullInt64
	var lastInteraction, nextTouch, insight, nextMove sql.NullString
	err := row.Scan(&r.ID, &r.UserID, &r.Name, &r.Status, &tier, &cadence, &cadenceDays, &momentum,
		&lastInteraction, &nextTouch, &insight, &nextMove, &createdAt)
	if err != nil {
		return domain.Relationship{}, err
	}
	r.Tier = domain.Tier(tier)
	r.Cadence = domain.Cadence(cadence)
	r.MomentumTrend = domain.MomentumTrend(momentum)
	r.CadenceDays = intPtr(cadenceDays)
	r.NextMoveActionID = stringPtr(nextMove)
	if r.LastInteractionAt, err = parseNullTime(lastInteraction); err != nil {
		return domain.Relationship{}, err
	}
	if r.NextTouchDueAt, err = parseNullTime(nextTouch); err != nil {
		return domain.Relationship{}, err
	}
	if r.EarliestInsightAt, err = parseNullTime(insight); err != nil {
		return domain.Relationship{}, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Relationship{}, err
	}
	return r, nil
}
