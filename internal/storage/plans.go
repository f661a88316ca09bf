package storage

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kalambet/nextmove/internal/domain"
)

const planColumns = `id, user_id, date, capacity_level, capacity_override, free_minutes,
	focus_statement, adaptive_reason, created_at`

// GetPlan returns the user's plan for date with its actions ordered by position.
func (s *Store) GetPlan(userID string, date time.Time) (*domain.DailyPlan, error) {
	row := s.db.QueryRow(`SELECT `+planColumns+` FROM daily_plans WHERE user_id = ? AND date = ?`,
		userID, date.Format(domain.DateLayout))
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading plan: %w", err)
	}

	rows, err := s.db.Query(`SELECT dpa.position, dpa.is_fast_win, `+prefixed("a.", actionColumns)+`
		FROM daily_plan_actions dpa
		JOIN actions a ON a.id = dpa.action_id
		WHERE dpa.plan_id = ?
		ORDER BY dpa.position ASC`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("loading plan actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var position, fastWin int
		a, err := scanAction(prefixScanner{rows: rows, head: []any{&position, &fastWin}})
		if err != nil {
			return nil, err
		}
		p.Actions = append(p.Actions, domain.DailyPlanAction{
			PlanID:    p.ID,
			ActionID:  a.ID,
			Position:  position,
			IsFastWin: fastWin == 1,
			Action:    &a,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePlan inserts a plan header. A second header for the same user and
// date returns ErrConflict.
func (s *Store) CreatePlan(p domain.DailyPlan) error {
	createdAt := s.timestamp()
	if !p.CreatedAt.IsZero() {
		createdAt = p.CreatedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`INSERT INTO daily_plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Date.Format(domain.DateLayout), p.CapacityLevel, nullString(p.CapacityOverride),
		nullInt(p.FreeMinutes), nullString(p.FocusStatement), nullString(p.AdaptiveReason), createdAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting plan: %w", err)
	}
	return nil
}

// CompletePlanShell fills a header that has no rows yet with p's computed
// columns and rows, in one transaction. It returns ErrConflict when another
// build already wrote rows for the header.
func (s *Store) CompletePlanShell(p domain.DailyPlan) error {
	return s.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE daily_plans
			SET capacity_level = ?, capacity_override = ?, free_minutes = ?, focus_statement = ?, adaptive_reason = ?
			WHERE id = ? AND NOT EXISTS (SELECT 1 FROM daily_plan_actions WHERE plan_id = ?)`,
			p.CapacityLevel, nullString(p.CapacityOverride), nullInt(p.FreeMinutes),
			nullString(p.FocusStatement), nullString(p.AdaptiveReason), p.ID, p.ID,
		)
		if err != nil {
			return fmt.Errorf("updating plan %s: %w", p.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			err := tx.QueryRow(`SELECT COUNT(*) FROM daily_plans WHERE id = ?`, p.ID).Scan(&exists)
			if err != nil {
				return fmt.Errorf("checking plan %s: %w", p.ID, err)
			}
			if exists == 0 {
				return ErrNotFound
			}
			return ErrConflict
		}
		return insertPlanActions(tx, p.ID, p.Actions)
	})
}

// InsertPlanActions writes all rows or none. A row that collides with an
// existing one returns ErrConflict.
func (s *Store) InsertPlanActions(planID string, rows []domain.DailyPlanAction) error {
	return s.inTx(func(tx *sql.Tx) error {
		return insertPlanActions(tx, planID, rows)
	})
}

func insertPlanActions(tx *sql.Tx, planID string, rows []domain.DailyPlanAction) error {
	stmt, err := tx.Prepare(`INSERT INTO daily_plan_actions (plan_id, action_id, position, is_fast_win)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing plan action insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(planID, r.ActionID, r.Position, boolInt(r.IsFastWin)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("plan action %s at %d: %w", r.ActionID, r.Position, ErrConflict)
			}
			return fmt.Errorf("inserting plan action %s at %d: %w", r.ActionID, r.Position, err)
		}
	}
	return nil
}

// DeletePlan removes a header and, by cascade, its rows.
func (s *Store) DeletePlan(id string) error {
	if _, err := s.db.Exec(`DELETE FROM daily_plans WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting plan %s: %w", id, err)
	}
	return nil
}

// SetCapacityOverride records a manual capacity level for date. When no plan
// exists yet it creates a shell header that a later build completes.
func (s *Store) SetCapacityOverride(userID string, date time.Time, level string) (*domain.DailyPlan, error) {
	id := ulid.MustNew(ulid.Timestamp(s.now()), ulid.Monotonic(rand.Reader, 0)).String()
	_, err := s.db.Exec(`INSERT INTO daily_plans (id, user_id, date, capacity_level, capacity_override, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, date) DO UPDATE SET capacity_override = excluded.capacity_override`,
		id, userID, date.Format(domain.DateLayout), level, level, s.timestamp(),
	)
	if err != nil {
		return nil, fmt.Errorf("setting capacity override: %w", err)
	}
	return s.GetPlan(userID, date)
}

// CompletionHistory summarizes the user's plans dated from..to inclusive.
// Completed counts rows whose action is DONE or REPLIED.
func (s *Store) CompletionHistory(userID string, from, to time.Time) ([]domain.CompletionDay, error) {
	rows, err := s.db.Query(`SELECT p.date,
			COUNT(dpa.action_id),
			COALESCE(SUM(CASE WHEN a.state IN (?, ?) THEN 1 ELSE 0 END), 0)
		FROM daily_plans p
		JOIN daily_plan_actions dpa ON dpa.plan_id = p.id
		JOIN actions a ON a.id = dpa.action_id
		WHERE p.user_id = ? AND p.date >= ? AND p.date <= ?
		GROUP BY p.date
		ORDER BY p.date ASC`,
		string(domain.StateDone), string(domain.StateReplied), userID,
		from.Format(domain.DateLayout), to.Format(domain.DateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("querying completion history: %w", err)
	}
	defer rows.Close()

	var days []domain.CompletionDay
	for rows.Next() {
		var date string
		var d domain.CompletionDay
		if err := rows.Scan(&date, &d.Planned, &d.Completed); err != nil {
			return nil, err
		}
		if d.Date, err = domain.ParseDate(date, from.Location()); err != nil {
			return nil, fmt.Errorf("parsing plan date %q: %w", date, err)
		}
		if d.Planned > 0 {
			d.CompletionRate = float64(d.Completed) / float64(d.Planned)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func scanPlan(row rowScanner) (domain.DailyPlan, error) {
	var p domain.DailyPlan
	var date, createdAt string
	var override, focus, reason sql.NullString
	var free sql.NullInt64
	if err := row.Scan(&p.ID, &p.UserID, &date, &p.CapacityLevel, &override, &free,
		&focus, &reason, &createdAt); err != nil {
		return domain.DailyPlan{}, err
	}
	var err error
	if p.Date, err = domain.ParseDate(date, time.UTC); err != nil {
		return domain.DailyPlan{}, fmt.Errorf("parsing plan date %q: %w", date, err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.DailyPlan{}, err
	}
	p.CapacityOverride = stringPtr(override)
	p.FreeMinutes = intPtr(free)
	p.FocusStatement = stringPtr(focus)
	p.AdaptiveReason = stringPtr(reason)
	return p, nil
}

// prefixScanner scans leading columns into head before handing the rest to
// a row scanner.
type prefixScanner struct {
	rows *sql.Rows
	head []any
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.rows.Scan(append(append([]any{}, p.head...), dest...)...)
}

func prefixed(prefix, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
