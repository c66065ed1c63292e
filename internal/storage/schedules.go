package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateSchedule creates an active schedule for the user in the given chat.
// A user may have at most one active schedule per chat; the check runs inside
// the insert transaction so concurrent creates cannot both succeed.
func (s *Store) CreateSchedule(ctx context.Context, userID string, chatID int64, times []string, sequential bool) (*Schedule, error) {
	timesJSON, err := json.Marshal(times)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := fmtTime(s.now())

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM schedules WHERE user_id = ? AND chat_id = ? AND is_active = 1`,
			userID, chatID).Scan(&existing)
		if err == nil {
			return ErrScheduleExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO schedules(id, user_id, chat_id, times, sequential, is_active, created_at, updated_at)
			 VALUES(?,?,?,?,?,1,?,?)`,
			id, userID, chatID, string(timesJSON), sequential, now, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.ScheduleByID(ctx, id)
}

func (s *Store) ScheduleByID(ctx context.Context, id string) (*Schedule, error) {
	return s.scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, chat_id, times, sequential, is_active, created_at, updated_at
		 FROM schedules WHERE id = ?`, id))
}

// ActiveSchedule returns the user's active schedule in the chat, or ErrNotFound.
func (s *Store) ActiveSchedule(ctx context.Context, userID string, chatID int64) (*Schedule, error) {
	return s.scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, chat_id, times, sequential, is_active, created_at, updated_at
		 FROM schedules WHERE user_id = ? AND chat_id = ? AND is_active = 1`, userID, chatID))
}

// ListActiveSchedules returns every active schedule; used to rebuild the cron
// registry at startup.
func (s *Store) ListActiveSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chat_id, times, sequential, is_active, created_at, updated_at
		 FROM schedules WHERE is_active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sc, err := scanScheduleRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func (s *Store) UpdateScheduleTimes(ctx context.Context, id string, times []string) error {
	timesJSON, err := json.Marshal(times)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET times = ?, updated_at = ? WHERE id = ?`,
		string(timesJSON), fmtTime(s.now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateSchedule soft-deletes the schedule. Reminders referencing it stay
// in place for the audit trail; outstanding pending ones should be cancelled
// separately via CancelPendingReminders.
func (s *Store) DeactivateSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET is_active = 0, updated_at = ? WHERE id = ?`,
		fmtTime(s.now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSchedule(row *sql.Row) (*Schedule, error) {
	sc, err := scanScheduleRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sc, err
}

func scanScheduleRow(row rowScanner) (*Schedule, error) {
	var sc Schedule
	var timesJSON, created, updated string
	err := row.Scan(&sc.ID, &sc.UserID, &sc.ChatID, &timesJSON, &sc.Sequential, &sc.IsActive, &created, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(timesJSON), &sc.Times); err != nil {
		return nil, fmt.Errorf("schedule %s: corrupt times: %w", sc.ID, err)
	}
	sc.CreatedAt = parseTime(created)
	sc.UpdatedAt = parseTime(updated)
	return &sc, nil
}
