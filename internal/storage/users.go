package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pillbot/pkg/logx"
)

// UpsertUser registers a Telegram user or refreshes their profile fields.
func (s *Store) UpsertUser(ctx context.Context, telegramID int64, username, firstName, lastName string) (*User, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, telegram_id, username, first_name, last_name, max_delay_minutes, sequential_mode, created_at)
		 VALUES(?,?,?,?,?,?,0,?)
		 ON CONFLICT(telegram_id) DO UPDATE SET
		   username=excluded.username,
		   first_name=excluded.first_name,
		   last_name=excluded.last_name`,
		uuid.NewString(), telegramID, username, firstName, lastName, DefaultDelayMinutes, fmtTime(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.UserByTelegramID(ctx, telegramID)
}

func (s *Store) UserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, telegram_id, username, first_name, last_name, max_delay_minutes, sequential_mode, custom_status, created_at
		 FROM users WHERE telegram_id = ?`, telegramID))
}

func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, telegram_id, username, first_name, last_name, max_delay_minutes, sequential_mode, custom_status, created_at
		 FROM users WHERE id = ?`, id))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	var created string
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName,
		&u.MaxDelayMinutes, &u.SequentialMode, &u.CustomStatus, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(created)
	return &u, nil
}

// SetMaxDelay updates the user's delay cap. Values outside
// [MinDelayMinutes, MaxDelayMinutes] are rejected with ErrInvalidDelay so the
// scheduling core never sees them.
func (s *Store) SetMaxDelay(ctx context.Context, telegramID int64, minutes int) error {
	if minutes < MinDelayMinutes || minutes > MaxDelayMinutes {
		return fmt.Errorf("%w: %d (allowed %d..%d)", ErrInvalidDelay, minutes, MinDelayMinutes, MaxDelayMinutes)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET max_delay_minutes = ? WHERE telegram_id = ?`, minutes, telegramID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCustomStatus sets the user's admin-assigned status line; an empty string
// clears it.
func (s *Store) SetCustomStatus(ctx context.Context, telegramID int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET custom_status = ? WHERE telegram_id = ?`, status, telegramID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetSequentialMode(ctx context.Context, telegramID int64, on bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET sequential_mode = ? WHERE telegram_id = ?`, on, telegramID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MaxDelayMinutes returns the user's delay cap, falling back to the default
// when the user is missing or the read fails. The continuation engine treats
// this as configuration, never as an error path.
func (s *Store) MaxDelayMinutes(ctx context.Context, userID string) int {
	var m int
	err := s.db.QueryRowContext(ctx,
		`SELECT max_delay_minutes FROM users WHERE id = ?`, userID).Scan(&m)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Warn("max delay read failed, using default", logx.String("user", userID), logx.Err(err))
		}
		return DefaultDelayMinutes
	}
	if m < MinDelayMinutes || m > MaxDelayMinutes {
		return DefaultDelayMinutes
	}
	return m
}
