package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const reminderCols = `id, schedule_id, sequence_order, status, retry_count, message_id, actual_confirmed_at, delay_minutes, created_at`

// CreateReminder inserts a new pending reminder at the given position in the
// schedule's trigger-time list.
func (s *Store) CreateReminder(ctx context.Context, scheduleID string, sequenceOrder int) (*Reminder, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(id, schedule_id, sequence_order, status, retry_count, created_at)
		 VALUES(?,?,?,?,0,?)`,
		id, scheduleID, sequenceOrder, StatusPending, fmtTime(s.now()))
	if err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	return s.ReminderByID(ctx, id)
}

func (s *Store) ReminderByID(ctx context.Context, id string) (*Reminder, error) {
	r, err := scanReminder(s.db.QueryRowContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ReminderWithSchedule loads a reminder together with its owning schedule.
func (s *Store) ReminderWithSchedule(ctx context.Context, id string) (*Reminder, *Schedule, error) {
	r, err := s.ReminderByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	sc, err := s.ScheduleByID(ctx, r.ScheduleID)
	if err != nil {
		return nil, nil, err
	}
	return r, sc, nil
}

// ConfirmReminder marks the reminder confirmed, stamps the confirmation time,
// records how late it was, and appends a confirmation row in the same
// transaction. The caller is expected to have checked the current status
// first; confirming an already-confirmed reminder is handled at that layer.
func (s *Store) ConfirmReminder(ctx context.Context, id string, delayMinutes *int) error {
	now := s.now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE reminders
			 SET status = ?, actual_confirmed_at = ?, delay_minutes = ?
			 WHERE id = ?`,
			StatusConfirmed, fmtTime(now), delayPtrArg(delayMinutes), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO confirmations(id, reminder_id, confirmed_at) VALUES(?,?,?)`,
			uuid.NewString(), id, fmtTime(now))
		return err
	})
}

// IncrementRetryCount bumps the retry counter and returns the updated row so
// the retry engine can observe a confirmation that raced the timer.
func (s *Store) IncrementRetryCount(ctx context.Context, id string) (*Reminder, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.ReminderByID(ctx, id)
}

// MarkReminderMissed moves a pending reminder to missed. It is a no-op when
// the reminder has already reached a terminal state (e.g. a confirmation that
// raced the final retry fire).
func (s *Store) MarkReminderMissed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ? WHERE id = ? AND status = ?`,
		StatusMissed, id, StatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish "absent" from "already terminal".
		if _, err := s.ReminderByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// SetReminderMessage records the outbound message id of the latest send.
func (s *Store) SetReminderMessage(ctx context.Context, id string, messageID int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET message_id = ? WHERE id = ?`, messageID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReminderSent completes a continuation claim: the reminder returns from
// processing to pending, now carrying the outbound message id (sent but
// unconfirmed).
func (s *Store) MarkReminderSent(ctx context.Context, id string, messageID int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ?, message_id = ? WHERE id = ? AND status = ?`,
		StatusPending, messageID, id, StatusProcessing)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimNextInSequence atomically claims the next pending reminder after the
// given sequence order, flipping it to processing. It returns (nil, nil) when
// no eligible reminder exists, including when a concurrent caller already
// claimed it. This conditional update is the duplicate-scheduling guard for
// sequential continuation.
func (s *Store) ClaimNextInSequence(ctx context.Context, scheduleID string, afterOrder int) (*Reminder, error) {
	var claimed *Reminder
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM reminders
			 WHERE schedule_id = ? AND status = ? AND sequence_order > ?
			 ORDER BY sequence_order LIMIT 1`,
			scheduleID, StatusPending, afterOrder).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE reminders SET status = ? WHERE id = ? AND status = ?`,
			StatusProcessing, id, StatusPending)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Lost the race inside the window; treat as nothing to claim.
			return nil
		}

		claimed, err = scanReminder(tx.QueryRowContext(ctx,
			`SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReleaseClaim reverts a processing reminder to pending so a later fire or a
// recovery pass can pick it up instead of it being stuck forever.
func (s *Store) ReleaseClaim(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ? WHERE id = ? AND status = ?`,
		StatusPending, id, StatusProcessing)
	return err
}

// CancelPendingReminders cancels every non-terminal reminder of a schedule.
// Used when the schedule is edited or deleted.
func (s *Store) CancelPendingReminders(ctx context.Context, scheduleID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ? WHERE schedule_id = ? AND status IN (?, ?)`,
		StatusCancelled, scheduleID, StatusPending, StatusProcessing)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) HasPendingReminders(ctx context.Context, scheduleID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM reminders WHERE schedule_id = ? AND status = ?`,
		scheduleID, StatusPending).Scan(&n)
	return n > 0, err
}

// HasSentUnconfirmed reports whether the schedule has a pending reminder that
// already went out (message id recorded). This is what distinguishes "not yet
// sent" from "sent, awaiting confirmation" in sequential mode.
func (s *Store) HasSentUnconfirmed(ctx context.Context, scheduleID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM reminders WHERE schedule_id = ? AND status = ? AND message_id != 0`,
		scheduleID, StatusPending).Scan(&n)
	return n > 0, err
}

// FirstPendingReminder returns the pending reminder with the lowest sequence
// order, or (nil, nil) when the schedule has none.
func (s *Store) FirstPendingReminder(ctx context.Context, scheduleID string) (*Reminder, error) {
	r, err := scanReminder(s.db.QueryRowContext(ctx,
		`SELECT `+reminderCols+` FROM reminders
		 WHERE schedule_id = ? AND status = ?
		 ORDER BY sequence_order LIMIT 1`,
		scheduleID, StatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// SentUnconfirmed lists every sent-but-unconfirmed reminder across active
// schedules, with routing info. Startup reconciliation uses this to re-arm
// retry chains lost in a restart.
func (s *Store) SentUnconfirmed(ctx context.Context) ([]PendingSend, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.schedule_id, r.sequence_order, r.status, r.retry_count, r.message_id,
		        r.actual_confirmed_at, r.delay_minutes, r.created_at,
		        sc.chat_id, sc.user_id
		 FROM reminders r
		 JOIN schedules sc ON sc.id = r.schedule_id AND sc.is_active = 1
		 WHERE r.status = ? AND r.message_id != 0`,
		StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingSend
	for rows.Next() {
		var ps PendingSend
		var confirmedAt sql.NullString
		var delay sql.NullInt64
		var created string
		err := rows.Scan(&ps.Reminder.ID, &ps.Reminder.ScheduleID, &ps.Reminder.SequenceOrder,
			&ps.Reminder.Status, &ps.Reminder.RetryCount, &ps.Reminder.MessageID,
			&confirmedAt, &delay, &created, &ps.ChatID, &ps.UserID)
		if err != nil {
			return nil, err
		}
		ps.Reminder.ActualConfirmedAt = nullTimePtr(confirmedAt)
		ps.Reminder.DelayMinutes = nullIntPtr(delay)
		ps.Reminder.CreatedAt = parseTime(created)
		out = append(out, ps)
	}
	return out, rows.Err()
}

// RemindersCreatedSince counts reminders of a schedule created at or after
// the given instant. The sequential seed job uses this to avoid re-creating a
// day's chain after it has been fully confirmed.
func (s *Store) RemindersCreatedSince(ctx context.Context, scheduleID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM reminders WHERE schedule_id = ? AND created_at >= ?`,
		scheduleID, fmtTime(since)).Scan(&n)
	return n, err
}

// ResetProcessing reverts any reminder stuck in processing back to pending.
// A claim that committed right before a crash would otherwise never be sent.
func (s *Store) ResetProcessing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ? WHERE status = ?`,
		StatusPending, StatusProcessing)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanReminder(row rowScanner) (*Reminder, error) {
	var r Reminder
	var confirmedAt sql.NullString
	var delay sql.NullInt64
	var created string
	err := row.Scan(&r.ID, &r.ScheduleID, &r.SequenceOrder, &r.Status, &r.RetryCount,
		&r.MessageID, &confirmedAt, &delay, &created)
	if err != nil {
		return nil, err
	}
	r.ActualConfirmedAt = nullTimePtr(confirmedAt)
	r.DelayMinutes = nullIntPtr(delay)
	r.CreatedAt = parseTime(created)
	return &r, nil
}

func delayPtrArg(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
