package scheduler

import (
	"context"
	"fmt"

	"pillbot/internal/storage"
	"pillbot/pkg/logx"
)

// fire handles one trigger fire for a (schedule, time) pair. Each fire is an
// independent failure domain: errors are logged and the fire abandoned, never
// propagated across schedules.
func (r *Runtime) fire(scheduleID string, chatID int64, timeStr string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	log := r.log.With(logx.String("schedule", scheduleID), logx.String("slot", timeStr))

	if err := r.fireOnce(ctx, scheduleID, chatID, timeStr); err != nil {
		log.Error("trigger fire failed", logx.Err(err))
	}
}

func (r *Runtime) fireOnce(ctx context.Context, scheduleID string, chatID int64, timeStr string) error {
	sc, err := r.store.ScheduleByID(ctx, scheduleID)
	if err != nil {
		// Schedule deleted but task not unregistered; nothing to do.
		return fmt.Errorf("load schedule: %w", err)
	}
	if !sc.IsActive {
		r.log.Warn("trigger fired for inactive schedule", logx.String("schedule", scheduleID))
		return nil
	}

	if !sc.Sequential {
		order := indexOfTime(sc.Times, timeStr)
		if order < 0 {
			return fmt.Errorf("slot %q not in schedule times %v", timeStr, sc.Times)
		}
		rem, err := r.store.CreateReminder(ctx, scheduleID, order)
		if err != nil {
			return err
		}
		return r.sendAndArm(ctx, rem.ID, chatID)
	}

	// Sequential: exactly one reminder may be outstanding at a time. If a
	// previous slot's reminder is still awaiting confirmation, this fire is
	// skipped rather than piling on duplicates.
	outstanding, err := r.store.HasSentUnconfirmed(ctx, scheduleID)
	if err != nil {
		return err
	}
	if outstanding {
		r.log.Debug("skip fire: previous reminder unconfirmed", logx.String("schedule", scheduleID))
		return nil
	}

	first, err := r.store.FirstPendingReminder(ctx, scheduleID)
	if err != nil {
		return err
	}
	if first == nil {
		// Day's chain exhausted (or not seeded yet).
		r.log.Debug("skip fire: no pending reminders", logx.String("schedule", scheduleID))
		return nil
	}
	return r.sendAndArm(ctx, first.ID, chatID)
}

// sendAndArm delivers the reminder message, records its outbound message id,
// and arms the retry chain.
func (r *Runtime) sendAndArm(ctx context.Context, reminderID string, chatID int64) error {
	text, err := r.store.RandomTemplate(ctx, storage.TemplateReminder)
	if err != nil {
		return err
	}

	msgID, err := r.sender.SendReminder(ctx, chatID, text, reminderID)
	if err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}
	if err := r.store.SetReminderMessage(ctx, reminderID, msgID); err != nil {
		r.log.Warn("recording message id failed", logx.String("reminder", reminderID), logx.Err(err))
	}

	r.armRetry(reminderID, chatID, 0)
	r.log.Info("reminder sent", logx.String("reminder", reminderID), logx.Int("message_id", msgID))
	return nil
}

func indexOfTime(times []string, t string) int {
	for i, v := range times {
		if v == t {
			return i
		}
	}
	return -1
}
