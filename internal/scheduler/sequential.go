package scheduler

import (
	"context"
	"fmt"
	"time"

	"pillbot/internal/storage"
	"pillbot/internal/timeutil"
	"pillbot/pkg/logx"
)

// ScheduleNextSequential continues a sequential chain after a confirmation.
// It claims the next pending reminder, computes the next fire instant from
// the caller's lateness, and either sends immediately or arms a one-shot
// continuation timer. The transactional claim is the only guard against
// duplicate scheduling: two racing confirmations cannot both flip the same
// row from pending to processing.
func (r *Runtime) ScheduleNextSequential(ctx context.Context, confirmedID string) error {
	rem, sc, err := r.store.ReminderWithSchedule(ctx, confirmedID)
	if err != nil {
		return err
	}
	if !sc.Sequential {
		return nil
	}

	claimed, err := r.store.ClaimNextInSequence(ctx, sc.ID, rem.SequenceOrder)
	if err != nil {
		return err
	}
	if claimed == nil {
		r.log.Debug("sequential chain complete", logx.String("schedule", sc.ID))
		return nil
	}

	// From here on the claim must never be silently abandoned: every error
	// path reverts the reminder to pending.
	confirmedAt := r.clockNow()
	if rem.ActualConfirmedAt != nil {
		confirmedAt = rem.ActualConfirmedAt.In(r.loc)
	}

	if rem.SequenceOrder >= len(sc.Times) || claimed.SequenceOrder >= len(sc.Times) {
		// Orders past the time list mean the sequence data is corrupt; fail
		// loudly rather than guess a slot.
		if relErr := r.store.ReleaseClaim(ctx, claimed.ID); relErr != nil {
			r.log.Error("releasing claim failed", logx.String("reminder", claimed.ID), logx.Err(relErr))
		}
		return fmt.Errorf("schedule %s: sequence order %d/%d outside time list (len %d)",
			sc.ID, rem.SequenceOrder, claimed.SequenceOrder, len(sc.Times))
	}

	maxDelay := r.store.MaxDelayMinutes(ctx, sc.UserID)
	prevSlot := sc.Times[rem.SequenceOrder]
	nextSlot := sc.Times[claimed.SequenceOrder]

	target := timeutil.NextSequentialTime(prevSlot, nextSlot, confirmedAt, maxDelay)
	delay := timeutil.FireDelay(target, r.clockNow())

	if delay <= 0 {
		// Already due; send inline.
		if err := r.sendClaimed(ctx, claimed.ID, sc.ChatID); err != nil {
			return err
		}
		return nil
	}

	if err := r.armContinuation(claimed.ID, sc.ChatID, delay); err != nil {
		if relErr := r.store.ReleaseClaim(ctx, claimed.ID); relErr != nil {
			r.log.Error("releasing claim failed", logx.String("reminder", claimed.ID), logx.Err(relErr))
		}
		return err
	}
	r.log.Info("continuation armed",
		logx.String("reminder", claimed.ID),
		logx.String("slot", nextSlot),
		logx.Duration("in", delay))
	return nil
}

// sendClaimed delivers a claimed (processing) reminder and moves it back to
// pending with its outbound message id recorded. On send failure the claim is
// released so the reminder can be picked up by a later fire instead of
// sticking in processing.
func (r *Runtime) sendClaimed(ctx context.Context, reminderID string, chatID int64) error {
	text, err := r.store.RandomTemplate(ctx, storage.TemplateReminder)
	if err != nil {
		if relErr := r.store.ReleaseClaim(ctx, reminderID); relErr != nil {
			r.log.Error("releasing claim failed", logx.String("reminder", reminderID), logx.Err(relErr))
		}
		return err
	}

	msgID, err := r.sender.SendReminder(ctx, chatID, text, reminderID)
	if err != nil {
		if relErr := r.store.ReleaseClaim(ctx, reminderID); relErr != nil {
			r.log.Error("releasing claim failed", logx.String("reminder", reminderID), logx.Err(relErr))
		}
		return fmt.Errorf("send reminder: %w", err)
	}

	if err := r.store.MarkReminderSent(ctx, reminderID, msgID); err != nil {
		r.log.Error("marking reminder sent failed", logx.String("reminder", reminderID), logx.Err(err))
	}

	r.armRetry(reminderID, chatID, 0)
	r.log.Info("reminder sent", logx.String("reminder", reminderID), logx.Int("message_id", msgID))
	return nil
}

// armContinuation schedules the one-shot continuation timer, enforcing the
// bounded-retention policy on the continuation map.
func (r *Runtime) armContinuation(reminderID string, chatID int64, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("scheduler stopped")
	}

	r.evictContinuationsLocked()

	if old, ok := r.continuations[reminderID]; ok {
		old.timer.Stop()
	}
	dt := &delayedTask{chatID: chatID, armedAt: r.now()}
	dt.timer = time.AfterFunc(delay, func() {
		r.continuationFire(reminderID, chatID)
	})
	r.continuations[reminderID] = dt
	return nil
}

func (r *Runtime) continuationFire(reminderID string, chatID int64) {
	r.mu.Lock()
	delete(r.continuations, reminderID)
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.sendClaimed(ctx, reminderID, chatID); err != nil {
		r.log.Error("continuation send failed", logx.String("reminder", reminderID), logx.Err(err))
	}
}

// evictContinuationsLocked keeps the continuation map under MaxDelayedTasks:
// entries older than DelayedTaskTTL go first, then oldest-first. Evicted
// claims are released in the background so the reminders return to pending.
// Unbounded growth would otherwise come from chains whose user never
// confirms.
func (r *Runtime) evictContinuationsLocked() {
	if len(r.continuations) < r.cfg.MaxDelayedTasks {
		return
	}

	now := r.now()
	var evicted []string

	for id, dt := range r.continuations {
		if now.Sub(dt.armedAt) > r.cfg.DelayedTaskTTL {
			dt.timer.Stop()
			delete(r.continuations, id)
			evicted = append(evicted, id)
		}
	}

	for len(r.continuations) >= r.cfg.MaxDelayedTasks {
		oldestID := ""
		var oldestAt time.Time
		for id, dt := range r.continuations {
			if oldestID == "" || dt.armedAt.Before(oldestAt) {
				oldestID, oldestAt = id, dt.armedAt
			}
		}
		if oldestID == "" {
			break
		}
		r.continuations[oldestID].timer.Stop()
		delete(r.continuations, oldestID)
		evicted = append(evicted, oldestID)
	}

	if len(evicted) > 0 {
		r.log.Warn("continuation timers evicted", logx.Int("count", len(evicted)))
		r.bg.Add(1)
		go func(ids []string) {
			defer r.bg.Done()
			r.mu.Lock()
			stopped := r.stopped
			r.mu.Unlock()
			if stopped {
				// Shutdown owns the remaining cleanup; writing here would race
				// with StopAll's quiescence guarantee.
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			for _, id := range ids {
				if err := r.store.ReleaseClaim(ctx, id); err != nil {
					r.log.Error("releasing evicted claim failed", logx.String("reminder", id), logx.Err(err))
				}
			}
		}(evicted)
	}
}
