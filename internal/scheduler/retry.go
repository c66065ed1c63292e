package scheduler

import (
	"context"
	"errors"
	"time"

	"pillbot/internal/storage"
	"pillbot/pkg/logx"
)

// armRetry schedules the next retry fire for an unconfirmed reminder.
// retryCount is the number of repeats already sent; arming stops once the
// miss-marking fire (count MaxRetries+1) has been scheduled.
//
// The chain is strictly sequential per reminder: each timer is armed only
// after the previous fire completes, so at most one retry timer exists per
// reminder id at any moment.
func (r *Runtime) armRetry(reminderID string, chatID int64, retryCount int) {
	if retryCount > r.cfg.MaxRetries {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if old, ok := r.retries[reminderID]; ok {
		// Shouldn't happen in the sequential chain; replace defensively.
		old.Stop()
	}
	r.retries[reminderID] = time.AfterFunc(r.cfg.RetryInterval, func() {
		r.retryFire(reminderID, chatID)
	})
}

// CancelRetry clears the reminder's pending retry timer. Called by the
// confirmation handler right after a successful confirm so a just-confirmed
// reminder never gets a stray repeat. Idempotent: unknown ids are a no-op.
func (r *Runtime) CancelRetry(reminderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.retries[reminderID]; ok {
		t.Stop()
		delete(r.retries, reminderID)
	}
}

// retryFire runs one step of the retry chain:
//
//	increment count -> confirmed? stop : count > MaxRetries? mark missed :
//	delete old message (best-effort), send repeat, re-arm.
func (r *Runtime) retryFire(reminderID string, chatID int64) {
	r.mu.Lock()
	delete(r.retries, reminderID)
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	log := r.log.With(logx.String("reminder", reminderID))

	rem, err := r.store.IncrementRetryCount(ctx, reminderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Debug("retry fire for vanished reminder")
		} else {
			log.Error("retry increment failed", logx.Err(err))
		}
		return
	}

	// The user may have confirmed (or the schedule been edited) between the
	// timer arming and this fire.
	if rem.Status != storage.StatusPending {
		log.Debug("retry chain stopped", logx.String("status", string(rem.Status)))
		return
	}

	if rem.RetryCount > r.cfg.MaxRetries {
		if err := r.store.MarkReminderMissed(ctx, reminderID); err != nil {
			log.Error("marking missed failed", logx.Err(err))
			return
		}
		log.Info("reminder missed", logx.Int("repeats", r.cfg.MaxRetries))
		return
	}

	// Best-effort cleanup of the previous message; a failure here must not
	// stop the repeat.
	if rem.MessageID != 0 {
		if err := r.sender.DeleteMessage(ctx, chatID, rem.MessageID); err != nil {
			log.Warn("deleting previous message failed", logx.Err(err))
		}
	}

	text, err := r.store.RandomTemplate(ctx, storage.TemplateReminder)
	if err != nil {
		log.Error("loading repeat template failed", logx.Err(err))
		r.armRetry(reminderID, chatID, rem.RetryCount)
		return
	}

	msgID, err := r.sender.SendReminder(ctx, chatID, "🔔 Repeat reminder:\n\n"+text, reminderID)
	if err != nil {
		// No immediate re-attempt; the next retry interval is the natural
		// re-send point.
		log.Error("repeat send failed", logx.Err(err))
		r.armRetry(reminderID, chatID, rem.RetryCount)
		return
	}
	if err := r.store.SetReminderMessage(ctx, reminderID, msgID); err != nil {
		log.Warn("recording repeat message id failed", logx.Err(err))
	}

	log.Info("repeat reminder sent", logx.Int("attempt", rem.RetryCount), logx.Int("message_id", msgID))
	r.armRetry(reminderID, chatID, rem.RetryCount)
}
