package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pillbot/internal/quiz"
	"pillbot/internal/storage"
	"pillbot/internal/timeutil"
	"pillbot/internal/transport"
	"pillbot/pkg/logx"
)

func (b *Bot) handleCallback(ctx context.Context, cb *transport.Callback) {
	switch {
	case strings.HasPrefix(cb.Data, cbConfirmPrefix):
		b.onConfirm(ctx, cb, strings.TrimPrefix(cb.Data, cbConfirmPrefix))
	case strings.HasPrefix(cb.Data, cbQuizPrefix):
		b.onQuizAnswer(ctx, cb, strings.TrimPrefix(cb.Data, cbQuizPrefix))
	default:
		b.answerCallback(ctx, cb.ID, "")
	}
}

// answerCallback acknowledges the button press; Telegram shows text as a
// toast. Failures only get a debug log since the press already happened.
func (b *Bot) answerCallback(ctx context.Context, callbackID, text string) {
	if err := b.adapter.AnswerCallback(ctx, callbackID, text); err != nil {
		b.log.Debug("callback answer failed", logx.Err(err))
	}
}

// onConfirm handles a reminder confirmation button press: ownership check,
// terminal-state no-ops, the confirm transition with delay bookkeeping, retry
// cancellation, the reward reply, and the sequential continuation.
func (b *Bot) onConfirm(ctx context.Context, cb *transport.Callback, reminderID string) {
	log := b.log.With(logx.String("reminder", reminderID), logx.Int64("from", cb.FromID))

	rem, sc, err := b.store.ReminderWithSchedule(ctx, reminderID)
	if errors.Is(err, storage.ErrNotFound) {
		b.answerCallback(ctx, cb.ID, "This reminder no longer exists.")
		return
	}
	if err != nil {
		log.Error("reminder lookup failed", logx.Err(err))
		b.answerCallback(ctx, cb.ID, "Something went wrong, please try again.")
		return
	}

	owner, err := b.store.UserByID(ctx, sc.UserID)
	if err != nil {
		log.Error("owner lookup failed", logx.String("user", sc.UserID), logx.Err(err))
		b.answerCallback(ctx, cb.ID, "Something went wrong, please try again.")
		return
	}
	if owner.TelegramID != cb.FromID {
		b.answerCallback(ctx, cb.ID, "This reminder is not yours.")
		return
	}

	switch rem.Status {
	case storage.StatusConfirmed:
		b.answerCallback(ctx, cb.ID, "Already confirmed.")
		return
	case storage.StatusMissed, storage.StatusCancelled:
		b.answerCallback(ctx, cb.ID, "This reminder is closed.")
		return
	}

	var delayPtr *int
	if rem.SequenceOrder < len(sc.Times) {
		delay := timeutil.DelayMinutes(b.now().In(b.loc), sc.Times[rem.SequenceOrder])
		delayPtr = &delay
	}

	if err := b.store.ConfirmReminder(ctx, reminderID, delayPtr); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.answerCallback(ctx, cb.ID, "This reminder no longer exists.")
			return
		}
		log.Error("confirm failed", logx.Err(err))
		b.answerCallback(ctx, cb.ID, "Something went wrong, please try again.")
		return
	}

	b.runtime.CancelRetry(reminderID)
	b.answerCallback(ctx, cb.ID, "Confirmed ✅")

	// Replace the reminder message with the reward so the confirm button
	// disappears. Both steps are cosmetic, hence best-effort.
	if err := b.adapter.DeleteMessage(ctx, transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}); err != nil {
		log.Warn("deleting confirmed message failed", logx.Err(err))
	}
	reward, err := b.store.RandomTemplate(ctx, storage.TemplateReward)
	if err == nil {
		b.reply(ctx, cb.ChatID, reward)
	}

	if sc.Sequential {
		if err := b.runtime.ScheduleNextSequential(ctx, reminderID); err != nil {
			log.Error("sequential continuation failed", logx.Err(err))
		}
	}

	log.Info("reminder confirmed", logx.Int("order", rem.SequenceOrder))
}

func (b *Bot) onQuizAnswer(ctx context.Context, cb *transport.Callback, idxStr string) {
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		b.answerCallback(ctx, cb.ID, "")
		return
	}

	res, err := b.quizzes.Answer(cb.FromID, cb.ChatID, idx)
	if errors.Is(err, quiz.ErrNoSession) {
		b.answerCallback(ctx, cb.ID, "No quiz running. Start one with /startquiz.")
		return
	}
	if err != nil {
		b.answerCallback(ctx, cb.ID, "That option is not available.")
		return
	}

	if res.WasCorrect {
		b.answerCallback(ctx, cb.ID, "Correct! ✅")
	} else {
		b.answerCallback(ctx, cb.ID, fmt.Sprintf("Wrong. Right answer: %s", res.CorrectText))
	}

	// Strip the buttons off the answered question.
	if err := b.adapter.DeleteMessage(ctx, transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}); err != nil {
		b.log.Debug("deleting quiz message failed", logx.Err(err))
	}

	if res.Finished {
		b.reply(ctx, cb.ChatID, fmt.Sprintf(
			"Quiz finished! Score: %d correct, %d wrong out of %d.",
			res.Correct, res.Incorrect, res.Total))
		return
	}

	if s := b.quizzes.Active(cb.FromID, cb.ChatID); s != nil {
		b.sendQuestion(ctx, cb.ChatID, s)
	}
}
