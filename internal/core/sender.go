package core

import (
	"context"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"pillbot/internal/transport"
)

// callback data prefixes shared between outbound markup and the callback
// router.
const (
	cbConfirmPrefix = "rem:confirm:"
	cbQuizPrefix    = "quiz:ans:"
)

// ReminderSender adapts the chat transport to the scheduler's Sender: every
// reminder goes out with an inline confirmation button carrying the reminder
// id.
type ReminderSender struct {
	Adapter transport.Adapter
}

func (s ReminderSender) SendReminder(ctx context.Context, chatID int64, text, reminderID string) (int, error) {
	markup := &tele.ReplyMarkup{
		InlineKeyboard: [][]tele.InlineButton{{
			{Text: "✅ I took it", Data: cbConfirmPrefix + reminderID},
		}},
	}
	ref, err := s.Adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text,
		&transport.SendOptions{ReplyMarkupAdapter: markup})
	if err != nil {
		return 0, err
	}
	return ref.MessageID, nil
}

func (s ReminderSender) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return s.Adapter.DeleteMessage(ctx, transport.MessageRef{ChatID: chatID, MessageID: messageID})
}

// quizMarkup renders a question's options as one button per row, the callback
// payload being the option index.
func quizMarkup(optionCount int) *tele.ReplyMarkup {
	rows := make([][]tele.InlineButton, 0, optionCount)
	for i := 0; i < optionCount; i++ {
		rows = append(rows, []tele.InlineButton{
			{Text: optionLabel(i), Data: cbQuizPrefix + strconv.Itoa(i)},
		})
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

func optionLabel(i int) string {
	return string(rune('A' + i))
}
