// Package core wires the bot together: command routing, callback handling,
// admin gating, and the glue between transport, storage and the reminder
// runtime.
package core

import (
	"context"
	"strings"
	"time"

	"pillbot/internal/quiz"
	"pillbot/internal/scheduler"
	"pillbot/internal/storage"
	"pillbot/internal/transport"
	"pillbot/pkg/logx"
)

// handleTimeout bounds the processing of a single inbound update.
const handleTimeout = 30 * time.Second

// Bot holds the handler-layer state. It is transport-agnostic: everything
// reaches Telegram through the transport.Adapter.
type Bot struct {
	log     logx.Logger
	store   *storage.Store
	adapter transport.Adapter
	runtime *scheduler.Runtime
	quizzes *quiz.Manager
	admins  map[int64]struct{}
	loc     *time.Location
	now     func() time.Time
}

// BotConfig collects the Bot's dependencies.
type BotConfig struct {
	Log      logx.Logger
	Store    *storage.Store
	Adapter  transport.Adapter
	Runtime  *scheduler.Runtime
	Quizzes  *quiz.Manager
	AdminIDs []int64
	Location *time.Location
}

func NewBot(c BotConfig) *Bot {
	admins := make(map[int64]struct{}, len(c.AdminIDs))
	for _, id := range c.AdminIDs {
		admins[id] = struct{}{}
	}
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	log := c.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	quizzes := c.Quizzes
	if quizzes == nil {
		quizzes = quiz.NewManager()
	}
	return &Bot{
		log:     log,
		store:   c.Store,
		adapter: c.Adapter,
		runtime: c.Runtime,
		quizzes: quizzes,
		admins:  admins,
		loc:     loc,
		now:     time.Now,
	}
}

func (b *Bot) isAdmin(telegramID int64) bool {
	_, ok := b.admins[telegramID]
	return ok
}

// HandleUpdate routes one inbound update. Errors are handled (replied and
// logged) inside the individual handlers; anything escaping here is a bug
// worth an error log, not a crash.
func (b *Bot) HandleUpdate(ctx context.Context, up transport.Update) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			b.handleMessage(ctx, up.Message)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			b.handleCallback(ctx, up.Callback)
		}
	case transport.UpdateDocument:
		if up.Document != nil {
			b.handleDocument(ctx, up.Document)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *transport.Message) {
	cmd, args := splitCommand(m.Text)
	if cmd == "" {
		return
	}

	log := b.log.With(logx.String("cmd", cmd), logx.Int64("from", m.FromID))
	log.Debug("command received")

	switch cmd {
	case "/start":
		b.cmdStart(ctx, m)
	case "/help":
		b.cmdHelp(ctx, m)
	case "/whoami":
		b.cmdWhoami(ctx, m)
	case "/setreminder":
		b.cmdSetReminder(ctx, m, args)
	case "/myreminders":
		b.cmdMyReminders(ctx, m)
	case "/editreminder":
		b.cmdEditReminder(ctx, m, args)
	case "/deletereminder":
		b.cmdDeleteReminder(ctx, m)
	case "/setdelay":
		b.cmdSetDelay(ctx, m, args)
	case "/sequential":
		b.cmdSequential(ctx, m, args)

	case "/addreminder":
		b.adminOnly(ctx, m, func() { b.cmdAddTemplate(ctx, m, storage.TemplateReminder, args) })
	case "/addreward":
		b.adminOnly(ctx, m, func() { b.cmdAddTemplate(ctx, m, storage.TemplateReward, args) })
	case "/listmessages":
		b.adminOnly(ctx, m, func() { b.cmdListTemplates(ctx, m) })
	case "/deletemessage":
		b.adminOnly(ctx, m, func() { b.cmdDeleteTemplate(ctx, m, args) })
	case "/setstatus":
		b.adminOnly(ctx, m, func() { b.cmdSetStatus(ctx, m, args) })
	case "/clearstatus":
		b.adminOnly(ctx, m, func() { b.cmdClearStatus(ctx, m, args) })

	case "/createquiz":
		b.cmdCreateQuiz(ctx, m, args)
	case "/listquizzes":
		b.cmdListQuizzes(ctx, m)
	case "/deletequiz":
		b.adminOnly(ctx, m, func() { b.cmdDeleteQuiz(ctx, m, args) })
	case "/addquestion":
		b.adminOnly(ctx, m, func() { b.cmdAddQuestion(ctx, m, args) })
	case "/listquestions":
		b.adminOnly(ctx, m, func() { b.cmdListQuestions(ctx, m, args) })
	case "/deletequestion":
		b.adminOnly(ctx, m, func() { b.cmdDeleteQuestion(ctx, m, args) })
	case "/importquiz":
		b.adminOnly(ctx, m, func() { b.cmdImportQuizHint(ctx, m) })
	case "/startquiz":
		b.cmdStartQuiz(ctx, m, args)
	case "/cancelquiz":
		b.cmdCancelQuiz(ctx, m)

	default:
		// Unknown slash command in a private chat gets a pointer to /help;
		// group chatter is ignored.
		if !m.IsGroup {
			b.reply(ctx, m.ChatID, "Unknown command. Try /help.")
		}
	}
}

func (b *Bot) adminOnly(ctx context.Context, m *transport.Message, fn func()) {
	if !b.isAdmin(m.FromID) {
		b.reply(ctx, m.ChatID, "This command is available to administrators only.")
		return
	}
	fn()
}

// reply sends a plain text response, logging failures instead of bubbling
// them: a reply that cannot be delivered has no meaningful recovery.
func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, nil); err != nil {
		b.log.Warn("reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

// splitCommand extracts "/cmd" and the argument remainder from a message,
// tolerating the "@botname" suffix Telegram appends in groups. Non-command
// text returns an empty command.
func splitCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	cmd = text
	if i := strings.IndexAny(text, " \n"); i >= 0 {
		cmd, args = text[:i], strings.TrimSpace(text[i+1:])
	}
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), args
}
