package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pillbot/internal/storage"
	"pillbot/internal/timeutil"
	"pillbot/internal/transport"
	"pillbot/pkg/logx"
)

const helpText = `Medication reminder bot.

Reminders:
/setreminder HH:MM,HH:MM,...  create a daily schedule
/myreminders                  show your schedule
/editreminder HH:MM,...       replace the schedule times
/deletereminder               remove the schedule
/setdelay N                   max carry-over delay in minutes (5..1440)
/sequential on|off            sequential mode for new schedules

Quizzes:
/startquiz <name>   take a quiz
/cancelquiz         abandon the running quiz
/listquizzes        available quizzes
/createquiz <name> [description]

Confirm each reminder with the button under its message.`

const adminHelpText = `

Admin:
/addreminder <text>     add a reminder message template
/addreward <text>       add a reward message template
/listmessages           list templates
/deletemessage <id>     remove a template
/setstatus <telegramId> <text>  set a user's status line
/clearstatus <telegramId>       clear it
/addquestion <quiz> | <question> | a1 | a2 | a3 | a4 | correct(1-4)
/listquestions <quiz>
/deletequestion <id>
/deletequiz <name>
/importquiz             then send the quiz JSON file`

func (b *Bot) cmdStart(ctx context.Context, m *transport.Message) {
	u, err := b.store.UpsertUser(ctx, m.FromID, m.FromUsername, m.FromFirst, m.FromLast)
	if err != nil {
		b.log.Error("upsert user failed", logx.Int64("from", m.FromID), logx.Err(err))
		b.reply(ctx, m.ChatID, "Something went wrong, please try again.")
		return
	}
	name := u.FirstName
	if name == "" {
		name = u.Username
	}
	b.reply(ctx, m.ChatID, fmt.Sprintf("Hi %s! I will remind you to take your medication.\n\n%s", name, helpText))
}

func (b *Bot) cmdHelp(ctx context.Context, m *transport.Message) {
	text := helpText
	if b.isAdmin(m.FromID) {
		text += adminHelpText
	}
	b.reply(ctx, m.ChatID, text)
}

func (b *Bot) cmdWhoami(ctx context.Context, m *transport.Message) {
	u, err := b.store.UserByTelegramID(ctx, m.FromID)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, m.ChatID, "I don't know you yet. Send /start first.")
		return
	}
	if err != nil {
		b.log.Error("user lookup failed", logx.Int64("from", m.FromID), logx.Err(err))
		b.reply(ctx, m.ChatID, "Something went wrong, please try again.")
		return
	}
	mode := "off"
	if u.SequentialMode {
		mode = "on"
	}
	text := fmt.Sprintf(
		"Telegram id: %d\nUsername: %s\nMax delay: %d min\nSequential mode: %s",
		u.TelegramID, u.Username, u.MaxDelayMinutes, mode)
	if u.CustomStatus != "" {
		text += "\nStatus: " + u.CustomStatus
	}
	b.reply(ctx, m.ChatID, text)
}

// parseTimesArg validates a "HH:MM,HH:MM,..." argument, replying with the
// problem when it is unusable. Returns nil when invalid.
func (b *Bot) parseTimesArg(ctx context.Context, chatID int64, args string) []string {
	times := timeutil.ParseTimes(args)
	if len(times) == 0 {
		b.reply(ctx, chatID, "Give me times like: /setreminder 08:00,14:00,20:00")
		return nil
	}
	if bad := timeutil.InvalidTimes(times); len(bad) > 0 {
		b.reply(ctx, chatID, fmt.Sprintf("These are not valid HH:MM times: %s", strings.Join(bad, ", ")))
		return nil
	}
	return times
}

func (b *Bot) cmdSetReminder(ctx context.Context, m *transport.Message, args string) {
	times := b.parseTimesArg(ctx, m.ChatID, args)
	if times == nil {
		return
	}

	u, err := b.store.UpsertUser(ctx, m.FromID, m.FromUsername, m.FromFirst, m.FromLast)
	if err != nil {
		b.log.Error("upsert user failed", logx.Int64("from", m.FromID), logx.Err(err))
		b.reply(ctx, m.ChatID, "Something went wrong, please try again.")
		return
	}

	sc, err := b.store.CreateSchedule(ctx, u.ID, m.ChatID, times, u.SequentialMode)
	if errors.Is(err, storage.ErrScheduleExists) {
		b.reply(ctx, m.ChatID, "You already have a schedule here. Use /editreminder to change it or /deletereminder first.")
		return
	}
	if err != nil {
		b.log.Error("create schedule failed", logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not save the schedule, please try again.")
		return
	}

	b.registerSchedule(ctx, sc)

	mode := ""
	if sc.Sequential {
		mode = " (sequential)"
	}
	b.reply(ctx, m.ChatID, fmt.Sprintf("Schedule saved%s: %s", mode, timeutil.FormatTimes(sc.Times)))
}

// registerSchedule installs a schedule's cron triggers; sequential schedules
// also get the midnight seed job and an immediate seed so today's chain
// exists right away.
func (b *Bot) registerSchedule(ctx context.Context, sc *storage.Schedule) {
	for _, t := range sc.Times {
		b.runtime.RegisterTask(sc.ID, sc.UserID, sc.ChatID, t)
	}
	if sc.Sequential {
		b.runtime.RegisterSeedTask(sc.ID, sc.ChatID)
		if err := b.runtime.SeedDay(ctx, sc.ID); err != nil {
			b.log.Warn("seeding chain failed", logx.String("schedule", sc.ID), logx.Err(err))
		}
	}
}

func (b *Bot) cmdMyReminders(ctx context.Context, m *transport.Message) {
	sc := b.activeScheduleOrReply(ctx, m)
	if sc == nil {
		return
	}
	mode := "independent times"
	if sc.Sequential {
		mode = "sequential"
	}
	b.reply(ctx, m.ChatID, fmt.Sprintf("Your schedule (%s): %s", mode, timeutil.FormatTimes(sc.Times)))
}

func (b *Bot) cmdEditReminder(ctx context.Context, m *transport.Message, args string) {
	times := b.parseTimesArg(ctx, m.ChatID, args)
	if times == nil {
		return
	}
	sc := b.activeScheduleOrReply(ctx, m)
	if sc == nil {
		return
	}

	// Outstanding reminders belong to the old time list; cancel them before
	// swapping the triggers so no stale fire resurrects them.
	if _, err := b.store.CancelPendingReminders(ctx, sc.ID); err != nil {
		b.log.Error("cancelling reminders failed", logx.String("schedule", sc.ID), logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not update the schedule, please try again.")
		return
	}
	b.runtime.UnregisterTasks(sc.ID)

	if err := b.store.UpdateScheduleTimes(ctx, sc.ID, times); err != nil {
		b.log.Error("updating times failed", logx.String("schedule", sc.ID), logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not update the schedule, please try again.")
		return
	}
	sc.Times = times
	b.registerSchedule(ctx, sc)

	b.reply(ctx, m.ChatID, fmt.Sprintf("Schedule updated: %s", timeutil.FormatTimes(times)))
}

func (b *Bot) cmdDeleteReminder(ctx context.Context, m *transport.Message) {
	sc := b.activeScheduleOrReply(ctx, m)
	if sc == nil {
		return
	}

	if _, err := b.store.CancelPendingReminders(ctx, sc.ID); err != nil {
		b.log.Error("cancelling reminders failed", logx.String("schedule", sc.ID), logx.Err(err))
	}
	b.runtime.UnregisterTasks(sc.ID)
	if err := b.store.DeactivateSchedule(ctx, sc.ID); err != nil {
		b.log.Error("deactivating schedule failed", logx.String("schedule", sc.ID), logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not delete the schedule, please try again.")
		return
	}
	b.reply(ctx, m.ChatID, "Schedule deleted. Take care!")
}

func (b *Bot) cmdSetDelay(ctx context.Context, m *transport.Message, args string) {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		b.reply(ctx, m.ChatID, "Usage: /setdelay <minutes>, e.g. /setdelay 90")
		return
	}
	err = b.store.SetMaxDelay(ctx, m.FromID, n)
	switch {
	case errors.Is(err, storage.ErrInvalidDelay):
		b.reply(ctx, m.ChatID, fmt.Sprintf("Delay must be between %d and %d minutes.",
			storage.MinDelayMinutes, storage.MaxDelayMinutes))
	case errors.Is(err, storage.ErrNotFound):
		b.reply(ctx, m.ChatID, "Send /start first.")
	case err != nil:
		b.log.Error("set delay failed", logx.Int64("from", m.FromID), logx.Err(err))
		b.reply(ctx, m.ChatID, "Something went wrong, please try again.")
	default:
		b.reply(ctx, m.ChatID, fmt.Sprintf("Max delay set to %d minutes.", n))
	}
}

func (b *Bot) cmdSequential(ctx context.Context, m *transport.Message, args string) {
	var on bool
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "on":
		on = true
	case "off":
		on = false
	default:
		b.reply(ctx, m.ChatID, "Usage: /sequential on|off")
		return
	}

	err := b.store.SetSequentialMode(ctx, m.FromID, on)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, m.ChatID, "Send /start first.")
		return
	}
	if err != nil {
		b.log.Error("set sequential mode failed", logx.Int64("from", m.FromID), logx.Err(err))
		b.reply(ctx, m.ChatID, "Something went wrong, please try again.")
		return
	}
	state := "off"
	if on {
		state = "on"
	}
	b.reply(ctx, m.ChatID, fmt.Sprintf(
		"Sequential mode is now %s. It applies to schedules you create from now on.", state))
}

// activeScheduleOrReply loads the caller's active schedule, replying when the
// user or schedule is missing. Returns nil after replying.
func (b *Bot) activeScheduleOrReply(ctx context.Context, m *transport.Message) *storage.Schedule {
	u, err := b.store.UserByTelegramID(ctx, m.FromID)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, m.ChatID, "Send /start first.")
		return nil
	}
	if err != nil {
		b.log.Error("user lookup failed", logx.Int64("from", m.FromID), logx.Err(err))
		b.reply(ctx, m.ChatID, "Something went wrong, please try again.")
		return nil
	}

	sc, err := b.store.ActiveSchedule(ctx, u.ID, m.ChatID)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, m.ChatID, "You have no schedule in this chat. Create one with /setreminder.")
		return nil
	}
	if err != nil {
		b.log.Error("schedule lookup failed", logx.String("user", u.ID), logx.Err(err))
		b.reply(ctx, m.ChatID, "Something went wrong, please try again.")
		return nil
	}
	return sc
}
