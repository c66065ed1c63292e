package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pillbot/internal/storage"
	"pillbot/pkg/logx"
)

// Config controls the reminder runtime. Zero values fall back to the
// production defaults.
type Config struct {
	// RetryInterval between repeat sends of an unconfirmed reminder.
	RetryInterval time.Duration
	// MaxRetries is how many repeat messages go out before the chain gives
	// up. The fire after the last repeat marks the reminder missed without
	// sending anything.
	MaxRetries int
	// MaxDelayedTasks bounds the continuation timer map.
	MaxDelayedTasks int
	// DelayedTaskTTL: armed continuation timers older than this are evicted
	// first when the map is full.
	DelayedTaskTTL time.Duration
	// Timezone is an IANA TZ name; empty means time.Local.
	Timezone string
}

const (
	defaultRetryInterval   = 15 * time.Minute
	defaultMaxRetries      = 3
	defaultMaxDelayedTasks = 1000
	defaultDelayedTaskTTL  = 24 * time.Hour

	// opTimeout bounds each store/transport call made from a timer callback.
	opTimeout = 30 * time.Second
)

// Store is the persistence surface the runtime needs. *storage.Store
// implements it; tests substitute an in-memory fake.
type Store interface {
	ScheduleByID(ctx context.Context, id string) (*storage.Schedule, error)
	CreateReminder(ctx context.Context, scheduleID string, sequenceOrder int) (*storage.Reminder, error)
	ReminderWithSchedule(ctx context.Context, id string) (*storage.Reminder, *storage.Schedule, error)
	IncrementRetryCount(ctx context.Context, id string) (*storage.Reminder, error)
	MarkReminderMissed(ctx context.Context, id string) error
	SetReminderMessage(ctx context.Context, id string, messageID int) error
	MarkReminderSent(ctx context.Context, id string, messageID int) error
	ClaimNextInSequence(ctx context.Context, scheduleID string, afterOrder int) (*storage.Reminder, error)
	ReleaseClaim(ctx context.Context, id string) error
	HasPendingReminders(ctx context.Context, scheduleID string) (bool, error)
	HasSentUnconfirmed(ctx context.Context, scheduleID string) (bool, error)
	FirstPendingReminder(ctx context.Context, scheduleID string) (*storage.Reminder, error)
	RemindersCreatedSince(ctx context.Context, scheduleID string, since time.Time) (int, error)
	SentUnconfirmed(ctx context.Context) ([]storage.PendingSend, error)
	ResetProcessing(ctx context.Context) (int64, error)
	MaxDelayMinutes(ctx context.Context, userID string) int
	RandomTemplate(ctx context.Context, kind storage.TemplateKind) (string, error)
}

// Sender delivers reminder messages. The handler layer implements it over the
// chat transport, attaching the confirmation button for the given reminder.
type Sender interface {
	SendReminder(ctx context.Context, chatID int64, text, reminderID string) (messageID int, err error)
	// DeleteMessage is best-effort; the retry engine logs and continues on failure.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// delayedTask is an armed continuation timer. armedAt drives age-based
// eviction when the map hits its cap.
type delayedTask struct {
	timer   *time.Timer
	chatID  int64
	armedAt time.Time
}

// Runtime owns every in-memory timer behind reminder delivery: the recurring
// cron triggers, per-reminder retry timers, and one-shot sequential
// continuation timers. All three maps are a disposable cache of intent: the
// store stays the single source of truth for reminder status, and the maps
// are rebuilt (triggers) or reconciled (retries) from it on startup.
type Runtime struct {
	cfg    Config
	log    logx.Logger
	store  Store
	sender Sender
	loc    *time.Location
	now    func() time.Time

	// bg tracks background claim-release work so StopAll can wait for it.
	bg sync.WaitGroup

	mu            sync.Mutex
	cron          *cron.Cron
	entries       map[string]cron.EntryID // "scheduleID-time" -> recurring trigger
	retries       map[string]*time.Timer  // reminderID -> retry timer
	continuations map[string]*delayedTask // reminderID -> continuation timer
	stopped       bool
}
