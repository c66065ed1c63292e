package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pillbot/internal/storage"
	"pillbot/internal/timeutil"
	"pillbot/pkg/logx"
)

// seedTaskSuffix is the registry key suffix of a sequential schedule's daily
// pre-create job. It shares the "scheduleID-" prefix with regular trigger
// keys so UnregisterTasks removes it too.
const seedTaskSuffix = "seed"

func New(cfg Config, store Store, sender Sender, log logx.Logger) *Runtime {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxDelayedTasks <= 0 {
		cfg.MaxDelayedTasks = defaultMaxDelayedTasks
	}
	if cfg.DelayedTaskTTL <= 0 {
		cfg.DelayedTaskTTL = defaultDelayedTaskTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		}
	}

	r := &Runtime{
		cfg:           cfg,
		log:           log,
		store:         store,
		sender:        sender,
		loc:           loc,
		now:           time.Now,
		cron:          cron.New(cron.WithLocation(loc)),
		entries:       map[string]cron.EntryID{},
		retries:       map[string]*time.Timer{},
		continuations: map[string]*delayedTask{},
	}
	r.cron.Start()
	return r
}

// SetClock overrides the runtime's time source (tests only). Timers still run
// on the real clock; the override affects wall-clock computations.
func (r *Runtime) SetClock(now func() time.Time) { r.now = now }

func (r *Runtime) clockNow() time.Time { return r.now().In(r.loc) }

// Init rebuilds the cron registry from the active schedules and reconciles
// in-flight state lost in a restart: reminders stuck in the transient
// processing state go back to pending, and sent-but-unconfirmed reminders get
// their retry chains re-armed at the recorded retry count. Armed continuation
// deadlines are not persisted; a lost one is picked up by the schedule's next
// natural fire.
func (r *Runtime) Init(ctx context.Context, schedules []storage.Schedule) error {
	for _, sc := range schedules {
		for _, t := range sc.Times {
			r.RegisterTask(sc.ID, sc.UserID, sc.ChatID, t)
		}
		if sc.Sequential {
			r.RegisterSeedTask(sc.ID, sc.ChatID)
			if err := r.SeedDay(ctx, sc.ID); err != nil {
				r.log.Warn("seeding day chain failed", logx.String("schedule", sc.ID), logx.Err(err))
			}
		}
	}

	if n, err := r.store.ResetProcessing(ctx); err != nil {
		return err
	} else if n > 0 {
		r.log.Info("reverted stuck processing reminders", logx.Int64("count", n))
	}

	sends, err := r.store.SentUnconfirmed(ctx)
	if err != nil {
		return err
	}
	for _, ps := range sends {
		if ps.Reminder.RetryCount > r.cfg.MaxRetries {
			if err := r.store.MarkReminderMissed(ctx, ps.Reminder.ID); err != nil {
				r.log.Warn("marking stale reminder missed failed",
					logx.String("reminder", ps.Reminder.ID), logx.Err(err))
			}
			continue
		}
		r.armRetry(ps.Reminder.ID, ps.ChatID, ps.Reminder.RetryCount)
	}

	r.log.Info("scheduler initialized",
		logx.Int("schedules", len(schedules)),
		logx.Int("rearmed_retries", len(sends)))
	return nil
}

// RegisterTask installs the recurring daily trigger for one (schedule, time)
// pair. Idempotent: an already-registered key is left untouched.
func (r *Runtime) RegisterTask(scheduleID, userID string, chatID int64, timeStr string) {
	key := scheduleID + "-" + timeStr

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if _, ok := r.entries[key]; ok {
		return
	}

	spec := timeutil.TimeToCron(timeStr)
	id, err := r.cron.AddFunc(spec, func() {
		r.fire(scheduleID, chatID, timeStr)
	})
	if err != nil {
		// Time strings are validated at the command layer; this indicates a
		// corrupted schedule row.
		r.log.Error("cron registration failed",
			logx.String("key", key), logx.String("spec", spec), logx.Err(err))
		return
	}
	r.entries[key] = id
	r.log.Debug("task registered", logx.String("key", key), logx.String("spec", spec), logx.String("user", userID))
}

// RegisterSeedTask installs the midnight job that pre-creates a sequential
// schedule's chain of pending reminders for the day.
func (r *Runtime) RegisterSeedTask(scheduleID string, chatID int64) {
	key := scheduleID + "-" + seedTaskSuffix

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if _, ok := r.entries[key]; ok {
		return
	}

	id, err := r.cron.AddFunc("0 0 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := r.SeedDay(ctx, scheduleID); err != nil {
			r.log.Error("daily seed failed", logx.String("schedule", scheduleID), logx.Err(err))
		}
	})
	if err != nil {
		r.log.Error("seed task registration failed", logx.String("key", key), logx.Err(err))
		return
	}
	r.entries[key] = id
	r.log.Debug("seed task registered", logx.String("key", key))
}

// UnregisterTasks removes every trigger belonging to the schedule (regular
// time slots and the seed job). Called when a schedule is edited or deleted.
func (r *Runtime) UnregisterTasks(scheduleID string) {
	prefix := scheduleID + "-"

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, id := range r.entries {
		if strings.HasPrefix(key, prefix) {
			r.cron.Remove(id)
			delete(r.entries, key)
			removed++
		}
	}
	r.log.Debug("tasks unregistered", logx.String("schedule", scheduleID), logx.Int("count", removed))
}

// SeedDay creates the day's chain of pending reminders for a sequential
// schedule. It is safe to call repeatedly: it does nothing while pending
// reminders remain or once a chain has already been created today.
func (r *Runtime) SeedDay(ctx context.Context, scheduleID string) error {
	sc, err := r.store.ScheduleByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !sc.IsActive || !sc.Sequential {
		return nil
	}

	if pending, err := r.store.HasPendingReminders(ctx, scheduleID); err != nil {
		return err
	} else if pending {
		return nil
	}

	y, m, d := r.clockNow().Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, r.loc)
	if n, err := r.store.RemindersCreatedSince(ctx, scheduleID, startOfDay); err != nil {
		return err
	} else if n > 0 {
		// Today's chain already ran its course.
		return nil
	}

	for i := range sc.Times {
		if _, err := r.store.CreateReminder(ctx, scheduleID, i); err != nil {
			return err
		}
	}
	r.log.Info("day chain seeded", logx.String("schedule", scheduleID), logx.Int("slots", len(sc.Times)))
	return nil
}

// StopAll stops every recurring trigger, retry timer and continuation timer,
// clears all three maps, and waits for in-flight background claim releases to
// drain. This is the only bulk-teardown path; nothing may survive it, and no
// reminder status changes after it returns.
func (r *Runtime) StopAll() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true

	r.cron.Stop()
	for key, id := range r.entries {
		r.cron.Remove(id)
		delete(r.entries, key)
	}
	for key, t := range r.retries {
		t.Stop()
		delete(r.retries, key)
	}
	for key, dt := range r.continuations {
		dt.timer.Stop()
		delete(r.continuations, key)
	}
	r.mu.Unlock()

	// The release goroutines take r.mu to check stopped, so wait without
	// holding the lock.
	r.bg.Wait()
	r.log.Info("scheduler stopped")
}

// TimerCounts reports the live timer population (recurring triggers, retry
// timers, continuation timers). Used by shutdown checks and tests.
func (r *Runtime) TimerCounts() (recurring, retries, continuations int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries), len(r.retries), len(r.continuations)
}
