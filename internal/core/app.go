package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pillbot/internal/config"
	"pillbot/internal/quiz"
	"pillbot/internal/scheduler"
	"pillbot/internal/storage"
	"pillbot/internal/transport"
	"pillbot/internal/transport/telegram"
	"pillbot/pkg/logx"
)

// updateBuffer sizes the inbound update channel. The adapter drops updates
// when it fills, so it needs headroom for bursts.
const updateBuffer = 256

// App owns the full daemon lifecycle: config, logging, storage, transport,
// scheduler and the dispatch loop.
type App struct {
	cfgPath string
	logsvc  *logx.Service
	log     logx.Logger
	store   *storage.Store
	adapter transport.Adapter
	runtime *scheduler.Runtime
	bot     *Bot
	updates chan transport.Update
	wg      sync.WaitGroup
}

// New loads the config and builds every component. Nothing starts until Run.
func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logsvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	busyTimeout, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		logsvc.Close()
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("component", "storage")))
	if err != nil {
		logsvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	pollTimeout, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		store.Close()
		logsvc.Close()
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    pollTimeout,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, log.With(logx.String("component", "telegram")))
	if err != nil {
		store.Close()
		logsvc.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	retryInterval, err := config.Duration("reminders.retry_interval", cfg.Reminders.RetryInterval, 15*time.Minute)
	if err != nil {
		store.Close()
		logsvc.Close()
		return nil, err
	}
	delayedTTL, err := config.Duration("reminders.delayed_task_ttl", cfg.Reminders.DelayedTaskTTL, 24*time.Hour)
	if err != nil {
		store.Close()
		logsvc.Close()
		return nil, err
	}

	runtime := scheduler.New(scheduler.Config{
		RetryInterval:   retryInterval,
		MaxRetries:      cfg.Reminders.MaxRetries,
		MaxDelayedTasks: cfg.Reminders.MaxDelayedTasks,
		DelayedTaskTTL:  delayedTTL,
		Timezone:        cfg.Reminders.Timezone,
	}, store, ReminderSender{Adapter: adapter}, log.With(logx.String("component", "scheduler")))

	loc := time.Local
	if tz := cfg.Reminders.Timezone; tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	bot := NewBot(BotConfig{
		Log:      log.With(logx.String("component", "bot")),
		Store:    store,
		Adapter:  adapter,
		Runtime:  runtime,
		Quizzes:  quiz.NewManager(),
		AdminIDs: cfg.Telegram.AdminIDs,
		Location: loc,
	})

	return &App{
		cfgPath: cfgPath,
		logsvc:  logsvc,
		log:     log,
		store:   store,
		adapter: adapter,
		runtime: runtime,
		bot:     bot,
		updates: make(chan transport.Update, updateBuffer),
	}, nil
}

// Run starts the daemon and blocks until ctx is cancelled, then tears
// everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	schedules, err := a.store.ListActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	if err := a.runtime.Init(ctx, schedules); err != nil {
		return fmt.Errorf("scheduler init: %w", err)
	}

	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	// Config reload only re-applies the logging section; everything else
	// requires a restart.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := config.Watch(ctx, a.cfgPath, a.log.With(logx.String("component", "config")), func(c *config.Config) {
			a.logsvc.Apply(logx.Config{
				Level:   c.Logging.Level,
				Console: c.Logging.Console,
				File: logx.FileConfig{
					Enabled: c.Logging.File.Enabled,
					Path:    c.Logging.File.Path,
				},
			})
		})
		if err != nil && ctx.Err() == nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	a.log.Info("bot started")

	for {
		select {
		case <-ctx.Done():
			return a.shutdown()
		case up := <-a.updates:
			// Each update runs in its own goroutine so a slow handler (rate
			// limited sends) cannot back up the poll loop.
			a.wg.Add(1)
			go func(up transport.Update) {
				defer a.wg.Done()
				a.bot.HandleUpdate(context.Background(), up)
			}(up)
		}
	}
}

func (a *App) shutdown() error {
	a.log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.adapter.Stop(stopCtx); err != nil {
		a.log.Warn("transport stop failed", logx.Err(err))
	}

	a.runtime.StopAll()
	a.wg.Wait()

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("bye")
	return a.logsvc.Close()
}
