// Package app assembles the bot: config, logging, transport, storage,
// timers, delivery and the reminder engine, in dependency order.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/reminder"
	"remindbot/internal/router"
	"remindbot/internal/services/notify"
	"remindbot/internal/services/timer"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

type App struct {
	log  logx.Logger
	logs *logx.Service
	cfgm *config.Manager

	adapter  *telegram.Adapter
	store    storage.Store
	timers   *timer.Service
	notifier *notify.Service
	engine   *reminder.Engine
	router   *router.Router

	messages chan transport.Message

	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logs, log := logx.New(logxConfig(cfg), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: durationOr(cfg.Telegram.PollTimeout, 10*time.Second, log, "telegram.poll_timeout"),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: durationOr(cfg.Storage.BusyTimeout, 5*time.Second, log, "storage.busy_timeout"),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	timers := timer.New(timer.Config{
		Workers:        cfg.Timers.Workers,
		DefaultTimeout: durationOr(cfg.Timers.DefaultTimeout, 30*time.Second, log, "timers.default_timeout"),
		Timezone:       cfg.Timers.Timezone,
	}, log.With(logx.String("comp", "timer")))

	notifier := notify.New(notifyConfig(cfg, log), adapter, log.With(logx.String("comp", "notify")))
	// warn+ log lines mirror into the operator chat through the same pipeline
	logs.SetSink(notifier)

	engine := reminder.New(store, timers, notifier, reminder.Options{
		Location:     timers.Location(),
		Grace:        durationOr(cfg.Reminders.Grace, 5*time.Minute, log, "reminders.grace"),
		DefaultHour:  cfg.Reminders.DefaultHour,
		ModifierHour: cfg.Reminders.ModifierHour,
	}, log.With(logx.String("comp", "engine")))

	rt := router.New(engine, notifier, timers.Location(), cfg.Telegram.OwnerUserIDs, log.With(logx.String("comp", "router")))

	return &App{
		log:      log,
		logs:     logs,
		cfgm:     cfgm,
		adapter:  adapter,
		store:    store,
		timers:   timers,
		notifier: notifier,
		engine:   engine,
		router:   rt,
		messages: make(chan transport.Message, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.notifier.Start(runCtx)
	a.timers.Start(runCtx)

	if err := a.engine.Recover(runCtx); err != nil {
		cancel()
		return fmt.Errorf("startup recovery: %w", err)
	}

	// one-time rows orphaned by long downtime or arm failures get cleaned
	// daily once they are a month past due
	if err := a.timers.AddCron("reminders.prune", "@daily", func(c context.Context) error {
		n, err := a.store.PruneStale(c, time.Now().Add(-30*24*time.Hour))
		if err != nil {
			return err
		}
		if n > 0 {
			a.log.Info("pruned stale reminders", logx.Int64("count", n))
		}
		return nil
	}); err != nil {
		a.log.Warn("prune job not registered", logx.Err(err))
	}

	if err := a.adapter.Start(runCtx, a.messages); err != nil {
		cancel()
		return fmt.Errorf("starting telegram adapter: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.router.Run(runCtx, a.messages)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reloadLoop(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

// Stop shuts the pipeline down back-to-front: intake first, delivery last,
// so queued reminders still go out.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("shutdown requested")

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_ = a.adapter.Stop(stopCtx)
	if a.runCancel != nil {
		a.runCancel()
	}
	a.wg.Wait()

	a.timers.Stop(stopCtx)
	a.notifier.Stop(stopCtx)

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("app stopped")
	return a.logs.Close()
}

// reloadLoop applies config file changes to the running services. Structural
// settings (token, storage path, timer workers) need a restart; tunables
// (log level, notifier rates, reminder hours) apply live.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts, keep only the newest
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto apply
				}
			}
		apply:
			a.logs.Apply(logxConfig(cfg))
			a.notifier.Apply(notifyConfig(cfg, a.log))
			a.log.Info("config reloaded")
		}
	}
}

func logxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func notifyConfig(cfg *config.Config, log logx.Logger) notify.Config {
	return notify.Config{
		Workers:       cfg.Notifier.Workers,
		QueueSize:     cfg.Notifier.QueueSize,
		RatePerSec:    cfg.Notifier.RatePerSec,
		RetryMax:      cfg.Notifier.RetryMax,
		RetryBase:     durationOr(cfg.Notifier.RetryBase, 500*time.Millisecond, log, "notifier.retry_base"),
		RetryMaxDelay: durationOr(cfg.Notifier.RetryMaxDelay, 10*time.Second, log, "notifier.retry_max_delay"),
		LogChatID:     logChatID(cfg),
	}
}

func logChatID(cfg *config.Config) int64 {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" || !cfg.Logging.Telegram.Enabled {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func durationOr(raw string, def time.Duration, log logx.Logger, path string) time.Duration {
	d, err := config.DurationDefault(path, raw, def)
	if err != nil {
		log.Warn("invalid duration, using default",
			logx.String("field", path),
			logx.String("raw", raw),
			logx.Duration("default", def))
		return def
	}
	return d
}
