// Package app wires the process together: config, logging, storage,
// the acquisition engine, the scheduler, and the Telegram surfaces.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"forecastbot/internal/bot"
	"forecastbot/internal/config"
	"forecastbot/internal/forecast"
	"forecastbot/internal/forecast/chrome"
	"forecastbot/internal/runner"
	rtsup "forecastbot/internal/runtime/supervisor"
	"forecastbot/internal/scheduler"
	"forecastbot/internal/storage"
	kit "forecastbot/internal/transport"
	telegram "forecastbot/internal/transport/telegram"
	"forecastbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter kit.Adapter
	runs    *runner.Runner
	sched   *scheduler.Service
	disp    *bot.Dispatcher

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.Duration(cfg.Telegram.PollTimeout, 10*time.Second),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with Telegram logging disabled, set the target, then
	// apply the final config, so Apply never warns about a missing
	// target chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, adapter)
	log = log.With(logx.String("comp", "app"))
	if chatID := parseGroupLog(cfg.Telegram.GroupLog); chatID != 0 {
		logSvc.SetTelegramTarget(chatID)
	}
	logSvc.Apply(logCfg)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: config.Duration(cfg.Storage.BusyTimeout, 5*time.Second),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	engine := buildEngine(cfg, log)
	runs := runner.New(runner.Config{
		StaleRunAfter: config.Duration(cfg.Forecast.StaleRunAfter, 2*time.Hour),
		SendGap:       config.Duration(cfg.Forecast.SendGap, 50*time.Millisecond),
	}, store, engine, adapter, cfg.Telegram.AdminUserIDs, log.With(logx.String("comp", "runner")))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: adapter,
		runs:    runs,
		updates: make(chan kit.Update, 128),
	}
	a.sched = scheduler.New(a.onSlot, log.With(logx.String("comp", "scheduler")))
	a.disp = bot.NewDispatcher(adapter, store, runs, cfg.Telegram.AdminUserIDs, log.With(logx.String("comp", "bot")))
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(false),
	)

	if err := a.seedDefaultSchedule(ctx); err != nil {
		return err
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start telegram adapter: %w", err)
	}

	a.sup.Go0("commands.dispatch", func(c context.Context) {
		a.disp.Run(c, a.updates, a.sup)
	})

	if cfg.Scheduler.Enabled {
		schedules, err := a.store.EnabledSchedules(ctx)
		if err != nil {
			return fmt.Errorf("load schedules: %w", err)
		}
		a.sched.ReloadAll(schedules)
		a.sched.Start()
	} else {
		a.log.Warn("scheduler disabled; only manual runs will execute")
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	updates := a.cfgm.Subscribe(1)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})

	a.log.Info("started",
		logx.String("strategy", cfg.Forecast.Strategy),
		logx.Bool("scheduler", cfg.Scheduler.Enabled))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	a.sched.Stop(sctx)
	if a.sup != nil {
		a.sup.Cancel()
	}
	_ = a.adapter.Stop(sctx)
	if a.sup != nil {
		if err := a.sup.Wait(sctx); err != nil {
			a.log.Warn("shutdown incomplete", logx.Err(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	_ = a.logs.Close()
	return nil
}

// onSlot is the cron callback; each firing is one scheduled run guarded
// by the slot lock.
func (a *App) onSlot(scheduleID int64) {
	name := fmt.Sprintf("run.schedule_%d", scheduleID)
	a.sup.Go(name, func(c context.Context) error {
		_, err := a.runs.Run(c, scheduleID, runner.Trigger{})
		// Run already records and notifies; don't bubble into the
		// supervisor's first-error slot.
		if err != nil {
			a.log.Error("scheduled run failed", logx.Int64("schedule_id", scheduleID), logx.Err(err))
		}
		return nil
	})
}

// applyConfig applies the hot-reloadable subset: logging sinks, admin
// lists, acquisition knobs. Token and storage path changes need a
// restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))
	if chatID := parseGroupLog(cfg.Telegram.GroupLog); chatID != 0 {
		a.logs.SetTelegramTarget(chatID)
	}

	a.runs.SetAdmins(cfg.Telegram.AdminUserIDs)
	a.disp.SetAdmins(cfg.Telegram.AdminUserIDs)
	a.runs.SetEngine(buildEngine(cfg, a.log))

	a.log.Info("config applied", logx.String("strategy", cfg.Forecast.Strategy))
}

// seedDefaultSchedule installs the stock morning briefing on first boot
// so a fresh deployment delivers something without manual setup.
func (a *App) seedDefaultSchedule(ctx context.Context) error {
	existing, err := a.store.Schedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	id, err := a.store.AddSchedule(ctx, storage.Schedule{
		Enabled:   true,
		TimeUTC:   "08:00",
		Countries: "uk,fr,de",
		Topics:    "top_headlines,economy",
		Horizon:   "24h",
		Depth:     "standard",
		Language:  "en",
		Title:     "Morning Briefing",
	})
	if err != nil {
		return fmt.Errorf("seed default schedule: %w", err)
	}
	a.log.Info("seeded default schedule", logx.Int64("schedule_id", id))
	return nil
}

func buildEngine(cfg *config.Config, log logx.Logger) forecast.Engine {
	accept := forecast.Acceptance{
		MinSummaryLen: cfg.Forecast.MinSummaryLen,
		MinSources:    cfg.Forecast.MinSources,
	}
	timeout := config.Duration(cfg.Forecast.RequestTimeout, 0)

	if cfg.Forecast.Strategy == config.StrategyDirect {
		return forecast.NewDirect(forecast.DirectConfig{
			BaseURL: cfg.Forecast.BaseURL,
			Timeout: timeout,
		}, nil, log.With(logx.String("comp", "forecast.direct")))
	}

	pages := chrome.NewFactory(chrome.Config{}, log.With(logx.String("comp", "forecast.chrome")))
	return forecast.NewPageStrategy(forecast.PageConfig{
		BaseURL:        cfg.Forecast.BaseURL,
		RequestTimeout: timeout,
		MaxReloads:     cfg.Forecast.MaxReloads,
		Accept:         accept,
		ScreenshotPath: cfg.Forecast.ScreenshotPath,
	}, pages, log.With(logx.String("comp", "forecast.browser")))
}

func mapLogConfig(cfg *config.Config) logx.Config {
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

func parseGroupLog(raw string) int64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
