// Package runner executes one acquisition-and-delivery cycle for a
// schedule: claim the slot, validate parameters, fetch the report,
// format it, and broadcast to recipients with per-recipient failure
// isolation.
package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"forecastbot/internal/forecast"
	"forecastbot/internal/format"
	"forecastbot/internal/registry"
	"forecastbot/internal/storage"
	"forecastbot/internal/transport"
	"forecastbot/pkg/logx"
)

// Trigger describes how a run was initiated.
type Trigger struct {
	// Manual runs come from an administrator command. They bypass the
	// slot lock and, unless All is set, deliver only to the invoker.
	Manual bool
	All    bool
	// Invoker is the chat of the administrator who issued a manual run.
	Invoker int64
}

type Config struct {
	// StaleRunAfter bounds how long a "running" record blocks its slot
	// before another executor may reclaim it. Zero disables reclaiming.
	StaleRunAfter time.Duration
	// SendGap is the minimum delay between recipients during broadcast.
	SendGap time.Duration
}

const (
	defaultStaleRunAfter = 2 * time.Hour
	defaultSendGap       = 50 * time.Millisecond
)

// Outcome summarizes one run for the caller (the command surface uses
// Delivered/Recipients to report back to the invoker).
type Outcome struct {
	Status     storage.RunStatus
	Delivered  int
	Recipients int
	Skipped    bool // slot already satisfied or owned elsewhere
}

type Runner struct {
	cfg     Config
	store   storage.Store
	adapter transport.Adapter
	limiter *rate.Limiter
	log     logx.Logger

	mu     sync.Mutex
	engine forecast.Engine
	admins []int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func New(cfg Config, store storage.Store, engine forecast.Engine, adapter transport.Adapter, admins []int64, log logx.Logger) *Runner {
	if cfg.StaleRunAfter == 0 {
		cfg.StaleRunAfter = defaultStaleRunAfter
	}
	if cfg.SendGap <= 0 {
		cfg.SendGap = defaultSendGap
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		cfg:     cfg,
		store:   store,
		engine:  engine,
		adapter: adapter,
		limiter: rate.NewLimiter(rate.Every(cfg.SendGap), 1),
		log:     log,
		admins:  append([]int64(nil), admins...),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// SetAdmins replaces the administrator list (config hot reload).
func (r *Runner) SetAdmins(ids []int64) {
	r.mu.Lock()
	r.admins = append(r.admins[:0:0], ids...)
	r.mu.Unlock()
}

// SetEngine swaps the acquisition engine (config hot reload). Runs
// already in flight keep the engine they started with.
func (r *Runner) SetEngine(e forecast.Engine) {
	r.mu.Lock()
	r.engine = e
	r.mu.Unlock()
}

func (r *Runner) currentEngine() forecast.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine
}

func (r *Runner) adminChats() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.admins...)
}

// Run executes one cycle for the schedule. Scheduled triggers are
// idempotent per (schedule, date, slot); manual triggers always run.
func (r *Runner) Run(ctx context.Context, scheduleID int64, trig Trigger) (Outcome, error) {
	log := r.log.With(logx.Int64("schedule_id", scheduleID), logx.Bool("manual", trig.Manual))

	sched, err := r.store.ScheduleByID(ctx, scheduleID)
	if err != nil {
		log.Error("schedule lookup failed", logx.Err(err))
		if trig.Manual {
			r.notify(ctx, []int64{trig.Invoker}, fmt.Sprintf("Run failed: schedule %d not found.", scheduleID))
		}
		return Outcome{}, fmt.Errorf("schedule %d: %w", scheduleID, err)
	}

	var recipients []int64
	if trig.Manual && !trig.All {
		recipients = []int64{trig.Invoker}
	} else {
		recipients, err = r.store.ActiveSubscriberChats(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("resolve recipients: %w", err)
		}
	}
	if len(recipients) == 0 {
		log.Info("no recipients, skipping run")
		return Outcome{Skipped: true}, nil
	}

	var runID int64
	if !trig.Manual {
		now := r.now().UTC()
		date, slot := now.Format("2006-01-02"), sched.TimeUTC

		done, err := r.store.CompletedRun(ctx, sched.ID, date, slot)
		if err != nil {
			return Outcome{}, fmt.Errorf("check slot: %w", err)
		}
		if done {
			log.Info("slot already satisfied", logx.String("slot", date+" "+slot))
			return Outcome{Skipped: true}, nil
		}
		runID, err = r.store.BeginRun(ctx, sched.ID, date, slot, r.cfg.StaleRunAfter)
		if errors.Is(err, storage.ErrRunExists) {
			log.Info("slot owned by another executor", logx.String("slot", date+" "+slot))
			return Outcome{Skipped: true}, nil
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("claim slot: %w", err)
		}
	}

	params, err := validateSchedule(sched)
	if err != nil {
		log.Warn("schedule validation failed", logx.Err(err))
		r.finish(ctx, runID, storage.RunError, err.Error(), "")
		r.notifyFailure(ctx, trig, fmt.Sprintf("Run aborted for %q: %v", scheduleTitle(sched), err))
		return Outcome{Status: storage.RunError}, err
	}

	report, err := r.currentEngine().Fetch(ctx, params)
	if err != nil {
		log.Error("acquisition failed", logx.Err(err))
		r.finish(ctx, runID, storage.RunError, err.Error(), "")
		r.notifyFailure(ctx, trig, fmt.Sprintf("Acquisition failed for %q: %v", scheduleTitle(sched), err))
		return Outcome{Status: storage.RunError}, err
	}

	msgs := format.Report(report)
	delivered := r.broadcast(ctx, recipients, msgs, log)

	status := storage.RunPartial
	if delivered > 0 {
		status = storage.RunSuccess
	}
	r.finish(ctx, runID, status, "", fingerprint(report))
	log.Info("run finished",
		logx.String("status", string(status)),
		logx.Int("delivered", delivered),
		logx.Int("recipients", len(recipients)))

	if trig.Manual {
		r.notify(ctx, []int64{trig.Invoker},
			fmt.Sprintf("Run complete for %q: delivered to %d of %d recipient(s).", scheduleTitle(sched), delivered, len(recipients)))
	}
	return Outcome{Status: status, Delivered: delivered, Recipients: len(recipients)}, nil
}

// broadcast delivers all messages to each recipient in order. A
// recipient counts as delivered only if every message goes through.
func (r *Runner) broadcast(ctx context.Context, recipients []int64, msgs []string, log logx.Logger) int {
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	delivered := 0

	for i, chat := range recipients {
		if i > 0 {
			if err := r.limiter.Wait(ctx); err != nil {
				return delivered
			}
		}

		ok := true
		for _, msg := range msgs {
			d := r.adapter.Deliver(ctx, transport.ChatTarget{ChatID: chat}, msg, opt)
			if d.Outcome == transport.Delivered {
				continue
			}
			ok = false
			switch d.Outcome {
			case transport.Blocked:
				log.Info("recipient unreachable, deactivating", logx.Int64("chat_id", chat))
				if err := r.store.Deactivate(ctx, chat); err != nil {
					log.Error("deactivate failed", logx.Int64("chat_id", chat), logx.Err(err))
				}
			case transport.RateLimited:
				log.Warn("rate limited, pausing broadcast",
					logx.Int64("chat_id", chat), logx.Duration("retry_after", d.RetryAfter))
				r.sleep(ctx, d.RetryAfter)
			default:
				log.Error("delivery failed", logx.Int64("chat_id", chat), logx.Err(d.Err))
			}
			break
		}
		if ok {
			delivered++
		}
	}
	return delivered
}

// validateSchedule checks the schedule against the registries and
// returns acquisition parameters. A single invalid country code fails
// the whole set.
func validateSchedule(s *storage.Schedule) (forecast.Params, error) {
	if !registry.SupportedLanguage(s.Language) {
		return forecast.Params{}, fmt.Errorf("unsupported language %q", s.Language)
	}

	var countries []string
	for _, raw := range strings.Split(s.Countries, ",") {
		code := strings.TrimSpace(raw)
		if code == "" {
			continue
		}
		canonical, ok := registry.NormalizeCountry(code)
		if !ok {
			return forecast.Params{}, fmt.Errorf("invalid country code %q", code)
		}
		countries = append(countries, canonical)
	}
	if len(countries) == 0 {
		return forecast.Params{}, fmt.Errorf("schedule has no countries")
	}

	return forecast.Params{
		Countries: countries,
		Topics:    s.Topics,
		Language:  s.Language,
		Horizon:   s.Horizon,
		Depth:     s.Depth,
	}, nil
}

// finish updates the run record when one exists (manual runs have none).
func (r *Runner) finish(ctx context.Context, runID int64, status storage.RunStatus, errText, fp string) {
	if runID == 0 {
		return
	}
	if err := r.store.FinishRun(ctx, runID, status, errText, fp); err != nil {
		r.log.Error("run record update failed", logx.Int64("run_id", runID), logx.Err(err))
	}
}

// notifyFailure routes an error notice to the manual invoker, or
// best-effort to all administrators for scheduled runs.
func (r *Runner) notifyFailure(ctx context.Context, trig Trigger, text string) {
	if trig.Manual {
		r.notify(ctx, []int64{trig.Invoker}, text)
		return
	}
	r.notify(ctx, r.adminChats(), text)
}

func (r *Runner) notify(ctx context.Context, chats []int64, text string) {
	for _, chat := range chats {
		if chat == 0 {
			continue
		}
		if _, err := r.adapter.SendText(ctx, transport.ChatTarget{ChatID: chat}, text, nil); err != nil {
			r.log.Warn("notification failed", logx.Int64("chat_id", chat), logx.Err(err))
		}
	}
}

func fingerprint(rep *forecast.Report) string {
	if rep == nil || len(rep.Raw) == 0 {
		return ""
	}
	sum := sha256.Sum256(rep.Raw)
	return hex.EncodeToString(sum[:])
}

func scheduleTitle(s *storage.Schedule) string {
	if strings.TrimSpace(s.Title) != "" {
		return s.Title
	}
	return fmt.Sprintf("schedule %d", s.ID)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
