// Package scheduler owns the live cron entries for delivery schedules.
// Entries are keyed by schedule id, so re-registering a schedule is
// idempotent. All slots fire in UTC.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"forecastbot/internal/storage"
	"forecastbot/pkg/logx"
)

// Job is invoked when a schedule's slot fires.
type Job func(scheduleID int64)

type Service struct {
	mu      sync.Mutex
	c       *cron.Cron
	entries map[int64]cron.EntryID
	job     Job
	log     logx.Logger
	started bool
}

func New(job Job, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		c: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
			cron.WithLocation(time.UTC),
		),
		entries: map[int64]cron.EntryID{},
		job:     job,
		log:     log,
	}
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.c.Start()
	s.started = true
	s.log.Info("scheduler started", logx.Int("entries", len(s.entries)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Register adds (or replaces) the cron entry for a schedule.
func (s *Service) Register(sched storage.Schedule) error {
	spec, err := SlotSpec(sched.TimeUTC)
	if err != nil {
		return fmt.Errorf("schedule %d: %w", sched.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[sched.ID]; ok {
		s.c.Remove(old)
	}
	id := sched.ID
	eid, err := s.c.AddFunc(spec, func() { s.job(id) })
	if err != nil {
		return fmt.Errorf("schedule %d: %w", sched.ID, err)
	}
	s.entries[sched.ID] = eid
	s.log.Info("schedule registered",
		logx.Int64("schedule_id", sched.ID), logx.String("slot_utc", sched.TimeUTC))
	return nil
}

// Unregister removes a schedule's entry. Unknown ids are a no-op.
func (s *Service) Unregister(scheduleID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if eid, ok := s.entries[scheduleID]; ok {
		s.c.Remove(eid)
		delete(s.entries, scheduleID)
		s.log.Info("schedule unregistered", logx.Int64("schedule_id", scheduleID))
	}
}

// ReloadAll replaces the full entry set with the given schedules.
// Schedules with invalid slots are skipped and logged, not fatal.
func (s *Service) ReloadAll(schedules []storage.Schedule) {
	s.mu.Lock()
	for id, eid := range s.entries {
		s.c.Remove(eid)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if err := s.Register(sched); err != nil {
			s.log.Error("schedule rejected", logx.Err(err))
		}
	}
}

// Registered reports how many entries are live.
func (s *Service) Registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SlotSpec converts a "HH:MM" UTC slot into a daily cron spec.
func SlotSpec(slot string) (string, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(slot), ":")
	if !ok {
		return "", fmt.Errorf("invalid slot %q, want HH:MM", slot)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return "", fmt.Errorf("invalid slot hour %q", slot)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return "", fmt.Errorf("invalid slot minute %q", slot)
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}
