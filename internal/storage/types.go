package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRunExists signals that another execution already owns or has
	// completed the (schedule, date, slot) key.
	ErrRunExists = errors.New("storage: run record already exists")

	ErrNotFound = errors.New("storage: not found")
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// RunStatus is the lifecycle state of one run record.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunError   RunStatus = "error"
)

// Completed reports whether the status satisfies a slot (no re-run needed).
func (s RunStatus) Completed() bool { return s == RunSuccess || s == RunPartial }

// Schedule is one delivery schedule. Immutable during a run.
type Schedule struct {
	ID        int64
	Enabled   bool
	TimeUTC   string // "HH:MM", UTC slot
	Countries string // comma-separated raw codes; validated per run
	Topics    string
	Horizon   string
	Depth     string
	Language  string
	Title     string
}

// RunRecord is the persisted claim-and-outcome record for one slot.
// Its unique (schedule, date, slot) key doubles as the execution lock.
type RunRecord struct {
	ID          int64
	ScheduleID  int64
	RunDateUTC  string // "2006-01-02"
	RunTimeUTC  string // "HH:MM"
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      RunStatus
	ErrorText   string
	Fingerprint string
}

// Store is the persistence API the orchestrator and command surface use.
type Store interface {
	Schedules(ctx context.Context) ([]Schedule, error)
	EnabledSchedules(ctx context.Context) ([]Schedule, error)
	ScheduleByID(ctx context.Context, id int64) (*Schedule, error)
	AddSchedule(ctx context.Context, s Schedule) (int64, error)

	// SetScheduleEnabled toggles a schedule. Returns ErrNotFound for an
	// unknown id.
	SetScheduleEnabled(ctx context.Context, id int64, enabled bool) error

	// CompletedRun reports whether a success/partial record already
	// satisfies the slot.
	CompletedRun(ctx context.Context, scheduleID int64, date, slot string) (bool, error)

	// BeginRun atomically claims the slot with a "running" record and
	// returns the record id. A stale "running" record older than
	// staleAfter is reclaimed (exactly one contender wins); a zero
	// staleAfter disables reclaiming. Returns ErrRunExists when the
	// slot is owned elsewhere.
	BeginRun(ctx context.Context, scheduleID int64, date, slot string, staleAfter time.Duration) (int64, error)

	FinishRun(ctx context.Context, runID int64, status RunStatus, errText, fingerprint string) error

	// RecentRuns returns up to limit run records for a schedule, newest
	// first.
	RecentRuns(ctx context.Context, scheduleID int64, limit int) ([]RunRecord, error)

	// Subscribe activates (or reactivates) a chat. Reports whether the
	// subscription state changed.
	Subscribe(ctx context.Context, chatID, userID int64) (bool, error)

	// Deactivate soft-deletes a subscriber, preserving history.
	Deactivate(ctx context.Context, chatID int64) error

	SubscriptionActive(ctx context.Context, chatID int64) (bool, error)
	ActiveSubscriberChats(ctx context.Context) ([]int64, error)
	ActiveSubscriberCount(ctx context.Context) (int, error)

	Close() error
}
