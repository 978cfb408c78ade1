package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"forecastbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite store, creating the database file and
// schema as needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- schedules ---

const scheduleCols = "id, enabled, time_utc, countries, topics, time_horizon, depth, language, COALESCE(title, '')"

func scanSchedule(row interface{ Scan(...any) error }) (Schedule, error) {
	var sc Schedule
	var enabled int
	err := row.Scan(&sc.ID, &enabled, &sc.TimeUTC, &sc.Countries, &sc.Topics, &sc.Horizon, &sc.Depth, &sc.Language, &sc.Title)
	sc.Enabled = enabled != 0
	return sc, err
}

func (s *sqliteStore) querySchedules(ctx context.Context, where string, args ...any) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+scheduleCols+" FROM forecast_schedules"+where+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Schedules(ctx context.Context) ([]Schedule, error) {
	return s.querySchedules(ctx, "")
}

func (s *sqliteStore) EnabledSchedules(ctx context.Context) ([]Schedule, error) {
	return s.querySchedules(ctx, " WHERE enabled = 1")
}

func (s *sqliteStore) ScheduleByID(ctx context.Context, id int64) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+scheduleCols+" FROM forecast_schedules WHERE id = ?", id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *sqliteStore) AddSchedule(ctx context.Context, sc Schedule) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO forecast_schedules (enabled, time_utc, countries, topics, time_horizon, depth, language, title)
		 VALUES (?,?,?,?,?,?,?,?)`,
		boolInt(sc.Enabled), sc.TimeUTC, sc.Countries, sc.Topics, sc.Horizon, sc.Depth, sc.Language, nullStr(sc.Title),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) SetScheduleEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE forecast_schedules SET enabled = ? WHERE id = ?", boolInt(enabled), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- run records ---

func (s *sqliteStore) CompletedRun(ctx context.Context, scheduleID int64, date, slot string) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM schedule_runs WHERE schedule_id = ? AND run_date_utc = ? AND run_time_utc = ?`,
		scheduleID, date, slot,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return RunStatus(status).Completed(), nil
}

func (s *sqliteStore) BeginRun(ctx context.Context, scheduleID int64, date, slot string, staleAfter time.Duration) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	// Conditional insert is the lock: exactly one contender creates the row.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_runs (schedule_id, run_date_utc, run_time_utc, started_at, status)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT(schedule_id, run_date_utc, run_time_utc) DO NOTHING`,
		scheduleID, date, slot, now, string(RunRunning),
	)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 1 {
		return res.LastInsertId()
	}

	// The key exists. A crashed holder leaves a stale "running" row;
	// reclaim it once it exceeds the staleness threshold. The conditional
	// update guarantees a single winner: the loser sees started_at
	// already bumped past the cutoff.
	if staleAfter != 0 {
		cutoff := time.Now().UTC().Add(-staleAfter).Format(time.RFC3339)
		res, err := s.db.ExecContext(ctx,
			`UPDATE schedule_runs
			 SET started_at = ?, finished_at = NULL, error_text = NULL, status = ?
			 WHERE schedule_id = ? AND run_date_utc = ? AND run_time_utc = ?
			   AND status = ? AND started_at < ?`,
			now, string(RunRunning), scheduleID, date, slot, string(RunRunning), cutoff,
		)
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err != nil {
			return 0, err
		} else if n == 1 {
			var id int64
			err := s.db.QueryRowContext(ctx,
				`SELECT id FROM schedule_runs WHERE schedule_id = ? AND run_date_utc = ? AND run_time_utc = ?`,
				scheduleID, date, slot,
			).Scan(&id)
			if err != nil {
				return 0, err
			}
			s.log.Warn("reclaimed stale running record",
				logx.Int64("schedule_id", scheduleID),
				logx.String("slot", date+" "+slot))
			return id, nil
		}
	}

	return 0, ErrRunExists
}

func (s *sqliteStore) FinishRun(ctx context.Context, runID int64, status RunStatus, errText, fingerprint string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedule_runs SET finished_at = ?, status = ?, error_text = ?, response_hash = ? WHERE id = ?`,
		now, string(status), nullStr(errText), nullStr(fingerprint), runID,
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, scheduleID int64, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule_id, run_date_utc, run_time_utc, started_at, finished_at, status, error_text, response_hash
		 FROM schedule_runs WHERE schedule_id = ? ORDER BY id DESC LIMIT ?`,
		scheduleID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var status string
		var started, finished, et, hash sql.NullString
		if err := rows.Scan(&r.ID, &r.ScheduleID, &r.RunDateUTC, &r.RunTimeUTC, &started, &finished, &status, &et, &hash); err != nil {
			return nil, err
		}
		r.Status = RunStatus(status)
		r.StartedAt = parseStoredTime(started)
		r.FinishedAt = parseStoredTime(finished)
		r.ErrorText = et.String
		r.Fingerprint = hash.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func parseStoredTime(v sql.NullString) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- subscribers ---

func (s *sqliteStore) Subscribe(ctx context.Context, chatID, userID int64) (bool, error) {
	var id int64
	var active int
	err := s.db.QueryRowContext(ctx, `SELECT id, active FROM subscribers WHERE chat_id = ?`, chatID).Scan(&id, &active)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC().Format(time.RFC3339)
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO subscribers (chat_id, user_id, created_at, active) VALUES (?,?,?,1)`,
			chatID, userID, now,
		)
		return err == nil, err
	case err != nil:
		return false, err
	case active == 0:
		_, err := s.db.ExecContext(ctx, `UPDATE subscribers SET active = 1 WHERE id = ?`, id)
		return err == nil, err
	default:
		return false, nil
	}
}

func (s *sqliteStore) Deactivate(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE subscribers SET active = 0 WHERE chat_id = ?`, chatID)
	return err
}

func (s *sqliteStore) SubscriptionActive(ctx context.Context, chatID int64) (bool, error) {
	var active int
	err := s.db.QueryRowContext(ctx, `SELECT active FROM subscribers WHERE chat_id = ?`, chatID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return active == 1, nil
}

func (s *sqliteStore) ActiveSubscriberChats(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM subscribers WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ActiveSubscriberCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers WHERE active = 1`).Scan(&n)
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
