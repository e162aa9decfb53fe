// Package store implements the jobs persistence on SQLite.
// Schedules live in job_schedules (configuration owned by operators), every
// execution is appended to job_history, and parameterized jobs enumerate their
// instances from named entity sources such as the securities table.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/sentinel-jobs/internal/jobs"
	"github.com/rs/zerolog"
)

// RetryPolicy returns the retry configuration of a job type.
type RetryPolicy func(jobType string) jobs.RetryConfig

// EntitySource lists the entities a parameterized schedule expands over.
type EntitySource func(ctx context.Context, db *sql.DB) ([]jobs.Entity, error)

const scheduleColumns = `job_type, enabled, interval_minutes, interval_market_open_minutes,
	market_timing, dependencies, description, category, is_parameterized,
	parameter_source, parameter_field, last_run, consecutive_failures`

// Store handles jobs database operations.
//
// All timestamps are stored as Unix seconds. A NULL (or 0) last_run means the
// job has never run, or was forced due.
type Store struct {
	db    *sql.DB
	log   zerolog.Logger
	retry RetryPolicy
	now   func() time.Time

	sources map[string]EntitySource
	mu      sync.RWMutex
}

// New creates a store on db with the built-in entity sources registered.
func New(db *sql.DB, log zerolog.Logger) *Store {
	s := &Store{
		db:      db,
		log:     log.With().Str("repository", "jobs").Logger(),
		retry:   func(string) jobs.RetryConfig { return jobs.DefaultRetry },
		now:     time.Now,
		sources: make(map[string]EntitySource),
	}
	s.RegisterEntitySource(SourceMLEnabledSecurities, querySource(
		"SELECT symbol FROM securities WHERE ml_enabled = 1 AND active = 1 ORDER BY symbol"))
	s.RegisterEntitySource(SourceActiveSecurities, querySource(
		"SELECT symbol, market FROM securities WHERE active = 1 ORDER BY symbol"))
	return s
}

// SetRetryPolicy sets the policy IsJobExpired applies to failed jobs.
// Usually Registry.GetRetryConfig.
func (s *Store) SetRetryPolicy(policy RetryPolicy) {
	if policy == nil {
		return
	}
	s.retry = policy
}

// GetJobSchedules returns every schedule, ordered by category and job type.
func (s *Store) GetJobSchedules(ctx context.Context) ([]jobs.JobSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+scheduleColumns+" FROM job_schedules ORDER BY category, job_type")
	if err != nil {
		return nil, fmt.Errorf("failed to query job schedules: %w", err)
	}
	defer rows.Close()

	var schedules []jobs.JobSchedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job schedule: %w", err)
		}
		schedules = append(schedules, *schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job schedules: %w", err)
	}
	return schedules, nil
}

// GetJobSchedule returns the schedule of jobType, or nil if there is none.
func (s *Store) GetJobSchedule(ctx context.Context, jobType string) (*jobs.JobSchedule, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM job_schedules WHERE job_type = ?", jobType)

	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job schedule %s: %w", jobType, err)
	}
	return schedule, nil
}

// IsJobExpired checks whether a job needs to run.
//
// After failures the job becomes due again on the retry policy's backoff,
// never later than its regular interval. Once retries are exhausted it falls
// back to the regular interval.
func (s *Store) IsJobExpired(ctx context.Context, jobType string, marketOpen bool) (bool, error) {
	schedule, err := s.GetJobSchedule(ctx, jobType)
	if err != nil {
		return false, err
	}
	if schedule == nil {
		return false, nil // Unknown job
	}
	if schedule.LastRun.IsZero() {
		return true, nil // Never run or forced
	}

	delay := s.retry(jobType).RetryDelay(schedule.ConsecutiveFailures, schedule.EffectiveInterval(marketOpen))
	return s.now().Sub(schedule.LastRun) >= delay, nil
}

// SetJobLastRun sets the last run timestamp of a job.
// The zero time clears it, which forces the job to run.
func (s *Store) SetJobLastRun(ctx context.Context, jobType string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE job_schedules SET last_run = ?, updated_at = ? WHERE job_type = ?",
		nullableUnix(at), s.now().Unix(), jobType)
	if err != nil {
		return fmt.Errorf("failed to set last run for %s: %w", jobType, err)
	}
	return nil
}

// MarkJobCompleted updates last_run to now and resets the failure count.
func (s *Store) MarkJobCompleted(ctx context.Context, jobType string) error {
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx,
		"UPDATE job_schedules SET last_run = ?, consecutive_failures = 0, updated_at = ? WHERE job_type = ?",
		now, now, jobType)
	if err != nil {
		return fmt.Errorf("failed to mark %s completed: %w", jobType, err)
	}
	return nil
}

// MarkJobFailed updates last_run to now and increments the failure count.
func (s *Store) MarkJobFailed(ctx context.Context, jobType string) error {
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx,
		"UPDATE job_schedules SET last_run = ?, consecutive_failures = consecutive_failures + 1, updated_at = ? WHERE job_type = ?",
		now, now, jobType)
	if err != nil {
		return fmt.Errorf("failed to mark %s failed: %w", jobType, err)
	}
	return nil
}

// GetLastJobCompletionByID returns when jobID last completed successfully,
// or the zero time.
func (s *Store) GetLastJobCompletionByID(ctx context.Context, jobID string) (time.Time, error) {
	var executedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(executed_at) FROM job_history WHERE job_id = ? AND status = 'completed'",
		jobID).Scan(&executedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last completion for %s: %w", jobID, err)
	}
	return fromUnix(executedAt), nil
}

// failureStreakScanLimit bounds how far back the streak is counted.
const failureStreakScanLimit = 100

// GetJobFailureStreakByID counts the failures of jobID since its last
// successful execution.
func (s *Store) GetJobFailureStreakByID(ctx context.Context, jobID string) (jobs.FailureStreak, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, executed_at FROM job_history
		WHERE job_id = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`, jobID, failureStreakScanLimit)
	if err != nil {
		return jobs.FailureStreak{}, fmt.Errorf("failed to query history for %s: %w", jobID, err)
	}
	defer rows.Close()

	var streak jobs.FailureStreak
	for rows.Next() {
		var status string
		var executedAt int64
		if err := rows.Scan(&status, &executedAt); err != nil {
			return jobs.FailureStreak{}, fmt.Errorf("failed to scan history row: %w", err)
		}
		if jobs.ExecutionStatus(status) == jobs.StatusCompleted {
			break
		}
		if streak.Failures == 0 {
			streak.LastFailure = time.Unix(executedAt, 0)
		}
		streak.Failures++
	}
	if err := rows.Err(); err != nil {
		return jobs.FailureStreak{}, fmt.Errorf("failed to iterate history for %s: %w", jobID, err)
	}
	return streak, nil
}

// LogJobExecution appends an execution to job_history.
func (s *Store) LogJobExecution(ctx context.Context, rec jobs.ExecutionRecord) error {
	var errText sql.NullString
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_history (job_id, job_type, status, error, duration_ms, executed_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.JobID, rec.JobType, string(rec.Status), errText, rec.Duration.Milliseconds(), s.now().Unix(), rec.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to log execution of %s: %w", rec.JobID, err)
	}
	return nil
}

// HistoryEntry is one row of job_history.
type HistoryEntry struct {
	JobID      string
	JobType    string
	Status     jobs.ExecutionStatus
	Error      string
	Duration   time.Duration
	ExecutedAt time.Time
	RetryCount int
}

// GetJobHistory returns the most recent executions, newest first.
func (s *Store) GetJobHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, job_type, status, error, duration_ms, executed_at, retry_count
		FROM job_history
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query job history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			entry      HistoryEntry
			status     string
			errText    sql.NullString
			durationMs int64
			executedAt int64
		)
		if err := rows.Scan(&entry.JobID, &entry.JobType, &status, &errText, &durationMs, &executedAt, &entry.RetryCount); err != nil {
			s.log.Warn().Err(err).Msg("Failed to scan job history row")
			continue
		}
		entry.Status = jobs.ExecutionStatus(status)
		entry.Error = errText.String
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entry.ExecutedAt = time.Unix(executedAt, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PruneJobHistory deletes executions older than the retention and returns
// the number of rows removed.
func (s *Store) PruneJobHistory(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).Unix()
	result, err := s.db.ExecContext(ctx, "DELETE FROM job_history WHERE executed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune job history: %w", err)
	}
	return result.RowsAffected()
}

// ScheduleUpdate holds the fields UpsertJobSchedule changes. nil fields are
// left as they are (or take the column default on insert).
type ScheduleUpdate struct {
	Enabled                   *bool
	IntervalMinutes           *int
	IntervalMarketOpenMinutes *int
	MarketTiming              *jobs.MarketTiming
	Dependencies              []string
	Description               *string
	Category                  *string
}

// UpsertJobSchedule inserts or updates a schedule. Run state (last_run and
// the failure count) is never touched.
func (s *Store) UpsertJobSchedule(ctx context.Context, jobType string, upd ScheduleUpdate) error {
	if upd.MarketTiming != nil && (*upd.MarketTiming < jobs.AnyTime || *upd.MarketTiming > jobs.AllMarketsClosed) {
		return fmt.Errorf("invalid market timing %d for %s", *upd.MarketTiming, jobType)
	}

	var deps sql.NullString
	if upd.Dependencies != nil {
		encoded, err := json.Marshal(upd.Dependencies)
		if err != nil {
			return fmt.Errorf("failed to encode dependencies for %s: %w", jobType, err)
		}
		deps = sql.NullString{String: string(encoded), Valid: true}
	}

	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_schedules
			(job_type, enabled, interval_minutes, interval_market_open_minutes, market_timing,
			 dependencies, description, category, created_at, updated_at)
		VALUES (?, COALESCE(?, 1), COALESCE(?, 60), ?, COALESCE(?, 0), COALESCE(?, '[]'),
			COALESCE(?, ''), COALESCE(?, ''), ?, ?)
		ON CONFLICT(job_type) DO UPDATE SET
			enabled = COALESCE(?, enabled),
			interval_minutes = COALESCE(?, interval_minutes),
			interval_market_open_minutes = COALESCE(?, interval_market_open_minutes),
			market_timing = COALESCE(?, market_timing),
			dependencies = COALESCE(?, dependencies),
			description = COALESCE(?, description),
			category = COALESCE(?, category),
			updated_at = ?
	`,
		jobType,
		nullableBool(upd.Enabled), nullableInt(upd.IntervalMinutes), nullableInt(upd.IntervalMarketOpenMinutes),
		nullableTiming(upd.MarketTiming), deps, nullableString(upd.Description), nullableString(upd.Category), now, now,
		nullableBool(upd.Enabled), nullableInt(upd.IntervalMinutes), nullableInt(upd.IntervalMarketOpenMinutes),
		nullableTiming(upd.MarketTiming), deps, nullableString(upd.Description), nullableString(upd.Category), now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job schedule %s: %w", jobType, err)
	}
	return nil
}

// MarketForSymbol returns the market a security trades on.
func (s *Store) MarketForSymbol(symbol string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var market string
	err := s.db.QueryRowContext(ctx, "SELECT market FROM securities WHERE symbol = ?", symbol).Scan(&market)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to resolve market for symbol")
		}
		return "", false
	}
	if market == "" {
		return "", false
	}
	return market, true
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*jobs.JobSchedule, error) {
	var (
		schedule        jobs.JobSchedule
		enabled         int
		intervalOpen    sql.NullInt64
		dependencies    sql.NullString
		description     sql.NullString
		category        sql.NullString
		isParameterized int
		paramSource     sql.NullString
		paramField      sql.NullString
		lastRun         sql.NullInt64
	)

	err := row.Scan(
		&schedule.JobType,
		&enabled,
		&schedule.IntervalMinutes,
		&intervalOpen,
		&schedule.MarketTiming,
		&dependencies,
		&description,
		&category,
		&isParameterized,
		&paramSource,
		&paramField,
		&lastRun,
		&schedule.ConsecutiveFailures,
	)
	if err != nil {
		return nil, err
	}

	schedule.Enabled = enabled != 0
	if intervalOpen.Valid {
		v := int(intervalOpen.Int64)
		schedule.IntervalMarketOpenMinutes = &v
	}
	schedule.Dependencies = dependencies.String
	schedule.Description = description.String
	schedule.Category = category.String
	schedule.IsParameterized = isParameterized != 0
	schedule.ParameterSource = paramSource.String
	schedule.ParameterField = paramField.String
	schedule.LastRun = fromUnix(lastRun)

	return &schedule, nil
}

func fromUnix(v sql.NullInt64) time.Time {
	if !v.Valid || v.Int64 == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0)
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableTiming(v *jobs.MarketTiming) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableBool(v *bool) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	if *v {
		return sql.NullInt64{Int64: 1, Valid: true}
	}
	return sql.NullInt64{Int64: 0, Valid: true}
}

func nullableString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

var _ jobs.Store = (*Store)(nil)
