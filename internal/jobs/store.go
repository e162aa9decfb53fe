package jobs

import (
	"context"
	"time"
)

// ExecutionStatus is the outcome recorded in the execution log.
type ExecutionStatus string

const (
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// ExecutionRecord is one row of the execution log.
type ExecutionRecord struct {
	JobID      string
	JobType    string
	Status     ExecutionStatus
	Error      string
	Duration   time.Duration
	RetryCount int
}

// FailureStreak summarises the failures of a job ID since its last success.
type FailureStreak struct {
	Failures    int
	LastFailure time.Time
}

// Store is the persistence the scheduler and processor depend on.
// Implementations must be safe for concurrent use.
type Store interface {
	GetJobSchedules(ctx context.Context) ([]JobSchedule, error)
	// GetJobSchedule returns nil, nil when no schedule exists for jobType.
	GetJobSchedule(ctx context.Context, jobType string) (*JobSchedule, error)

	// IsJobExpired reports whether a simple job is due, applying its
	// effective interval and retry backoff. Unknown job types are never due.
	IsJobExpired(ctx context.Context, jobType string, marketOpen bool) (bool, error)
	// SetJobLastRun overwrites last_run. The zero time forces the job due.
	SetJobLastRun(ctx context.Context, jobType string, at time.Time) error
	MarkJobCompleted(ctx context.Context, jobType string) error
	MarkJobFailed(ctx context.Context, jobType string) error

	// GetLastJobCompletionByID returns the time of the most recent completed
	// execution of a job ID, or the zero time when there is none.
	GetLastJobCompletionByID(ctx context.Context, jobID string) (time.Time, error)
	GetJobFailureStreakByID(ctx context.Context, jobID string) (FailureStreak, error)
	LogJobExecution(ctx context.Context, rec ExecutionRecord) error

	// ListEntities returns the rows of a named parameter source.
	// Unknown sources yield an error wrapping ErrUnknownParameterSource.
	ListEntities(ctx context.Context, source string) ([]Entity, error)
}
