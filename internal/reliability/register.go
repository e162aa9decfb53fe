package reliability

import (
	"time"

	"github.com/aristath/sentinel-jobs/internal/database"
	"github.com/aristath/sentinel-jobs/internal/jobs"
	"github.com/rs/zerolog"
)

// Dependencies are the collaborators of the built-in jobs.
type Dependencies struct {
	Databases []*database.DB
	History   HistoryPruner
	// Backup is nil when R2 is not configured; backup:r2 is then not registered.
	Backup              *R2BackupService
	BackupRetentionDays int
	HistoryRetention    time.Duration
	Sampler             SystemSampler
	Log                 zerolog.Logger
}

// RegisterJobs registers the built-in job types on registry.
func RegisterJobs(registry *jobs.Registry, deps Dependencies) {
	registry.Register(JobTypeWALCheckpoint, func(jobs.Params) (jobs.Job, error) {
		return NewWALCheckpointJob(deps.Databases, deps.Log), nil
	}, jobs.DefaultRetry)

	registry.Register(JobTypeSystemHealth, func(jobs.Params) (jobs.Job, error) {
		return NewSystemHealthJob(deps.Sampler, deps.Databases, DefaultMemoryThreshold, deps.Log), nil
	}, jobs.DefaultRetry)

	if deps.History != nil {
		registry.Register(JobTypeHistoryCleanup, func(jobs.Params) (jobs.Job, error) {
			return NewHistoryCleanupJob(deps.History, deps.HistoryRetention, deps.Log), nil
		}, jobs.DefaultRetry)
	}

	if deps.Backup != nil {
		registry.Register(JobTypeR2Backup, func(jobs.Params) (jobs.Job, error) {
			return NewR2BackupJob(deps.Backup, deps.BackupRetentionDays, deps.Log), nil
		}, jobs.InfiniteRetry)
	}
}
