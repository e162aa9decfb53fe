// Package reliability provides the built-in maintenance and backup jobs.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/sentinel-jobs/internal/database"
	"github.com/aristath/sentinel-jobs/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Built-in job types.
const (
	JobTypeR2Backup       = "backup:r2"
	JobTypeWALCheckpoint  = "maintenance:wal_checkpoint"
	JobTypeSystemHealth   = "maintenance:system_health"
	JobTypeHistoryCleanup = "maintenance:history_cleanup"
)

const (
	// DefaultMemoryThreshold is the memory usage percentage above which the
	// health job fails.
	DefaultMemoryThreshold = 95.0

	// DefaultHistoryRetention is how long job executions are kept.
	DefaultHistoryRetention = 90 * 24 * time.Hour
)

// WALCheckpointJob truncates the write-ahead log of each database.
type WALCheckpointJob struct {
	jobs.BaseJob
	databases []*database.DB
	log       zerolog.Logger
}

// NewWALCheckpointJob creates a checkpoint job over databases.
func NewWALCheckpointJob(databases []*database.DB, log zerolog.Logger) *WALCheckpointJob {
	job := &WALCheckpointJob{
		BaseJob:   jobs.NewBaseJob(JobTypeWALCheckpoint, ""),
		databases: databases,
	}
	job.SetTimeout(2 * time.Minute)
	job.log = log.With().Str("job", JobTypeWALCheckpoint).Logger()
	return job
}

// Execute checkpoints every database. A failure on one database does not
// stop the others.
func (j *WALCheckpointJob) Execute(ctx context.Context) error {
	var errs []error
	for _, db := range j.databases {
		if err := db.WALCheckpoint(ctx, "TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			errs = append(errs, err)
			continue
		}
		j.log.Debug().Str("database", db.Name()).Msg("WAL checkpoint completed")
	}
	return errors.Join(errs...)
}

// SystemSample is one reading of host resource usage.
type SystemSample struct {
	CPUPercent    float64
	MemoryPercent float64
	MemoryUsedMB  uint64
	MemoryTotalMB uint64
}

// SystemSampler reads host resource usage.
type SystemSampler func(ctx context.Context) (SystemSample, error)

// SampleHost reads CPU and memory usage of the host.
func SampleHost(ctx context.Context) (SystemSample, error) {
	var sample SystemSample

	cpuPercent, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil {
		return sample, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(cpuPercent) > 0 {
		sample.CPUPercent = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("failed to read memory usage: %w", err)
	}
	sample.MemoryPercent = memStat.UsedPercent
	sample.MemoryUsedMB = memStat.Used / 1024 / 1024
	sample.MemoryTotalMB = memStat.Total / 1024 / 1024

	return sample, nil
}

// SystemHealthJob samples host resources and database sizes.
type SystemHealthJob struct {
	jobs.BaseJob
	sampler         SystemSampler
	databases       []*database.DB
	memoryThreshold float64
	log             zerolog.Logger
}

// NewSystemHealthJob creates a health job. A nil sampler uses SampleHost.
func NewSystemHealthJob(sampler SystemSampler, databases []*database.DB, memoryThreshold float64, log zerolog.Logger) *SystemHealthJob {
	if sampler == nil {
		sampler = SampleHost
	}
	if memoryThreshold <= 0 {
		memoryThreshold = DefaultMemoryThreshold
	}
	job := &SystemHealthJob{
		BaseJob:         jobs.NewBaseJob(JobTypeSystemHealth, ""),
		sampler:         sampler,
		databases:       databases,
		memoryThreshold: memoryThreshold,
		log:             log.With().Str("job", JobTypeSystemHealth).Logger(),
	}
	job.SetTimeout(time.Minute)
	return job
}

// Execute logs resource usage and fails when memory usage is critical or a
// database fails its integrity check.
func (j *SystemHealthJob) Execute(ctx context.Context) error {
	sample, err := j.sampler(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			errs = append(errs, err)
			continue
		}

		stats, err := db.GetStats(ctx)
		if err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to read database stats")
			continue
		}
		j.log.Debug().
			Str("database", db.Name()).
			Int64("size_bytes", stats.SizeBytes).
			Int64("wal_size_bytes", stats.WALSizeBytes).
			Int64("freelist_count", stats.FreelistCount).
			Msg("Database stats")
	}

	j.log.Info().
		Float64("cpu_percent", sample.CPUPercent).
		Float64("memory_percent", sample.MemoryPercent).
		Uint64("memory_used_mb", sample.MemoryUsedMB).
		Uint64("memory_total_mb", sample.MemoryTotalMB).
		Msg("System health")

	if sample.MemoryPercent > j.memoryThreshold {
		j.log.Error().Float64("memory_percent", sample.MemoryPercent).Msg("CRITICAL: Memory usage above threshold")
		errs = append(errs, fmt.Errorf("memory usage %.1f%% exceeds %.1f%%", sample.MemoryPercent, j.memoryThreshold))
	}
	return errors.Join(errs...)
}

// HistoryPruner deletes old execution history.
type HistoryPruner interface {
	PruneJobHistory(ctx context.Context, retention time.Duration) (int64, error)
}

// HistoryCleanupJob prunes job_history.
type HistoryCleanupJob struct {
	jobs.BaseJob
	pruner    HistoryPruner
	retention time.Duration
	log       zerolog.Logger
}

// NewHistoryCleanupJob creates a cleanup job. retention <= 0 uses
// DefaultHistoryRetention.
func NewHistoryCleanupJob(pruner HistoryPruner, retention time.Duration, log zerolog.Logger) *HistoryCleanupJob {
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	job := &HistoryCleanupJob{
		BaseJob:   jobs.NewBaseJob(JobTypeHistoryCleanup, ""),
		pruner:    pruner,
		retention: retention,
		log:       log.With().Str("job", JobTypeHistoryCleanup).Logger(),
	}
	job.SetMarketTiming(jobs.AllMarketsClosed)
	return job
}

func (j *HistoryCleanupJob) Execute(ctx context.Context) error {
	removed, err := j.pruner.PruneJobHistory(ctx, j.retention)
	if err != nil {
		return err
	}
	j.log.Info().Int64("removed", removed).Dur("retention", j.retention).Msg("Pruned job history")
	return nil
}

// R2BackupJob uploads a database backup and rotates old archives.
type R2BackupJob struct {
	jobs.BaseJob
	service       *R2BackupService
	retentionDays int
	log           zerolog.Logger
}

// NewR2BackupJob creates a backup job.
func NewR2BackupJob(service *R2BackupService, retentionDays int, log zerolog.Logger) *R2BackupJob {
	job := &R2BackupJob{
		BaseJob:       jobs.NewBaseJob(JobTypeR2Backup, ""),
		service:       service,
		retentionDays: retentionDays,
		log:           log.With().Str("job", JobTypeR2Backup).Logger(),
	}
	job.SetMarketTiming(jobs.AllMarketsClosed)
	job.SetTimeout(jobs.HardTimeout)
	return job
}

// Execute uploads a new backup, then rotates. A failed rotation is logged
// and does not fail the job.
func (j *R2BackupJob) Execute(ctx context.Context) error {
	if _, err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return err
	}

	if _, err := j.service.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
