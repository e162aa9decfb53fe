package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/sentinel-jobs/internal/config"
	"github.com/aristath/sentinel-jobs/internal/database"
	"github.com/aristath/sentinel-jobs/internal/jobs"
	"github.com/aristath/sentinel-jobs/internal/market"
	"github.com/aristath/sentinel-jobs/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeJobSystem creates the registry, queue, market checker,
// scheduler and processor, and registers the built-in jobs.
func InitializeJobSystem(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.Registry = jobs.NewRegistry()
	container.Queue = jobs.NewQueue()

	// Failed simple jobs back off according to their registered retry policy
	container.Store.SetRetryPolicy(container.Registry.GetRetryConfig)

	container.Market = market.NewChecker(
		market.NewHTTPSource(cfg.BrokerGatewayURL, log),
		container.Store,
		cfg.MarketStatusTTL,
		log,
	)

	if cfg.R2Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client, err := reliability.NewR2Client(ctx, reliability.R2Config{
			AccountID:       cfg.R2.AccountID,
			AccessKeyID:     cfg.R2.AccessKeyID,
			SecretAccessKey: cfg.R2.SecretAccessKey,
			Bucket:          cfg.R2.Bucket,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create r2 client: %w", err)
		}
		container.R2Backup = reliability.NewR2BackupService(client, []*database.DB{container.JobsDB}, cfg.DataDir, log)
		log.Info().Str("bucket", cfg.R2.Bucket).Msg("R2 backups enabled")
	} else {
		log.Info().Msg("R2 not configured, backups disabled")
	}

	reliability.RegisterJobs(container.Registry, reliability.Dependencies{
		Databases:           []*database.DB{container.JobsDB},
		History:             container.Store,
		Backup:              container.R2Backup,
		BackupRetentionDays: cfg.R2.RetentionDays,
		Log:                 log,
	})

	container.Scheduler = jobs.NewScheduler(
		container.Registry,
		container.Queue,
		container.Store,
		container.Market,
		cfg.SchedulerHeartbeat,
	)
	container.Scheduler.SetLogger(log)

	container.Processor = jobs.NewProcessor(
		container.Queue,
		container.Store,
		container.Market,
		jobs.ProcessorConfig{
			IdlePoll:      cfg.ProcessorIdlePoll,
			ShutdownGrace: cfg.ProcessorShutdownGrace,
		},
	)
	container.Processor.SetLogger(log)

	log.Info().Int("job_types", container.Registry.Count()).Msg("Job system initialized")
	return nil
}
