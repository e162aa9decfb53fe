package di

import (
	"context"
	"fmt"

	"github.com/aristath/sentinel-jobs/internal/config"
	"github.com/aristath/sentinel-jobs/internal/database"
	"github.com/aristath/sentinel-jobs/internal/store"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the jobs database, applies its schema and seeds
// the default schedules into an empty table.
func InitializeDatabases(container *Container, cfg *config.Config, log zerolog.Logger) error {
	jobsDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileStandard,
		Name:    "jobs",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize jobs database: %w", err)
	}

	if err := jobsDB.Migrate(); err != nil {
		jobsDB.Close()
		return fmt.Errorf("failed to apply schema to %s: %w", jobsDB.Name(), err)
	}

	jobStore := store.New(jobsDB.Conn(), log)
	seeded, err := jobStore.SeedDefaultSchedules(context.Background())
	if err != nil {
		jobsDB.Close()
		return fmt.Errorf("failed to seed job schedules: %w", err)
	}

	container.JobsDB = jobsDB
	container.Store = jobStore

	log.Info().
		Str("path", jobsDB.Path()).
		Int("seeded_schedules", seeded).
		Msg("Jobs database initialized")
	return nil
}
