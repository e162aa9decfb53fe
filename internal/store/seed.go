package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/sentinel-jobs/internal/database"
	"github.com/aristath/sentinel-jobs/internal/jobs"
)

type defaultSchedule struct {
	jobType      string
	interval     int
	intervalOpen int
	timing       jobs.MarketTiming
	category     string
	description  string
	dependencies string
	paramSource  string
	paramField   string
}

// defaultSchedules are inserted into an empty job_schedules table.
var defaultSchedules = []defaultSchedule{
	{jobType: "sync:portfolio", interval: 30, intervalOpen: 5, category: "sync", description: "Sync portfolio positions from broker"},
	{jobType: "sync:prices", interval: 30, intervalOpen: 5, category: "sync", description: "Sync historical prices for securities"},
	{jobType: "sync:quotes", interval: 1440, intervalOpen: 1440, category: "sync", description: "Sync current quotes"},
	{jobType: "sync:metadata", interval: 1440, intervalOpen: 1440, category: "sync", description: "Sync security metadata"},
	{jobType: "sync:exchange_rates", interval: 60, intervalOpen: 60, category: "sync", description: "Sync exchange rates"},
	{jobType: "scoring:calculate", interval: 1440, intervalOpen: 1440, category: "scoring", description: "Calculate security scores",
		dependencies: `["sync:prices"]`},
	{jobType: "analytics:correlation", interval: 10080, intervalOpen: 10080, timing: jobs.AllMarketsClosed, category: "analytics", description: "Compute correlation matrices"},
	{jobType: "analytics:regime", interval: 10080, intervalOpen: 10080, timing: jobs.AllMarketsClosed, category: "analytics", description: "Train regime detection model"},
	{jobType: "analytics:transfer_entropy", interval: 10080, intervalOpen: 10080, timing: jobs.AllMarketsClosed, category: "analytics", description: "Compute transfer entropy between securities"},
	{jobType: "trading:check_markets", interval: 30, intervalOpen: 30, timing: jobs.DuringMarketOpen, category: "trading", description: "Check which markets are open"},
	{jobType: "trading:execute", interval: 30, intervalOpen: 15, timing: jobs.DuringMarketOpen, category: "trading", description: "Execute pending trade recommendations",
		dependencies: `["sync:prices","planning:refresh"]`},
	{jobType: "planning:refresh", interval: 60, intervalOpen: 30, category: "trading", description: "Refresh trading plan and recommendations",
		dependencies: `["sync:portfolio","sync:prices"]`},
	{jobType: "ml:retrain", interval: 10080, intervalOpen: 10080, timing: jobs.AllMarketsClosed, category: "ml", description: "Retrain ML models for all ML-enabled securities",
		paramSource: SourceMLEnabledSecurities, paramField: "symbol"},
	{jobType: "ml:monitor", interval: 10080, intervalOpen: 10080, category: "ml", description: "Monitor ML performance for all ML-enabled securities",
		paramSource: SourceMLEnabledSecurities, paramField: "symbol"},
	{jobType: "backup:r2", interval: 1440, intervalOpen: 1440, timing: jobs.AllMarketsClosed, category: "backup", description: "Backup the jobs database to Cloudflare R2"},
	{jobType: "maintenance:wal_checkpoint", interval: 360, intervalOpen: 360, category: "maintenance", description: "Truncate the SQLite write-ahead log"},
	{jobType: "maintenance:system_health", interval: 15, intervalOpen: 15, category: "maintenance", description: "Sample CPU and memory usage"},
	{jobType: "maintenance:history_cleanup", interval: 1440, intervalOpen: 1440, timing: jobs.AllMarketsClosed, category: "maintenance", description: "Prune old job history"},
}

// SeedDefaultSchedules inserts the default schedules if the table is empty.
// It returns the number of schedules inserted.
func (s *Store) SeedDefaultSchedules(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM job_schedules").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count job schedules: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	now := s.now().Unix()
	err := database.WithTransactionContext(ctx, s.db, func(tx *sql.Tx) error {
		for _, d := range defaultSchedules {
			deps := d.dependencies
			if deps == "" {
				deps = "[]"
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO job_schedules
					(job_type, enabled, interval_minutes, interval_market_open_minutes, market_timing,
					 dependencies, description, category, is_parameterized, parameter_source,
					 parameter_field, created_at, updated_at)
				VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, d.jobType, d.interval, d.intervalOpen, int(d.timing), deps, d.description, d.category,
				boolToInt(d.paramSource != ""), nullIfEmpty(d.paramSource), nullIfEmpty(d.paramField), now, now)
			if err != nil {
				return fmt.Errorf("failed to seed %s: %w", d.jobType, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info().Int("count", len(defaultSchedules)).Msg("Seeded default job schedules")
	return len(defaultSchedules), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
