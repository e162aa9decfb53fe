// Package di wires the job service together.
package di

import (
	"github.com/aristath/sentinel-jobs/internal/config"
	"github.com/aristath/sentinel-jobs/internal/database"
	"github.com/aristath/sentinel-jobs/internal/jobs"
	"github.com/aristath/sentinel-jobs/internal/market"
	"github.com/aristath/sentinel-jobs/internal/metrics"
	"github.com/aristath/sentinel-jobs/internal/reliability"
	"github.com/aristath/sentinel-jobs/internal/server"
	"github.com/aristath/sentinel-jobs/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Container holds all dependencies for the application.
//
// Application code registers its job types on Registry between Wire and
// Start; only registered types are ever scheduled.
type Container struct {
	Config *config.Config

	// Database
	JobsDB *database.DB
	Store  *store.Store

	// Job system
	Registry  *jobs.Registry
	Queue     *jobs.Queue
	Market    *market.Checker
	Scheduler *jobs.Scheduler
	Processor *jobs.Processor

	// Backups, nil when R2 is not configured
	R2Backup *reliability.R2BackupService

	// Observability
	MetricsRegistry *prometheus.Registry
	Metrics         *metrics.Metrics
	Server          *server.Server

	log        zerolog.Logger
	serverDone chan error
}
