package di

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aristath/sentinel-jobs/internal/config"
	"github.com/aristath/sentinel-jobs/internal/metrics"
	"github.com/aristath/sentinel-jobs/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize the database (migrate, seed)
// 2. Initialize the job system and register built-in jobs
// 3. Initialize metrics and the HTTP server
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{Config: cfg, log: log}

	if err := InitializeDatabases(container, cfg, log); err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := InitializeJobSystem(container, cfg, log); err != nil {
		return nil, closeOnError(container.JobsDB, fmt.Errorf("failed to initialize job system: %w", err), log)
	}

	container.MetricsRegistry = prometheus.NewRegistry()
	container.MetricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	container.Metrics = metrics.New(container.MetricsRegistry)
	container.Scheduler.SetObserver(container.Metrics)
	container.Processor.SetObserver(container.Metrics)

	container.Server = server.New(server.Config{
		Log:     log,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		Health:  container.JobsDB,
		Metrics: container.Metrics.Handler(),
	})

	log.Info().Msg("Dependency injection wiring completed successfully")
	return container, nil
}

// closeOnError closes db after a failed initialization step. A close failure
// is logged and joined into cause.
func closeOnError(db io.Closer, cause error, log zerolog.Logger) error {
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close jobs database")
		return errors.Join(cause, fmt.Errorf("failed to close jobs database: %w", err))
	}
	return cause
}

// Start launches the HTTP server, then the processor and the scheduler.
func (c *Container) Start() {
	c.serverDone = make(chan error, 1)
	go func() {
		err := c.Server.Start()
		if err != nil {
			c.log.Error().Err(err).Msg("HTTP server failed")
		}
		c.serverDone <- err
	}()

	c.Processor.Start()
	c.Scheduler.Start()

	c.log.Info().
		Int("port", c.Config.Port).
		Strs("job_types", c.Registry.ListTypes()).
		Msg("Job service started")
}

// Shutdown stops the scheduler, waits for the processor (up to its grace
// period), stops the HTTP server and closes the database.
func (c *Container) Shutdown(ctx context.Context) error {
	c.Scheduler.Stop()
	c.log.Info().Msg("Scheduler stopped")

	c.Processor.Stop()
	c.log.Info().Msg("Processor stopped")

	var errs []error
	if err := c.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if c.serverDone != nil {
		select {
		case <-c.serverDone:
		case <-ctx.Done():
		}
	}

	if err := c.JobsDB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	return errors.Join(errs...)
}
