package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// HardTimeout caps the execution time of every job.
	HardTimeout = 15 * time.Minute
	// DefaultIdlePoll is how often an idle processor re-checks the queue.
	DefaultIdlePoll = 500 * time.Millisecond
	// DefaultShutdownGrace is how long Stop waits for a running job.
	DefaultShutdownGrace = 30 * time.Second

	bookkeepingTimeout = 10 * time.Second
)

var zeroTime time.Time

// ProcessorConfig tunes the processor loop. Zero values use the defaults.
type ProcessorConfig struct {
	IdlePoll      time.Duration
	ShutdownGrace time.Duration
	HardTimeout   time.Duration
}

// Processor takes jobs off the queue and executes them one at a time,
// respecting dependencies and market timing.
type Processor struct {
	queue    *Queue
	store    Store
	market   MarketChecker
	observer Observer
	log      zerolog.Logger
	now      func() time.Time

	idlePoll      time.Duration
	shutdownGrace time.Duration
	hardTimeout   time.Duration

	failures map[string]int // Consecutive failures per job ID
	current  string

	// ctx outlives every readiness check and execution; Stop cancels it once
	// the shutdown grace has passed.
	ctx      context.Context
	shutdown context.CancelFunc

	stop     chan struct{}
	stopped  chan struct{}
	started  bool
	stopOnce sync.Once
	mu       sync.Mutex
}

// NewProcessor creates a processor consuming queue.
func NewProcessor(queue *Queue, store Store, market MarketChecker, cfg ProcessorConfig) *Processor {
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = DefaultIdlePoll
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = HardTimeout
	}

	ctx, shutdown := context.WithCancel(context.Background())
	return &Processor{
		ctx:           ctx,
		shutdown:      shutdown,
		queue:         queue,
		store:         store,
		market:        market,
		observer:      noopObserver{},
		log:           zerolog.Nop(),
		now:           time.Now,
		idlePoll:      cfg.IdlePoll,
		shutdownGrace: cfg.ShutdownGrace,
		hardTimeout:   cfg.HardTimeout,
		failures:      make(map[string]int),
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// SetLogger sets the logger for the processor
func (p *Processor) SetLogger(log zerolog.Logger) {
	p.log = log.With().Str("component", "job_processor").Logger()
}

// SetObserver sets the lifecycle observer. nil restores the no-op observer.
func (p *Processor) SetObserver(o Observer) {
	if o == nil {
		o = noopObserver{}
	}
	p.observer = o
}

// Start runs the processor loop in a new goroutine.
func (p *Processor) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run()
}

func (p *Processor) run() {
	defer close(p.stopped)

	p.log.Info().Msg("Job processor started")
	ticker := time.NewTicker(p.idlePoll)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		if p.ProcessNext() {
			continue
		}

		select {
		case <-p.stop:
			return
		case <-p.queue.Ready():
		case <-ticker.C:
		}
	}
}

// Stop stops the loop. A running job gets the shutdown grace period to
// finish; after that the processor context is cancelled, which interrupts
// the job or any store call in progress, and Stop waits for the loop to
// return. Stop is idempotent.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		defer p.shutdown()

		p.mu.Lock()
		started := p.started
		p.started = true // A later Start must not run the loop
		p.mu.Unlock()

		close(p.stop)
		if !started {
			return
		}

		select {
		case <-p.stopped:
		case <-time.After(p.shutdownGrace):
			current := p.Current()
			if current != "" {
				p.log.Warn().Str("job_id", current).Dur("grace", p.shutdownGrace).Msg("Job still running after shutdown grace, cancelling")
			} else {
				p.log.Warn().Dur("grace", p.shutdownGrace).Msg("Processor still busy after shutdown grace, cancelling")
			}
			p.shutdown()
			<-p.stopped
		}
		p.log.Info().Msg("Job processor stopped")
	})
}

// Current returns the ID of the executing job, or "" when idle.
func (p *Processor) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// ProcessNext handles the head of the queue: the job is either executed or
// dropped because it is not ready. It returns false when the queue is empty.
func (p *Processor) ProcessNext() bool {
	job := p.queue.Peek()
	if job == nil {
		return false
	}

	readiness := p.checkReadiness(p.ctx, job)
	if !readiness.IsReady() {
		// The scheduler re-enqueues it once it is due and runnable
		p.queue.Remove(job.ID())
		p.observer.JobSkipped(job.Type(), readiness.State.String())
		p.observer.QueueDepth(p.queue.Len())
		p.log.Debug().Str("job_id", job.ID()).Str("reason", readiness.Reason).Msg("Job not ready, dropped from queue")
		return true
	}

	// The ID stays in flight until the outcome is recorded, so the scheduler
	// cannot queue it again while it runs.
	if p.queue.Take(job.ID()) == nil {
		return true
	}
	defer p.queue.Done(job.ID())

	p.observer.QueueDepth(p.queue.Len())
	p.execute(job)
	return true
}

// execute runs job under its timeout and records the outcome.
func (p *Processor) execute(job Job) {
	timeout := p.effectiveTimeout(job)
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	p.mu.Lock()
	p.current = job.ID()
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.current = ""
		p.mu.Unlock()
	}()

	runID := uuid.New().String()
	jobLog := p.log.With().Str("job_id", job.ID()).Str("run_id", runID).Logger()
	ctx = jobLog.WithContext(ctx)

	jobLog.Info().Dur("timeout", timeout).Msg("Job started")
	start := p.now()
	err := runJob(ctx, job)
	duration := p.now().Sub(start)

	if err == nil {
		p.recordSuccess(job, duration, jobLog)
		return
	}
	if p.ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		p.recordInterrupted(job, duration, jobLog)
		return
	}

	reason := err.Error()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "timed out after " + formatDuration(timeout)
	}
	p.recordFailure(job, reason, duration, jobLog)
}

// runJob calls Execute, converting a panic into an error.
func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Execute(ctx)
}

func (p *Processor) recordSuccess(job Job, duration time.Duration, jobLog zerolog.Logger) {
	// Bookkeeping must not be cut short by the job's deadline or by shutdown
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()

	p.mu.Lock()
	delete(p.failures, job.ID())
	p.mu.Unlock()

	if !IsParameterized(job) {
		if err := p.store.MarkJobCompleted(ctx, job.Type()); err != nil {
			jobLog.Warn().Err(err).Msg("Failed to mark job completed")
		}
	}

	p.logExecution(ctx, ExecutionRecord{
		JobID:    job.ID(),
		JobType:  job.Type(),
		Status:   StatusCompleted,
		Duration: duration,
	}, jobLog)

	p.observer.JobFinished(job.Type(), StatusCompleted, duration)
	jobLog.Info().Dur("duration", duration).Msg("Job completed")
}

func (p *Processor) recordFailure(job Job, reason string, duration time.Duration, jobLog zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()

	p.mu.Lock()
	retryCount := p.failures[job.ID()]
	p.failures[job.ID()] = retryCount + 1
	p.mu.Unlock()

	if !IsParameterized(job) {
		if err := p.store.MarkJobFailed(ctx, job.Type()); err != nil {
			jobLog.Warn().Err(err).Msg("Failed to mark job failed")
		}
	}

	p.logExecution(ctx, ExecutionRecord{
		JobID:      job.ID(),
		JobType:    job.Type(),
		Status:     StatusFailed,
		Error:      reason,
		Duration:   duration,
		RetryCount: retryCount,
	}, jobLog)

	p.observer.JobFinished(job.Type(), StatusFailed, duration)
	jobLog.Error().Str("error", reason).Dur("duration", duration).Int("retry_count", retryCount).Msg("Job failed")
}

// recordInterrupted leaves the run state untouched, so a job cut short by
// shutdown is due again after restart without any backoff.
func (p *Processor) recordInterrupted(job Job, duration time.Duration, jobLog zerolog.Logger) {
	p.observer.JobSkipped(job.Type(), "shutdown")
	jobLog.Warn().Dur("duration", duration).Msg("Job interrupted by shutdown")
}

func (p *Processor) logExecution(ctx context.Context, rec ExecutionRecord, jobLog zerolog.Logger) {
	if err := p.store.LogJobExecution(ctx, rec); err != nil {
		jobLog.Warn().Err(err).Msg("Failed to log job execution")
	}
}

func (p *Processor) effectiveTimeout(job Job) time.Duration {
	timeout := job.Timeout()
	if timeout <= 0 || timeout > p.hardTimeout {
		return p.hardTimeout
	}
	return timeout
}

// formatDuration renders whole minutes as "15 minutes" and anything else in
// seconds.
func formatDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		minutes := int(d / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	seconds := d.Seconds()
	if seconds == float64(int64(seconds)) {
		if seconds == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", int64(seconds))
	}
	return fmt.Sprintf("%.1f seconds", seconds)
}
