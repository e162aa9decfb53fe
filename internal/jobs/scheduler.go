package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultHeartbeat is the interval between schedule evaluations.
const DefaultHeartbeat = 2 * time.Second

// Scheduler enqueues jobs whose schedules have expired.
type Scheduler struct {
	registry  *Registry
	queue     *Queue
	store     Store
	market    MarketChecker
	observer  Observer
	heartbeat time.Duration
	now       func() time.Time

	stop    chan struct{}
	cancel  context.CancelFunc
	log     zerolog.Logger
	stopped bool
	started bool
	mu      sync.Mutex
	wg      sync.WaitGroup // Track goroutine lifecycle
}

// NewScheduler creates a scheduler that evaluates schedules every heartbeat.
// A non-positive heartbeat uses DefaultHeartbeat.
func NewScheduler(registry *Registry, queue *Queue, store Store, market MarketChecker, heartbeat time.Duration) *Scheduler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Scheduler{
		registry:  registry,
		queue:     queue,
		store:     store,
		market:    market,
		observer:  noopObserver{},
		heartbeat: heartbeat,
		now:       time.Now,
		stop:      make(chan struct{}),
		log:       zerolog.Nop(),
	}
}

// SetLogger sets the logger for the scheduler
func (s *Scheduler) SetLogger(log zerolog.Logger) {
	s.log = log.With().Str("component", "job_scheduler").Logger()
}

// SetObserver sets the lifecycle observer. nil restores the no-op observer.
func (s *Scheduler) SetObserver(o Observer) {
	if o == nil {
		o = noopObserver{}
	}
	s.observer = o
}

// Start runs one check immediately and then one per heartbeat until Stop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Prevent multiple starts
	if s.started && !s.stopped {
		s.log.Warn().Msg("Job scheduler already started, ignoring")
		return
	}

	if s.stopped {
		s.stop = make(chan struct{})
		s.stopped = false
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	stop := s.stop

	s.log.Info().Dur("heartbeat", s.heartbeat).Msg("Job scheduler started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.Check(ctx)

		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()
}

// Stop stops the heartbeat and waits for an in-progress check to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stop)
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("Job scheduler stopped")
}

// Check evaluates every schedule once and enqueues the jobs that are due.
// Errors are logged; a failing schedule never prevents the others from
// being evaluated.
func (s *Scheduler) Check(ctx context.Context) {
	if err := s.market.EnsureFresh(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Market status refresh failed, using cached state")
	}
	marketOpen := s.market.IsAnyMarketOpen()

	schedules, err := s.store.GetJobSchedules(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load job schedules")
		return
	}

	for i := range schedules {
		if ctx.Err() != nil {
			return
		}
		schedule := &schedules[i]
		if !schedule.Enabled {
			continue
		}
		if !s.registry.IsRegistered(schedule.JobType) {
			s.log.Debug().Str("job_type", schedule.JobType).Msg("No factory registered, skipping schedule")
			continue
		}

		deps, err := schedule.ParseDependencies()
		if err != nil {
			s.log.Error().Err(err).Str("job_type", schedule.JobType).Msg("Invalid dependency list, skipping schedule")
			continue
		}

		if schedule.IsParameterized {
			s.checkParameterized(ctx, schedule, deps, marketOpen)
		} else {
			s.checkSimple(ctx, schedule, deps, marketOpen)
		}
	}

	s.observer.QueueDepth(s.queue.Len())
}

func (s *Scheduler) checkSimple(ctx context.Context, schedule *JobSchedule, deps []string, marketOpen bool) {
	jobType := schedule.JobType
	if s.queue.Contains(jobType) {
		return
	}

	expired, err := s.store.IsJobExpired(ctx, jobType, marketOpen)
	if err != nil {
		s.log.Error().Err(err).Str("job_type", jobType).Msg("Failed to check job expiry")
		return
	}
	if !expired {
		return
	}

	s.enqueue(schedule, deps, nil)
}

func (s *Scheduler) checkParameterized(ctx context.Context, schedule *JobSchedule, deps []string, marketOpen bool) {
	jobType := schedule.JobType

	entities, err := s.store.ListEntities(ctx, schedule.ParameterSource)
	if err != nil {
		if errors.Is(err, ErrUnknownParameterSource) {
			s.log.Error().Str("job_type", jobType).Str("source", schedule.ParameterSource).Msg("Unknown parameter source, skipping schedule")
		} else {
			s.log.Error().Err(err).Str("job_type", jobType).Msg("Failed to list parameter entities")
		}
		return
	}

	interval := schedule.EffectiveInterval(marketOpen)
	retry := s.registry.GetRetryConfig(jobType)
	now := s.now()

	for _, entity := range entities {
		value := entity.Field(schedule.ParameterField)
		if value == "" {
			continue
		}

		jobID := JobID(jobType, value)
		if s.queue.Contains(jobID) {
			continue
		}

		due, err := s.instanceDue(ctx, jobID, interval, retry, now)
		if err != nil {
			s.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to check job instance expiry")
			continue
		}
		if !due {
			continue
		}

		s.enqueue(schedule, deps, Params{schedule.ParameterField: value})
	}
}

// instanceDue applies the interval and, after failures, the retry backoff to
// a single parameterized instance.
func (s *Scheduler) instanceDue(ctx context.Context, jobID string, interval time.Duration, retry RetryConfig, now time.Time) (bool, error) {
	lastCompleted, err := s.store.GetLastJobCompletionByID(ctx, jobID)
	if err != nil {
		return false, err
	}

	streak, err := s.store.GetJobFailureStreakByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	if streak.Failures > 0 && !streak.LastFailure.IsZero() {
		return now.Sub(streak.LastFailure) >= retry.RetryDelay(streak.Failures, interval), nil
	}

	if lastCompleted.IsZero() {
		return true, nil
	}
	return now.Sub(lastCompleted) >= interval, nil
}

func (s *Scheduler) enqueue(schedule *JobSchedule, deps []string, params Params) {
	job, err := s.registry.Create(schedule.JobType, params)
	if err != nil {
		s.log.Error().Err(err).Str("job_type", schedule.JobType).Msg("Failed to create job")
		return
	}

	if c, ok := job.(Configurable); ok {
		c.SetMarketTiming(schedule.Timing())
		c.SetDependencies(deps)
	}

	if s.queue.Enqueue(job) {
		s.observer.JobEnqueued(job.Type())
		s.log.Debug().Str("job_id", job.ID()).Msg("Job enqueued")
	}
}
