package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type schedulerFixture struct {
	registry  *Registry
	queue     *Queue
	store     *fakeStore
	market    *MockMarketChecker
	scheduler *Scheduler
	observer  *recordingObserver
	now       time.Time
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := &schedulerFixture{
		registry: NewRegistry(),
		queue:    NewQueue(),
		store:    newFakeStore(),
		market:   &MockMarketChecker{},
		observer: newRecordingObserver(),
		now:      now,
	}
	f.store.now = func() time.Time { return f.now }
	f.store.retry = f.registry.GetRetryConfig
	f.scheduler = NewScheduler(f.registry, f.queue, f.store, f.market, time.Hour)
	f.scheduler.now = func() time.Time { return f.now }
	f.scheduler.SetObserver(f.observer)
	return f
}

func (f *schedulerFixture) register(jobType, field string) {
	f.registry.Register(jobType, funcFactory(jobType, field, nil), DefaultRetry)
}

func TestScheduler_EnqueuesExpiredSimpleJob(t *testing.T) {
	f := newSchedulerFixture(t)
	f.register("sync:prices", "")
	f.register("trading:execute", "")

	f.store.addSchedule(JobSchedule{JobType: "sync:prices", Enabled: true, IntervalMinutes: 30})
	f.store.addSchedule(JobSchedule{
		JobType:         "trading:execute",
		Enabled:         true,
		IntervalMinutes: 30,
		MarketTiming:    int(DuringMarketOpen),
		Dependencies:    `["sync:prices"]`,
		LastRun:         f.now.Add(-time.Hour),
	})

	f.scheduler.Check(context.Background())

	assert.Equal(t, []string{"sync:prices", "trading:execute"}, f.queue.ListIDs())
	assert.Equal(t, 1, f.market.refreshes)
	assert.Equal(t, []string{"sync:prices", "trading:execute"}, f.observer.enqueued)
	assert.Equal(t, 2, f.observer.depth)

	job := f.queue.AllJobs()[1]
	assert.Equal(t, DuringMarketOpen, job.MarketTiming())
	assert.Equal(t, []string{"sync:prices"}, job.Dependencies())
}

func TestScheduler_SkipsIneligibleSchedules(t *testing.T) {
	f := newSchedulerFixture(t)
	f.register("sync:prices", "")
	f.register("sync:quotes", "")
	f.register("sync:metadata", "")
	f.register("planning:refresh", "")

	f.store.addSchedule(JobSchedule{JobType: "sync:prices", Enabled: false, IntervalMinutes: 30})
	f.store.addSchedule(JobSchedule{JobType: "scoring:calculate", Enabled: true, IntervalMinutes: 30})
	f.store.addSchedule(JobSchedule{JobType: "sync:quotes", Enabled: true, IntervalMinutes: 30, Dependencies: "not json"})
	f.store.addSchedule(JobSchedule{JobType: "sync:metadata", Enabled: true, IntervalMinutes: 30, LastRun: f.now.Add(-10 * time.Minute)})
	f.store.addSchedule(JobSchedule{JobType: "planning:refresh", Enabled: true, IntervalMinutes: 60})

	f.scheduler.Check(context.Background())

	// disabled, unregistered, malformed and fresh schedules are skipped
	assert.Equal(t, []string{"planning:refresh"}, f.queue.ListIDs())
}

func TestScheduler_DoesNotDuplicateQueuedJobs(t *testing.T) {
	f := newSchedulerFixture(t)
	f.register("sync:prices", "")
	f.store.addSchedule(JobSchedule{JobType: "sync:prices", Enabled: true, IntervalMinutes: 30})

	f.scheduler.Check(context.Background())
	f.scheduler.Check(context.Background())
	f.scheduler.Check(context.Background())

	assert.Equal(t, 1, f.queue.Len())
	assert.Len(t, f.observer.enqueued, 1)
}

func TestScheduler_MarketOpenInterval(t *testing.T) {
	f := newSchedulerFixture(t)
	f.register("sync:portfolio", "")
	f.store.addSchedule(JobSchedule{
		JobType:                   "sync:portfolio",
		Enabled:                   true,
		IntervalMinutes:           30,
		IntervalMarketOpenMinutes: intPtr(5),
		LastRun:                   f.now.Add(-10 * time.Minute),
	})

	f.market.isOpen = false
	f.scheduler.Check(context.Background())
	assert.Equal(t, 0, f.queue.Len())

	f.market.isOpen = true
	f.scheduler.Check(context.Background())
	assert.Equal(t, 1, f.queue.Len())
}

func TestScheduler_ContinuesWhenMarketRefreshFails(t *testing.T) {
	f := newSchedulerFixture(t)
	f.register("sync:prices", "")
	f.store.addSchedule(JobSchedule{JobType: "sync:prices", Enabled: true, IntervalMinutes: 30})
	f.market.refreshErr = errors.New("gateway down")

	f.scheduler.Check(context.Background())

	assert.Equal(t, 1, f.queue.Len())
}

func TestScheduler_ScheduleLoadFailure(t *testing.T) {
	registry := NewRegistry()
	registry.Register("sync:prices", funcFactory("sync:prices", "", nil), DefaultRetry)
	queue := NewQueue()

	store := new(MockStore)
	store.On("GetJobSchedules", mock.Anything).Return(nil, errors.New("database is locked"))

	s := NewScheduler(registry, queue, store, &MockMarketChecker{}, 0)
	s.Check(context.Background())

	assert.Equal(t, 0, queue.Len())
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "IsJobExpired", mock.Anything, mock.Anything, mock.Anything)
}

func TestScheduler_ExpiryErrorSkipsOnlyThatSchedule(t *testing.T) {
	registry := NewRegistry()
	registry.Register("sync:prices", funcFactory("sync:prices", "", nil), DefaultRetry)
	registry.Register("sync:quotes", funcFactory("sync:quotes", "", nil), DefaultRetry)
	queue := NewQueue()

	store := new(MockStore)
	store.On("GetJobSchedules", mock.Anything).Return([]JobSchedule{
		{JobType: "sync:prices", Enabled: true, IntervalMinutes: 30},
		{JobType: "sync:quotes", Enabled: true, IntervalMinutes: 30},
	}, nil)
	store.On("IsJobExpired", mock.Anything, "sync:prices", false).Return(false, errors.New("boom"))
	store.On("IsJobExpired", mock.Anything, "sync:quotes", false).Return(true, nil)

	s := NewScheduler(registry, queue, store, &MockMarketChecker{}, 0)
	s.Check(context.Background())

	assert.Equal(t, []string{"sync:quotes"}, queue.ListIDs())
	store.AssertExpectations(t)
}

func TestScheduler_ParameterizedExpansion(t *testing.T) {
	f := newSchedulerFixture(t)
	f.register("ml:retrain", "symbol")
	f.store.addSchedule(JobSchedule{
		JobType:         "ml:retrain",
		Enabled:         true,
		IntervalMinutes: 10080,
		MarketTiming:    int(AllMarketsClosed),
		IsParameterized: true,
		ParameterSource: "ml_enabled_securities",
		ParameterField:  "symbol",
	})
	f.store.setEntities("ml_enabled_securities", "AAPL", "MSFT", "", "NVDA")
	f.store.recordCompletion("ml:retrain:MSFT", "ml:retrain", f.now.Add(-time.Hour))
	f.store.recordCompletion("ml:retrain:NVDA", "ml:retrain", f.now.Add(-8*24*time.Hour))

	f.scheduler.Check(context.Background())

	// MSFT completed within the week; empty symbols are skipped
	assert.Equal(t, []string{"ml:retrain:AAPL", "ml:retrain:NVDA"}, f.queue.ListIDs())

	job := f.queue.Peek()
	assert.Equal(t, "AAPL", job.Subject())
	assert.Equal(t, AllMarketsClosed, job.MarketTiming())
	assert.True(t, IsParameterized(job))

	// Second heartbeat enqueues nothing new
	f.scheduler.Check(context.Background())
	assert.Equal(t, 2, f.queue.Len())
}

func TestScheduler_ParameterizedFailureBackoff(t *testing.T) {
	f := newSchedulerFixture(t)
	f.register("ml:monitor", "symbol")
	f.store.addSchedule(JobSchedule{
		JobType:         "ml:monitor",
		Enabled:         true,
		IntervalMinutes: 10080,
		IsParameterized: true,
		ParameterSource: "ml_enabled_securities",
		ParameterField:  "symbol",
	})
	f.store.setEntities("ml_enabled_securities", "AAPL")

	// Two consecutive failures: next attempt after one minute
	f.store.LogJobExecution(context.Background(), ExecutionRecord{JobID: "ml:monitor:AAPL", JobType: "ml:monitor", Status: StatusFailed})
	f.store.LogJobExecution(context.Background(), ExecutionRecord{JobID: "ml:monitor:AAPL", JobType: "ml:monitor", Status: StatusFailed})

	f.now = f.now.Add(30 * time.Second)
	f.scheduler.Check(context.Background())
	assert.Equal(t, 0, f.queue.Len())

	f.now = f.now.Add(31 * time.Second)
	f.scheduler.Check(context.Background())
	assert.Equal(t, []string{"ml:monitor:AAPL"}, f.queue.ListIDs())
}

func TestScheduler_UnknownParameterSource(t *testing.T) {
	f := newSchedulerFixture(t)
	f.register("ml:retrain", "symbol")
	f.register("sync:prices", "")
	f.store.addSchedule(JobSchedule{
		JobType:         "ml:retrain",
		Enabled:         true,
		IntervalMinutes: 10080,
		IsParameterized: true,
		ParameterSource: "no_such_source",
		ParameterField:  "symbol",
	})
	f.store.addSchedule(JobSchedule{JobType: "sync:prices", Enabled: true, IntervalMinutes: 30})

	f.scheduler.Check(context.Background())

	assert.Equal(t, []string{"sync:prices"}, f.queue.ListIDs())
}

func TestScheduler_StartStop(t *testing.T) {
	f := newSchedulerFixture(t)
	f.register("sync:prices", "")
	f.store.addSchedule(JobSchedule{JobType: "sync:prices", Enabled: true, IntervalMinutes: 30})

	f.scheduler.Start()
	f.scheduler.Start() // ignored

	// The first check runs immediately on start
	require.Eventually(t, func() bool { return f.queue.Len() == 1 }, time.Second, 10*time.Millisecond)

	f.scheduler.Stop()
	f.scheduler.Stop() // idempotent
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := NewScheduler(NewRegistry(), NewQueue(), newFakeStore(), &MockMarketChecker{}, 0)
	assert.NotPanics(t, s.Stop)
}
