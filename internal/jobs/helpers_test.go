package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockMarketChecker is a mock implementation for testing
type MockMarketChecker struct {
	isOpen           bool
	isSecurityOpen   map[string]bool
	allMarketsClosed bool
	refreshErr       error
	refreshes        int
}

func (m *MockMarketChecker) EnsureFresh(ctx context.Context) error {
	m.refreshes++
	return m.refreshErr
}

func (m *MockMarketChecker) IsAnyMarketOpen() bool {
	return m.isOpen
}

func (m *MockMarketChecker) IsSecurityMarketOpen(symbol string) bool {
	if m.isSecurityOpen == nil {
		return m.isOpen
	}
	open, exists := m.isSecurityOpen[symbol]
	if !exists {
		return m.isOpen
	}
	return open
}

func (m *MockMarketChecker) AreAllMarketsClosed() bool {
	return m.allMarketsClosed
}

// fakeStore is an in-memory Store with the same expiry semantics as the
// SQLite store.
type fakeStore struct {
	mu        sync.Mutex
	now       func() time.Time
	schedules map[string]*JobSchedule
	order     []string
	entities  map[string][]Entity
	history   []historyRow
	retry     func(jobType string) RetryConfig
	err       error // returned by every method when set
}

type historyRow struct {
	ExecutionRecord
	At time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		now:       time.Now,
		schedules: make(map[string]*JobSchedule),
		entities:  make(map[string][]Entity),
		retry:     func(string) RetryConfig { return DefaultRetry },
	}
}

func (f *fakeStore) addSchedule(s JobSchedule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.schedules[s.JobType]; !exists {
		f.order = append(f.order, s.JobType)
	}
	cp := s
	f.schedules[s.JobType] = &cp
}

func (f *fakeStore) setEntities(source string, symbols ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]Entity, 0, len(symbols))
	for _, s := range symbols {
		rows = append(rows, Entity{"symbol": s})
	}
	f.entities[source] = rows
}

func (f *fakeStore) schedule(jobType string) JobSchedule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.schedules[jobType]
}

func (f *fakeStore) records() []historyRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]historyRow, len(f.history))
	copy(out, f.history)
	return out
}

func (f *fakeStore) recordCompletion(jobID, jobType string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, historyRow{
		ExecutionRecord: ExecutionRecord{JobID: jobID, JobType: jobType, Status: StatusCompleted},
		At:              at,
	})
}

func (f *fakeStore) GetJobSchedules(ctx context.Context) ([]JobSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]JobSchedule, 0, len(f.order))
	for _, jobType := range f.order {
		out = append(out, *f.schedules[jobType])
	}
	return out, nil
}

func (f *fakeStore) GetJobSchedule(ctx context.Context, jobType string) (*JobSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s, exists := f.schedules[jobType]
	if !exists {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) IsJobExpired(ctx context.Context, jobType string, marketOpen bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	s, exists := f.schedules[jobType]
	if !exists {
		return false, nil
	}
	if s.LastRun.IsZero() {
		return true, nil
	}
	delay := f.retry(jobType).RetryDelay(s.ConsecutiveFailures, s.EffectiveInterval(marketOpen))
	return f.now().Sub(s.LastRun) >= delay, nil
}

func (f *fakeStore) SetJobLastRun(ctx context.Context, jobType string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if s, exists := f.schedules[jobType]; exists {
		s.LastRun = at
	}
	return nil
}

func (f *fakeStore) MarkJobCompleted(ctx context.Context, jobType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if s, exists := f.schedules[jobType]; exists {
		s.LastRun = f.now()
		s.ConsecutiveFailures = 0
	}
	return nil
}

func (f *fakeStore) MarkJobFailed(ctx context.Context, jobType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if s, exists := f.schedules[jobType]; exists {
		s.LastRun = f.now()
		s.ConsecutiveFailures++
	}
	return nil
}

func (f *fakeStore) GetLastJobCompletionByID(ctx context.Context, jobID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return time.Time{}, f.err
	}
	var last time.Time
	for _, row := range f.history {
		if row.JobID == jobID && row.Status == StatusCompleted && row.At.After(last) {
			last = row.At
		}
	}
	return last, nil
}

func (f *fakeStore) GetJobFailureStreakByID(ctx context.Context, jobID string) (FailureStreak, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return FailureStreak{}, f.err
	}
	var streak FailureStreak
	for i := len(f.history) - 1; i >= 0; i-- {
		row := f.history[i]
		if row.JobID != jobID {
			continue
		}
		if row.Status == StatusCompleted {
			break
		}
		if streak.Failures == 0 {
			streak.LastFailure = row.At
		}
		streak.Failures++
	}
	return streak, nil
}

func (f *fakeStore) LogJobExecution(ctx context.Context, rec ExecutionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.history = append(f.history, historyRow{ExecutionRecord: rec, At: f.now()})
	return nil
}

func (f *fakeStore) ListEntities(ctx context.Context, source string) ([]Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rows, exists := f.entities[source]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParameterSource, source)
	}
	return rows, nil
}

// MockStore mocks the store for interaction tests
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetJobSchedules(ctx context.Context) ([]JobSchedule, error) {
	args := m.Called(ctx)
	schedules, _ := args.Get(0).([]JobSchedule)
	return schedules, args.Error(1)
}

func (m *MockStore) GetJobSchedule(ctx context.Context, jobType string) (*JobSchedule, error) {
	args := m.Called(ctx, jobType)
	schedule, _ := args.Get(0).(*JobSchedule)
	return schedule, args.Error(1)
}

func (m *MockStore) IsJobExpired(ctx context.Context, jobType string, marketOpen bool) (bool, error) {
	args := m.Called(ctx, jobType, marketOpen)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) SetJobLastRun(ctx context.Context, jobType string, at time.Time) error {
	args := m.Called(ctx, jobType, at)
	return args.Error(0)
}

func (m *MockStore) MarkJobCompleted(ctx context.Context, jobType string) error {
	args := m.Called(ctx, jobType)
	return args.Error(0)
}

func (m *MockStore) MarkJobFailed(ctx context.Context, jobType string) error {
	args := m.Called(ctx, jobType)
	return args.Error(0)
}

func (m *MockStore) GetLastJobCompletionByID(ctx context.Context, jobID string) (time.Time, error) {
	args := m.Called(ctx, jobID)
	at, _ := args.Get(0).(time.Time)
	return at, args.Error(1)
}

func (m *MockStore) GetJobFailureStreakByID(ctx context.Context, jobID string) (FailureStreak, error) {
	args := m.Called(ctx, jobID)
	streak, _ := args.Get(0).(FailureStreak)
	return streak, args.Error(1)
}

func (m *MockStore) LogJobExecution(ctx context.Context, rec ExecutionRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStore) ListEntities(ctx context.Context, source string) ([]Entity, error) {
	args := m.Called(ctx, source)
	entities, _ := args.Get(0).([]Entity)
	return entities, args.Error(1)
}

// recordingObserver captures observer calls
type recordingObserver struct {
	mu       sync.Mutex
	enqueued []string
	skipped  []string
	finished map[ExecutionStatus]int
	depth    int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{finished: make(map[ExecutionStatus]int)}
}

func (o *recordingObserver) JobEnqueued(jobType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enqueued = append(o.enqueued, jobType)
}

func (o *recordingObserver) JobSkipped(jobType, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped = append(o.skipped, jobType+"/"+reason)
}

func (o *recordingObserver) JobFinished(jobType string, status ExecutionStatus, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished[status]++
}

func (o *recordingObserver) QueueDepth(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.depth = n
}

// funcFactory returns a factory building FuncJobs of jobType, taking the
// subject from the given parameter field.
func funcFactory(jobType, field string, fn func(ctx context.Context, subject string) error) Factory {
	return func(params Params) (Job, error) {
		return NewFuncJob(NewBaseJob(jobType, params.Get(field)), fn), nil
	}
}

func intPtr(v int) *int { return &v }
