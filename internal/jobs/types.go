package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout is the execution timeout of a job that does not declare one.
const DefaultTimeout = 5 * time.Minute

// DefaultIntervalMinutes is used when a schedule row carries no usable interval.
const DefaultIntervalMinutes = 60

var (
	// ErrUnknownJobType is returned when a job type has no registered factory.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrUnknownParameterSource is returned when a schedule names an entity
	// source the store does not know.
	ErrUnknownParameterSource = errors.New("unknown parameter source")
)

// MarketTiming defines when a job can be executed based on market state.
// The numeric values are the codes stored in job_schedules.market_timing.
type MarketTiming int

const (
	// AnyTime means the job can run regardless of market state.
	AnyTime MarketTiming = iota
	// AfterMarketClose means the job runs only when the relevant market is closed.
	AfterMarketClose
	// DuringMarketOpen means the job runs only when the relevant market is open.
	DuringMarketOpen
	// AllMarketsClosed means the job runs only when all markets are closed.
	AllMarketsClosed
)

// String returns a human-readable name for the market timing.
func (mt MarketTiming) String() string {
	switch mt {
	case AnyTime:
		return "AnyTime"
	case AfterMarketClose:
		return "AfterMarketClose"
	case DuringMarketOpen:
		return "DuringMarketOpen"
	case AllMarketsClosed:
		return "AllMarketsClosed"
	default:
		return "Unknown"
	}
}

// Job is a schedulable unit of work.
//
// Execute must be safe to abandon mid-way: the processor cancels ctx when the
// job exceeds its timeout or the process shuts down, and the job is expected
// to return promptly. Execute must not assume it owns any global lock; it runs
// outside every lock held by this package.
type Job interface {
	// ID is unique among queued jobs. It equals Type() for simple jobs and is
	// "type:param" for parameterized instances.
	ID() string
	Type() string
	// Dependencies lists job types (or parameterized job IDs) that must be
	// fresh before this job may run.
	Dependencies() []string
	Timeout() time.Duration
	MarketTiming() MarketTiming
	// Subject is the security symbol for per-security jobs, empty otherwise.
	Subject() string
	Execute(ctx context.Context) error
}

// Configurable is implemented by jobs that accept schedule overrides.
type Configurable interface {
	SetMarketTiming(MarketTiming)
	SetDependencies([]string)
	SetTimeout(time.Duration)
}

// BaseJob carries the identity and constraints of a job. Concrete jobs embed
// it and add Execute.
type BaseJob struct {
	id           string
	jobType      string
	subject      string
	dependencies []string
	timeout      time.Duration
	marketTiming MarketTiming
}

// NewBaseJob creates the base for a job of the given type. A non-empty
// subject makes it a parameterized instance with ID "type:subject".
func NewBaseJob(jobType, subject string) BaseJob {
	return BaseJob{
		id:           JobID(jobType, subject),
		jobType:      jobType,
		subject:      subject,
		timeout:      DefaultTimeout,
		marketTiming: AnyTime,
	}
}

func (b *BaseJob) ID() string                 { return b.id }
func (b *BaseJob) Type() string               { return b.jobType }
func (b *BaseJob) Subject() string            { return b.subject }
func (b *BaseJob) Timeout() time.Duration     { return b.timeout }
func (b *BaseJob) MarketTiming() MarketTiming { return b.marketTiming }

// Dependencies returns a copy of the dependency list.
func (b *BaseJob) Dependencies() []string {
	if len(b.dependencies) == 0 {
		return nil
	}
	deps := make([]string, len(b.dependencies))
	copy(deps, b.dependencies)
	return deps
}

// SetMarketTiming overrides the market timing constraint.
func (b *BaseJob) SetMarketTiming(mt MarketTiming) { b.marketTiming = mt }

// SetDependencies replaces the dependency list.
func (b *BaseJob) SetDependencies(deps []string) {
	b.dependencies = append([]string(nil), deps...)
}

// SetTimeout overrides the execution timeout. Non-positive values restore the default.
func (b *BaseJob) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	b.timeout = d
}

// FuncJob adapts a plain function into a Job.
type FuncJob struct {
	BaseJob
	fn func(ctx context.Context, subject string) error
}

// NewFuncJob creates a job that runs fn with the job's subject.
func NewFuncJob(base BaseJob, fn func(ctx context.Context, subject string) error) *FuncJob {
	return &FuncJob{BaseJob: base, fn: fn}
}

// Execute runs the wrapped function.
func (j *FuncJob) Execute(ctx context.Context) error {
	if j.fn == nil {
		return nil
	}
	return j.fn(ctx, j.subject)
}

// JobID builds the queue ID for a job type and optional parameter value.
func JobID(jobType, param string) string {
	if param == "" {
		return jobType
	}
	return jobType + ":" + param
}

// ParseJobID splits a parameterized ID back into its parameter value, given
// the job type. ok is false when id does not belong to jobType or carries no
// parameter.
func ParseJobID(id, jobType string) (param string, ok bool) {
	prefix := jobType + ":"
	if !strings.HasPrefix(id, prefix) || len(id) == len(prefix) {
		return "", false
	}
	return id[len(prefix):], true
}

// IsParameterized reports whether the job is an entity instance rather than
// the single instance of its type.
func IsParameterized(job Job) bool {
	return job.ID() != job.Type()
}

// Params are the construction parameters handed to a factory.
type Params map[string]string

// Get returns the value for key, or "".
func (p Params) Get(key string) string {
	if p == nil {
		return ""
	}
	return p[key]
}

// JobSchedule is a row of the persisted schedule table.
type JobSchedule struct {
	JobType                   string
	Enabled                   bool
	IntervalMinutes           int
	IntervalMarketOpenMinutes *int
	MarketTiming              int
	Dependencies              string // JSON array of job types
	Description               string
	Category                  string
	IsParameterized           bool
	ParameterSource           string
	ParameterField            string
	LastRun                   time.Time // zero = never run (or forced)
	ConsecutiveFailures       int
}

// EffectiveInterval returns the interval that applies given the market state.
// The market-open interval wins only when markets are open and it is set.
func (s *JobSchedule) EffectiveInterval(marketOpen bool) time.Duration {
	minutes := s.IntervalMinutes
	if marketOpen && s.IntervalMarketOpenMinutes != nil && *s.IntervalMarketOpenMinutes > 0 {
		minutes = *s.IntervalMarketOpenMinutes
	}
	if minutes <= 0 {
		minutes = DefaultIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// ParseDependencies decodes the dependency list.
func (s *JobSchedule) ParseDependencies() ([]string, error) {
	raw := strings.TrimSpace(s.Dependencies)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var deps []string
	if err := json.Unmarshal([]byte(raw), &deps); err != nil {
		return nil, fmt.Errorf("malformed dependencies for %s: %w", s.JobType, err)
	}
	return deps, nil
}

// Timing returns the schedule's market timing as a MarketTiming.
func (s *JobSchedule) Timing() MarketTiming {
	return MarketTiming(s.MarketTiming)
}

// Entity is one record returned by a parameter source, e.g. a security row.
type Entity map[string]any

// Field returns the string form of key, or "" when absent or nil.
func (e Entity) Field(key string) string {
	v, ok := e[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}
