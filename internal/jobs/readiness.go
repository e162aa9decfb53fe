package jobs

import (
	"context"
	"fmt"
	"strings"
)

// ReadinessState classifies the outcome of a readiness check.
type ReadinessState int

const (
	Ready ReadinessState = iota
	NotReadyDependencies
	NotReadyMarketTiming
)

func (s ReadinessState) String() string {
	switch s {
	case Ready:
		return "ready"
	case NotReadyDependencies:
		return "dependencies"
	case NotReadyMarketTiming:
		return "market_timing"
	default:
		return "unknown"
	}
}

// Readiness is the result of checking whether a queued job may run now.
type Readiness struct {
	State  ReadinessState
	Reason string
}

// IsReady returns true if the job may execute.
func (r Readiness) IsReady() bool {
	return r.State == Ready
}

func notReady(state ReadinessState, format string, args ...any) Readiness {
	return Readiness{State: state, Reason: fmt.Sprintf(format, args...)}
}

// checkReadiness verifies dependencies first, then market timing.
func (p *Processor) checkReadiness(ctx context.Context, job Job) Readiness {
	marketOpen := p.market.IsAnyMarketOpen()

	for _, dep := range job.Dependencies() {
		if reason, ok := p.dependencySatisfied(ctx, dep, marketOpen); !ok {
			return notReady(NotReadyDependencies, "dependency %s: %s", dep, reason)
		}
	}

	if !CanExecute(p.market, job.MarketTiming(), job.Subject()) {
		return notReady(NotReadyMarketTiming, "market timing %s not satisfied", job.MarketTiming())
	}

	return Readiness{State: Ready}
}

// dependencySatisfied reports whether dep is fresh. Any error while verifying
// counts as not satisfied.
func (p *Processor) dependencySatisfied(ctx context.Context, dep string, marketOpen bool) (string, bool) {
	schedule, err := p.store.GetJobSchedule(ctx, dep)
	if err != nil {
		return fmt.Sprintf("schedule lookup failed: %v", err), false
	}
	if schedule != nil && schedule.IsParameterized {
		return p.allInstancesFresh(ctx, schedule, marketOpen)
	}

	if schedule == nil {
		parent, param, err := p.parameterizedParent(ctx, dep)
		if err != nil {
			return fmt.Sprintf("schedule lookup failed: %v", err), false
		}
		if parent != nil {
			return p.instanceFresh(ctx, JobID(parent.JobType, param), parent, marketOpen)
		}
	}

	if p.queue.Contains(dep) {
		return "queued", false
	}

	expired, err := p.store.IsJobExpired(ctx, dep, marketOpen)
	if err != nil {
		return fmt.Sprintf("expiry check failed: %v", err), false
	}
	if expired {
		// Make the dependency due on the next heartbeat
		if err := p.store.SetJobLastRun(ctx, dep, zeroTime); err != nil {
			p.log.Warn().Err(err).Str("dependency", dep).Msg("Failed to force dependency run")
		}
		return "stale", false
	}
	return "", true
}

// parameterizedParent resolves an ID such as "ml:retrain:AAPL" to the
// parameterized schedule it is an instance of. It returns nil when dep is not
// an instance ID.
func (p *Processor) parameterizedParent(ctx context.Context, dep string) (*JobSchedule, string, error) {
	for i := strings.LastIndex(dep, ":"); i > 0; i = strings.LastIndex(dep[:i], ":") {
		schedule, err := p.store.GetJobSchedule(ctx, dep[:i])
		if err != nil {
			return nil, "", err
		}
		if schedule != nil && schedule.IsParameterized {
			if param, ok := ParseJobID(dep, schedule.JobType); ok {
				return schedule, param, nil
			}
		}
	}
	return nil, "", nil
}

func (p *Processor) allInstancesFresh(ctx context.Context, schedule *JobSchedule, marketOpen bool) (string, bool) {
	entities, err := p.store.ListEntities(ctx, schedule.ParameterSource)
	if err != nil {
		return fmt.Sprintf("listing %s failed: %v", schedule.ParameterSource, err), false
	}

	for _, entity := range entities {
		value := entity.Field(schedule.ParameterField)
		if value == "" {
			continue
		}
		if reason, ok := p.instanceFresh(ctx, JobID(schedule.JobType, value), schedule, marketOpen); !ok {
			return reason, false
		}
	}
	return "", true
}

func (p *Processor) instanceFresh(ctx context.Context, jobID string, schedule *JobSchedule, marketOpen bool) (string, bool) {
	if p.queue.Contains(jobID) {
		return jobID + " queued", false
	}

	last, err := p.store.GetLastJobCompletionByID(ctx, jobID)
	if err != nil {
		return fmt.Sprintf("completion lookup for %s failed: %v", jobID, err), false
	}
	if last.IsZero() {
		return jobID + " never completed", false
	}
	if p.now().Sub(last) >= schedule.EffectiveInterval(marketOpen) {
		return jobID + " stale", false
	}
	return "", true
}
