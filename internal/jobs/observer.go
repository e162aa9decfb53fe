package jobs

import "time"

// Observer receives lifecycle events from the scheduler and processor.
// Calls are made synchronously from the emitting goroutine and must not block.
type Observer interface {
	JobEnqueued(jobType string)
	JobSkipped(jobType, reason string)
	JobFinished(jobType string, status ExecutionStatus, duration time.Duration)
	QueueDepth(n int)
}

type noopObserver struct{}

func (noopObserver) JobEnqueued(string)                                  {}
func (noopObserver) JobSkipped(string, string)                           {}
func (noopObserver) JobFinished(string, ExecutionStatus, time.Duration) {}
func (noopObserver) QueueDepth(int)                                      {}
