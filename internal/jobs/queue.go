package jobs

import "sync"

// Queue is an in-memory FIFO of jobs awaiting execution, deduplicated by ID.
// A job taken for execution stays in flight until Done, and its ID cannot be
// queued again meanwhile. The queue is never persisted: after a restart the
// scheduler's first heartbeat rebuilds it.
type Queue struct {
	jobs     []Job
	index    map[string]struct{}
	inFlight map[string]struct{}
	ready    chan struct{}
	mu       sync.RWMutex
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		jobs:     make([]Job, 0),
		index:    make(map[string]struct{}),
		inFlight: make(map[string]struct{}),
		ready:    make(chan struct{}, 1),
	}
}

// Enqueue appends job unless a job with the same ID is queued or in flight.
// It returns false for duplicates.
func (q *Queue) Enqueue(job Job) bool {
	q.mu.Lock()
	id := job.ID()
	if _, exists := q.index[id]; exists {
		q.mu.Unlock()
		return false
	}
	if _, running := q.inFlight[id]; running {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, job)
	q.index[id] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
		// Notification already pending
	}
	return true
}

// Ready returns a channel that receives after an enqueue. It is a wake-up
// hint only; consumers must still check Peek.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Peek returns the head of the queue without removing it, or nil.
func (q *Queue) Peek() Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.jobs) == 0 {
		return nil
	}
	return q.jobs[0]
}

// Remove removes and returns the job with the given ID, or nil.
func (q *Queue) Remove(id string) Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.removeLocked(id)
}

// Take removes the job with the given ID and marks it in flight until Done
// is called. It returns nil when the job is not queued.
func (q *Queue) Take(id string) Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.removeLocked(id)
	if job != nil {
		q.inFlight[id] = struct{}{}
	}
	return job
}

// Done releases an ID taken with Take.
func (q *Queue) Done(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inFlight, id)
}

func (q *Queue) removeLocked(id string) Job {
	if _, exists := q.index[id]; !exists {
		return nil
	}
	for i, job := range q.jobs {
		if job.ID() == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			delete(q.index, id)
			return job
		}
	}
	// Index and slice disagree; repair the index.
	delete(q.index, id)
	return nil
}

// Contains reports whether a job with the given ID is queued or in flight.
func (q *Queue) Contains(id string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if _, exists := q.index[id]; exists {
		return true
	}
	_, running := q.inFlight[id]
	return running
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return len(q.jobs)
}

// ListIDs returns the queued IDs in insertion order.
func (q *Queue) ListIDs() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := make([]string, len(q.jobs))
	for i, job := range q.jobs {
		ids[i] = job.ID()
	}
	return ids
}

// AllJobs returns a snapshot of the queued jobs in insertion order.
func (q *Queue) AllJobs() []Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]Job, len(q.jobs))
	copy(result, q.jobs)
	return result
}
