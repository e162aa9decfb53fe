package jobs

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a job instance from parameters. Simple job types receive
// empty params; parameterized types receive {parameter_field: value}.
type Factory func(params Params) (Job, error)

type registration struct {
	factory Factory
	retry   RetryConfig
}

// Registry maps job type names to their factory and retry policy.
type Registry struct {
	types map[string]registration
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]registration),
	}
}

// Register adds a job type. Registering the same type again replaces it;
// callers are expected to register each type once at startup.
func (r *Registry) Register(jobType string, factory Factory, retry RetryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.types[jobType] = registration{factory: factory, retry: retry}
}

// Create builds a job of the given type.
func (r *Registry) Create(jobType string, params Params) (Job, error) {
	r.mu.RLock()
	reg, exists := r.types[jobType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}

	job, err := reg.factory(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", jobType, err)
	}
	if job == nil {
		return nil, fmt.Errorf("factory for %s returned no job", jobType)
	}
	return job, nil
}

// GetRetryConfig returns the retry policy of a job type, or DefaultRetry.
func (r *Registry) GetRetryConfig(jobType string) RetryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if reg, exists := r.types[jobType]; exists {
		return reg.retry
	}
	return DefaultRetry
}

// IsRegistered returns true if the job type has a factory.
func (r *Registry) IsRegistered(jobType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.types[jobType]
	return exists
}

// ListTypes returns all registered job types, sorted.
func (r *Registry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.types))
	for jobType := range r.types {
		types = append(types, jobType)
	}
	sort.Strings(types)
	return types
}

// Count returns the number of registered job types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.types)
}
