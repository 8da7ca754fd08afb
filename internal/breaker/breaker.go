// Package breaker stops patching a job after too many consecutive failures.
package breaker

import (
	"context"
	"sync"
)

// DefaultThreshold is the number of consecutive failures that trips a job.
const DefaultThreshold = 5

// Status is a job's breaker state.
type Status struct {
	JobID     string `json:"job_id"`
	Failures  int    `json:"failures"`
	Threshold int    `json:"threshold"`
	Tripped   bool   `json:"tripped"`
}

// Remaining is how many more failures the job can take before tripping.
func (s Status) Remaining() int {
	if r := s.Threshold - s.Failures; r > 0 {
		return r
	}
	return 0
}

// Breaker tracks consecutive patch failures per job. Once tripped, a job
// stays tripped until Reset, even after later successes.
type Breaker interface {
	Tripped(ctx context.Context, jobID string) (bool, error)
	// RecordFailure counts one failure and reports whether this call tripped the job.
	RecordFailure(ctx context.Context, jobID string) (tripped bool, err error)
	// RecordSuccess clears the consecutive failure count.
	RecordSuccess(ctx context.Context, jobID string) error
	Reset(ctx context.Context, jobID string) error
	Status(ctx context.Context, jobID string) (Status, error)
}

// Memory is an in-process Breaker.
type Memory struct {
	threshold int

	mu       sync.Mutex
	failures map[string]int
	tripped  map[string]bool
}

// NewMemory creates a Memory breaker. A threshold below 1 uses DefaultThreshold.
func NewMemory(threshold int) *Memory {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Memory{threshold: threshold, failures: map[string]int{}, tripped: map[string]bool{}}
}

var _ Breaker = (*Memory)(nil)

func (m *Memory) Tripped(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripped[jobID], nil
}

func (m *Memory) RecordFailure(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[jobID]++
	if m.failures[jobID] >= m.threshold && !m.tripped[jobID] {
		m.tripped[jobID] = true
		return true, nil
	}
	return false, nil
}

func (m *Memory) RecordSuccess(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, jobID)
	return nil
}

func (m *Memory) Reset(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, jobID)
	delete(m.tripped, jobID)
	return nil
}

func (m *Memory) Status(_ context.Context, jobID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{JobID: jobID, Failures: m.failures[jobID], Threshold: m.threshold, Tripped: m.tripped[jobID]}, nil
}
