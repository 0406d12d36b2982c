package state

import (
	"context"
	"sync"

	"github.com/cloudstep/orchestrate/internal/plan"
)

// Memory is a process-local store for dry runs and tests.
type Memory struct {
	mu      sync.RWMutex
	targets map[string][]plan.StepResult
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{targets: make(map[string][]plan.StepResult)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, target, step, key string) (plan.StepResult, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := m.targets[target]
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Step == step && results[i].Key == key {
			return results[i], true, nil
		}
	}
	return plan.StepResult{}, false, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, target, step, key string, result plan.StepResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	result.Step = step
	result.Key = key
	m.targets[target] = append(m.targets[target], result)
	return nil
}

// List implements Store.
func (m *Memory) List(_ context.Context, target string) ([]plan.StepResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return latestPerStep(m.targets[target]), nil
}

// Purge implements Store.
func (m *Memory) Purge(_ context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.targets, target)
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
