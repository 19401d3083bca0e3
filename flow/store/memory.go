package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store.
//
// Designed for testing, development, and single-process deployments where
// persistence across restarts isn't required. Thread-safe; contents are
// lost when the process terminates.
type MemStore struct {
	mu        sync.RWMutex
	workflows map[string][]byte
	runs      map[string]RunRecord
	runOrder  []string // run ids in save order, oldest first
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		workflows: make(map[string][]byte),
		runs:      make(map[string]RunRecord),
	}
}

func (m *MemStore) SaveWorkflow(_ context.Context, name string, definition []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(definition))
	copy(stored, definition)
	m.workflows[name] = stored
	return nil
}

func (m *MemStore) LoadWorkflow(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	definition, ok := m.workflows[name]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(definition))
	copy(out, definition)
	return out, nil
}

func (m *MemStore) ListWorkflows(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.workflows))
	for name := range m.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStore) DeleteWorkflow(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[name]; !ok {
		return ErrNotFound
	}
	delete(m.workflows, name)
	return nil
}

func (m *MemStore) SaveRun(_ context.Context, record RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[record.RunID]; !exists {
		m.runOrder = append(m.runOrder, record.RunID)
	}
	m.runs[record.RunID] = record
	return nil
}

func (m *MemStore) LoadRun(_ context.Context, runID string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.runs[runID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return record, nil
}

func (m *MemStore) ListRuns(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]RunRecord, 0, len(m.runOrder))
	for i := len(m.runOrder) - 1; i >= 0; i-- {
		records = append(records, m.runs[m.runOrder[i]])
		if limit > 0 && len(records) == limit {
			break
		}
	}
	return records, nil
}
