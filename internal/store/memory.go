// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store intended for tests and local iteration.
// Not durable; not suitable for production.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrDuplicateJob
	}
	cp := *job
	m.jobs[job.ID] = &cp
	m.appendLocked(Event{
		Severity: "info",
		JobID:    job.ID,
		Message:  fmt.Sprintf("job created: %s (%s, %s)", job.SourceFilename, job.Template, job.AspectRatio),
		At:       job.CreatedAt,
	})
	return nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, outputPath, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrUnknownJob
	}
	old := job.Status
	if err := applyTransition(job, status, outputPath, errMsg); err != nil {
		return fmt.Errorf("%w: %s -> %s", err, old, status)
	}
	job.UpdatedAt = time.Now().UTC()

	severity := "info"
	msg := fmt.Sprintf("status %s -> %s", old, status)
	if status == StatusFailed {
		severity = "error"
		msg = fmt.Sprintf("status %s -> failed: %s", old, errMsg)
	}
	m.appendLocked(Event{Severity: severity, JobID: id, Message: msg, At: job.UpdatedAt})
	return nil
}

func (m *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		cp := *j
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(ev)
	return nil
}

func (m *MemoryStore) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

func (m *MemoryStore) appendLocked(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	m.events = append(m.events, ev)
	if len(m.events) > maxRetainedEvents {
		m.events = m.events[len(m.events)-maxRetainedEvents:]
	}
}
