// Package store provides in-memory implementations of the projection
// persistence interfaces, used by tests and the dev server.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crewplan/projection-engine/projection"
)

// =============================================================================
// MEMORY STORE - PeriodStore + SnapshotStore in one
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	periods    map[string]projection.Period
	inclusions map[string]map[string]projection.Inclusion // periodKey -> jobCode
	snapshots  map[string]projection.Snapshot             // snapshot ID
}

func NewMemory() *Memory {
	return &Memory{
		periods:    make(map[string]projection.Period),
		inclusions: make(map[string]map[string]projection.Inclusion),
		snapshots:  make(map[string]projection.Snapshot),
	}
}

// --- PeriodStore ---

func (m *Memory) CreatePeriod(_ context.Context, p projection.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.periods[p.Key()]; exists {
		return projection.ErrDuplicatePeriod
	}
	m.periods[p.Key()] = p
	return nil
}

func (m *Memory) GetPeriod(_ context.Context, year int, month int) (*projection.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := projection.PeriodKey(year, time.Month(month))
	p, ok := m.periods[key]
	if !ok {
		return nil, &projection.NotFoundError{Kind: "period", Key: key}
	}
	return &p, nil
}

func (m *Memory) ListPeriods(_ context.Context) ([]projection.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []projection.Period
	for _, p := range m.periods {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (m *Memory) SetPeriodLock(_ context.Context, periodKey string, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[periodKey]
	if !ok {
		return &projection.NotFoundError{Kind: "period", Key: periodKey}
	}
	p.IsLocked = locked
	m.periods[periodKey] = p
	return nil
}

func (m *Memory) ListInclusions(_ context.Context, periodKey string) ([]projection.Inclusion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []projection.Inclusion
	for _, inc := range m.inclusions[periodKey] {
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobCode < out[j].JobCode })
	return out, nil
}

func (m *Memory) SaveInclusion(_ context.Context, inc projection.Inclusion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inclusions[inc.PeriodKey] == nil {
		m.inclusions[inc.PeriodKey] = make(map[string]projection.Inclusion)
	}
	m.inclusions[inc.PeriodKey][inc.JobCode] = inc
	return nil
}

func (m *Memory) DeleteInclusion(_ context.Context, periodKey, jobCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inclusions[periodKey], jobCode)
	return nil
}

// --- SnapshotStore ---

func (m *Memory) SaveSnapshot(_ context.Context, s *projection.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.ID] = cloneSnapshot(s)
	return nil
}

func (m *Memory) GetSnapshot(_ context.Context, id string) (*projection.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, &projection.NotFoundError{Kind: "snapshot", Key: id}
	}
	out := cloneSnapshot(&s)
	return &out, nil
}

func (m *Memory) ListSnapshots(_ context.Context, periodKey string) ([]projection.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []projection.Snapshot
	for _, s := range m.snapshots {
		if s.PeriodKey == periodKey {
			out = append(out, cloneSnapshot(&s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (m *Memory) UpdateSnapshotState(_ context.Context, s *projection.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.snapshots[s.ID]
	if !ok {
		return &projection.NotFoundError{Kind: "snapshot", Key: s.ID}
	}
	existing.Status = s.Status
	existing.IsActive = s.IsActive
	existing.CommittedAt = s.CommittedAt
	m.snapshots[s.ID] = existing
	return nil
}

func (m *Memory) HasCommittedForProject(_ context.Context, projectID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.snapshots {
		if s.Status != projection.StatusCommitted {
			continue
		}
		for _, e := range s.Entries {
			if e.ProjectID == projectID {
				return true, nil
			}
		}
	}
	return false, nil
}

// cloneSnapshot copies a snapshot so callers cannot mutate stored entries.
func cloneSnapshot(s *projection.Snapshot) projection.Snapshot {
	out := *s
	out.Entries = make([]projection.Entry, len(s.Entries))
	for i, e := range s.Entries {
		ec := e
		ec.Details = append([]projection.EntryDetail(nil), e.Details...)
		out.Entries[i] = ec
	}
	if s.CommittedAt != nil {
		t := *s.CommittedAt
		out.CommittedAt = &t
	}
	return out
}

// =============================================================================
// MEMORY LEDGER - Seedable read-only gateway for tests and dev
// =============================================================================

type MemoryLedger struct {
	mu       sync.RWMutex
	jobs     map[string]projection.JobRecord
	projects map[string]projection.ProjectRecord
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		jobs:     make(map[string]projection.JobRecord),
		projects: make(map[string]projection.ProjectRecord),
	}
}

func (l *MemoryLedger) PutJob(j projection.JobRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs[j.JobCode] = j
}

func (l *MemoryLedger) PutProject(p projection.ProjectRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.projects[p.ID] = p
}

func (l *MemoryLedger) ListJobs(_ context.Context) ([]projection.JobRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []projection.JobRecord
	for _, j := range l.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobCode < out[j].JobCode })
	return out, nil
}

func (l *MemoryLedger) GetProject(_ context.Context, id string) (*projection.ProjectRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.projects[id]
	if !ok {
		return nil, &projection.NotFoundError{Kind: "project", Key: id}
	}
	return &p, nil
}
