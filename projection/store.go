/*
store.go - Persistence and gateway interfaces

PURPOSE:
  Defines the boundary between the engine and its collaborators. The engine
  receives already-resolved records and never performs its own upserts; a
  store implementation owns uniqueness and transaction discipline.

KEY INTERFACES:
  PeriodStore:   periods and per-period job inclusions
  SnapshotStore: versioned snapshots with entries and details
  LedgerGateway: read-only job/project budget view supplied per operation

IMPLEMENTATIONS:
  - projection/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go:     production SQLite

SEE ALSO:
  - eligibility.go: uses PeriodStore for the two-phase sync
  - snapshot.go:    uses SnapshotStore for lifecycle transitions
*/
package projection

import "context"

// =============================================================================
// PERIOD STORE - Periods and per-period inclusion records
// =============================================================================

// PeriodStore persists periods and their eligible-job inclusion records.
type PeriodStore interface {
	// CreatePeriod inserts a new period. Returns ErrDuplicatePeriod if a
	// period for the same (year, month) already exists.
	CreatePeriod(ctx context.Context, p Period) error

	// GetPeriod returns the period for (year, month), or a NotFoundError.
	GetPeriod(ctx context.Context, year int, month int) (*Period, error)

	// ListPeriods returns all periods ordered by (year, month).
	ListPeriods(ctx context.Context) ([]Period, error)

	// SetPeriodLock flips the is_locked flag.
	SetPeriodLock(ctx context.Context, periodKey string, locked bool) error

	// ListInclusions returns the period's inclusion records in job-code order.
	ListInclusions(ctx context.Context, periodKey string) ([]Inclusion, error)

	// SaveInclusion inserts or replaces a single inclusion record.
	SaveInclusion(ctx context.Context, inc Inclusion) error

	// DeleteInclusion removes a job's inclusion record from a period.
	DeleteInclusion(ctx context.Context, periodKey, jobCode string) error
}

// =============================================================================
// SNAPSHOT STORE - Versioned allocation snapshots
// =============================================================================

// SnapshotStore persists snapshots together with their entries and details.
// Entries are owned by their snapshot and saved/loaded as a unit.
type SnapshotStore interface {
	// SaveSnapshot inserts a new snapshot with all entries and details.
	SaveSnapshot(ctx context.Context, s *Snapshot) error

	// GetSnapshot returns a snapshot by ID, or a NotFoundError.
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)

	// ListSnapshots returns all snapshots for a period, newest version first.
	ListSnapshots(ctx context.Context, periodKey string) ([]Snapshot, error)

	// UpdateSnapshotState persists status, is_active, and committed_at
	// changes. Entries are immutable once saved.
	UpdateSnapshotState(ctx context.Context, s *Snapshot) error

	// HasCommittedForProject reports whether any committed snapshot anywhere
	// references the project. The ledger uses this to forbid destructive
	// edits to budgets with committed projections.
	HasCommittedForProject(ctx context.Context, projectID string) (bool, error)
}

// =============================================================================
// LEDGER GATEWAY - Read-only budget view (external collaborator)
// =============================================================================

// LedgerGateway is the read-only view of jobs and project budgets the engine
// queries per operation. The surrounding system owns writes to this data.
type LedgerGateway interface {
	// ListJobs returns every job budget line, in stable job-code order.
	ListJobs(ctx context.Context) ([]JobRecord, error)

	// GetProject returns a project's budget figures, or a NotFoundError.
	GetProject(ctx context.Context, id string) (*ProjectRecord, error)
}
