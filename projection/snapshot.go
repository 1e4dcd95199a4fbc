/*
snapshot.go - Versioned snapshot lifecycle

PURPOSE:
  Freezes a computed (and optionally planner-edited) allocation into an
  immutable, versioned record and walks it through its state machine:

    Draft --activate--> Draft(active)
    Draft --commit----> Committed   (siblings become Superseded, period locks)
    Committed --uncommit--> Draft   (siblings restored, period unlocks)

INVARIANTS:
  - versions increase monotonically per period, starting at 1
  - at most one snapshot per period is active
  - at most one snapshot per period is committed
  - creating a snapshot never mutates prior ones beyond the active flag

SEE ALSO:
  - allocation.go: the preview a snapshot freezes
  - distribution.go: consumes a committed snapshot's entry details
*/
package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SNAPSHOT MODEL
// =============================================================================

// SnapshotStatus is the snapshot's lifecycle state.
type SnapshotStatus string

const (
	StatusDraft      SnapshotStatus = "draft"
	StatusCommitted  SnapshotStatus = "committed"
	StatusSuperseded SnapshotStatus = "superseded"
)

// Snapshot is one versioned allocation record for a period.
type Snapshot struct {
	ID          string
	PeriodKey   string
	Version     int
	Name        string
	Status      SnapshotStatus
	IsActive    bool
	HourlyRate  decimal.Decimal
	TotalHours  decimal.Decimal
	TotalCost   decimal.Decimal
	CreatedAt   time.Time
	CommittedAt *time.Time
	Entries     []Entry
}

// Entry is a project-level line within a snapshot. Destroyed with it.
type Entry struct {
	ProjectID       string
	AllocatedHours  decimal.Decimal
	ProjectedCost   decimal.Decimal
	WeightUsed      decimal.Decimal
	RemainingBudget decimal.Decimal // audit value captured at computation time
	Details         []EntryDetail
}

// EntryDetail is a job-level line within an entry. The sum of a project's
// detail hours should equal the entry's hours; manual overrides may break
// that, which is accepted and not auto-corrected.
type EntryDetail struct {
	JobCode          string
	AllocatedHours   decimal.Decimal
	ProjectedCost    decimal.Decimal
	WeightUsed       decimal.Decimal
	IsManualOverride bool
}

// EntriesFromPreview groups a calculator preview's job lines into
// project-level entries with job-level details, preserving line order.
func EntriesFromPreview(preview *AllocationPreview) []Entry {
	byProject := make(map[string]*Entry)
	var order []string

	for _, line := range preview.Lines {
		e, ok := byProject[line.ProjectID]
		if !ok {
			e = &Entry{ProjectID: line.ProjectID, RemainingBudget: line.RemainingBudget}
			byProject[line.ProjectID] = e
			order = append(order, line.ProjectID)
		}
		e.AllocatedHours = e.AllocatedHours.Add(line.AllocatedHours)
		e.ProjectedCost = e.ProjectedCost.Add(line.ProjectedCost)
		e.WeightUsed = e.WeightUsed.Add(line.WeightUsed)
		e.Details = append(e.Details, EntryDetail{
			JobCode:        line.JobCode,
			AllocatedHours: line.AllocatedHours,
			ProjectedCost:  line.ProjectedCost,
			WeightUsed:     line.WeightUsed,
		})
	}

	entries := make([]Entry, len(order))
	for i, id := range order {
		entries[i] = *byProject[id]
	}
	return entries
}

// =============================================================================
// SNAPSHOT SERVICE - Lifecycle transitions
// =============================================================================

// SnapshotService drives snapshot creation and state transitions.
type SnapshotService struct {
	Periods   PeriodStore
	Snapshots SnapshotStore

	// Now is the clock; nil means time.Now. Tests inject a fixed clock.
	Now func() time.Time
}

func (ss *SnapshotService) now() time.Time {
	if ss.Now != nil {
		return ss.Now()
	}
	return time.Now().UTC()
}

// CreateSnapshotInput carries everything needed to freeze an allocation.
type CreateSnapshotInput struct {
	Period     Period
	Name       string
	HourlyRate decimal.Decimal
	TotalHours decimal.Decimal
	Entries    []Entry
}

// Create freezes an allocation as the period's next snapshot version and
// makes it the active one. Fails with ErrPeriodLocked on a locked period.
// The snapshot's total cost is the sum of entry costs, not recomputed from
// details (manual detail edits must not shift the committed figure).
func (ss *SnapshotService) Create(ctx context.Context, in CreateSnapshotInput) (*Snapshot, error) {
	period, err := ss.Periods.GetPeriod(ctx, in.Period.Year, int(in.Period.Month))
	if err != nil {
		return nil, err
	}
	if period.IsLocked {
		return nil, ErrPeriodLocked
	}

	siblings, err := ss.Snapshots.ListSnapshots(ctx, period.Key())
	if err != nil {
		return nil, err
	}

	version := 1
	for _, s := range siblings {
		if s.Version >= version {
			version = s.Version + 1
		}
	}

	totalCost := decimal.Zero
	for _, e := range in.Entries {
		totalCost = totalCost.Add(e.ProjectedCost)
	}

	name := in.Name
	if name == "" {
		name = fmt.Sprintf("Projection %s v%d", period.Key(), version)
	}

	snap := &Snapshot{
		ID:         fmt.Sprintf("snap-%s-v%d", period.Key(), version),
		PeriodKey:  period.Key(),
		Version:    version,
		Name:       name,
		Status:     StatusDraft,
		IsActive:   true,
		HourlyRate: in.HourlyRate,
		TotalHours: in.TotalHours,
		TotalCost:  totalCost,
		CreatedAt:  ss.now(),
		Entries:    in.Entries,
	}

	// Only one active snapshot per period.
	for i := range siblings {
		if siblings[i].IsActive {
			siblings[i].IsActive = false
			if err := ss.Snapshots.UpdateSnapshotState(ctx, &siblings[i]); err != nil {
				return nil, err
			}
		}
	}

	if err := ss.Snapshots.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Activate marks a draft snapshot as the one the planner is working with.
// Only legal from Draft.
func (ss *SnapshotService) Activate(ctx context.Context, snapshotID string) (*Snapshot, error) {
	snap, err := ss.Snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.Status != StatusDraft {
		return nil, &InvalidTransitionError{SnapshotID: snap.ID, From: snap.Status, To: StatusDraft}
	}

	siblings, err := ss.Snapshots.ListSnapshots(ctx, snap.PeriodKey)
	if err != nil {
		return nil, err
	}
	for i := range siblings {
		if siblings[i].ID != snap.ID && siblings[i].IsActive {
			siblings[i].IsActive = false
			if err := ss.Snapshots.UpdateSnapshotState(ctx, &siblings[i]); err != nil {
				return nil, err
			}
		}
	}

	snap.IsActive = true
	if err := ss.Snapshots.UpdateSnapshotState(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Commit finalizes a draft snapshot: it becomes the period's single committed
// record, every sibling is superseded, and the period locks. Fails with
// ErrPeriodLocked when the planner has locked the period beforehand.
func (ss *SnapshotService) Commit(ctx context.Context, snapshotID string) (*Snapshot, error) {
	snap, err := ss.Snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.Status != StatusDraft {
		return nil, &InvalidTransitionError{SnapshotID: snap.ID, From: snap.Status, To: StatusCommitted}
	}

	siblings, err := ss.Snapshots.ListSnapshots(ctx, snap.PeriodKey)
	if err != nil {
		return nil, err
	}
	for _, s := range siblings {
		if s.ID != snap.ID && s.Status == StatusCommitted {
			return nil, ErrAlreadyCommitted
		}
	}

	// A planner-set lock refuses the commit too. Checked after the sibling
	// scan so a committed sibling (which also holds the lock) reports the
	// more specific AlreadyCommitted.
	year, month, err := ParsePeriodKey(snap.PeriodKey)
	if err != nil {
		return nil, err
	}
	period, err := ss.Periods.GetPeriod(ctx, year, int(month))
	if err != nil {
		return nil, err
	}
	if period.IsLocked {
		return nil, ErrPeriodLocked
	}

	for i := range siblings {
		if siblings[i].ID == snap.ID {
			continue
		}
		changed := false
		if siblings[i].Status != StatusSuperseded {
			siblings[i].Status = StatusSuperseded
			changed = true
		}
		if siblings[i].IsActive {
			siblings[i].IsActive = false
			changed = true
		}
		if changed {
			if err := ss.Snapshots.UpdateSnapshotState(ctx, &siblings[i]); err != nil {
				return nil, err
			}
		}
	}

	committedAt := ss.now()
	snap.Status = StatusCommitted
	snap.CommittedAt = &committedAt
	snap.IsActive = true
	if err := ss.Snapshots.UpdateSnapshotState(ctx, snap); err != nil {
		return nil, err
	}

	if err := ss.Periods.SetPeriodLock(ctx, snap.PeriodKey, true); err != nil {
		return nil, err
	}
	return snap, nil
}

// Uncommit reverses a commit: the snapshot returns to Draft, superseded
// siblings are restored to Draft, and the period unlocks.
func (ss *SnapshotService) Uncommit(ctx context.Context, snapshotID string) (*Snapshot, error) {
	snap, err := ss.Snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.Status != StatusCommitted {
		return nil, &InvalidTransitionError{SnapshotID: snap.ID, From: snap.Status, To: StatusDraft}
	}

	siblings, err := ss.Snapshots.ListSnapshots(ctx, snap.PeriodKey)
	if err != nil {
		return nil, err
	}
	for i := range siblings {
		if siblings[i].ID != snap.ID && siblings[i].Status == StatusSuperseded {
			siblings[i].Status = StatusDraft
			if err := ss.Snapshots.UpdateSnapshotState(ctx, &siblings[i]); err != nil {
				return nil, err
			}
		}
	}

	snap.Status = StatusDraft
	snap.CommittedAt = nil
	snap.IsActive = true
	if err := ss.Snapshots.UpdateSnapshotState(ctx, snap); err != nil {
		return nil, err
	}

	if err := ss.Periods.SetPeriodLock(ctx, snap.PeriodKey, false); err != nil {
		return nil, err
	}
	return snap, nil
}

// HasCommittedReference reports whether any committed snapshot references the
// project. The ledger gateway calls this before destructive budget edits.
func (ss *SnapshotService) HasCommittedReference(ctx context.Context, projectID string) (bool, error) {
	return ss.Snapshots.HasCommittedForProject(ctx, projectID)
}
