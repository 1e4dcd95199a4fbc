package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewplan/projection-engine/projection"
	"github.com/crewplan/projection-engine/projection/store"
)

// =============================================================================
// FIXTURES
// =============================================================================

type snapshotFixture struct {
	store   *store.Memory
	service *projection.SnapshotService
	period  projection.Period
}

func newSnapshotFixture(t *testing.T) *snapshotFixture {
	t.Helper()
	mem := store.NewMemory()
	period := projection.NewPeriod(2026, time.February)
	require.NoError(t, mem.CreatePeriod(context.Background(), period))

	clock := time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)
	return &snapshotFixture{
		store:   mem,
		service: &projection.SnapshotService{Periods: mem, Snapshots: mem, Now: func() time.Time { return clock }},
		period:  period,
	}
}

func (f *snapshotFixture) create(t *testing.T, name string) *projection.Snapshot {
	t.Helper()
	snap, err := f.service.Create(context.Background(), projection.CreateSnapshotInput{
		Period:     f.period,
		Name:       name,
		HourlyRate: decimal.NewFromInt(85),
		TotalHours: decimal.NewFromInt(160),
		Entries: []projection.Entry{
			{
				ProjectID:       "P-1",
				AllocatedHours:  decimal.NewFromInt(160),
				ProjectedCost:   decimal.NewFromInt(13600),
				WeightUsed:      decimal.NewFromInt(100000),
				RemainingBudget: decimal.NewFromInt(100000),
				Details: []projection.EntryDetail{
					{JobCode: "J-100", AllocatedHours: decimal.NewFromInt(160), ProjectedCost: decimal.NewFromInt(13600)},
				},
			},
		},
	})
	require.NoError(t, err)
	return snap
}

// =============================================================================
// CREATION AND VERSIONING
// =============================================================================

func TestSnapshotCreate_VersionsIncrement(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	v1 := f.create(t, "")
	v2 := f.create(t, "revised")

	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, "Projection 2026-02 v1", v1.Name)
	assert.Equal(t, "revised", v2.Name)
	assert.Equal(t, projection.StatusDraft, v2.Status)

	// Creating v2 deactivated v1.
	stored1, err := f.store.GetSnapshot(ctx, v1.ID)
	require.NoError(t, err)
	assert.False(t, stored1.IsActive)
	assert.True(t, v2.IsActive)
}

func TestSnapshotCreate_TotalCostSumsEntries(t *testing.T) {
	f := newSnapshotFixture(t)
	snap := f.create(t, "")
	assert.True(t, snap.TotalCost.Equal(decimal.NewFromInt(13600)),
		"total cost should be the sum of entry costs, got %s", snap.TotalCost)
}

func TestSnapshotCreate_LockedPeriodRefused(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetPeriodLock(ctx, f.period.Key(), true))

	_, err := f.service.Create(ctx, projection.CreateSnapshotInput{Period: f.period})
	assert.ErrorIs(t, err, projection.ErrPeriodLocked)
}

// =============================================================================
// COMMIT / UNCOMMIT LIFECYCLE
// =============================================================================

func TestSnapshotCommit_LocksPeriodAndSupersedesSiblings(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	v1 := f.create(t, "")
	v2 := f.create(t, "")

	committed, err := f.service.Commit(ctx, v2.ID)
	require.NoError(t, err)

	assert.Equal(t, projection.StatusCommitted, committed.Status)
	assert.NotNil(t, committed.CommittedAt)
	assert.True(t, committed.IsActive)

	sibling, err := f.store.GetSnapshot(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, projection.StatusSuperseded, sibling.Status)
	assert.False(t, sibling.IsActive)

	period, err := f.store.GetPeriod(ctx, 2026, 2)
	require.NoError(t, err)
	assert.True(t, period.IsLocked)
}

func TestSnapshotCommit_LockedPeriodRefused(t *testing.T) {
	// GIVEN: a draft snapshot on a period the planner locked by hand
	// WHEN: committing the draft
	// THEN: PeriodLocked, and the draft stays a draft

	f := newSnapshotFixture(t)
	ctx := context.Background()

	v1 := f.create(t, "")
	require.NoError(t, f.store.SetPeriodLock(ctx, f.period.Key(), true))

	_, err := f.service.Commit(ctx, v1.ID)
	assert.ErrorIs(t, err, projection.ErrPeriodLocked)

	stored, err := f.store.GetSnapshot(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, projection.StatusDraft, stored.Status)
	assert.Nil(t, stored.CommittedAt)
}

func TestSnapshotCommit_SecondCommitRefused(t *testing.T) {
	// GIVEN: a committed v1 and a draft v2 for the same period
	// WHEN: committing v2
	// THEN: AlreadyCommitted; after uncommitting v1 the sibling can commit

	f := newSnapshotFixture(t)
	ctx := context.Background()

	v1 := f.create(t, "")
	v2 := f.create(t, "")

	_, err := f.service.Commit(ctx, v1.ID)
	require.NoError(t, err)

	// v2 was superseded by the commit; restore it via uncommit and verify the
	// conflict ordering directly on a fresh draft pair instead.
	_, err = f.service.Uncommit(ctx, v1.ID)
	require.NoError(t, err)

	_, err = f.service.Commit(ctx, v2.ID)
	require.NoError(t, err)

	_, err = f.service.Commit(ctx, v1.ID)
	assert.ErrorIs(t, err, projection.ErrAlreadyCommitted)
}

func TestSnapshotUncommit_RestoresSiblingsAndUnlocks(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	v1 := f.create(t, "")
	v2 := f.create(t, "")

	_, err := f.service.Commit(ctx, v2.ID)
	require.NoError(t, err)

	restored, err := f.service.Uncommit(ctx, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, projection.StatusDraft, restored.Status)
	assert.Nil(t, restored.CommittedAt)

	sibling, err := f.store.GetSnapshot(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, projection.StatusDraft, sibling.Status)

	period, err := f.store.GetPeriod(ctx, 2026, 2)
	require.NoError(t, err)
	assert.False(t, period.IsLocked)
}

func TestSnapshotTransitions_IllegalOnesRefused(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	v1 := f.create(t, "")
	_, err := f.service.Commit(ctx, v1.ID)
	require.NoError(t, err)

	// Committed snapshots cannot be activated or re-committed.
	_, err = f.service.Activate(ctx, v1.ID)
	assert.ErrorIs(t, err, projection.ErrInvalidTransition)
	_, err = f.service.Commit(ctx, v1.ID)
	assert.ErrorIs(t, err, projection.ErrInvalidTransition)

	// A draft cannot be uncommitted. Unwind the commit so a fresh draft can
	// be created on the now-unlocked period.
	_, err = f.service.Uncommit(ctx, v1.ID)
	require.NoError(t, err)
	v2 := f.create(t, "")
	_, err = f.service.Uncommit(ctx, v2.ID)
	assert.ErrorIs(t, err, projection.ErrInvalidTransition)

	var tErr *projection.InvalidTransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, projection.StatusDraft, tErr.From)
}

func TestSnapshotActivate_SwitchesActiveFlag(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	v1 := f.create(t, "")
	v2 := f.create(t, "")
	require.True(t, v2.IsActive)

	activated, err := f.service.Activate(ctx, v1.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	other, err := f.store.GetSnapshot(ctx, v2.ID)
	require.NoError(t, err)
	assert.False(t, other.IsActive)
}

func TestSnapshot_AtMostOneCommittedPerPeriod(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	f.create(t, "")
	v2 := f.create(t, "")
	v3 := f.create(t, "")

	_, err := f.service.Commit(ctx, v3.ID)
	require.NoError(t, err)
	_, err = f.service.Uncommit(ctx, v3.ID)
	require.NoError(t, err)
	_, err = f.service.Commit(ctx, v2.ID)
	require.NoError(t, err)

	all, err := f.store.ListSnapshots(ctx, f.period.Key())
	require.NoError(t, err)
	committed := 0
	for _, s := range all {
		if s.Status == projection.StatusCommitted {
			committed++
		}
	}
	assert.Equal(t, 1, committed)
}

func TestSnapshotCreate_ManualOverrideDetailsKept(t *testing.T) {
	// GIVEN: entries where a planner raised one job's detail hours by hand,
	//        so the detail sum no longer matches the entry's hours
	// WHEN: freezing the snapshot
	// THEN: the override flag and edited hours survive verbatim, and the
	//       snapshot total still comes from entry costs, not the details

	f := newSnapshotFixture(t)
	ctx := context.Background()

	snap, err := f.service.Create(ctx, projection.CreateSnapshotInput{
		Period:     f.period,
		HourlyRate: decimal.NewFromInt(85),
		TotalHours: decimal.NewFromInt(160),
		Entries: []projection.Entry{
			{
				ProjectID:      "P-1",
				AllocatedHours: decimal.NewFromInt(160),
				ProjectedCost:  decimal.NewFromInt(13600),
				Details: []projection.EntryDetail{
					{JobCode: "J-100", AllocatedHours: decimal.NewFromInt(100), ProjectedCost: decimal.NewFromInt(8500)},
					{JobCode: "J-200", AllocatedHours: decimal.NewFromInt(75), ProjectedCost: decimal.NewFromInt(6375), IsManualOverride: true},
				},
			},
		},
	})
	require.NoError(t, err)

	stored, err := f.store.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, stored.Entries, 1)
	require.Len(t, stored.Entries[0].Details, 2)

	edited := stored.Entries[0].Details[1]
	assert.True(t, edited.IsManualOverride)
	assert.True(t, edited.AllocatedHours.Equal(decimal.NewFromInt(75)))
	assert.False(t, stored.Entries[0].Details[0].IsManualOverride)

	// 100 + 75 != 160: the divergence is accepted, never auto-corrected.
	assert.True(t, stored.TotalCost.Equal(decimal.NewFromInt(13600)))
	assert.True(t, stored.Entries[0].AllocatedHours.Equal(decimal.NewFromInt(160)))
}

func TestHasCommittedReference(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	v1 := f.create(t, "")

	ok, err := f.service.HasCommittedReference(ctx, "P-1")
	require.NoError(t, err)
	assert.False(t, ok, "draft snapshots should not count as references")

	_, err = f.service.Commit(ctx, v1.ID)
	require.NoError(t, err)

	ok, err = f.service.HasCommittedReference(ctx, "P-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
