package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewplan/projection-engine/projection"
	"github.com/crewplan/projection-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedPeriod(t *testing.T, s *sqlite.Store) projection.Period {
	t.Helper()
	p := projection.NewPeriod(2026, time.February)
	require.NoError(t, s.CreatePeriod(context.Background(), p))
	return p
}

func testSnapshot(periodKey string, version int) *projection.Snapshot {
	return &projection.Snapshot{
		ID:         fmt.Sprintf("snap-%s-v%d", periodKey, version),
		PeriodKey:  periodKey,
		Version:    version,
		Name:       "test snapshot",
		Status:     projection.StatusDraft,
		IsActive:   true,
		HourlyRate: decimal.NewFromInt(85),
		TotalHours: decimal.NewFromInt(160),
		TotalCost:  decimal.NewFromInt(13600),
		CreatedAt:  time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC),
		Entries: []projection.Entry{
			{
				ProjectID:       "P-1",
				AllocatedHours:  decimal.NewFromInt(100),
				ProjectedCost:   decimal.NewFromInt(8500),
				WeightUsed:      decimal.NewFromInt(60000),
				RemainingBudget: decimal.NewFromInt(60000),
				Details: []projection.EntryDetail{
					{JobCode: "J-100", AllocatedHours: decimal.NewFromInt(60), ProjectedCost: decimal.NewFromInt(5100)},
					{JobCode: "J-101", AllocatedHours: decimal.NewFromInt(40), ProjectedCost: decimal.NewFromInt(3400), IsManualOverride: true},
				},
			},
			{
				ProjectID:       "P-2",
				AllocatedHours:  decimal.NewFromInt(60),
				ProjectedCost:   decimal.NewFromInt(5100),
				WeightUsed:      decimal.NewFromInt(40000),
				RemainingBudget: decimal.NewFromInt(40000),
				Details: []projection.EntryDetail{
					{JobCode: "J-200", AllocatedHours: decimal.NewFromInt(60), ProjectedCost: decimal.NewFromInt(5100)},
				},
			},
		},
	}
}

// =============================================================================
// PERIODS
// =============================================================================

func TestPeriodRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := seedPeriod(t, store)

	got, err := store.GetPeriod(ctx, 2026, 2)
	require.NoError(t, err)
	assert.Equal(t, p.Year, got.Year)
	assert.Equal(t, p.Month, got.Month)
	assert.Equal(t, 16, got.WorkingDays)
	assert.True(t, got.TotalHours.Equal(decimal.NewFromInt(160)))
	assert.False(t, got.IsLocked)
}

func TestPeriodDuplicateRefused(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := seedPeriod(t, store)

	err := store.CreatePeriod(ctx, p)
	assert.ErrorIs(t, err, projection.ErrDuplicatePeriod)
}

func TestPeriodNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetPeriod(context.Background(), 2031, 7)
	assert.True(t, projection.IsNotFound(err))
}

func TestPeriodLockFlag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := seedPeriod(t, store)

	require.NoError(t, store.SetPeriodLock(ctx, p.Key(), true))
	got, err := store.GetPeriod(ctx, 2026, 2)
	require.NoError(t, err)
	assert.True(t, got.IsLocked)

	require.NoError(t, store.SetPeriodLock(ctx, p.Key(), false))
	got, err = store.GetPeriod(ctx, 2026, 2)
	require.NoError(t, err)
	assert.False(t, got.IsLocked)
}

// =============================================================================
// INCLUSIONS
// =============================================================================

func TestInclusionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := seedPeriod(t, store)

	inc := projection.Inclusion{PeriodKey: p.Key(), JobCode: "J-100", Included: true}
	require.NoError(t, store.SaveInclusion(ctx, inc))

	// Upsert flips the flag in place.
	inc.Included = false
	require.NoError(t, store.SaveInclusion(ctx, inc))

	list, err := store.ListInclusions(ctx, p.Key())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Included)

	require.NoError(t, store.DeleteInclusion(ctx, p.Key(), "J-100"))
	list, err = store.ListInclusions(ctx, p.Key())
	require.NoError(t, err)
	assert.Empty(t, list)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := seedPeriod(t, store)

	snap := testSnapshot(p.Key(), 1)
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	got, err := store.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Version, got.Version)
	assert.Equal(t, projection.StatusDraft, got.Status)
	assert.True(t, got.TotalCost.Equal(decimal.NewFromInt(13600)))
	require.Len(t, got.Entries, 2)
	require.Len(t, got.Entries[0].Details, 2)
	assert.Equal(t, "J-100", got.Entries[0].Details[0].JobCode)
	assert.True(t, got.Entries[0].Details[0].AllocatedHours.Equal(decimal.NewFromInt(60)))
	assert.False(t, got.Entries[0].Details[0].IsManualOverride)
	assert.True(t, got.Entries[0].Details[1].IsManualOverride)
}

func TestSnapshotStateUpdatePersists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := seedPeriod(t, store)

	snap := testSnapshot(p.Key(), 1)
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	committedAt := time.Date(2026, time.February, 5, 12, 0, 0, 0, time.UTC)
	snap.Status = projection.StatusCommitted
	snap.CommittedAt = &committedAt
	require.NoError(t, store.UpdateSnapshotState(ctx, snap))

	got, err := store.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, projection.StatusCommitted, got.Status)
	require.NotNil(t, got.CommittedAt)
	assert.True(t, got.CommittedAt.Equal(committedAt))
}

func TestSnapshotOneCommittedPerPeriodEnforced(t *testing.T) {
	// The partial unique index is the last line of defense under concurrent
	// commits; the service-level check normally fires first.
	store := newTestStore(t)
	ctx := context.Background()
	p := seedPeriod(t, store)

	first := testSnapshot(p.Key(), 1)
	first.Status = projection.StatusCommitted
	require.NoError(t, store.SaveSnapshot(ctx, first))

	second := testSnapshot(p.Key(), 2)
	second.Status = projection.StatusCommitted
	err := store.SaveSnapshot(ctx, second)
	assert.ErrorIs(t, err, projection.ErrAlreadyCommitted)
}

func TestSnapshotListOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := seedPeriod(t, store)

	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot(p.Key(), 1)))
	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot(p.Key(), 2)))

	list, err := store.ListSnapshots(ctx, p.Key())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Greater(t, list[0].Version, list[1].Version, "newest version first")
}

func TestHasCommittedForProject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := seedPeriod(t, store)

	snap := testSnapshot(p.Key(), 1)
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	ok, err := store.HasCommittedForProject(ctx, "P-1")
	require.NoError(t, err)
	assert.False(t, ok)

	committedAt := time.Now().UTC()
	snap.Status = projection.StatusCommitted
	snap.CommittedAt = &committedAt
	require.NoError(t, store.UpdateSnapshotState(ctx, snap))

	ok, err = store.HasCommittedForProject(ctx, "P-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasCommittedForProject(ctx, "P-UNRELATED")
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// LEDGER RECORDS
// =============================================================================

func TestProjectUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := projection.ProjectRecord{
		ID:          "P-1",
		TotalBudget: decimal.NewFromInt(100000),
		SpendToDate: decimal.NewFromInt(25000),
	}
	require.NoError(t, store.SaveProject(ctx, p))

	p.SpendToDate = decimal.NewFromInt(40000)
	require.NoError(t, store.SaveProject(ctx, p))

	got, err := store.GetProject(ctx, "P-1")
	require.NoError(t, err)
	assert.True(t, got.SpendToDate.Equal(decimal.NewFromInt(40000)))

	all, err := store.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestJobUpsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j := projection.JobRecord{
		JobCode:           "J-100",
		ProjectID:         "P-1",
		AllocatedBudget:   decimal.NewFromInt(50000),
		WeightAdjustment:  decimal.NewFromFloat(1.2),
		IsGMP:             true,
		Stage:             projection.StageActive,
		ProjectionEnabled: true,
	}
	require.NoError(t, store.SaveJob(ctx, j))

	j.Stage = projection.StageClosing
	require.NoError(t, store.SaveJob(ctx, j))

	jobs, err := store.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, projection.StageClosing, jobs[0].Stage)
	assert.True(t, jobs[0].IsGMP)
	assert.True(t, jobs[0].WeightAdjustment.Equal(decimal.NewFromFloat(1.2)))
}

func TestGetProjectNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetProject(context.Background(), "P-MISSING")
	assert.True(t, projection.IsNotFound(err))
}
