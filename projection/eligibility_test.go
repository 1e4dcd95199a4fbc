package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewplan/projection-engine/projection"
	"github.com/crewplan/projection-engine/projection/store"
)

func newPeriodService() (*projection.PeriodService, *store.Memory, *store.MemoryLedger) {
	mem := store.NewMemory()
	ledger := store.NewMemoryLedger()
	return &projection.PeriodService{Store: mem, Ledger: ledger}, mem, ledger
}

func TestCreatePeriod_DuplicateRefused(t *testing.T) {
	svc, _, _ := newPeriodService()
	ctx := context.Background()

	_, err := svc.CreatePeriod(ctx, 2026, time.February)
	require.NoError(t, err)

	_, err = svc.CreatePeriod(ctx, 2026, time.February)
	assert.ErrorIs(t, err, projection.ErrDuplicatePeriod)
}

func TestSyncEligibleJobs_SeedsIncludedByDefault(t *testing.T) {
	svc, _, ledger := newPeriodService()
	ctx := context.Background()

	ledger.PutJob(job("J-1", "P-1", 1000))
	ledger.PutJob(job("J-2", "P-1", 2000))

	period, err := svc.CreatePeriod(ctx, 2026, time.February)
	require.NoError(t, err)

	inclusions, err := svc.SyncEligibleJobs(ctx, *period)
	require.NoError(t, err)
	require.Len(t, inclusions, 2)
	for _, inc := range inclusions {
		assert.True(t, inc.Included, "job %s should default to included", inc.JobCode)
	}
}

func TestSyncEligibleJobs_SkipsGloballyIneligible(t *testing.T) {
	svc, _, ledger := newPeriodService()
	ctx := context.Background()

	archived := job("J-ARCHIVED", "P-1", 1000)
	archived.Stage = projection.StageArchive
	disabled := job("J-DISABLED", "P-1", 1000)
	disabled.ProjectionEnabled = false
	ledger.PutJob(archived)
	ledger.PutJob(disabled)
	ledger.PutJob(job("J-LIVE", "P-1", 1000))

	period, err := svc.CreatePeriod(ctx, 2026, time.February)
	require.NoError(t, err)

	inclusions, err := svc.SyncEligibleJobs(ctx, *period)
	require.NoError(t, err)
	require.Len(t, inclusions, 1)
	assert.Equal(t, "J-LIVE", inclusions[0].JobCode)
}

func TestSyncEligibleJobs_PreservesPlannerToggles(t *testing.T) {
	// GIVEN: a period where the planner excluded J-1
	// WHEN: the sync runs again with an unchanged ledger
	// THEN: the exclusion survives; sync never clobbers existing records

	svc, _, ledger := newPeriodService()
	ctx := context.Background()

	ledger.PutJob(job("J-1", "P-1", 1000))
	ledger.PutJob(job("J-2", "P-1", 1000))

	period, err := svc.CreatePeriod(ctx, 2026, time.February)
	require.NoError(t, err)
	_, err = svc.SyncEligibleJobs(ctx, *period)
	require.NoError(t, err)

	require.NoError(t, svc.ToggleInclusion(ctx, *period, "J-1", false))

	inclusions, err := svc.SyncEligibleJobs(ctx, *period)
	require.NoError(t, err)

	byCode := map[string]bool{}
	for _, inc := range inclusions {
		byCode[inc.JobCode] = inc.Included
	}
	assert.False(t, byCode["J-1"], "planner exclusion must survive a re-sync")
	assert.True(t, byCode["J-2"])
}

func TestSyncEligibleJobs_RemovesJobsThatLostEligibility(t *testing.T) {
	svc, _, ledger := newPeriodService()
	ctx := context.Background()

	ledger.PutJob(job("J-1", "P-1", 1000))

	period, err := svc.CreatePeriod(ctx, 2026, time.February)
	require.NoError(t, err)
	_, err = svc.SyncEligibleJobs(ctx, *period)
	require.NoError(t, err)

	// The job moves to a terminal stage between syncs.
	gone := job("J-1", "P-1", 1000)
	gone.Stage = projection.StageLostProposal
	ledger.PutJob(gone)

	inclusions, err := svc.SyncEligibleJobs(ctx, *period)
	require.NoError(t, err)
	assert.Empty(t, inclusions)
}

func TestToggleInclusion_UnknownJobNotFound(t *testing.T) {
	svc, _, _ := newPeriodService()
	ctx := context.Background()

	period, err := svc.CreatePeriod(ctx, 2026, time.February)
	require.NoError(t, err)

	err = svc.ToggleInclusion(ctx, *period, "J-NOPE", false)
	assert.True(t, projection.IsNotFound(err), "expected a not-found error, got %v", err)
}

func TestToggleInclusions_BulkFlip(t *testing.T) {
	svc, mem, ledger := newPeriodService()
	ctx := context.Background()

	ledger.PutJob(job("J-1", "P-1", 1000))
	ledger.PutJob(job("J-2", "P-1", 1000))
	ledger.PutJob(job("J-3", "P-1", 1000))

	period, err := svc.CreatePeriod(ctx, 2026, time.February)
	require.NoError(t, err)
	_, err = svc.SyncEligibleJobs(ctx, *period)
	require.NoError(t, err)

	require.NoError(t, svc.ToggleInclusions(ctx, *period, []string{"J-1", "J-3"}, false))

	inclusions, err := mem.ListInclusions(ctx, period.Key())
	require.NoError(t, err)
	byCode := map[string]bool{}
	for _, inc := range inclusions {
		byCode[inc.JobCode] = inc.Included
	}
	assert.False(t, byCode["J-1"])
	assert.True(t, byCode["J-2"])
	assert.False(t, byCode["J-3"])
}

func TestLockUnlock_RoundTrip(t *testing.T) {
	svc, mem, _ := newPeriodService()
	ctx := context.Background()

	period, err := svc.CreatePeriod(ctx, 2026, time.February)
	require.NoError(t, err)

	require.NoError(t, svc.Lock(ctx, *period))
	stored, err := mem.GetPeriod(ctx, 2026, 2)
	require.NoError(t, err)
	assert.True(t, stored.IsLocked)

	require.NoError(t, svc.Unlock(ctx, *period))
	stored, err = mem.GetPeriod(ctx, 2026, 2)
	require.NoError(t, err)
	assert.False(t, stored.IsLocked)
}
