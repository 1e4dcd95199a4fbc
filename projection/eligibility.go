/*
eligibility.go - Period lifecycle and eligible-job management

PURPOSE:
  Creates monthly periods and keeps each period's eligible-job set in step
  with global job eligibility without clobbering planner overrides. The sync
  is self-healing: run it before every calculation and the inclusion list
  converges to the globally-eligible set while per-period toggles survive.

TWO-PHASE SYNC:
  Phase A: remove inclusion records whose job lost global eligibility
           (projection flag off, or a terminal stage).
  Phase B: insert a defaulted record (included=true) for every
           globally-eligible job not yet present. Existing records are
           never overwritten.

SEE ALSO:
  - allocation.go: consumes the included jobs after a sync
  - store.go: PeriodStore interface this service drives
*/
package projection

import (
	"context"
	"fmt"
	"time"
)

// Inclusion is a job's per-period eligibility record. Included can be toggled
// per period without affecting the job's global flag or other periods.
type Inclusion struct {
	PeriodKey string
	JobCode   string
	Included  bool
}

// PeriodService creates periods and maintains their eligible-job sets.
type PeriodService struct {
	Store  PeriodStore
	Ledger LedgerGateway
}

// CreatePeriod creates the projection period for (year, month). Fails with
// ErrDuplicatePeriod if it already exists; callers wanting idempotency should
// check first.
func (ps *PeriodService) CreatePeriod(ctx context.Context, year int, month time.Month) (*Period, error) {
	p := NewPeriod(year, month)
	if err := ps.Store.CreatePeriod(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPeriod fetches an existing period.
func (ps *PeriodService) GetPeriod(ctx context.Context, year int, month time.Month) (*Period, error) {
	return ps.Store.GetPeriod(ctx, year, int(month))
}

// SyncEligibleJobs reconciles the period's inclusion records against global
// job eligibility. Returns the post-sync inclusion list in job-code order.
func (ps *PeriodService) SyncEligibleJobs(ctx context.Context, period Period) ([]Inclusion, error) {
	jobs, err := ps.Ledger.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	eligible := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.GloballyEligible() {
			eligible[j.JobCode] = true
		}
	}

	existing, err := ps.Store.ListInclusions(ctx, period.Key())
	if err != nil {
		return nil, err
	}

	// Phase A: drop records for jobs that lost global eligibility.
	present := make(map[string]bool, len(existing))
	for _, inc := range existing {
		if !eligible[inc.JobCode] {
			if err := ps.Store.DeleteInclusion(ctx, period.Key(), inc.JobCode); err != nil {
				return nil, err
			}
			continue
		}
		present[inc.JobCode] = true
	}

	// Phase B: insert missing records, defaulting to included. Records that
	// survived phase A keep their planner-set toggle untouched.
	for _, j := range jobs {
		if !eligible[j.JobCode] || present[j.JobCode] {
			continue
		}
		inc := Inclusion{PeriodKey: period.Key(), JobCode: j.JobCode, Included: true}
		if err := ps.Store.SaveInclusion(ctx, inc); err != nil {
			return nil, err
		}
	}

	return ps.Store.ListInclusions(ctx, period.Key())
}

// ToggleInclusion flips a single job's per-period inclusion flag.
func (ps *PeriodService) ToggleInclusion(ctx context.Context, period Period, jobCode string, included bool) error {
	existing, err := ps.Store.ListInclusions(ctx, period.Key())
	if err != nil {
		return err
	}
	for _, inc := range existing {
		if inc.JobCode == jobCode {
			inc.Included = included
			return ps.Store.SaveInclusion(ctx, inc)
		}
	}
	return &NotFoundError{Kind: "job", Key: fmt.Sprintf("%s in %s", jobCode, period.Key())}
}

// ToggleInclusions applies the same flag to several jobs at once.
func (ps *PeriodService) ToggleInclusions(ctx context.Context, period Period, jobCodes []string, included bool) error {
	for _, code := range jobCodes {
		if err := ps.ToggleInclusion(ctx, period, code, included); err != nil {
			return err
		}
	}
	return nil
}

// Lock marks the period locked; calculation and commit are refused while set.
func (ps *PeriodService) Lock(ctx context.Context, period Period) error {
	return ps.Store.SetPeriodLock(ctx, period.Key(), true)
}

// Unlock clears the period's lock.
func (ps *PeriodService) Unlock(ctx context.Context, period Period) error {
	return ps.Store.SetPeriodLock(ctx, period.Key(), false)
}
