/*
allocation.go - Budget-weighted monthly hour allocation

PURPOSE:
  The pure heart of the engine: given a period, its included jobs, and the
  project budgets behind them, compute each job's share of the month's hours
  in proportion to remaining budget and planner weighting.

ALGORITHM:
  1. remaining_ratio = max(0, (project_total - project_spend) / project_total)
  2. effective_budget = job_budget * remaining_ratio
  3. weight = effective_budget * weight_adjustment * gmp_factor
  4. raw_hours = weight / total_weight * period_total_hours
  5. round each raw_hours to the nearest multiple of 5 (ties to even)
  6. single-shot largest-remainder correction: the whole signed rounding
     difference lands on the job with the largest raw_hours
  7. projected_cost = rounded_hours * hourly_rate

  The result is a preview; nothing is persisted until a snapshot is created.

SEE ALSO:
  - types.go: RoundToNearestFive and the weighting inputs
  - snapshot.go: freezing a preview into a versioned snapshot
*/
package projection

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ALLOCATION PREVIEW - Calculator output
// =============================================================================

// AllocationLine is one job's computed share of the month.
type AllocationLine struct {
	JobCode         string
	ProjectID       string
	AllocatedHours  decimal.Decimal // multiple of 5
	ProjectedCost   decimal.Decimal
	WeightUsed      decimal.Decimal
	RemainingBudget decimal.Decimal // project budget remaining at calc time
}

// AllocationPreview is the full calculator output for a period.
type AllocationPreview struct {
	PeriodKey  string
	Lines      []AllocationLine
	TotalHours decimal.Decimal
	TotalCost  decimal.Decimal
}

// Calculator computes budget-weighted hour allocations.
type Calculator struct {
	Settings Settings
}

// Calculate produces the allocation preview for a period and its included
// jobs. The period must be unlocked. Projects maps project IDs to budget
// records; a job whose project is missing gets zero weight rather than an
// error, matching the "exhausted budget still participates" rule.
func (c *Calculator) Calculate(period Period, jobs []JobRecord, projects map[string]ProjectRecord) (*AllocationPreview, error) {
	if period.IsLocked {
		return nil, ErrPeriodLocked
	}

	preview := &AllocationPreview{
		PeriodKey:  period.Key(),
		TotalHours: period.TotalHours,
		TotalCost:  decimal.Zero,
	}

	// Jobs with a positive budget drive the weighting; if none exist the
	// result is explicitly empty but keeps the period's hour total.
	anyBudget := false
	for _, j := range jobs {
		if j.AllocatedBudget.IsPositive() {
			anyBudget = true
			break
		}
	}
	if !anyBudget {
		return preview, nil
	}

	type working struct {
		line AllocationLine
		raw  decimal.Decimal
	}

	items := make([]*working, 0, len(jobs))
	totalWeight := decimal.Zero

	for _, j := range jobs {
		ratio := decimal.Zero
		remaining := decimal.Zero
		if proj, ok := projects[j.ProjectID]; ok {
			ratio = proj.RemainingRatio()
			remaining = proj.TotalBudget.Sub(proj.SpendToDate)
			if remaining.IsNegative() {
				remaining = decimal.Zero
			}
		}

		gmpFactor := decimal.NewFromInt(1)
		if j.IsGMP {
			gmpFactor = c.Settings.GMPWeightMultiplier
		}

		weight := j.AllocatedBudget.Mul(ratio).Mul(j.WeightAdjustment).Mul(gmpFactor)
		totalWeight = totalWeight.Add(weight)

		items = append(items, &working{
			line: AllocationLine{
				JobCode:         j.JobCode,
				ProjectID:       j.ProjectID,
				WeightUsed:      weight,
				RemainingBudget: remaining,
			},
		})
	}

	// Zero total weight: every job gets zero hours, no correction pass.
	if totalWeight.IsPositive() {
		for _, it := range items {
			it.raw = it.line.WeightUsed.Div(totalWeight).Mul(period.TotalHours)
			it.line.AllocatedHours = RoundToNearestFive(it.raw)
		}

		// Largest-remainder correction, single shot: the entire signed
		// difference goes to the job with the largest raw hours. Ties break
		// on job code so the correction is deterministic.
		sum := decimal.Zero
		for _, it := range items {
			sum = sum.Add(it.line.AllocatedHours)
		}
		if diff := period.TotalHours.Sub(sum); !diff.IsZero() {
			largest := items[0]
			for _, it := range items[1:] {
				if it.raw.GreaterThan(largest.raw) ||
					(it.raw.Equal(largest.raw) && it.line.JobCode < largest.line.JobCode) {
					largest = it
				}
			}
			largest.line.AllocatedHours = largest.line.AllocatedHours.Add(diff)
		}
	} else {
		for _, it := range items {
			it.line.AllocatedHours = decimal.Zero
		}
	}

	for _, it := range items {
		it.line.ProjectedCost = it.line.AllocatedHours.Mul(c.Settings.HourlyRate)
		preview.TotalCost = preview.TotalCost.Add(it.line.ProjectedCost)
	}

	// Stable presentation order: hours descending, then job code.
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].line.AllocatedHours.Equal(items[j].line.AllocatedHours) {
			return items[i].line.AllocatedHours.GreaterThan(items[j].line.AllocatedHours)
		}
		return items[i].line.JobCode < items[j].line.JobCode
	})

	preview.Lines = make([]AllocationLine, len(items))
	for i, it := range items {
		preview.Lines[i] = it.line
	}
	return preview, nil
}
