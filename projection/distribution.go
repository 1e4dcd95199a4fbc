/*
distribution.go - Day-level distribution scheduler

PURPOSE:
  Turns a snapshot's job-level monthly hours into a literal day-by-day,
  job-by-job schedule over the month's Monday-Friday dates, under two caps:
  no ISO week exceeds Settings.MaxHoursPerWeek, and no single day lists more
  than MaxEntriesPerDay distinct jobs. Every job's hours still sum to its
  snapshot total (capacity shortfalls are surfaced as warnings, not errors).

PHASES:
  1. Weekly budgeting: proportional per-week budgets capped at the weekly
     ceiling, with greedy shortfall redistribution into remaining headroom.
  2. Per-week job scheduling: proportional job hours (last week absorbs all
     rounding drift), 0.5 rounding, over-budget scale-down with a largest-job
     nudge, and stride-based day assignment under the per-day job cap.
  3. Intra-job daily spread: floor-and-spread at 0.5 granularity with stride
     placement of the leftover half-hour increments.
  4. Validation: defensive re-checks of both caps, reported as warnings.

  The schedule is a pure projection: re-running it on the same snapshot with
  the same settings yields identical output. Nothing is persisted.

DETERMINISM:
  All selection is index arithmetic (stride = floor(i * length / count)) and
  all orderings break ties on job code. No map iteration reaches the output.

SEE ALSO:
  - snapshot.go: the committed snapshot this consumes
  - period.go: the Monday-Friday date grid and ISO week labels
*/
package projection

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MaxEntriesPerDay caps how many distinct jobs may appear on one timesheet
// day.
const MaxEntriesPerDay = 3

// driftTolerance absorbs decimal residue when comparing recomputed totals.
var driftTolerance = decimal.NewFromFloat(0.01)

// =============================================================================
// OUTPUT TYPES
// =============================================================================

// DayEntry is one job's hours on one calendar date.
type DayEntry struct {
	JobCode   string
	ProjectID string
	Hours     decimal.Decimal
}

// DaySchedule is one calendar date's full set of job entries.
type DaySchedule struct {
	Date     time.Time
	Weekday  string // 3-letter code, e.g. "Mon"
	Entries  []DayEntry
	DayTotal decimal.Decimal
}

// DistributionResult is the complete schedule for a period.
type DistributionResult struct {
	PeriodLabel  string // "YYYY-MM"
	Schedule     []DaySchedule
	WeeklyTotals map[string]decimal.Decimal
	Warnings     []string
	TotalHours   decimal.Decimal
	WorkingDays  int
	NumJobs      int
}

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler produces day-level schedules from snapshot hours.
type Scheduler struct {
	Settings Settings
}

// jobLoad is a job's month-level hour total during scheduling.
type jobLoad struct {
	code      string
	projectID string
	total     decimal.Decimal
	remaining decimal.Decimal
}

// week is one ISO week's slice of the month's Monday-Friday grid.
type week struct {
	label  string
	dates  []time.Time
	offset int // index of dates[0] within the month grid
	budget decimal.Decimal
}

// Distribute spreads the snapshot's job hours across the period's
// Monday-Friday dates. It works for any snapshot status; callers normally
// run it against the committed one.
func (sc *Scheduler) Distribute(period Period, snap *Snapshot) *DistributionResult {
	jobs := collectJobs(snap)
	dates := period.ScheduleDates()

	result := &DistributionResult{
		PeriodLabel:  period.Key(),
		WeeklyTotals: make(map[string]decimal.Decimal),
		TotalHours:   decimal.Zero,
		WorkingDays:  len(dates),
		NumJobs:      len(jobs),
	}
	for _, j := range jobs {
		result.TotalHours = result.TotalHours.Add(j.total)
	}

	weeks := splitWeeks(dates)
	days := make([]DaySchedule, len(dates))
	for i, d := range dates {
		days[i] = DaySchedule{Date: d, Weekday: d.Format("Mon"), Entries: []DayEntry{}, DayTotal: decimal.Zero}
	}

	if len(jobs) > 0 && result.TotalHours.IsPositive() {
		sc.budgetWeeks(weeks, result)
		sc.scheduleWeeks(weeks, jobs, result, days)
	}

	result.Schedule = days
	sc.validate(weeks, days, result)
	return result
}

// collectJobs flattens the snapshot's entry details into per-job totals,
// ordered by hours descending then job code.
func collectJobs(snap *Snapshot) []*jobLoad {
	var jobs []*jobLoad
	for _, e := range snap.Entries {
		for _, d := range e.Details {
			if !d.AllocatedHours.IsPositive() {
				continue
			}
			jobs = append(jobs, &jobLoad{
				code:      d.JobCode,
				projectID: e.ProjectID,
				total:     d.AllocatedHours,
				remaining: d.AllocatedHours,
			})
		}
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].total.Equal(jobs[j].total) {
			return jobs[i].total.GreaterThan(jobs[j].total)
		}
		return jobs[i].code < jobs[j].code
	})
	return jobs
}

// splitWeeks partitions the month grid into ISO calendar weeks, in order.
func splitWeeks(dates []time.Time) []*week {
	var weeks []*week
	for i, d := range dates {
		label := ISOWeekLabel(d)
		if len(weeks) == 0 || weeks[len(weeks)-1].label != label {
			weeks = append(weeks, &week{label: label, offset: i})
		}
		w := weeks[len(weeks)-1]
		w.dates = append(w.dates, d)
	}
	return weeks
}

// =============================================================================
// PHASE 1 - Weekly budgeting
// =============================================================================

// budgetWeeks assigns each week a provisional share of the month's hours,
// caps it at the weekly ceiling, and greedily redistributes any shortfall
// into weeks that still have headroom.
func (sc *Scheduler) budgetWeeks(weeks []*week, result *DistributionResult) {
	monthDays := 0
	for _, w := range weeks {
		monthDays += len(w.dates)
	}

	ceiling := sc.Settings.MaxHoursPerWeek
	budgeted := decimal.Zero
	for _, w := range weeks {
		share := result.TotalHours.
			Mul(decimal.NewFromInt(int64(len(w.dates)))).
			Div(decimal.NewFromInt(int64(monthDays)))
		if share.GreaterThan(ceiling) {
			share = ceiling
		}
		w.budget = share
		budgeted = budgeted.Add(share)
	}

	shortfall := result.TotalHours.Sub(budgeted)
	if !shortfall.IsPositive() {
		return
	}
	for _, w := range weeks {
		if !shortfall.IsPositive() {
			break
		}
		headroom := ceiling.Sub(w.budget)
		if !headroom.IsPositive() {
			continue
		}
		take := decimal.Min(shortfall, headroom)
		w.budget = w.budget.Add(take)
		shortfall = shortfall.Sub(take)
	}
	if shortfall.GreaterThan(driftTolerance) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"insufficient weekly capacity: %s hours exceed the %s h/week ceiling across %d weeks",
			shortfall.StringFixed(1), ceiling.StringFixed(1), len(weeks)))
	}
}

// =============================================================================
// PHASE 2 + 3 - Per-week job scheduling and intra-job daily spread
// =============================================================================

type weekJob struct {
	job   *jobLoad
	hours decimal.Decimal
	days  []int // day indices within the week, ascending
}

func (sc *Scheduler) scheduleWeeks(weeks []*week, jobs []*jobLoad, result *DistributionResult, days []DaySchedule) {
	grandTotal := result.TotalHours

	for wi, w := range weeks {
		final := wi == len(weeks)-1

		var wjobs []*weekJob
		for _, j := range jobs {
			if !j.remaining.IsPositive() {
				continue
			}
			var h decimal.Decimal
			if final {
				// The last week absorbs all prior rounding drift.
				h = j.remaining
			} else {
				h = RoundToNearestHalf(w.budget.Mul(j.total.Div(grandTotal)))
				if h.GreaterThan(j.remaining) {
					h = j.remaining
				}
			}
			if h.IsPositive() {
				wjobs = append(wjobs, &weekJob{job: j, hours: h})
			}
		}
		if len(wjobs) == 0 {
			continue
		}

		// The final week is never scaled down: it must absorb whatever the
		// earlier weeks left behind so hours are conserved. If that overruns
		// the weekly ceiling, validate reports it as a capacity warning.
		if !final {
			sc.capWeek(w, wjobs)
		}

		for _, wj := range wjobs {
			wj.job.remaining = wj.job.remaining.Sub(wj.hours)
		}

		assignDays(w, wjobs)

		for _, wj := range wjobs {
			spreadDaily(wj, w, days)
		}
	}

	for i := range days {
		total := decimal.Zero
		for _, e := range days[i].Entries {
			total = total.Add(e.Hours)
		}
		days[i].DayTotal = total
	}
}

// capWeek scales the week's job hours down when they exceed the budget,
// re-rounds to 0.5, and redistributes the rounding residual greedily in the
// hours-descending job order so the week lands on budget. A week that comes
// in under budget is left alone; the shortfall carries forward and the final
// week absorbs it.
func (sc *Scheduler) capWeek(w *week, wjobs []*weekJob) {
	sum := decimal.Zero
	for _, wj := range wjobs {
		sum = sum.Add(wj.hours)
	}
	if !sum.GreaterThan(w.budget) {
		return
	}

	scale := w.budget.Div(sum)
	rounded := decimal.Zero
	for _, wj := range wjobs {
		wj.hours = RoundToNearestHalf(wj.hours.Mul(scale))
		rounded = rounded.Add(wj.hours)
	}

	residual := w.budget.Sub(rounded)
	if residual.IsPositive() {
		// Top jobs back up toward budget, never past their month remainder.
		for _, wj := range wjobs {
			if !residual.IsPositive() {
				break
			}
			headroom := wj.job.remaining.Sub(wj.hours)
			if !headroom.IsPositive() {
				continue
			}
			take := decimal.Min(residual, headroom)
			wj.hours = wj.hours.Add(take)
			residual = residual.Sub(take)
		}
		return
	}

	// Rounding overshot the budget: pull hours back, largest jobs first,
	// never below zero.
	deficit := residual.Neg()
	for _, wj := range wjobs {
		if !deficit.IsPositive() {
			break
		}
		take := decimal.Min(deficit, wj.hours)
		wj.hours = wj.hours.Sub(take)
		deficit = deficit.Sub(take)
	}
}

// assignDays picks which days of the week each job appears on. With at most
// MaxEntriesPerDay jobs, everyone is on every day. Otherwise each job gets a
// proportional share of the week's day-slots, placed largest-need-first onto
// the still-open days with stride spacing so the week is not lopsided.
func assignDays(w *week, wjobs []*weekJob) {
	weekDays := len(w.dates)

	if len(wjobs) <= MaxEntriesPerDay {
		for _, wj := range wjobs {
			wj.days = make([]int, weekDays)
			for i := range wj.days {
				wj.days[i] = i
			}
		}
		return
	}

	weekTotal := decimal.Zero
	for _, wj := range wjobs {
		weekTotal = weekTotal.Add(wj.hours)
	}

	totalSlots := decimal.NewFromInt(int64(weekDays * MaxEntriesPerDay))
	load := make([]int, weekDays)

	for _, wj := range wjobs {
		count := 1
		if weekTotal.IsPositive() {
			count = int(wj.hours.Div(weekTotal).Mul(totalSlots).Round(0).IntPart())
		}
		if count < 1 {
			count = 1
		}
		if count > weekDays {
			count = weekDays
		}

		// Days with a free slot, in index order.
		var avail []int
		for di := 0; di < weekDays; di++ {
			if load[di] < MaxEntriesPerDay {
				avail = append(avail, di)
			}
		}
		if len(avail) == 0 {
			// Every slot is taken. Overflow the per-day cap rather than
			// drop the job's hours; validate reports the breach.
			for di := 0; di < weekDays; di++ {
				avail = append(avail, di)
			}
		}
		if count > len(avail) {
			count = len(avail)
		}

		wj.days = make([]int, 0, count)
		for i := 0; i < count; i++ {
			di := avail[i*len(avail)/count]
			wj.days = append(wj.days, di)
			load[di]++
		}
	}
}

// spreadDaily spreads one job's weekly hours over its assigned days: an
// equal 0.5-floored base on every day, the leftover half-hour increments on
// stride-spaced days, and any residual decimal drift forced onto the last
// day.
func spreadDaily(wj *weekJob, w *week, days []DaySchedule) {
	n := len(wj.days)
	if n == 0 || !wj.hours.IsPositive() {
		return
	}

	nDec := decimal.NewFromInt(int64(n))
	base := FloorToHalf(wj.hours.Div(nDec))
	perDay := make([]decimal.Decimal, n)
	for i := range perDay {
		perDay[i] = base
	}

	increments := int(wj.hours.Sub(base.Mul(nDec)).Div(half).Round(0).IntPart())
	for i := 0; i < increments; i++ {
		perDay[i*n/increments] = perDay[i*n/increments].Add(half)
	}

	allocated := base.Mul(nDec).Add(half.Mul(decimal.NewFromInt(int64(increments))))
	if residual := wj.hours.Sub(allocated); residual.Abs().GreaterThan(driftTolerance) {
		perDay[n-1] = perDay[n-1].Add(residual)
	}

	for i, di := range wj.days {
		if !perDay[i].IsPositive() {
			continue
		}
		day := &days[w.offset+di]
		day.Entries = append(day.Entries, DayEntry{
			JobCode:   wj.job.code,
			ProjectID: wj.job.projectID,
			Hours:     perDay[i],
		})
	}
}

// =============================================================================
// PHASE 4 - Validation
// =============================================================================

// validate recomputes weekly totals and defensively re-checks both caps.
func (sc *Scheduler) validate(weeks []*week, days []DaySchedule, result *DistributionResult) {
	for _, w := range weeks {
		total := decimal.Zero
		for di := range w.dates {
			total = total.Add(days[w.offset+di].DayTotal)
		}
		result.WeeklyTotals[w.label] = total

		if total.Sub(sc.Settings.MaxHoursPerWeek).GreaterThan(driftTolerance) {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"week %s total %s exceeds the %s h/week ceiling",
				w.label, total.StringFixed(1), sc.Settings.MaxHoursPerWeek.StringFixed(1)))
		}
	}

	for _, day := range days {
		if len(day.Entries) > MaxEntriesPerDay {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"day %s has %d entries (cap %d)",
				day.Date.Format("2006-01-02"), len(day.Entries), MaxEntriesPerDay))
		}
	}
}
