/*
Package projection provides the budget-weighted hour projection engine.

PURPOSE:
  This package contains the types and algorithms for turning "how much budget
  is left on each job" into "how many hours should each job receive this
  month" and, from a committed snapshot, "what should be logged on each
  calendar day." It is a computation library: persistence lives behind the
  store interfaces, and the HTTP surface lives in the api package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Settings: the explicit configuration value object passed into every
    calculation (hourly rate, GMP multiplier, weekly-hour ceiling)
  - JobRecord / ProjectRecord: read-only inputs supplied by the ledger gateway
  - Stage: job lifecycle stage; terminal stages remove global eligibility
  - Rounding helpers for the two granularity tiers (nearest 5 at the monthly
    tier, nearest 0.5 at the daily tier)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every budget, hour, rate and cost value
  2. Explicit configuration: no settings singleton; callers pass Settings
  3. Determinism: identical inputs always produce identical outputs

SEE ALSO:
  - allocation.go: monthly weight and hour allocation
  - snapshot.go: versioned snapshot lifecycle
  - distribution.go: day-by-day spreading of committed hours
*/
package projection

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTINGS - Explicit configuration value object
// =============================================================================

// Settings carries the global knobs every calculation needs. There is no
// lazily created settings row: construct one with DefaultSettings at startup
// and override fields as needed.
type Settings struct {
	// HourlyRate converts allocated hours into projected cost.
	HourlyRate decimal.Decimal

	// GMPWeightMultiplier is applied to the weight of GMP-flagged jobs.
	GMPWeightMultiplier decimal.Decimal

	// MaxHoursPerWeek caps any single ISO week in the day-level schedule.
	MaxHoursPerWeek decimal.Decimal
}

// DefaultSettings returns the standard configuration: $85/h, 1.5x GMP
// weighting, 40h weekly ceiling.
func DefaultSettings() Settings {
	return Settings{
		HourlyRate:          decimal.NewFromInt(85),
		GMPWeightMultiplier: decimal.NewFromFloat(1.5),
		MaxHoursPerWeek:     decimal.NewFromInt(40),
	}
}

// =============================================================================
// JOB / PROJECT INPUTS - Read-only records from the ledger gateway
// =============================================================================

// Stage is a job's lifecycle stage. Jobs in a terminal stage lose global
// eligibility and are removed from period inclusion sets on sync.
type Stage string

const (
	StageProposal     Stage = "proposal"
	StageActive       Stage = "active"
	StageClosing      Stage = "closing"
	StageArchive      Stage = "archive"
	StageLostProposal Stage = "lost_proposal"
	StageWarranty     Stage = "warranty"
)

// IsTerminal reports whether the stage removes a job from projection.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageArchive, StageLostProposal, StageWarranty:
		return true
	}
	return false
}

// JobRecord is a job's budget line as supplied by the ledger gateway.
type JobRecord struct {
	JobCode           string
	ProjectID         string
	AllocatedBudget   decimal.Decimal
	WeightAdjustment  decimal.Decimal // planner multiplier, [0, 5], default 1.0
	IsGMP             bool
	Stage             Stage
	ProjectionEnabled bool
}

// GloballyEligible reports whether the job may participate in projections at
// all. Per-period inclusion is a separate, finer-grained toggle.
func (j JobRecord) GloballyEligible() bool {
	return j.ProjectionEnabled && !j.Stage.IsTerminal()
}

// ProjectRecord carries the project-level budget figures used to derive the
// remaining-budget ratio.
type ProjectRecord struct {
	ID          string
	TotalBudget decimal.Decimal
	SpendToDate decimal.Decimal
}

// RemainingRatio returns max(0, (total - spend) / total), or zero when the
// project has no budget at all.
func (p ProjectRecord) RemainingRatio() decimal.Decimal {
	if !p.TotalBudget.IsPositive() {
		return decimal.Zero
	}
	ratio := p.TotalBudget.Sub(p.SpendToDate).Div(p.TotalBudget)
	if ratio.IsNegative() {
		return decimal.Zero
	}
	return ratio
}

// =============================================================================
// ROUNDING TIERS
// =============================================================================
// The two granularities are intentional: nearest-5 keeps monthly planning
// numbers clean, nearest-0.5 matches timesheet entry granularity. Do not
// unify them.

var (
	five = decimal.NewFromInt(5)
	half = decimal.NewFromFloat(0.5)
	ten  = decimal.NewFromInt(10)
)

// RoundToNearestFive rounds to the nearest multiple of 5, ties to the even
// multiple (banker's rounding on the multiple count).
func RoundToNearestFive(d decimal.Decimal) decimal.Decimal {
	return d.Div(five).RoundBank(0).Mul(five)
}

// RoundToNearestHalf rounds to the nearest multiple of 0.5, ties away from
// zero.
func RoundToNearestHalf(d decimal.Decimal) decimal.Decimal {
	return d.Div(half).Round(0).Mul(half)
}

// FloorToHalf truncates toward zero to a multiple of 0.5.
func FloorToHalf(d decimal.Decimal) decimal.Decimal {
	return d.Div(half).Floor().Mul(half)
}

// MustDecimal parses s, returning zero on malformed input. Test helper and
// seed-data convenience; production paths construct decimals directly.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
