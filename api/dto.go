/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the planner-facing API. These decouple the internal
  decimal-based domain model from the wire format: decimals cross the
  boundary as float64 for consumers, budgets arrive as numbers and are
  converted immediately.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/crewplan/projection-engine/projection"
)

// =============================================================================
// LEDGER RECORDS
// =============================================================================

// ProjectDTO mirrors a project budget record.
type ProjectDTO struct {
	ID          string  `json:"id"`
	TotalBudget float64 `json:"total_budget"`
	SpendToDate float64 `json:"spend_to_date"`
}

// JobDTO mirrors a job budget line.
type JobDTO struct {
	JobCode           string  `json:"job_code"`
	ProjectID         string  `json:"project_id"`
	AllocatedBudget   float64 `json:"allocated_budget"`
	WeightAdjustment  float64 `json:"weight_adjustment"`
	IsGMP             bool    `json:"is_gmp"`
	Stage             string  `json:"stage"`
	ProjectionEnabled bool    `json:"projection_enabled"`
}

// =============================================================================
// PERIODS
// =============================================================================

// CreatePeriodRequest creates the projection cycle for one month.
type CreatePeriodRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// PeriodDTO represents a period in responses.
type PeriodDTO struct {
	Key         string  `json:"key"`
	Year        int     `json:"year"`
	Month       int     `json:"month"`
	WorkingDays int     `json:"working_days"`
	TotalHours  float64 `json:"total_hours"`
	IsLocked    bool    `json:"is_locked"`
}

// InclusionDTO is one per-period eligibility toggle.
type InclusionDTO struct {
	JobCode  string `json:"job_code"`
	Included bool   `json:"included"`
}

// ToggleInclusionsRequest flips inclusion flags for one or more jobs.
type ToggleInclusionsRequest struct {
	JobCodes []string `json:"job_codes"`
	Included bool     `json:"included"`
}

// =============================================================================
// ALLOCATION
// =============================================================================

// AllocationLineDTO is one job's computed monthly share.
type AllocationLineDTO struct {
	JobCode        string  `json:"job_code"`
	ProjectID      string  `json:"project_id"`
	AllocatedHours float64 `json:"allocated_hours"`
	ProjectedCost  float64 `json:"projected_cost"`
	WeightUsed     float64 `json:"weight_used"`
}

// AllocationPreviewDTO is the calculator output for a period.
type AllocationPreviewDTO struct {
	PeriodKey  string              `json:"period_key"`
	Lines      []AllocationLineDTO `json:"lines"`
	TotalHours float64             `json:"total_hours"`
	TotalCost  float64             `json:"total_cost"`
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// CreateSnapshotRequest freezes the current calculation as a new version.
type CreateSnapshotRequest struct {
	Name string `json:"name,omitempty"`
}

// EntryDetailDTO is a job-level snapshot line.
type EntryDetailDTO struct {
	JobCode          string  `json:"job_code"`
	AllocatedHours   float64 `json:"allocated_hours"`
	ProjectedCost    float64 `json:"projected_cost"`
	WeightUsed       float64 `json:"weight_used"`
	IsManualOverride bool    `json:"is_manual_override"`
}

// EntryDTO is a project-level snapshot line.
type EntryDTO struct {
	ProjectID       string           `json:"project_id"`
	AllocatedHours  float64          `json:"allocated_hours"`
	ProjectedCost   float64          `json:"projected_cost"`
	WeightUsed      float64          `json:"weight_used"`
	RemainingBudget float64          `json:"remaining_budget_at_time"`
	Details         []EntryDetailDTO `json:"details"`
}

// SnapshotDTO represents a snapshot in responses.
type SnapshotDTO struct {
	ID          string     `json:"id"`
	PeriodKey   string     `json:"period_key"`
	Version     int        `json:"version"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	IsActive    bool       `json:"is_active"`
	HourlyRate  float64    `json:"hourly_rate"`
	TotalHours  float64    `json:"total_hours"`
	TotalCost   float64    `json:"total_projected_cost"`
	CreatedAt   string     `json:"created_at"`
	CommittedAt *string    `json:"committed_at,omitempty"`
	Entries     []EntryDTO `json:"entries"`
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

// DayEntryDTO is one job's hours on one date.
type DayEntryDTO struct {
	JobCode   string  `json:"job_code"`
	ProjectID string  `json:"project_id"`
	Hours     float64 `json:"hours"`
}

// DayScheduleDTO is one calendar date in the schedule.
type DayScheduleDTO struct {
	Date     string        `json:"date"`
	Weekday  string        `json:"weekday"`
	Entries  []DayEntryDTO `json:"entries"`
	DayTotal float64       `json:"day_total"`
}

// DistributionDTO is the complete day-level schedule for a period.
type DistributionDTO struct {
	PeriodLabel  string             `json:"period"`
	Schedule     []DayScheduleDTO   `json:"schedule"`
	WeeklyTotals map[string]float64 `json:"weekly_totals"`
	Warnings     []string           `json:"warnings"`
	TotalHours   float64            `json:"total_hours"`
	WorkingDays  int                `json:"num_working_days"`
	NumJobs      int                `json:"num_jobs"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func f(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}

func toPeriodDTO(p projection.Period) PeriodDTO {
	return PeriodDTO{
		Key:         p.Key(),
		Year:        p.Year,
		Month:       int(p.Month),
		WorkingDays: p.WorkingDays,
		TotalHours:  f(p.TotalHours),
		IsLocked:    p.IsLocked,
	}
}

func toPreviewDTO(preview *projection.AllocationPreview) AllocationPreviewDTO {
	dto := AllocationPreviewDTO{
		PeriodKey:  preview.PeriodKey,
		Lines:      make([]AllocationLineDTO, len(preview.Lines)),
		TotalHours: f(preview.TotalHours),
		TotalCost:  f(preview.TotalCost),
	}
	for i, line := range preview.Lines {
		dto.Lines[i] = AllocationLineDTO{
			JobCode:        line.JobCode,
			ProjectID:      line.ProjectID,
			AllocatedHours: f(line.AllocatedHours),
			ProjectedCost:  f(line.ProjectedCost),
			WeightUsed:     f(line.WeightUsed),
		}
	}
	return dto
}

func toSnapshotDTO(s *projection.Snapshot) SnapshotDTO {
	dto := SnapshotDTO{
		ID:         s.ID,
		PeriodKey:  s.PeriodKey,
		Version:    s.Version,
		Name:       s.Name,
		Status:     string(s.Status),
		IsActive:   s.IsActive,
		HourlyRate: f(s.HourlyRate),
		TotalHours: f(s.TotalHours),
		TotalCost:  f(s.TotalCost),
		CreatedAt:  s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Entries:    make([]EntryDTO, len(s.Entries)),
	}
	if s.CommittedAt != nil {
		ts := s.CommittedAt.Format("2006-01-02T15:04:05Z07:00")
		dto.CommittedAt = &ts
	}
	for i, e := range s.Entries {
		entry := EntryDTO{
			ProjectID:       e.ProjectID,
			AllocatedHours:  f(e.AllocatedHours),
			ProjectedCost:   f(e.ProjectedCost),
			WeightUsed:      f(e.WeightUsed),
			RemainingBudget: f(e.RemainingBudget),
			Details:         make([]EntryDetailDTO, len(e.Details)),
		}
		for j, d := range e.Details {
			entry.Details[j] = EntryDetailDTO{
				JobCode:          d.JobCode,
				AllocatedHours:   f(d.AllocatedHours),
				ProjectedCost:    f(d.ProjectedCost),
				WeightUsed:       f(d.WeightUsed),
				IsManualOverride: d.IsManualOverride,
			}
		}
		dto.Entries[i] = entry
	}
	return dto
}

func toDistributionDTO(r *projection.DistributionResult) DistributionDTO {
	dto := DistributionDTO{
		PeriodLabel:  r.PeriodLabel,
		Schedule:     make([]DayScheduleDTO, len(r.Schedule)),
		WeeklyTotals: make(map[string]float64, len(r.WeeklyTotals)),
		Warnings:     r.Warnings,
		TotalHours:   f(r.TotalHours),
		WorkingDays:  r.WorkingDays,
		NumJobs:      r.NumJobs,
	}
	if dto.Warnings == nil {
		dto.Warnings = []string{}
	}
	for label, total := range r.WeeklyTotals {
		dto.WeeklyTotals[label] = f(total)
	}
	for i, day := range r.Schedule {
		d := DayScheduleDTO{
			Date:     day.Date.Format("2006-01-02"),
			Weekday:  day.Weekday,
			Entries:  make([]DayEntryDTO, len(day.Entries)),
			DayTotal: f(day.DayTotal),
		}
		for j, e := range day.Entries {
			d.Entries[j] = DayEntryDTO{JobCode: e.JobCode, ProjectID: e.ProjectID, Hours: f(e.Hours)}
		}
		dto.Schedule[i] = d
	}
	return dto
}
