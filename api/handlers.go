/*
handlers.go - HTTP API handlers for the hour projection engine

PURPOSE:
  Exposes the projection engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Ledger:
    GET    /api/projects               List project budget records
    PUT    /api/projects/{id}          Upsert a project record
    GET    /api/jobs                   List job budget lines
    PUT    /api/jobs/{code}            Upsert a job record

  Periods:
    GET    /api/periods                List projection periods
    POST   /api/periods                Create a period for {year, month}
    GET    /api/periods/{key}          Get one period (key = YYYY-MM)
    POST   /api/periods/{key}/sync     Reconcile inclusion list with ledger
    GET    /api/periods/{key}/inclusions   List inclusion toggles
    POST   /api/periods/{key}/inclusions   Toggle inclusions in bulk
    POST   /api/periods/{key}/lock     Lock the period
    POST   /api/periods/{key}/unlock   Unlock the period
    GET    /api/periods/{key}/calculate    Allocation preview (not persisted)
    GET    /api/periods/{key}/snapshots    List snapshot versions
    POST   /api/periods/{key}/snapshots    Freeze current preview as snapshot

  Snapshots:
    GET    /api/snapshots/{id}              Get snapshot with entries
    POST   /api/snapshots/{id}/activate     Mark as the working version
    POST   /api/snapshots/{id}/commit       Commit and lock the period
    POST   /api/snapshots/{id}/uncommit     Reverse a commit
    GET    /api/snapshots/{id}/distribution Day-level schedule

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (calculator, snapshot service, scheduler)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (locked period, duplicate, illegal transition)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/crewplan/projection-engine/projection"
	"github.com/crewplan/projection-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Settings projection.Settings

	periods   *projection.PeriodService
	snapshots *projection.SnapshotService
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, settings projection.Settings) *Handler {
	return &Handler{
		Store:     store,
		Settings:  settings,
		periods:   &projection.PeriodService{Store: store, Ledger: store},
		snapshots: &projection.SnapshotService{Periods: store, Snapshots: store},
	}
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ListProjects returns all project budget records.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list projects", err)
		return
	}

	dtos := make([]ProjectDTO, 0, len(projects))
	for _, p := range projects {
		dtos = append(dtos, ProjectDTO{
			ID:          p.ID,
			TotalBudget: f(p.TotalBudget),
			SpendToDate: f(p.SpendToDate),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertProject creates or replaces a project budget record.
func (h *Handler) UpsertProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ProjectDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record := projection.ProjectRecord{
		ID:          id,
		TotalBudget: decimal.NewFromFloat(req.TotalBudget),
		SpendToDate: decimal.NewFromFloat(req.SpendToDate),
	}
	if err := h.Store.SaveProject(r.Context(), record); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save project", err)
		return
	}
	req.ID = id
	writeJSON(w, http.StatusOK, req)
}

// ListJobs returns all job budget lines.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Store.ListJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list jobs", err)
		return
	}

	dtos := make([]JobDTO, len(jobs))
	for i, j := range jobs {
		dtos[i] = JobDTO{
			JobCode:           j.JobCode,
			ProjectID:         j.ProjectID,
			AllocatedBudget:   f(j.AllocatedBudget),
			WeightAdjustment:  f(j.WeightAdjustment),
			IsGMP:             j.IsGMP,
			Stage:             string(j.Stage),
			ProjectionEnabled: j.ProjectionEnabled,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertJob creates or replaces a job budget line.
func (h *Handler) UpsertJob(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req JobDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required", nil)
		return
	}
	if req.WeightAdjustment == 0 {
		req.WeightAdjustment = 1
	}

	record := projection.JobRecord{
		JobCode:           code,
		ProjectID:         req.ProjectID,
		AllocatedBudget:   decimal.NewFromFloat(req.AllocatedBudget),
		WeightAdjustment:  decimal.NewFromFloat(req.WeightAdjustment),
		IsGMP:             req.IsGMP,
		Stage:             projection.Stage(req.Stage),
		ProjectionEnabled: req.ProjectionEnabled,
	}
	if err := h.Store.SaveJob(r.Context(), record); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save job", err)
		return
	}
	req.JobCode = code
	writeJSON(w, http.StatusOK, req)
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// ListPeriods returns all projection periods.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Store.ListPeriods(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list periods", err)
		return
	}

	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toPeriodDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePeriod creates the projection period for one month and seeds its
// inclusion list from the ledger.
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req CreatePeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Month < 1 || req.Month > 12 {
		writeError(w, http.StatusBadRequest, "month must be between 1 and 12", nil)
		return
	}
	if req.Year < 2000 || req.Year > 2200 {
		writeError(w, http.StatusBadRequest, "year is out of range", nil)
		return
	}

	period, err := h.periods.CreatePeriod(r.Context(), req.Year, time.Month(req.Month))
	if err != nil {
		if errors.Is(err, projection.ErrDuplicatePeriod) {
			writeError(w, http.StatusConflict, "Period already exists", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create period", err)
		return
	}

	if _, err := h.periods.SyncEligibleJobs(r.Context(), *period); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed inclusions", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(*period))
}

// GetPeriod returns one period by key.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := h.loadPeriod(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(*period))
}

// SyncPeriod reconciles the period's inclusion list with the current ledger
// and returns the refreshed list.
func (h *Handler) SyncPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := h.loadPeriod(w, r)
	if !ok {
		return
	}

	inclusions, err := h.periods.SyncEligibleJobs(r.Context(), *period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to sync inclusions", err)
		return
	}
	writeJSON(w, http.StatusOK, toInclusionDTOs(inclusions))
}

// ListInclusions returns the period's per-job inclusion toggles.
func (h *Handler) ListInclusions(w http.ResponseWriter, r *http.Request) {
	period, ok := h.loadPeriod(w, r)
	if !ok {
		return
	}

	inclusions, err := h.Store.ListInclusions(r.Context(), period.Key())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list inclusions", err)
		return
	}
	writeJSON(w, http.StatusOK, toInclusionDTOs(inclusions))
}

// ToggleInclusions flips the inclusion flag for one or more jobs.
func (h *Handler) ToggleInclusions(w http.ResponseWriter, r *http.Request) {
	period, ok := h.loadPeriod(w, r)
	if !ok {
		return
	}

	var req ToggleInclusionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.JobCodes) == 0 {
		writeError(w, http.StatusBadRequest, "job_codes must not be empty", nil)
		return
	}

	if err := h.periods.ToggleInclusions(r.Context(), *period, req.JobCodes, req.Included); err != nil {
		if projection.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Job is not in this period", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to toggle inclusions", err)
		return
	}

	inclusions, err := h.Store.ListInclusions(r.Context(), period.Key())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list inclusions", err)
		return
	}
	writeJSON(w, http.StatusOK, toInclusionDTOs(inclusions))
}

// LockPeriod makes the period read-only.
func (h *Handler) LockPeriod(w http.ResponseWriter, r *http.Request) {
	h.setLock(w, r, true)
}

// UnlockPeriod reopens a locked period.
func (h *Handler) UnlockPeriod(w http.ResponseWriter, r *http.Request) {
	h.setLock(w, r, false)
}

func (h *Handler) setLock(w http.ResponseWriter, r *http.Request, locked bool) {
	period, ok := h.loadPeriod(w, r)
	if !ok {
		return
	}

	var err error
	if locked {
		err = h.periods.Lock(r.Context(), *period)
	} else {
		err = h.periods.Unlock(r.Context(), *period)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update period lock", err)
		return
	}

	period.IsLocked = locked
	writeJSON(w, http.StatusOK, toPeriodDTO(*period))
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// CalculateAllocation returns the budget-weighted hour preview for a period.
// Nothing is persisted; the client snapshots the result separately.
func (h *Handler) CalculateAllocation(w http.ResponseWriter, r *http.Request) {
	period, ok := h.loadPeriod(w, r)
	if !ok {
		return
	}

	preview, err := h.calculate(r, *period)
	if err != nil {
		if errors.Is(err, projection.ErrPeriodLocked) {
			writeError(w, http.StatusConflict, "Period is locked", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to calculate allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(preview))
}

// calculate reconciles the inclusion list with the ledger, assembles the
// included jobs and their project budgets, then runs the allocation
// calculator. The sync keeps jobs that dropped out of eligibility (terminal
// stage, projection flag off) from receiving hours through a stale
// inclusion record.
func (h *Handler) calculate(r *http.Request, period projection.Period) (*projection.AllocationPreview, error) {
	ctx := r.Context()

	var inclusions []projection.Inclusion
	var err error
	if period.IsLocked {
		// Locked periods refuse calculation without side effects; the
		// calculator below reports the error.
		inclusions, err = h.Store.ListInclusions(ctx, period.Key())
	} else {
		inclusions, err = h.periods.SyncEligibleJobs(ctx, period)
	}
	if err != nil {
		return nil, err
	}
	included := make(map[string]bool, len(inclusions))
	for _, inc := range inclusions {
		if inc.Included {
			included[inc.JobCode] = true
		}
	}

	allJobs, err := h.Store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]projection.JobRecord, 0, len(allJobs))
	for _, j := range allJobs {
		if included[j.JobCode] {
			jobs = append(jobs, j)
		}
	}

	projects, err := h.Store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	calc := &projection.Calculator{Settings: h.Settings}
	return calc.Calculate(period, jobs, projects)
}

// =============================================================================
// SNAPSHOT HANDLERS
// =============================================================================

// ListSnapshots returns all snapshot versions for a period, newest first.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	period, ok := h.loadPeriod(w, r)
	if !ok {
		return
	}

	snapshots, err := h.Store.ListSnapshots(r.Context(), period.Key())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list snapshots", err)
		return
	}

	dtos := make([]SnapshotDTO, len(snapshots))
	for i := range snapshots {
		dtos[i] = toSnapshotDTO(&snapshots[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSnapshot runs the calculation and freezes the result as the period's
// next snapshot version.
func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	period, ok := h.loadPeriod(w, r)
	if !ok {
		return
	}

	var req CreateSnapshotRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	preview, err := h.calculate(r, *period)
	if err != nil {
		if errors.Is(err, projection.ErrPeriodLocked) {
			writeError(w, http.StatusConflict, "Period is locked", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to calculate allocation", err)
		return
	}

	snap, err := h.snapshots.Create(r.Context(), projection.CreateSnapshotInput{
		Period:     *period,
		Name:       req.Name,
		HourlyRate: h.Settings.HourlyRate,
		TotalHours: preview.TotalHours,
		Entries:    projection.EntriesFromPreview(preview),
	})
	if err != nil {
		if errors.Is(err, projection.ErrPeriodLocked) {
			writeError(w, http.StatusConflict, "Period is locked", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSnapshotDTO(snap))
}

// GetSnapshot returns one snapshot with its full entry tree.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.Store.GetSnapshot(r.Context(), id)
	if err != nil {
		if projection.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Snapshot not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// ActivateSnapshot marks a draft snapshot as the period's working version.
func (h *Handler) ActivateSnapshot(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.snapshots.Activate)
}

// CommitSnapshot commits a draft snapshot, supersedes its siblings, and
// locks the period.
func (h *Handler) CommitSnapshot(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.snapshots.Commit)
}

// UncommitSnapshot reverses a commit: siblings return to draft and the
// period unlocks.
func (h *Handler) UncommitSnapshot(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.snapshots.Uncommit)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (*projection.Snapshot, error)) {
	id := chi.URLParam(r, "id")
	snap, err := op(r.Context(), id)
	if err != nil {
		switch {
		case projection.IsNotFound(err):
			writeError(w, http.StatusNotFound, "Snapshot not found", err)
		case projection.IsConflict(err):
			writeError(w, http.StatusConflict, "Transition not allowed", err)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to update snapshot", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// =============================================================================
// DISTRIBUTION HANDLERS
// =============================================================================

// GetDistribution spreads a snapshot's monthly hours across the period's
// working days and returns the day-level schedule.
func (h *Handler) GetDistribution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.Store.GetSnapshot(r.Context(), id)
	if err != nil {
		if projection.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Snapshot not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load snapshot", err)
		return
	}

	year, month, err := projection.ParsePeriodKey(snap.PeriodKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Malformed period key", err)
		return
	}
	period, err := h.Store.GetPeriod(r.Context(), year, int(month))
	if err != nil {
		if projection.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Period not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load period", err)
		return
	}

	scheduler := &projection.Scheduler{Settings: h.Settings}
	result := scheduler.Distribute(*period, snap)
	writeJSON(w, http.StatusOK, toDistributionDTO(result))
}

// =============================================================================
// HELPERS
// =============================================================================

// loadPeriod resolves the {key} URL parameter (YYYY-MM) to a stored period.
// Writes the error response itself; callers bail out when ok is false.
func (h *Handler) loadPeriod(w http.ResponseWriter, r *http.Request) (*projection.Period, bool) {
	key := chi.URLParam(r, "key")

	year, month, err := projection.ParsePeriodKey(key)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Period key must look like 2026-03", err)
		return nil, false
	}

	period, err := h.Store.GetPeriod(r.Context(), year, int(month))
	if err != nil {
		if projection.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Period not found", err)
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to load period", err)
		return nil, false
	}
	return period, true
}

func toInclusionDTOs(inclusions []projection.Inclusion) []InclusionDTO {
	dtos := make([]InclusionDTO, len(inclusions))
	for i, inc := range inclusions {
		dtos[i] = InclusionDTO{JobCode: inc.JobCode, Included: inc.Included}
	}
	return dtos
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
