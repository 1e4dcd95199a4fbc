/*
Package sqlite provides a SQLite-backed implementation of the projection
storage interfaces.

PURPOSE:
  Implements projection.PeriodStore, projection.SnapshotStore, and
  projection.LedgerGateway using SQLite. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  periods:                one row per (year, month) projection cycle
  period_inclusions:      per-period job eligibility toggles
  snapshots:              versioned allocation snapshots
  snapshot_entries:       project-level lines, owned by their snapshot
  snapshot_entry_details: job-level lines, owned by their entry
  jobs / projects:        the budget ledger the engine reads

INVARIANTS ENFORCED IN SCHEMA:
  - UNIQUE(year, month) on periods: one cycle per month
  - UNIQUE(period_key, version) on snapshots: versions never collide
  - partial UNIQUE(period_key) WHERE status='committed': the database itself
    refuses a second committed snapshot per period

DECIMAL STORAGE:
  All money and hour values are stored as TEXT and round-tripped through
  shopspring/decimal, so nothing is ever coerced through float64.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, one writer at
  a time, better crash recovery.

USAGE:
  st, err := sqlite.New("./data/projection.db")  // ":memory:" for tests
  if err != nil { log.Fatal(err) }
  defer st.Close()

SEE ALSO:
  - projection/store.go: interface definitions
  - projection/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/crewplan/projection-engine/projection"
)

// Store implements the projection storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite store at dbPath. Use ":memory:" for an in-memory
// database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS periods (
		key TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		working_days INTEGER NOT NULL,
		total_hours TEXT NOT NULL,
		is_locked BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE(year, month)
	);

	CREATE TABLE IF NOT EXISTS period_inclusions (
		period_key TEXT NOT NULL REFERENCES periods(key),
		job_code TEXT NOT NULL,
		included BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (period_key, job_code)
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		period_key TEXT NOT NULL REFERENCES periods(key),
		version INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		hourly_rate TEXT NOT NULL,
		total_hours TEXT NOT NULL,
		total_cost TEXT NOT NULL,
		created_at TEXT NOT NULL,
		committed_at TEXT,
		UNIQUE(period_key, version)
	);

	-- The database itself enforces single-committed-snapshot-per-period.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_one_committed
		ON snapshots(period_key) WHERE status = 'committed';

	CREATE INDEX IF NOT EXISTS idx_snapshots_period
		ON snapshots(period_key, version);

	CREATE TABLE IF NOT EXISTS snapshot_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		project_id TEXT NOT NULL,
		allocated_hours TEXT NOT NULL,
		projected_cost TEXT NOT NULL,
		weight_used TEXT NOT NULL,
		remaining_budget TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_snapshot
		ON snapshot_entries(snapshot_id, position);
	CREATE INDEX IF NOT EXISTS idx_entries_project
		ON snapshot_entries(project_id);

	CREATE TABLE IF NOT EXISTS snapshot_entry_details (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id INTEGER NOT NULL REFERENCES snapshot_entries(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		job_code TEXT NOT NULL,
		allocated_hours TEXT NOT NULL,
		projected_cost TEXT NOT NULL,
		weight_used TEXT NOT NULL,
		is_manual_override BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_details_entry
		ON snapshot_entry_details(entry_id, position);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		total_budget TEXT NOT NULL,
		spend_to_date TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		job_code TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		allocated_budget TEXT NOT NULL,
		weight_adjustment TEXT NOT NULL,
		is_gmp BOOLEAN NOT NULL DEFAULT FALSE,
		stage TEXT NOT NULL,
		projection_enabled BOOLEAN NOT NULL DEFAULT TRUE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PERIOD STORE
// =============================================================================

func (s *Store) CreatePeriod(ctx context.Context, p projection.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO periods (key, year, month, working_days, total_hours, is_locked)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Key(), p.Year, int(p.Month), p.WorkingDays, p.TotalHours.String(), p.IsLocked)
	if err != nil {
		if isUniqueViolation(err) {
			return projection.ErrDuplicatePeriod
		}
		return err
	}
	return nil
}

func (s *Store) GetPeriod(ctx context.Context, year int, month int) (*projection.Period, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT year, month, working_days, total_hours, is_locked
		FROM periods WHERE year = ? AND month = ?`, year, month)

	var p projection.Period
	var m int
	var totalHours string
	if err := row.Scan(&p.Year, &m, &p.WorkingDays, &totalHours, &p.IsLocked); err != nil {
		if err == sql.ErrNoRows {
			return nil, &projection.NotFoundError{Kind: "period", Key: projection.PeriodKey(year, time.Month(month))}
		}
		return nil, err
	}
	p.Month = time.Month(m)
	p.TotalHours = mustDecimal(totalHours)
	return &p, nil
}

func (s *Store) ListPeriods(ctx context.Context) ([]projection.Period, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT year, month, working_days, total_hours, is_locked
		FROM periods ORDER BY year, month`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []projection.Period
	for rows.Next() {
		var p projection.Period
		var m int
		var totalHours string
		if err := rows.Scan(&p.Year, &m, &p.WorkingDays, &totalHours, &p.IsLocked); err != nil {
			return nil, err
		}
		p.Month = time.Month(m)
		p.TotalHours = mustDecimal(totalHours)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SetPeriodLock(ctx context.Context, periodKey string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE periods SET is_locked = ? WHERE key = ?`, locked, periodKey)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &projection.NotFoundError{Kind: "period", Key: periodKey}
	}
	return nil
}

func (s *Store) ListInclusions(ctx context.Context, periodKey string) ([]projection.Inclusion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period_key, job_code, included
		FROM period_inclusions WHERE period_key = ? ORDER BY job_code`, periodKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []projection.Inclusion
	for rows.Next() {
		var inc projection.Inclusion
		if err := rows.Scan(&inc.PeriodKey, &inc.JobCode, &inc.Included); err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (s *Store) SaveInclusion(ctx context.Context, inc projection.Inclusion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO period_inclusions (period_key, job_code, included)
		VALUES (?, ?, ?)
		ON CONFLICT(period_key, job_code) DO UPDATE SET included = excluded.included`,
		inc.PeriodKey, inc.JobCode, inc.Included)
	return err
}

func (s *Store) DeleteInclusion(ctx context.Context, periodKey, jobCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM period_inclusions WHERE period_key = ? AND job_code = ?`,
		periodKey, jobCode)
	return err
}

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

func (s *Store) SaveSnapshot(ctx context.Context, snap *projection.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var committedAt any
	if snap.CommittedAt != nil {
		committedAt = snap.CommittedAt.Format(time.RFC3339)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots
			(id, period_key, version, name, status, is_active, hourly_rate,
			 total_hours, total_cost, created_at, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.PeriodKey, snap.Version, snap.Name, string(snap.Status),
		snap.IsActive, snap.HourlyRate.String(), snap.TotalHours.String(),
		snap.TotalCost.String(), snap.CreatedAt.Format(time.RFC3339), committedAt)
	if err != nil {
		if isCommittedIndexViolation(err) {
			return projection.ErrAlreadyCommitted
		}
		return err
	}

	for ei, e := range snap.Entries {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_entries
				(snapshot_id, position, project_id, allocated_hours,
				 projected_cost, weight_used, remaining_budget)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, ei, e.ProjectID, e.AllocatedHours.String(),
			e.ProjectedCost.String(), e.WeightUsed.String(), e.RemainingBudget.String())
		if err != nil {
			return err
		}
		entryID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for di, d := range e.Details {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO snapshot_entry_details
					(entry_id, position, job_code, allocated_hours,
					 projected_cost, weight_used, is_manual_override)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				entryID, di, d.JobCode, d.AllocatedHours.String(),
				d.ProjectedCost.String(), d.WeightUsed.String(), d.IsManualOverride)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*projection.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, period_key, version, name, status, is_active, hourly_rate,
		       total_hours, total_cost, created_at, committed_at
		FROM snapshots WHERE id = ?`, id)

	snap, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &projection.NotFoundError{Kind: "snapshot", Key: id}
		}
		return nil, err
	}
	if err := s.loadEntries(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) ListSnapshots(ctx context.Context, periodKey string) ([]projection.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, period_key, version, name, status, is_active, hourly_rate,
		       total_hours, total_cost, created_at, committed_at
		FROM snapshots WHERE period_key = ? ORDER BY version DESC`, periodKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []projection.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadEntries(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) UpdateSnapshotState(ctx context.Context, snap *projection.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var committedAt any
	if snap.CommittedAt != nil {
		committedAt = snap.CommittedAt.Format(time.RFC3339)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE snapshots SET status = ?, is_active = ?, committed_at = ?
		WHERE id = ?`,
		string(snap.Status), snap.IsActive, committedAt, snap.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return projection.ErrAlreadyCommitted
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &projection.NotFoundError{Kind: "snapshot", Key: snap.ID}
	}
	return nil
}

func (s *Store) HasCommittedForProject(ctx context.Context, projectID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM snapshots sn
		JOIN snapshot_entries se ON se.snapshot_id = sn.id
		WHERE sn.status = 'committed' AND se.project_id = ?`, projectID)

	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(r rowScanner) (*projection.Snapshot, error) {
	var snap projection.Snapshot
	var status, hourlyRate, totalHours, totalCost, createdAt string
	var committedAt sql.NullString

	err := r.Scan(&snap.ID, &snap.PeriodKey, &snap.Version, &snap.Name, &status,
		&snap.IsActive, &hourlyRate, &totalHours, &totalCost, &createdAt, &committedAt)
	if err != nil {
		return nil, err
	}

	snap.Status = projection.SnapshotStatus(status)
	snap.HourlyRate = mustDecimal(hourlyRate)
	snap.TotalHours = mustDecimal(totalHours)
	snap.TotalCost = mustDecimal(totalCost)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		snap.CreatedAt = t
	}
	if committedAt.Valid {
		if t, err := time.Parse(time.RFC3339, committedAt.String); err == nil {
			snap.CommittedAt = &t
		}
	}
	return &snap, nil
}

func (s *Store) loadEntries(ctx context.Context, snap *projection.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, allocated_hours, projected_cost, weight_used, remaining_budget
		FROM snapshot_entries WHERE snapshot_id = ? ORDER BY position`, snap.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var entryIDs []int64
	for rows.Next() {
		var e projection.Entry
		var entryID int64
		var hours, cost, weight, remaining string
		if err := rows.Scan(&entryID, &e.ProjectID, &hours, &cost, &weight, &remaining); err != nil {
			return err
		}
		e.AllocatedHours = mustDecimal(hours)
		e.ProjectedCost = mustDecimal(cost)
		e.WeightUsed = mustDecimal(weight)
		e.RemainingBudget = mustDecimal(remaining)
		snap.Entries = append(snap.Entries, e)
		entryIDs = append(entryIDs, entryID)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i, entryID := range entryIDs {
		drows, err := s.db.QueryContext(ctx, `
			SELECT job_code, allocated_hours, projected_cost, weight_used, is_manual_override
			FROM snapshot_entry_details WHERE entry_id = ? ORDER BY position`, entryID)
		if err != nil {
			return err
		}
		for drows.Next() {
			var d projection.EntryDetail
			var hours, cost, weight string
			if err := drows.Scan(&d.JobCode, &hours, &cost, &weight, &d.IsManualOverride); err != nil {
				drows.Close()
				return err
			}
			d.AllocatedHours = mustDecimal(hours)
			d.ProjectedCost = mustDecimal(cost)
			d.WeightUsed = mustDecimal(weight)
			snap.Entries[i].Details = append(snap.Entries[i].Details, d)
		}
		if err := drows.Err(); err != nil {
			drows.Close()
			return err
		}
		drows.Close()
	}
	return nil
}

// =============================================================================
// LEDGER GATEWAY - Job and project budget records
// =============================================================================

func (s *Store) SaveProject(ctx context.Context, p projection.ProjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, total_budget, spend_to_date)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_budget = excluded.total_budget,
			spend_to_date = excluded.spend_to_date`,
		p.ID, p.TotalBudget.String(), p.SpendToDate.String())
	return err
}

func (s *Store) SaveJob(ctx context.Context, j projection.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs
			(job_code, project_id, allocated_budget, weight_adjustment,
			 is_gmp, stage, projection_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_code) DO UPDATE SET
			project_id = excluded.project_id,
			allocated_budget = excluded.allocated_budget,
			weight_adjustment = excluded.weight_adjustment,
			is_gmp = excluded.is_gmp,
			stage = excluded.stage,
			projection_enabled = excluded.projection_enabled`,
		j.JobCode, j.ProjectID, j.AllocatedBudget.String(), j.WeightAdjustment.String(),
		j.IsGMP, string(j.Stage), j.ProjectionEnabled)
	return err
}

func (s *Store) ListJobs(ctx context.Context) ([]projection.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_code, project_id, allocated_budget, weight_adjustment,
		       is_gmp, stage, projection_enabled
		FROM jobs ORDER BY job_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []projection.JobRecord
	for rows.Next() {
		var j projection.JobRecord
		var budget, weight, stage string
		if err := rows.Scan(&j.JobCode, &j.ProjectID, &budget, &weight,
			&j.IsGMP, &stage, &j.ProjectionEnabled); err != nil {
			return nil, err
		}
		j.AllocatedBudget = mustDecimal(budget)
		j.WeightAdjustment = mustDecimal(weight)
		j.Stage = projection.Stage(stage)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id string) (*projection.ProjectRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, total_budget, spend_to_date FROM projects WHERE id = ?`, id)

	var p projection.ProjectRecord
	var total, spend string
	if err := row.Scan(&p.ID, &total, &spend); err != nil {
		if err == sql.ErrNoRows {
			return nil, &projection.NotFoundError{Kind: "project", Key: id}
		}
		return nil, err
	}
	p.TotalBudget = mustDecimal(total)
	p.SpendToDate = mustDecimal(spend)
	return &p, nil
}

// ListProjects returns every project record, keyed for the calculator.
func (s *Store) ListProjects(ctx context.Context) (map[string]projection.ProjectRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, total_budget, spend_to_date FROM projects`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]projection.ProjectRecord)
	for rows.Next() {
		var p projection.ProjectRecord
		var total, spend string
		if err := rows.Scan(&p.ID, &total, &spend); err != nil {
			return nil, err
		}
		p.TotalBudget = mustDecimal(total)
		p.SpendToDate = mustDecimal(spend)
		out[p.ID] = p
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueViolation(err error) bool {
	// go-sqlite3 reports constraint violations in the error text; matching on
	// it avoids importing the driver's error types everywhere.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isCommittedIndexViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "idx_snapshots_one_committed")
}
