package projection

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERIOD - One calendar month's projection cycle
// =============================================================================

// Period represents one month of projection. WorkingDays counts Monday
// through Thursday dates (the business runs 4x10 compressed weeks), so
// TotalHours = WorkingDays * 10. Day-level distribution later spreads those
// hours across the Monday-Friday grid; the asymmetry is intentional and
// mirrors the timekeeping system this feeds.
type Period struct {
	Year        int
	Month       time.Month
	WorkingDays int
	TotalHours  decimal.Decimal
	IsLocked    bool
}

// NewPeriod builds the period for (year, month) with its derived hour total.
func NewPeriod(year int, month time.Month) Period {
	wd := CountWorkdays(year, month, time.Monday, time.Thursday)
	return Period{
		Year:        year,
		Month:       month,
		WorkingDays: wd,
		TotalHours:  decimal.NewFromInt(int64(wd)).Mul(ten),
	}
}

// Key returns the period's stable identifier, e.g. "2026-02".
func (p Period) Key() string {
	return PeriodKey(p.Year, p.Month)
}

// PeriodKey formats a (year, month) pair as "YYYY-MM".
func PeriodKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

// ParsePeriodKey is the inverse of PeriodKey.
func ParsePeriodKey(key string) (int, time.Month, error) {
	var year, month int
	if _, err := fmt.Sscanf(key, "%d-%d", &year, &month); err != nil {
		return 0, 0, fmt.Errorf("malformed period key %q: %w", key, err)
	}
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("malformed period key %q: month out of range", key)
	}
	return year, time.Month(month), nil
}

// ScheduleDates returns every Monday-Friday date of the period's month in
// calendar order. This is the grid the distribution scheduler fills.
func (p Period) ScheduleDates() []time.Time {
	return MonthWeekdays(p.Year, p.Month)
}

// CountWorkdays counts the dates in (year, month) whose weekday falls in
// [from, to], where from and to are weekdays with from <= to in Go's
// Sunday-based ordering (e.g. Monday..Thursday).
func CountWorkdays(year int, month time.Month, from, to time.Weekday) int {
	count := 0
	for d := firstOfMonth(year, month); d.Month() == month; d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd >= from && wd <= to {
			count++
		}
	}
	return count
}

// MonthWeekdays returns all Monday-Friday dates of the month, in order.
func MonthWeekdays(year int, month time.Month) []time.Time {
	var days []time.Time
	for d := firstOfMonth(year, month); d.Month() == month; d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd >= time.Monday && wd <= time.Friday {
			days = append(days, d)
		}
	}
	return days
}

func firstOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// ISOWeekLabel formats a date's ISO week as "YYYY-Www", e.g. "2026-W07".
// Used as the weekly-totals map key in distribution output.
func ISOWeekLabel(d time.Time) string {
	year, week := d.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}
