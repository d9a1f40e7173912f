package core

import (
	"fmt"
	"time"
)

// Period identifies a calendar month.
type Period struct {
	Month int
	Year  int
}

// PeriodForRound maps a 1-based round onto the calendar, starting at startMonth/startYear.
func PeriodForRound(startYear, startMonth, round int) Period {
	t := time.Date(startYear, time.Month(startMonth), 1, 0, 0, 0, 0, time.UTC).AddDate(0, round-1, 0)
	return Period{Month: int(t.Month()), Year: t.Year()}
}

func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return ErrInvalidMonth
	}
	if p.Year < 2000 || p.Year > 2100 {
		return ErrInvalidYear
	}
	return nil
}

func (p Period) Equal(o Period) bool {
	return p.Month == o.Month && p.Year == o.Year
}

// Start returns the first instant of the period in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// String formats the period as MM/YYYY.
func (p Period) String() string {
	return fmt.Sprintf("%02d/%04d", p.Month, p.Year)
}
