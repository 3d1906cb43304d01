package core

import (
	"fmt"
	"slices"
	"time"
)

// Period is an inclusive range of calendar months, months 1-12.
type Period struct {
	StartYear  int `json:"startYear"`
	StartMonth int `json:"startMonth"`
	EndYear    int `json:"endYear"`
	EndMonth   int `json:"endMonth"`
}

// CurrentMonth is the default inquiry period.
func CurrentMonth(now time.Time) Period {
	return Period{StartYear: now.Year(), StartMonth: int(now.Month()), EndYear: now.Year(), EndMonth: int(now.Month())}
}

// CalendarYear is the default history period: January to December of now's year.
func CalendarYear(now time.Time) Period {
	return Period{StartYear: now.Year(), StartMonth: 1, EndYear: now.Year(), EndMonth: 12}
}

func (p Period) Validate() error {
	if p.StartMonth < 1 || p.StartMonth > 12 {
		return &ValidationError{Field: "startMonth", Reason: fmt.Sprintf("month %d out of range 1-12", p.StartMonth)}
	}
	if p.EndMonth < 1 || p.EndMonth > 12 {
		return &ValidationError{Field: "endMonth", Reason: fmt.Sprintf("month %d out of range 1-12", p.EndMonth)}
	}
	return nil
}

// Start is the first day of the start month.
func (p Period) Start() Date {
	return NewDate(p.StartYear, p.StartMonth, 1)
}

// End is the last day of the end month.
func (p Period) End() Date {
	return Date{Time: NewDate(p.EndYear, p.EndMonth, 1).AddDate(0, 1, -1)}
}

// StartsAfterEnd reports whether the start month lies after the end month.
func (p Period) StartsAfterEnd() bool {
	return p.StartYear > p.EndYear || (p.StartYear == p.EndYear && p.StartMonth > p.EndMonth)
}

// Clamp moves the end up to the start when the start lies after it.
// This is the period-selection boundary rule; FilterByPeriod does not apply it.
func (p Period) Clamp() Period {
	if p.StartsAfterEnd() {
		p.EndYear, p.EndMonth = p.StartYear, p.StartMonth
	}
	return p
}

// WithStart changes the start month, dragging the end along when needed.
func (p Period) WithStart(year, month int) Period {
	p.StartYear, p.StartMonth = year, month
	return p.Clamp()
}

// Contains reports whether d lies within the period, by calendar day.
func (p Period) Contains(d Date) bool {
	day := NewDate(d.Year(), int(d.Month()), d.Day())
	return !day.Before(p.Start().Time) && !day.After(p.End().Time)
}

// FilterByPeriod returns the expenses dated within p, in input order.
func FilterByPeriod(expenses []Expense, p Period) []Expense {
	out := make([]Expense, 0, len(expenses))
	for _, e := range expenses {
		if p.Contains(e.Date) {
			out = append(out, e)
		}
	}
	return out
}

// AvailableYears lists the years offered by a period selector: every
// expense year plus the current one, most recent first.
func AvailableYears(expenses []Expense, now time.Time) []int {
	seen := map[int]struct{}{now.Year(): {}}
	years := []int{now.Year()}
	for _, e := range expenses {
		if e.Date.IsZero() {
			continue
		}
		y := e.Date.Year()
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		years = append(years, y)
	}
	slices.SortFunc(years, func(a, b int) int { return b - a })
	return years
}
