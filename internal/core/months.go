package core

import (
	"fmt"
	"slices"
	"time"
)

// MonthKeyLayout is the YYYY-MM form of a settlement month key.
const MonthKeyLayout = "2006-01"

// SettlementStatus maps a YYYY-MM key to its settled flag. A missing key means unsettled.
type SettlementStatus map[string]bool

// ParseMonthKey validates a YYYY-MM key and returns it normalized.
func ParseMonthKey(s string) (string, error) {
	t, err := time.Parse(MonthKeyLayout, s)
	if err != nil {
		return "", &ValidationError{Field: "month", Reason: fmt.Sprintf("%q is not YYYY-MM", s)}
	}
	return t.Format(MonthKeyLayout), nil
}

// MonthsWithExpenses returns the distinct month keys present in expenses.
func MonthsWithExpenses(expenses []Expense) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, e := range expenses {
		if e.Date.IsZero() {
			continue
		}
		k := e.Date.MonthKey()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// UnsettledMonths returns the months holding expenses that have no settled
// flag, most recent first. Pass the full, unfiltered expense list.
func UnsettledMonths(expenses []Expense, status SettlementStatus) []string {
	out := []string{}
	for _, k := range MonthsWithExpenses(expenses) {
		if !status[k] {
			out = append(out, k)
		}
	}
	// YYYY-MM sorts lexically in calendar order.
	slices.Sort(out)
	slices.Reverse(out)
	return out
}
