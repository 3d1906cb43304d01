package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Unclassified labels expenses whose grouping field is empty.
const Unclassified = "unclassified"

// GroupKey selects the expense field a breakdown groups by.
type GroupKey string

const (
	ByMajorCategory GroupKey = "majorCategory"
	BySubCategory   GroupKey = "subCategory"
	ByPurpose       GroupKey = "purpose"
)

// GroupKeys lists the breakdowns in presentation order.
var GroupKeys = []GroupKey{ByMajorCategory, BySubCategory, ByPurpose}

// Slice is one group of a breakdown.
type Slice struct {
	Label string          `json:"label"`
	Total decimal.Decimal `json:"total"`
}

func ParseGroupKey(s string) (GroupKey, error) {
	for _, k := range GroupKeys {
		if string(k) == s {
			return k, nil
		}
	}
	return "", &ValidationError{Field: "key", Reason: fmt.Sprintf("unknown group key %q", s)}
}

func (k GroupKey) value(e Expense) string {
	switch k {
	case ByMajorCategory:
		return e.MajorCategory
	case BySubCategory:
		return e.SubCategory
	case ByPurpose:
		return string(e.Purpose)
	}
	return ""
}

// AggregateBy sums amounts per value of key. Groups appear in order of
// first occurrence, since chart colors are assigned by position.
func AggregateBy(expenses []Expense, key GroupKey) []Slice {
	out := []Slice{}
	pos := map[string]int{}
	for _, e := range expenses {
		label := key.value(e)
		if label == "" {
			label = Unclassified
		}
		i, ok := pos[label]
		if !ok {
			i = len(out)
			pos[label] = i
			out = append(out, Slice{Label: label, Total: decimal.Zero})
		}
		out[i].Total = out[i].Total.Add(e.Amount)
	}
	return out
}

// Total sums the amounts of expenses.
func Total(expenses []Expense) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range expenses {
		sum = sum.Add(e.Amount)
	}
	return sum
}
