package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func sample() []Expense {
	mk := func(amount string, major, sub string, p Purpose) Expense {
		return Expense{Amount: decimal.RequireFromString(amount), MajorCategory: major, SubCategory: sub, Purpose: p}
	}
	return []Expense{
		mk("1200", "食費", "外食", PurposeWaste),
		mk("3000", "日用品", "掃除", PurposeConsumption),
		mk("800.5", "食費", "食材", PurposeConsumption),
		mk("500", "", "", ""),
		mk("2000", "娯楽", "交通費", PurposeWaste),
	}
}

func TestAggregateByKeepsFirstOccurrenceOrder(t *testing.T) {
	got := AggregateBy(sample(), ByMajorCategory)
	want := []Slice{
		{Label: "食費", Total: decimal.RequireFromString("2000.5")},
		{Label: "日用品", Total: decimal.NewFromInt(3000)},
		{Label: Unclassified, Total: decimal.NewFromInt(500)},
		{Label: "娯楽", Total: decimal.NewFromInt(2000)},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d groups, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Label != want[i].Label || !got[i].Total.Equal(want[i].Total) {
			t.Fatalf("group %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestAggregateByPurpose(t *testing.T) {
	got := AggregateBy(sample(), ByPurpose)
	labels := []string{}
	for _, s := range got {
		labels = append(labels, s.Label)
	}
	want := []string{string(PurposeWaste), string(PurposeConsumption), Unclassified}
	if len(labels) != len(want) {
		t.Fatalf("labels = %v", labels)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("labels = %v, want %v", labels, want)
		}
	}
	if !got[0].Total.Equal(decimal.NewFromInt(3200)) {
		t.Fatalf("waste total = %s", got[0].Total)
	}
}

func TestAggregateTotalsMatchGrandTotal(t *testing.T) {
	expenses := sample()
	grand := Total(expenses)
	for _, key := range GroupKeys {
		sum := decimal.Zero
		for _, s := range AggregateBy(expenses, key) {
			sum = sum.Add(s.Total)
		}
		if !sum.Equal(grand) {
			t.Fatalf("%s: groups sum to %s, grand total %s", key, sum, grand)
		}
	}
}

func TestAggregateEmpty(t *testing.T) {
	got := AggregateBy(nil, BySubCategory)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", got)
	}
}

func TestParseGroupKey(t *testing.T) {
	for _, k := range GroupKeys {
		got, err := ParseGroupKey(string(k))
		if err != nil || got != k {
			t.Fatalf("ParseGroupKey(%s) = %s, %v", k, got, err)
		}
	}
	if _, err := ParseGroupKey("payer"); err == nil {
		t.Fatalf("expected error for unsupported key")
	}
}
