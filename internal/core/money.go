// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing user-entered amounts and
// formatting whole-yen values for display.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts user input into a positive decimal amount.
//
// Surrounding whitespace is ignored. Signs, thousands separators and
// anything that is not a plain decimal number are rejected, as are zero
// and negative values.
//
// Examples:
//
//	ParseAmount("1000")   -> 1000, nil
//	ParseAmount(" 12.5 ") -> 12.5, nil
//	ParseAmount("0")      -> ErrInvalidAmount
//	ParseAmount("abc")    -> ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// RoundHalfUp rounds a non-negative amount to the whole currency unit.
func RoundHalfUp(d decimal.Decimal) decimal.Decimal {
	// decimal rounds half away from zero, which is half-up for d >= 0.
	return d.Round(0)
}

// FormatYen renders an amount as "¥1,234" (fractional part kept when present).
func FormatYen(d decimal.Decimal) string {
	neg := d.IsNegative()
	s := d.Abs().String()
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "¥" + b.String()
	if hasFrac {
		out += "." + frac
	}
	if neg {
		return "-" + out
	}
	return out
}
