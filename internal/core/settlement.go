package core

import (
	"github.com/shopspring/decimal"
)

// Settlement is the transfer that equalizes shared spending over a set of expenses.
type Settlement struct {
	// From pays To Amount. Both are empty when nothing is owed.
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	Amount decimal.Decimal `json:"amount"`

	// AOwesB and BOwesA are the unrounded gross sums; Net is their signed difference.
	AOwesB decimal.Decimal `json:"aOwesB"`
	BOwesA decimal.Decimal `json:"bOwesA"`
	Net    decimal.Decimal `json:"net"`
}

// Settled reports whether no transfer is needed.
func (s Settlement) Settled() bool {
	return s.Amount.IsZero()
}

// Message renders the settlement for display, e.g. "真那実さん owes 久喜さん ¥500".
func (s Settlement) Message() string {
	if s.Settled() {
		return "settled"
	}
	return s.From + " owes " + s.To + " " + FormatYen(s.Amount)
}

var ratioDenominator = decimal.NewFromInt(MaxRatio)

// Settle computes the net amount owed between the parties.
//
// Ratio is A's share out of 10: when B paid, A owes amount*ratio/10; when A
// paid, B owes amount*(10-ratio)/10. Expenses paid by anyone else are
// ignored. Rounding (half-up, whole units) is applied once, to the net.
func Settle(expenses []Expense, parties Parties) Settlement {
	aOwesB, bOwesA := decimal.Zero, decimal.Zero
	for _, e := range expenses {
		switch e.Payer {
		case parties.B:
			aOwesB = aOwesB.Add(e.Amount.Mul(decimal.NewFromInt(int64(e.Ratio))))
		case parties.A:
			bOwesA = bOwesA.Add(e.Amount.Mul(decimal.NewFromInt(int64(MaxRatio - e.Ratio))))
		}
	}
	aOwesB = aOwesB.Div(ratioDenominator)
	bOwesA = bOwesA.Div(ratioDenominator)

	s := Settlement{
		Amount: decimal.Zero,
		AOwesB: aOwesB,
		BOwesA: bOwesA,
		Net:    aOwesB.Sub(bOwesA),
	}
	amount := RoundHalfUp(s.Net.Abs())
	if amount.IsZero() {
		return s
	}
	s.Amount = amount
	if s.Net.IsPositive() {
		s.From, s.To = parties.A, parties.B
	} else {
		s.From, s.To = parties.B, parties.A
	}
	return s
}
