package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage form of an expense date.
const DateLayout = "2006-01-02"

// MaxRatio is the denominator of the cost-sharing ratio.
const MaxRatio = 10

type (
	// Date is a calendar day. The time component is always midnight UTC.
	Date struct {
		time.Time
	}

	// Parties names the two fixed identities sharing the ledger.
	// B is the default payer of a fresh form; Ratio is A's share out of MaxRatio.
	Parties struct {
		A string `json:"a"`
		B string `json:"b"`
	}

	Expense struct {
		ID            string          `json:"id"`
		Payer         string          `json:"payer"`
		Date          Date            `json:"date"`
		Item          string          `json:"item"`
		Amount        decimal.Decimal `json:"amount"`
		Ratio         int             `json:"ratio"`
		MajorCategory string          `json:"majorCategory"`
		SubCategory   string          `json:"subCategory"`
		Purpose       Purpose         `json:"purpose"`
		CreatedAt     time.Time       `json:"createdAt"`
	}
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError reports user input that must be corrected before it reaches the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var (
	ErrEmptyDate       = &ValidationError{Field: "date", Reason: "date is required"}
	ErrEmptyItem       = &ValidationError{Field: "item", Reason: "item is required"}
	ErrItemTooLong     = &ValidationError{Field: "item", Reason: "item too long (max 200 characters)"}
	ErrInvalidAmount   = &ValidationError{Field: "amount", Reason: "amount must be a number greater than 0"}
	ErrInvalidRatio    = &ValidationError{Field: "ratio", Reason: "ratio must be between 0 and 10"}
	ErrUnknownPayer    = &ValidationError{Field: "payer", Reason: "payer is not one of the two parties"}
	ErrUnknownCategory = &ValidationError{Field: "subCategory", Reason: "category pair is not in the taxonomy"}
)

// DefaultParties returns the two identities the ledger was built for.
func DefaultParties() Parties {
	return Parties{A: "真那実さん", B: "久喜さん"}
}

// Contains reports whether name is one of the two parties.
func (p Parties) Contains(name string) bool {
	return name != "" && (name == p.A || name == p.B)
}

// Names returns the parties in form order (default payer first).
func (p Parties) Names() []string {
	return []string{p.B, p.A}
}

func (p Parties) Validate() error {
	if strings.TrimSpace(p.A) == "" || strings.TrimSpace(p.B) == "" {
		return errors.New("both parties must be named")
	}
	if p.A == p.B {
		return errors.New("parties must be distinct")
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate reads a YYYY-MM-DD string as that literal calendar day, independent of the local zone.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, ErrEmptyDate
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: "expected YYYY-MM-DD"}
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// MonthKey returns the YYYY-MM key the settlement status is stored under.
func (d Date) MonthKey() string {
	return d.Format(MonthKeyLayout)
}

// MarshalText and the JSON pair below shadow the promoted time.Time methods
// so a Date travels as YYYY-MM-DD.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	return d.UnmarshalText([]byte(s))
}

// Validate checks the record-level invariants. Membership of payer and
// category pair is checked by NewExpense, which knows parties and taxonomy.
func (e Expense) Validate() error {
	if e.Date.IsZero() {
		return ErrEmptyDate
	}
	item := strings.TrimSpace(e.Item)
	if item == "" {
		return ErrEmptyItem
	}
	if len([]rune(item)) > 200 {
		return ErrItemTooLong
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if e.Ratio < 0 || e.Ratio > MaxRatio {
		return ErrInvalidRatio
	}
	if strings.TrimSpace(e.MajorCategory) == "" || strings.TrimSpace(e.SubCategory) == "" {
		return ErrUnknownCategory
	}
	return nil
}

// ExpenseInput is the user-submitted part of an expense; the purpose is
// never taken from input, it is derived from the taxonomy.
type ExpenseInput struct {
	Payer         string
	Date          string
	Item          string
	Amount        string
	Ratio         int
	MajorCategory string
	SubCategory   string
}

// NewExpense validates the input and snapshots the taxonomy purpose onto the record.
func NewExpense(in ExpenseInput, parties Parties, tax *Taxonomy) (Expense, error) {
	if strings.TrimSpace(in.Item) == "" {
		return Expense{}, ErrEmptyItem
	}
	date, err := ParseDate(in.Date)
	if err != nil {
		return Expense{}, err
	}
	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return Expense{}, err
	}
	if !parties.Contains(in.Payer) {
		return Expense{}, ErrUnknownPayer
	}
	purpose, ok := tax.PurposeOf(in.MajorCategory, in.SubCategory)
	if !ok {
		return Expense{}, ErrUnknownCategory
	}
	e := Expense{
		Payer:         in.Payer,
		Date:          date,
		Item:          strings.TrimSpace(in.Item),
		Amount:        amount,
		Ratio:         in.Ratio,
		MajorCategory: in.MajorCategory,
		SubCategory:   in.SubCategory,
		Purpose:       purpose,
	}
	if err := e.Validate(); err != nil {
		return Expense{}, err
	}
	return e, nil
}
