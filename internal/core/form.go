package core

import (
	"strconv"
	"strings"
	"time"
)

// FormField names the input a FormAction changes.
type FormField string

const (
	FieldPayer         FormField = "payer"
	FieldDate          FormField = "date"
	FieldItem          FormField = "item"
	FieldAmount        FormField = "amount"
	FieldRatio         FormField = "ratio"
	FieldMajorCategory FormField = "majorCategory"
	FieldSubCategory   FormField = "subCategory"
	FieldReset         FormField = "reset"
)

// DefaultRatio splits an expense evenly.
const DefaultRatio = 5

type (
	// FormState is the expense input form. Amount is kept as typed text until submission.
	FormState struct {
		Payer         string  `json:"payer"`
		Date          string  `json:"date"`
		Item          string  `json:"item"`
		Amount        string  `json:"amount"`
		Ratio         int     `json:"ratio"`
		MajorCategory string  `json:"majorCategory"`
		SubCategory   string  `json:"subCategory"`
		Purpose       Purpose `json:"purpose"`
	}

	FormAction struct {
		Field FormField `json:"field"`
		Value string    `json:"value"`
	}
)

// DefaultFormState is the blank form: default payer, today, even split,
// first major category with its first subcategory.
func (t *Taxonomy) DefaultFormState(parties Parties, today time.Time) FormState {
	s := FormState{
		Payer: parties.B,
		Date:  today.Format(DateLayout),
		Ratio: DefaultRatio,
	}
	if majors := t.Majors(); len(majors) > 0 {
		s = t.selectMajor(s, majors[0])
	}
	return s
}

// Reduce applies one action to the form state and returns the new state.
// Changing the major category resets the subcategory to the first entry of
// the new major and re-derives the purpose; changing the subcategory
// re-derives the purpose.
func (t *Taxonomy) Reduce(s FormState, a FormAction, parties Parties, today time.Time) FormState {
	switch a.Field {
	case FieldPayer:
		s.Payer = a.Value
	case FieldDate:
		s.Date = strings.TrimSpace(a.Value)
	case FieldItem:
		s.Item = a.Value
	case FieldAmount:
		s.Amount = a.Value
	case FieldRatio:
		r, err := strconv.Atoi(strings.TrimSpace(a.Value))
		if err != nil {
			return s
		}
		s.Ratio = min(max(r, 0), MaxRatio)
	case FieldMajorCategory:
		s = t.selectMajor(s, a.Value)
	case FieldSubCategory:
		s.SubCategory = a.Value
		s.Purpose, _ = t.PurposeOf(s.MajorCategory, a.Value)
	case FieldReset:
		return t.DefaultFormState(parties, today)
	}
	return s
}

func (t *Taxonomy) selectMajor(s FormState, major string) FormState {
	s.MajorCategory = major
	s.SubCategory = ""
	s.Purpose = ""
	if subs := t.SubcategoriesOf(major); len(subs) > 0 {
		s.SubCategory = subs[0]
		s.Purpose, _ = t.PurposeOf(major, subs[0])
	}
	return s
}

// Input converts the form into the submission payload.
func (s FormState) Input() ExpenseInput {
	return ExpenseInput{
		Payer:         s.Payer,
		Date:          s.Date,
		Item:          s.Item,
		Amount:        s.Amount,
		Ratio:         s.Ratio,
		MajorCategory: s.MajorCategory,
		SubCategory:   s.SubCategory,
	}
}

// Expense validates the form and converts it into a record ready for the store.
func (s FormState) Expense(tax *Taxonomy, parties Parties) (Expense, error) {
	return NewExpense(s.Input(), parties, tax)
}
