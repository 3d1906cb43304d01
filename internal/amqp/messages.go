package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType names a ledger change.
type EventType string

const (
	EventExpenseCreated  EventType = "expense.created"
	EventExpensesDeleted EventType = "expenses.deleted"
	EventMonthSettled    EventType = "month.settled"
)

var ErrInvalidEvent = errors.New("invalid change event")

// ChangeEvent is a lightweight notification; consumers fetch full records
// from the store by id.
type ChangeEvent struct {
	Type      EventType `json:"type"`
	IDs       []string  `json:"ids,omitempty"`
	Month     string    `json:"month,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExpenseCreated(id string) *ChangeEvent {
	return &ChangeEvent{Type: EventExpenseCreated, IDs: []string{id}, Timestamp: time.Now().UTC()}
}

func NewExpensesDeleted(ids []string) *ChangeEvent {
	return &ChangeEvent{Type: EventExpensesDeleted, IDs: append([]string(nil), ids...), Timestamp: time.Now().UTC()}
}

func NewMonthSettled(month string) *ChangeEvent {
	return &ChangeEvent{Type: EventMonthSettled, Month: month, Timestamp: time.Now().UTC()}
}

func (e *ChangeEvent) Validate() error {
	switch e.Type {
	case EventExpenseCreated, EventExpensesDeleted:
		if len(e.IDs) == 0 {
			return fmt.Errorf("%w: %s without ids", ErrInvalidEvent, e.Type)
		}
	case EventMonthSettled:
		if e.Month == "" {
			return fmt.Errorf("%w: %s without month", ErrInvalidEvent, e.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// ToJSON converts the event to JSON bytes
func (e *ChangeEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ChangeEventFromJSON decodes and validates an event.
func ChangeEventFromJSON(data []byte) (*ChangeEvent, error) {
	var evt ChangeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return &evt, nil
}
