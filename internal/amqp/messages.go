package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"budgetly/internal/core"
)

const (
	EventCategoryCreated    = "category.created"
	EventTransactionCreated = "transaction.created"
)

var ErrUnknownEvent = errors.New("unknown event type")

// Event is the envelope published on the budgetly queue. Exactly one
// payload field is set, matching Type.
type Event struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	Category    *core.Category    `json:"category,omitempty"`
	Transaction *core.Transaction `json:"transaction,omitempty"`
}

func NewCategoryCreated(c core.Category) Event {
	return Event{ID: uuid.NewString(), Type: EventCategoryCreated, Timestamp: time.Now().UTC(), Category: &c}
}

func NewTransactionCreated(t core.Transaction) Event {
	return Event{ID: uuid.NewString(), Type: EventTransactionCreated, Timestamp: time.Now().UTC(), Transaction: &t}
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON decodes and checks an envelope.
func EventFromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	switch e.Type {
	case EventCategoryCreated:
		if e.Category == nil {
			return Event{}, fmt.Errorf("%s event without category", e.Type)
		}
	case EventTransactionCreated:
		if e.Transaction == nil {
			return Event{}, fmt.Errorf("%s event without transaction", e.Type)
		}
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	return e, nil
}
