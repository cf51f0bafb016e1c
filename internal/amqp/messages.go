package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType classifies a top-up outcome.
type EventType string

const (
	EventCompleted     EventType = "completed"
	EventRejected      EventType = "rejected"
	EventInconsistency EventType = "inconsistency"
)

// TopUpEvent is published once per top-up attempt. Reason is the stable
// snake_case code of the rejection, empty for completed top-ups.
type TopUpEvent struct {
	ID            string           `json:"id"`
	Type          EventType        `json:"type"`
	TransactionID string           `json:"transaction_id,omitempty"`
	BeneficiaryID int64            `json:"beneficiary_id,omitempty"`
	Nickname      string           `json:"nickname"`
	Amount        decimal.Decimal  `json:"amount"`
	Charge        decimal.Decimal  `json:"charge"`
	Balance       *decimal.Decimal `json:"balance,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// NewTopUpEvent creates an event with a fresh ID stamped at ts.
func NewTopUpEvent(typ EventType, nickname string, amount, charge decimal.Decimal, ts time.Time) *TopUpEvent {
	return &TopUpEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Nickname:  nickname,
		Amount:    amount,
		Charge:    charge,
		Timestamp: ts,
	}
}

// ToJSON converts the event to JSON bytes
func (e *TopUpEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// TopUpEventFromJSON decodes an event published by PublishTopUpEvent.
func TopUpEventFromJSON(data []byte) (*TopUpEvent, error) {
	var evt TopUpEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
