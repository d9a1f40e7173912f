package amqp

import (
	"encoding/json"
	"time"

	"pasanaco/internal/core"
)

// SettlementMessage is the wire form of a settlement event.
type SettlementMessage struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	PasanacoID string    `json:"pasanaco_id"`
	PaymentID  string    `json:"payment_id,omitempty"`
	LoanID     string    `json:"loan_id,omitempty"`
	Round      int       `json:"round"`
	ActorID    string    `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewSettlementMessage(e core.SettlementEvent) *SettlementMessage {
	return &SettlementMessage{
		EventID:    e.ID,
		Type:       string(e.Type),
		PasanacoID: e.PasanacoID,
		PaymentID:  e.PaymentID,
		LoanID:     e.LoanID,
		Round:      e.Round,
		ActorID:    e.ActorID,
		OccurredAt: e.OccurredAt,
		Timestamp:  time.Now(),
	}
}

func (m *SettlementMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SettlementMessageFromJSON(data []byte) (*SettlementMessage, error) {
	var msg SettlementMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
