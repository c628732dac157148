package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"ledgerbook/internal/events"
)

// ChangeMessage is the wire form of an events.Change. Source names the
// publishing process so a consumer can skip its own echoes.
type ChangeMessage struct {
	Entity    events.Entity `json:"entity"`
	Op        events.Op     `json:"op"`
	LedgerID  string        `json:"ledger_id,omitempty"`
	ID        string        `json:"id,omitempty"`
	Source    string        `json:"source,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func NewChangeMessage(c events.Change, source string) *ChangeMessage {
	ts := c.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &ChangeMessage{
		Entity:    c.Entity,
		Op:        c.Op,
		LedgerID:  c.LedgerID,
		ID:        c.ID,
		Source:    source,
		Timestamp: ts,
	}
}

// Change converts the message back to a local change notification.
func (m *ChangeMessage) Change() events.Change {
	return events.Change{Entity: m.Entity, Op: m.Op, LedgerID: m.LedgerID, ID: m.ID, At: m.Timestamp}
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Entity == "" || msg.Op == "" {
		return nil, fmt.Errorf("change message missing entity or op")
	}
	return &msg, nil
}
