package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"organizer/internal/core"
)

// ChangeOp is what happened to the record a ChangeMessage points at.
type ChangeOp string

const (
	ChangeCreated ChangeOp = "created"
	ChangeUpdated ChangeOp = "updated"
	ChangeDeleted ChangeOp = "deleted"
)

// ChangeMessage announces a reconciled mutation. It carries no fields:
// receivers refetch the collection from the gateway.
type ChangeMessage struct {
	Resource  core.Kind `json:"resource"`
	ListID    string    `json:"list_id,omitempty"`
	Op        ChangeOp  `json:"op"`
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChangeMessage stamps a change for r made by source.
func NewChangeMessage(r core.Resource, op ChangeOp, id, source string) *ChangeMessage {
	return &ChangeMessage{
		Resource:  r.Kind,
		ListID:    r.ListID,
		Op:        op,
		ID:        id,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

// Target returns the resource the change belongs to.
func (m *ChangeMessage) Target() core.Resource {
	return core.Resource{Kind: m.Resource, ListID: m.ListID}
}

func (m *ChangeMessage) Validate() error {
	if err := m.Target().Validate(); err != nil {
		return err
	}
	switch m.Op {
	case ChangeCreated, ChangeUpdated, ChangeDeleted:
	default:
		return fmt.Errorf("invalid change op %q", m.Op)
	}
	if m.ID == "" {
		return errors.New("change without id")
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON decodes and validates a message body.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
