package models

import (
	"encoding/json"
	"errors"
	"time"
)

// DeliveryStatus is the lifecycle of a direct message: sent -> delivered -> read.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryRead:
		return 3
	default:
		return 0
	}
}

// Before reports whether s precedes other in the delivery lifecycle.
func (s DeliveryStatus) Before(other DeliveryStatus) bool {
	return s.rank() < other.rank()
}

// Valid reports whether s is a known status.
func (s DeliveryStatus) Valid() bool { return s.rank() > 0 }

// Target is the addressee of a message: exactly one recipient user or one group.
type Target interface {
	// Conversation returns the conversation the message belongs to, as seen by sender.
	Conversation(senderID int64) Conversation
	isTarget()
}

// DirectTarget addresses a single user.
type DirectTarget struct {
	RecipientID int64
}

func (t DirectTarget) Conversation(senderID int64) Conversation {
	return DirectConversation(senderID, t.RecipientID)
}

func (DirectTarget) isTarget() {}

// GroupTarget addresses every member of a group.
type GroupTarget struct {
	GroupID int64
}

func (t GroupTarget) Conversation(int64) Conversation {
	return GroupConversation(t.GroupID)
}

func (GroupTarget) isTarget() {}

// Message is a persisted chat message.
type Message struct {
	ID             int64
	Content        string
	SenderID       int64
	Target         Target
	CreatedAt      time.Time
	UpdatedAt      time.Time
	IsRead         bool
	DeliveryStatus DeliveryStatus
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}

// RecipientID returns the direct recipient, if any.
func (m Message) RecipientID() (int64, bool) {
	if t, ok := m.Target.(DirectTarget); ok {
		return t.RecipientID, true
	}
	return 0, false
}

// GroupID returns the addressed group, if any.
func (m Message) GroupID() (int64, bool) {
	if t, ok := m.Target.(GroupTarget); ok {
		return t.GroupID, true
	}
	return 0, false
}

// Conversation returns the canonical conversation of the message.
func (m Message) Conversation() Conversation {
	if m.Target == nil {
		return Conversation{}
	}
	return m.Target.Conversation(m.SenderID)
}

type messageJSON struct {
	ID             int64          `json:"id"`
	Content        string         `json:"content"`
	SenderID       int64          `json:"sender_id"`
	RecipientID    *int64         `json:"recipient_id,omitempty"`
	GroupID        *int64         `json:"group_id,omitempty"`
	ConversationID string         `json:"conversation_id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	IsRead         bool           `json:"is_read"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:             m.ID,
		Content:        m.Content,
		SenderID:       m.SenderID,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		IsRead:         m.IsRead,
		DeliveryStatus: m.DeliveryStatus,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
	}
	switch t := m.Target.(type) {
	case DirectTarget:
		id := t.RecipientID
		out.RecipientID = &id
	case GroupTarget:
		id := t.GroupID
		out.GroupID = &id
	}
	if m.Target != nil {
		out.ConversationID = m.Conversation().String()
	}
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	target, err := NewTarget(in.RecipientID, in.GroupID)
	if err != nil {
		return err
	}
	*m = Message{
		ID:             in.ID,
		Content:        in.Content,
		SenderID:       in.SenderID,
		Target:         target,
		CreatedAt:      in.CreatedAt,
		UpdatedAt:      in.UpdatedAt,
		IsRead:         in.IsRead,
		DeliveryStatus: in.DeliveryStatus,
		DeliveredAt:    in.DeliveredAt,
		ReadAt:         in.ReadAt,
	}
	return nil
}

// ErrInvalidTarget is returned when a message has neither or both addressees.
var ErrInvalidTarget = errors.New("message must have exactly one of recipient or group")

// NewTarget builds a Target from the flat nullable storage columns.
func NewTarget(recipientID, groupID *int64) (Target, error) {
	switch {
	case recipientID != nil && groupID == nil:
		return DirectTarget{RecipientID: *recipientID}, nil
	case groupID != nil && recipientID == nil:
		return GroupTarget{GroupID: *groupID}, nil
	default:
		return nil, ErrInvalidTarget
	}
}
