// Package events defines the realtime wire protocol spoken over websocket
// connections.
package events

import (
	"encoding/json"
	"time"

	"messaging-service/internal/models"
)

// Type names a realtime event.
type Type string

// Inbound event types.
const (
	SendDirectMessage Type = "send_direct_message"
	SendGroupMessage  Type = "send_group_message"
	TypingStatus      Type = "typing_status"
	MarkAsRead        Type = "mark_as_read"
	MarkAsDelivered   Type = "mark_as_delivered"
	JoinGroup         Type = "join_group"
	LeaveGroup        Type = "leave_group"
	Ping              Type = "ping"
)

// Outbound event types.
const (
	NewDirectMessage   Type = "new_direct_message"
	NewGroupMessage    Type = "new_group_message"
	TypingStatusUpdate Type = "typing_status_update"
	MessageDelivered   Type = "message_delivered"
	MessageRead        Type = "message_read"
	Ack                Type = "ack"
	Pong               Type = "pong"
	Error              Type = "error"
)

// Inbound is a client-to-server frame.
type Inbound struct {
	Type      Type            `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Event is a server-to-client frame.
type Event struct {
	Type      Type   `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// SendMessagePayload is the body of send_direct_message and send_group_message.
type SendMessagePayload struct {
	Content     string `json:"content"`
	RecipientID int64  `json:"recipient_id,omitempty"`
	GroupID     int64  `json:"group_id,omitempty"`
}

// TypingPayload is the body of typing_status.
type TypingPayload struct {
	RecipientID int64 `json:"recipient_id,omitempty"`
	GroupID     int64 `json:"group_id,omitempty"`
	IsTyping    bool  `json:"is_typing"`
}

// MessageRefPayload is the body of mark_as_read and mark_as_delivered.
type MessageRefPayload struct {
	MessageID int64 `json:"message_id"`
}

// GroupRefPayload is the body of join_group and leave_group.
type GroupRefPayload struct {
	GroupID int64 `json:"group_id"`
}

// TypingUpdate is broadcast to a conversation whenever its typing set is touched.
type TypingUpdate struct {
	ConversationID string  `json:"conversation_id"`
	GroupID        int64   `json:"group_id,omitempty"`
	TypingUsers    []int64 `json:"typing_users"`
}

// DeliveredNotice tells a sender their message reached the recipient.
type DeliveredNotice struct {
	MessageID   int64      `json:"message_id"`
	DeliveredTo int64      `json:"delivered_to"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// ReadNotice tells a sender their message was read.
type ReadNotice struct {
	MessageID int64      `json:"message_id"`
	ReadBy    int64      `json:"read_by"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// ErrorPayload reports a failed inbound event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AckPayload confirms an inbound event that produced no entity.
type AckPayload struct {
	Status string `json:"status"`
}

// NewMessage wraps a persisted message in the matching new_*_message event.
func NewMessage(msg models.Message) Event {
	if _, ok := msg.GroupID(); ok {
		return Event{Type: NewGroupMessage, Payload: msg}
	}
	return Event{Type: NewDirectMessage, Payload: msg}
}

// Delivered builds the message_delivered notice for msg.
func Delivered(msg models.Message) Event {
	recipient, _ := msg.RecipientID()
	return Event{Type: MessageDelivered, Payload: DeliveredNotice{
		MessageID:   msg.ID,
		DeliveredTo: recipient,
		DeliveredAt: msg.DeliveredAt,
	}}
}

// Read builds the message_read notice for msg.
func Read(msg models.Message) Event {
	recipient, _ := msg.RecipientID()
	return Event{Type: MessageRead, Payload: ReadNotice{
		MessageID: msg.ID,
		ReadBy:    recipient,
		ReadAt:    msg.ReadAt,
	}}
}

// Typing builds the typing_status_update event for a conversation.
func Typing(conv models.Conversation, users []int64) Event {
	if users == nil {
		users = []int64{}
	}
	return Event{Type: TypingStatusUpdate, Payload: TypingUpdate{
		ConversationID: conv.String(),
		GroupID:        conv.GroupID,
		TypingUsers:    users,
	}}
}

// Failure builds an error event answering requestID.
func Failure(requestID, code, message string) Event {
	return Event{Type: Error, RequestID: requestID, Payload: ErrorPayload{Code: code, Message: message}}
}
