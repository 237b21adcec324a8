package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"messaging-service/internal/apperr"
	"messaging-service/internal/events"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// Delivery addresses an event to a user or, when GroupID is set, a group room.
type Delivery struct {
	UserID  int64
	GroupID int64
	Event   events.Event
}

// Outcome is the result of handling one inbound event. Dispatch produces it
// without touching connections; route applies it afterwards.
type Outcome struct {
	Reply       *events.Event
	Deliveries  []Delivery
	ClearTyping []models.Conversation
	SetTyping   *TypingChange
	JoinRooms   []int64
	LeaveRooms  []int64
}

// TypingChange is a typing_status update to apply for the connection's user.
type TypingChange struct {
	Conversation models.Conversation
	IsTyping     bool
}

func reply(event events.Event) Outcome {
	return Outcome{Reply: &event}
}

func ack(requestID string) events.Event {
	return events.Event{Type: events.Ack, RequestID: requestID, Payload: events.AckPayload{Status: "ok"}}
}

// dispatch decodes and executes one inbound frame for cl.
func (g *Gateway) dispatch(ctx context.Context, cl *client, raw []byte) Outcome {
	var in events.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		observability.IncWSEvent("in", "malformed")
		return g.failure("", apperr.Validation("malformed event"))
	}
	observability.IncWSEvent("in", string(in.Type))

	userID := cl.UserID()
	switch in.Type {
	case events.SendDirectMessage:
		var p events.SendMessagePayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return g.failure(in.RequestID, err)
		}
		msg, err := g.conversations.SendDirectMessage(ctx, userID, p.RecipientID, p.Content)
		if err != nil {
			return g.failure(in.RequestID, err)
		}
		return sentOutcome(in.RequestID, msg)

	case events.SendGroupMessage:
		var p events.SendMessagePayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return g.failure(in.RequestID, err)
		}
		msg, err := g.conversations.SendGroupMessage(ctx, userID, p.GroupID, p.Content)
		if err != nil {
			return g.failure(in.RequestID, err)
		}
		return sentOutcome(in.RequestID, msg)

	case events.TypingStatus:
		var p events.TypingPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return g.failure(in.RequestID, err)
		}
		var conv models.Conversation
		switch {
		case p.GroupID != 0 && p.RecipientID != 0:
			return g.failure(in.RequestID, apperr.Validation("exactly one of recipient_id or group_id is required"))
		case p.GroupID != 0:
			if !g.registry.InRoom(cl.ID(), p.GroupID) {
				return g.failure(in.RequestID, apperr.Forbidden("not joined to this group"))
			}
			conv = models.GroupConversation(p.GroupID)
		case p.RecipientID != 0:
			conv = models.DirectConversation(userID, p.RecipientID)
		default:
			return g.failure(in.RequestID, apperr.Validation("exactly one of recipient_id or group_id is required"))
		}
		return Outcome{SetTyping: &TypingChange{Conversation: conv, IsTyping: p.IsTyping}}

	case events.MarkAsRead, events.MarkAsDelivered:
		var p events.MessageRefPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return g.failure(in.RequestID, err)
		}
		if p.MessageID == 0 {
			return g.failure(in.RequestID, apperr.Validation("message_id is required"))
		}
		mark, notice := g.receipts.MarkAsDelivered, events.Delivered
		if in.Type == events.MarkAsRead {
			mark, notice = g.receipts.MarkAsRead, events.Read
		}
		msg, changed, err := mark(ctx, p.MessageID, userID)
		if err != nil {
			return g.failure(in.RequestID, err)
		}
		out := reply(ack(in.RequestID))
		if changed {
			out.Deliveries = []Delivery{{UserID: msg.SenderID, Event: notice(msg)}}
		}
		return out

	case events.JoinGroup:
		var p events.GroupRefPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return g.failure(in.RequestID, err)
		}
		if p.GroupID == 0 {
			return g.failure(in.RequestID, apperr.Validation("group_id is required"))
		}
		member, err := g.conversations.IsMember(ctx, p.GroupID, userID)
		if err != nil {
			return g.failure(in.RequestID, err)
		}
		if !member {
			return g.failure(in.RequestID, apperr.Forbidden("not a member of this group"))
		}
		out := reply(ack(in.RequestID))
		out.JoinRooms = []int64{p.GroupID}
		return out

	case events.LeaveGroup:
		var p events.GroupRefPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return g.failure(in.RequestID, err)
		}
		if p.GroupID == 0 {
			return g.failure(in.RequestID, apperr.Validation("group_id is required"))
		}
		out := reply(ack(in.RequestID))
		out.LeaveRooms = []int64{p.GroupID}
		out.ClearTyping = []models.Conversation{models.GroupConversation(p.GroupID)}
		return out

	case events.Ping:
		return reply(events.Event{Type: events.Pong, RequestID: in.RequestID})

	default:
		return g.failure(in.RequestID, apperr.Validation("unknown event type"))
	}
}

func decodePayload(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return apperr.Validation("payload is required")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return apperr.Validation("malformed payload")
	}
	return nil
}

func sentOutcome(requestID string, msg models.Message) Outcome {
	out := reply(ack(requestID))
	out.ClearTyping = []models.Conversation{msg.Conversation()}
	out.Deliveries = messageDeliveries(msg)
	return out
}

// messageDeliveries addresses a new message to the sender's devices and the
// recipient, or to the group room.
func messageDeliveries(msg models.Message) []Delivery {
	event := events.NewMessage(msg)
	if groupID, ok := msg.GroupID(); ok {
		return []Delivery{{GroupID: groupID, Event: event}}
	}
	deliveries := []Delivery{{UserID: msg.SenderID, Event: event}}
	if recipient, ok := msg.RecipientID(); ok && recipient != msg.SenderID {
		deliveries = append(deliveries, Delivery{UserID: recipient, Event: event})
	}
	return deliveries
}

func (g *Gateway) failure(requestID string, err error) Outcome {
	kind := apperr.KindOf(err)
	if kind == apperr.KindStorage || kind == apperr.KindUnknown {
		g.log.Error("websocket event failed", zap.String("request_id", requestID), zap.Error(err))
	}
	return reply(events.Failure(requestID, kind.String(), apperr.PublicMessage(err)))
}

// route applies an Outcome: room changes first, then typing, then fan-out and
// finally the reply to the originating connection.
func (g *Gateway) route(cl *client, out Outcome) {
	for _, groupID := range out.JoinRooms {
		g.registry.JoinRoom(cl.ID(), groupID)
	}
	for _, groupID := range out.LeaveRooms {
		g.registry.LeaveRoom(cl.ID(), groupID)
	}
	for _, conv := range out.ClearTyping {
		g.presence.ClearConversation(cl.UserID(), conv)
	}
	if out.SetTyping != nil {
		g.presence.SetTyping(cl.UserID(), out.SetTyping.Conversation, out.SetTyping.IsTyping)
	}
	for _, d := range out.Deliveries {
		g.deliver(d)
	}
	if out.Reply != nil && !cl.Send(*out.Reply) {
		g.log.Debug("reply dropped", zap.String("conn_id", cl.ID()), zap.String("type", string(out.Reply.Type)))
	}
}

func (g *Gateway) deliver(d Delivery) {
	if d.GroupID != 0 {
		g.registry.RouteToGroup(d.GroupID, d.Event)
		return
	}
	g.registry.Route(d.UserID, d.Event)
}
