package service

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// DeliveryTracker moves direct messages through sent, delivered and read.
// Every transition is forward only and repeating one is a no-op.
type DeliveryTracker struct {
	messages repositories.MessageRepository
	clock    clock.Clock
	events   EventSink
	log      *zap.Logger
	tracer   trace.Tracer
}

func NewDeliveryTracker(messages repositories.MessageRepository, clk clock.Clock, events EventSink, log *zap.Logger) *DeliveryTracker {
	return &DeliveryTracker{
		messages: messages,
		clock:    clk,
		events:   sinkOrNop(events),
		log:      log.Named("delivery"),
		tracer:   tracer(),
	}
}

// MarkAsRead marks a message read on behalf of its recipient. changed is false
// when the message was already read.
func (t *DeliveryTracker) MarkAsRead(ctx context.Context, messageID, userID int64) (msg models.Message, changed bool, err error) {
	ctx, span := t.tracer.Start(ctx, "DeliveryTracker.MarkAsRead", trace.WithAttributes(
		attribute.Int64("message.id", messageID),
		attribute.Int64("user.id", userID),
	))
	defer func() { endSpan(span, err) }()

	if err := t.authorize(ctx, messageID, userID); err != nil {
		return models.Message{}, false, err
	}
	msg, changed, err = t.messages.MarkRead(ctx, messageID, t.clock.Now().UTC())
	if err != nil {
		return models.Message{}, false, translate(t.log, "mark read", err)
	}
	if changed {
		observability.IncDeliveryTransition(string(models.DeliveryRead))
		t.events.Emit(ctx, observability.EventMessageRead, msg)
	}
	return msg, changed, nil
}

// MarkAsDelivered marks a sent message delivered on behalf of its recipient.
func (t *DeliveryTracker) MarkAsDelivered(ctx context.Context, messageID, userID int64) (msg models.Message, changed bool, err error) {
	ctx, span := t.tracer.Start(ctx, "DeliveryTracker.MarkAsDelivered", trace.WithAttributes(
		attribute.Int64("message.id", messageID),
		attribute.Int64("user.id", userID),
	))
	defer func() { endSpan(span, err) }()

	if err := t.authorize(ctx, messageID, userID); err != nil {
		return models.Message{}, false, err
	}
	msg, changed, err = t.messages.MarkDelivered(ctx, messageID, t.clock.Now().UTC())
	if err != nil {
		return models.Message{}, false, translate(t.log, "mark delivered", err)
	}
	if changed {
		observability.IncDeliveryTransition(string(models.DeliveryDelivered))
		t.events.Emit(ctx, observability.EventMessageDelivered, msg)
	}
	return msg, changed, nil
}

// MarkAllDeliveredForUser delivers every sent message addressed to the user in
// one batch and returns the messages that changed.
func (t *DeliveryTracker) MarkAllDeliveredForUser(ctx context.Context, userID int64) (msgs []models.Message, err error) {
	ctx, span := t.tracer.Start(ctx, "DeliveryTracker.MarkAllDeliveredForUser", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer func() { endSpan(span, err) }()

	msgs, err = t.messages.MarkAllDelivered(ctx, userID, t.clock.Now().UTC())
	if err != nil {
		return nil, translate(t.log, "mark all delivered", err)
	}
	span.SetAttributes(attribute.Int("messages.delivered", len(msgs)))
	for _, msg := range msgs {
		observability.IncDeliveryTransition(string(models.DeliveryDelivered))
		t.events.Emit(ctx, observability.EventMessageDelivered, msg)
	}
	return msgs, nil
}

func (t *DeliveryTracker) authorize(ctx context.Context, messageID, userID int64) error {
	msg, err := t.messages.GetMessage(ctx, messageID)
	if err != nil {
		return translate(t.log, "get message", err)
	}
	if recipient, ok := msg.RecipientID(); !ok || recipient != userID {
		return apperr.Forbidden("only the recipient can update this message")
	}
	return nil
}
