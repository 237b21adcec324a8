package observability

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Domain event names double as AMQP routing keys.
const (
	EventMessageSent        = "message.sent"
	EventMessageDelivered   = "message.delivered"
	EventMessageRead        = "message.read"
	EventGroupCreated       = "group.created"
	EventGroupJoinRequested = "group.join_requested"
	EventGroupJoinProcessed = "group.join_processed"

	EventWSConnect    = "ws_connect"
	EventWSDisconnect = "ws_disconnect"
	EventWSError      = "ws_error"
)

const (
	eventTypeDomain = "domain"
	eventTypeWS     = "ws"
)

// Publisher is the transport the emitter writes to.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type EventEnvelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	EventName     string `json:"event_name"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	RequestID     string `json:"request_id,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`
	Payload       any    `json:"payload"`
}

// Emitter wraps domain and websocket lifecycle events in an EventEnvelope and
// publishes them. Publish failures are counted and logged, never returned.
type Emitter struct {
	publisher Publisher
	service   string
	clock     clock.Clock
	log       *zap.Logger
}

func NewEmitter(publisher Publisher, service string, clk clock.Clock, log *zap.Logger) *Emitter {
	return &Emitter{publisher: publisher, service: service, clock: clk, log: log.Named("events")}
}

// Emit publishes a domain event.
func (e *Emitter) Emit(ctx context.Context, name string, payload any) {
	e.publish(ctx, eventTypeDomain, name, payload)
}

// EmitWS publishes a websocket lifecycle event.
func (e *Emitter) EmitWS(ctx context.Context, name string, payload any) {
	e.publish(ctx, eventTypeWS, name, payload)
}

func (e *Emitter) publish(ctx context.Context, eventType, name string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}
	envelope := EventEnvelope{
		SchemaVersion: 1,
		EventType:     eventType,
		EventName:     name,
		OccurredAt:    e.clock.Now().UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
		Service:       e.service,
		RequestID:     RequestIDFromContext(ctx),
		TraceID:       TraceIDFromContext(ctx),
		Payload:       payload,
	}
	if err := e.publisher.Publish(ctx, name, envelope); err != nil {
		IncAMQPPublishError()
		e.log.Warn("event publish failed", zap.String("event", name), zap.Error(err))
	}
}

type requestIDKey struct{}

// WithRequestID stores the caller's request id for event envelopes and headers.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
