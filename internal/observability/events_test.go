package observability

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"messaging-service/internal/mocks"
)

func TestEmitterWrapsPayload(t *testing.T) {
	publisher := new(mocks.PublisherMock).AcceptAll()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	emitter := NewEmitter(publisher, "messaging-service", clk, zap.NewNop())

	ctx := WithRequestID(context.Background(), "req-9")
	emitter.Emit(ctx, EventMessageSent, map[string]int{"id": 1})

	published := publisher.Published(EventMessageSent)
	require.Len(t, published, 1)
	got, ok := published[0].(EventEnvelope)
	require.True(t, ok, "%T", published[0])
	assert.Empty(t, publisher.Published(EventWSConnect))
	assert.Equal(t, 1, got.SchemaVersion)
	assert.Equal(t, "domain", got.EventType)
	assert.Equal(t, "message.sent", got.EventName)
	assert.Equal(t, "2024-05-01T12:00:00Z", got.OccurredAt)
	assert.Equal(t, "req-9", got.RequestID)
	assert.Empty(t, got.TraceID)
}

func TestEmitterSwallowsPublishErrors(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewEmitter(publisher, "messaging-service", clock.NewMock(), zap.NewNop())
	publisher.On("Publish", mock.Anything, EventWSConnect, mock.Anything).Return(assert.AnError).Once()

	require.NotPanics(t, func() { emitter.EmitWS(context.Background(), EventWSConnect, nil) })
	publisher.AssertExpectations(t)

	var nilEmitter *Emitter
	require.NotPanics(t, func() { nilEmitter.Emit(context.Background(), EventMessageRead, nil) })
}

func TestBuildHeaders(t *testing.T) {
	assert.Empty(t, BuildHeaders("", ""))
	assert.Equal(t, map[string]string{"x-request-id": "r", "trace_id": "t"}, BuildHeaders("r", "t"))
}
