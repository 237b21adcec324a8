package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"messaging-service/internal/events"
	"messaging-service/internal/identity"
	"messaging-service/internal/models"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories/sqlitestore"
	"messaging-service/internal/service"
)

type recordingLifecycle struct {
	mu    sync.Mutex
	names []string
}

func (l *recordingLifecycle) EmitWS(_ context.Context, name string, _ any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (l *recordingLifecycle) recorded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

// tokens look like "user-<id>"
var testProvider = identity.ProviderFunc(func(_ context.Context, token string) (identity.Identity, error) {
	var id int64
	if _, err := fmt.Sscanf(token, "user-%d", &id); err != nil || id <= 0 {
		return identity.Identity{}, identity.ErrUnauthenticated
	}
	return identity.Identity{UserID: id, DisplayName: token}, nil
})

type harness struct {
	server    *httptest.Server
	gateway   *Gateway
	registry  *Registry
	messages  *service.MessagingService
	lifecycle *recordingLifecycle
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlitestore.OpenInMemory(t.Name(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	registry := NewRegistry()
	messages := service.NewMessagingService(store, store, store, clk, nil, zap.NewNop())
	tracker := service.NewDeliveryTracker(store, clk, nil, zap.NewNop())
	typing := presence.NewCoordinator(registry, zap.NewNop())
	lifecycle := &recordingLifecycle{}

	cfg := DefaultConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongWait = time.Second
	gw := NewGateway(registry, typing, messages, tracker, testProvider, lifecycle, clk, cfg, zap.NewNop())

	router := gin.New()
	router.GET("/ws", gw.Handle)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		server.Close()
	})

	return &harness{server: server, gateway: gw, registry: registry, messages: messages, lifecycle: lifecycle}
}

type frame struct {
	Type      events.Type     `json:"type"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (h *harness) url() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
}

// dial connects as userID and waits until the connection is active.
func (h *harness) dial(t *testing.T, userID int64) *testConn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer user-%d", userID))
	conn, _, err := websocket.DefaultDialer.Dial(h.url(), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &testConn{t: t, conn: conn}
	// inbound frames are read only after activation, so a pong proves it
	c.send(events.Ping, "sync", nil)
	c.waitFor(events.Pong)
	return c
}

func (c *testConn) send(typ events.Type, requestID string, payload any) {
	c.t.Helper()
	in := map[string]any{"type": typ, "request_id": requestID}
	if payload != nil {
		in["payload"] = payload
	}
	require.NoError(c.t, c.conn.WriteJSON(in))
}

func (c *testConn) next() frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(c.t, c.conn.ReadJSON(&f))
	return f
}

// waitFor skips frames until one of the given type arrives.
func (c *testConn) waitFor(typ events.Type) frame {
	c.t.Helper()
	for {
		f := c.next()
		if f.Type == typ {
			return f
		}
	}
}

// until reads frames up to and including the first one of the given type.
func (c *testConn) until(typ events.Type) []frame {
	c.t.Helper()
	var frames []frame
	for {
		f := c.next()
		frames = append(frames, f)
		if f.Type == typ {
			return frames
		}
	}
}

func frameTypes(frames []frame) []events.Type {
	types := make([]events.Type, 0, len(frames))
	for _, f := range frames {
		types = append(types, f.Type)
	}
	return types
}

func decode[T any](t *testing.T, f frame) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(f.Payload, &out))
	return out
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	h := newHarness(t)

	for name, header := range map[string]http.Header{
		"missing": {},
		"invalid": {"Authorization": []string{"Bearer nobody"}},
		"scheme":  {"Authorization": []string{"Basic dXNlcjpwdw=="}},
	} {
		t.Run(name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(h.url(), header)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
	assert.Zero(t, h.registry.ConnectionCount())
}

func TestHandshakeAcceptsQueryToken(t *testing.T) {
	h := newHarness(t)
	conn, _, err := websocket.DefaultDialer.Dial(h.url()+"?token=user-4", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.registry.IsOnline(4) }, 2*time.Second, 10*time.Millisecond)
}

func TestOfflineMessageDeliveredOnConnect(t *testing.T) {
	h := newHarness(t)
	sender := h.dial(t, 1)

	sender.send(events.SendDirectMessage, "r1", events.SendMessagePayload{RecipientID: 2, Content: "hi"})
	frames := sender.until(events.Ack)
	assert.Equal(t, "r1", frames[len(frames)-1].RequestID)

	// fan-out reaches the sender's devices before the ack
	types := frameTypes(frames)
	require.Contains(t, types, events.NewDirectMessage, types)
	var sent models.Message
	for _, f := range frames {
		if f.Type == events.NewDirectMessage {
			sent = decode[models.Message](t, f)
		}
	}
	assert.Equal(t, models.DeliverySent, sent.DeliveryStatus)

	h.dial(t, 2)

	notice := decode[events.DeliveredNotice](t, sender.waitFor(events.MessageDelivered))
	assert.Equal(t, sent.ID, notice.MessageID)
	assert.Equal(t, int64(2), notice.DeliveredTo)
	assert.NotNil(t, notice.DeliveredAt)
}

func TestDirectMessageReachesEveryDevice(t *testing.T) {
	h := newHarness(t)
	sender := h.dial(t, 1)
	senderLaptop := h.dial(t, 1)
	recipient := h.dial(t, 2)

	sender.send(events.SendDirectMessage, "r1", events.SendMessagePayload{RecipientID: 2, Content: "hello"})

	got := decode[models.Message](t, recipient.waitFor(events.NewDirectMessage))
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "direct:1:2", got.Conversation().String())
	assert.Equal(t, "hello", decode[models.Message](t, senderLaptop.waitFor(events.NewDirectMessage)).Content)
}

func TestTypingClearedBySend(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, 1)
	bob := h.dial(t, 2)

	alice.send(events.TypingStatus, "", events.TypingPayload{RecipientID: 2, IsTyping: true})
	update := decode[events.TypingUpdate](t, bob.waitFor(events.TypingStatusUpdate))
	assert.Equal(t, "direct:1:2", update.ConversationID)
	assert.Equal(t, []int64{1}, update.TypingUsers)

	alice.send(events.SendDirectMessage, "r1", events.SendMessagePayload{RecipientID: 2, Content: "done typing"})
	cleared := decode[events.TypingUpdate](t, bob.waitFor(events.TypingStatusUpdate))
	assert.Empty(t, cleared.TypingUsers)
	assert.Equal(t, "done typing", decode[models.Message](t, bob.waitFor(events.NewDirectMessage)).Content)
}

func TestTypingClearedOnLastDisconnect(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, 1)
	bob := h.dial(t, 2)

	alice.send(events.TypingStatus, "", events.TypingPayload{RecipientID: 2, IsTyping: true})
	bob.waitFor(events.TypingStatusUpdate)

	require.NoError(t, alice.conn.Close())

	cleared := decode[events.TypingUpdate](t, bob.waitFor(events.TypingStatusUpdate))
	assert.Empty(t, cleared.TypingUsers)
	assert.Eventually(t, func() bool { return !h.registry.IsOnline(1) }, 2*time.Second, 10*time.Millisecond)
}

func TestReadReceiptReachesSender(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, 1)
	bob := h.dial(t, 2)

	alice.send(events.SendDirectMessage, "", events.SendMessagePayload{RecipientID: 2, Content: "hi"})
	msg := decode[models.Message](t, bob.waitFor(events.NewDirectMessage))

	bob.send(events.MarkAsRead, "read-1", events.MessageRefPayload{MessageID: msg.ID})
	assert.Equal(t, "read-1", bob.waitFor(events.Ack).RequestID)

	notice := decode[events.ReadNotice](t, alice.waitFor(events.MessageRead))
	assert.Equal(t, msg.ID, notice.MessageID)
	assert.Equal(t, int64(2), notice.ReadBy)

	alice.send(events.MarkAsRead, "read-2", events.MessageRefPayload{MessageID: msg.ID})
	failed := alice.waitFor(events.Error)
	assert.Equal(t, "read-2", failed.RequestID)
	assert.Equal(t, "forbidden", decode[events.ErrorPayload](t, failed).Code)
}

func TestGroupRooms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	group, _, err := h.messages.CreateGroup(ctx, 1, "Team", nil)
	require.NoError(t, err)

	admin := h.dial(t, 1)
	outsider := h.dial(t, 3)

	outsider.send(events.JoinGroup, "j1", events.GroupRefPayload{GroupID: group.ID})
	denied := outsider.waitFor(events.Error)
	assert.Equal(t, "j1", denied.RequestID)
	assert.Equal(t, "forbidden", decode[events.ErrorPayload](t, denied).Code)

	outsider.send(events.TypingStatus, "t1", events.TypingPayload{GroupID: group.ID, IsTyping: true})
	assert.Equal(t, "forbidden", decode[events.ErrorPayload](t, outsider.waitFor(events.Error)).Code)

	req, err := h.messages.RequestToJoinGroup(ctx, 3, group.ID)
	require.NoError(t, err)
	_, membership, err := h.messages.ProcessJoinRequest(ctx, 1, req.ID, true)
	require.NoError(t, err)
	require.NotNil(t, membership)
	h.gateway.MembershipGranted(*membership)

	admin.send(events.SendGroupMessage, "g1", events.SendMessagePayload{GroupID: group.ID, Content: "welcome"})
	got := decode[models.Message](t, outsider.waitFor(events.NewGroupMessage))
	assert.Equal(t, "welcome", got.Content)
	gid, ok := got.GroupID()
	require.True(t, ok)
	assert.Equal(t, group.ID, gid)

	outsider.send(events.LeaveGroup, "l1", events.GroupRefPayload{GroupID: group.ID})
	outsider.waitFor(events.Ack)
	assert.False(t, h.registry.InRoom(h.connID(t, 3), group.ID))
}

func (h *harness) connID(t *testing.T, userID int64) string {
	t.Helper()
	idx := h.registry.userIndex(userID)
	sessions := idx.snapshot(userID)
	require.Len(t, sessions, 1)
	return sessions[0].ID()
}

func TestMalformedAndUnknownEvents(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, 1)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	bad := decode[events.ErrorPayload](t, c.waitFor(events.Error))
	assert.Equal(t, "validation_error", bad.Code)
	assert.Equal(t, "malformed event", bad.Message)

	c.send("teleport", "x1", nil)
	unknown := c.waitFor(events.Error)
	assert.Equal(t, "x1", unknown.RequestID)
	assert.Equal(t, "validation_error", decode[events.ErrorPayload](t, unknown).Code)

	c.send(events.SendDirectMessage, "x2", events.SendMessagePayload{RecipientID: 2, Content: "  "})
	assert.Equal(t, "validation_error", decode[events.ErrorPayload](t, c.waitFor(events.Error)).Code)

	for _, typ := range []events.Type{events.JoinGroup, events.LeaveGroup} {
		c.send(typ, "g0", events.GroupRefPayload{})
		missing := c.waitFor(events.Error)
		assert.Equal(t, "g0", missing.RequestID)
		assert.Equal(t, "validation_error", decode[events.ErrorPayload](t, missing).Code, typ)
	}

	// the connection survives bad input
	c.send(events.Ping, "p", nil)
	assert.Equal(t, "p", c.waitFor(events.Pong).RequestID)
}

func TestServerPingsKeepConnectionAlive(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, 1)

	pings := make(chan struct{}, 8)
	c.conn.SetPingHandler(func(data string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	// control frames are processed while reading
	go func() {
		for {
			if _, _, err := c.conn.NextReader(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping from server")
	}
	assert.True(t, h.registry.IsOnline(1))
}

func TestLifecycleEvents(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, 1)
	require.NoError(t, c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	assert.Eventually(t, func() bool {
		names := h.lifecycle.recorded()
		return len(names) == 2 && names[0] == "ws_connect" && names[1] == "ws_disconnect"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownClosesConnections(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.gateway.Shutdown(ctx))

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = c.conn.ReadMessage()
	}
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Zero(t, h.registry.ConnectionCount())
}

func TestHandshakeRejectedAfterShutdown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.gateway.Shutdown(context.Background()))

	header := http.Header{}
	header.Set("Authorization", "Bearer user-1")
	_, resp, err := websocket.DefaultDialer.Dial(h.url(), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, h.registry.IsOnline(1))
}

func TestMessageSentFromHTTPPath(t *testing.T) {
	h := newHarness(t)
	bob := h.dial(t, 2)

	msg, err := h.messages.SendDirectMessage(context.Background(), 1, 2, "via http")
	require.NoError(t, err)
	h.gateway.MessageSent(msg)

	assert.Equal(t, "via http", decode[models.Message](t, bob.waitFor(events.NewDirectMessage)).Content)
}

func TestMessageDeliveriesAddressing(t *testing.T) {
	direct := models.Message{ID: 1, SenderID: 1, Target: models.DirectTarget{RecipientID: 2}}
	self := models.Message{ID: 2, SenderID: 1, Target: models.DirectTarget{RecipientID: 1}}
	group := models.Message{ID: 3, SenderID: 1, Target: models.GroupTarget{GroupID: 9}}

	d := messageDeliveries(direct)
	require.Len(t, d, 2)
	assert.Equal(t, int64(1), d[0].UserID)
	assert.Equal(t, int64(2), d[1].UserID)

	assert.Len(t, messageDeliveries(self), 1)

	g := messageDeliveries(group)
	require.Len(t, g, 1)
	assert.Equal(t, int64(9), g[0].GroupID)
	assert.Equal(t, events.NewGroupMessage, g[0].Event.Type)
}
