package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"messaging-service/internal/events"
	"messaging-service/internal/identity"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// Config tunes connection liveness and buffering.
type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func DefaultConfig() Config {
	return Config{
		PingInterval:   25 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 64 << 10,
		SendBuffer:     64,
	}
}

// Conversations is the part of the messaging service the gateway drives.
type Conversations interface {
	SendDirectMessage(ctx context.Context, senderID, recipientID int64, content string) (models.Message, error)
	SendGroupMessage(ctx context.Context, senderID, groupID int64, content string) (models.Message, error)
	GetUserGroupMemberships(ctx context.Context, userID int64) ([]models.GroupMembership, error)
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
}

// Receipts is the delivery tracker as seen by the gateway.
type Receipts interface {
	MarkAsRead(ctx context.Context, messageID, userID int64) (models.Message, bool, error)
	MarkAsDelivered(ctx context.Context, messageID, userID int64) (models.Message, bool, error)
	MarkAllDeliveredForUser(ctx context.Context, userID int64) ([]models.Message, error)
}

// Presence is the typing coordinator as seen by the gateway.
type Presence interface {
	SetTyping(userID int64, conv models.Conversation, isTyping bool)
	ClearConversation(userID int64, conv models.Conversation)
	ClearUser(userID int64)
}

// LifecycleEvents receives ws_connect, ws_disconnect and ws_error.
type LifecycleEvents interface {
	EmitWS(ctx context.Context, name string, payload any)
}

// Notifier fans out results of HTTP-originated writes to live connections.
type Notifier interface {
	MessageSent(msg models.Message)
	ReceiptUpdated(msg models.Message)
	MembershipGranted(membership models.GroupMembership)
}

var _ Notifier = (*Gateway)(nil)

type nopLifecycle struct{}

func (nopLifecycle) EmitWS(context.Context, string, any) {}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway owns every websocket connection. It authenticates, activates and
// tears down connections and turns inbound events into routed outcomes.
type Gateway struct {
	registry      *Registry
	presence      Presence
	conversations Conversations
	receipts      Receipts
	identity      identity.Provider
	lifecycle     LifecycleEvents
	clock         clock.Clock
	cfg           Config
	log           *zap.Logger

	// mu orders handshake admission against Shutdown
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewGateway(
	registry *Registry,
	presence Presence,
	conversations Conversations,
	receipts Receipts,
	provider identity.Provider,
	lifecycle LifecycleEvents,
	clk clock.Clock,
	cfg Config,
	log *zap.Logger,
) *Gateway {
	if lifecycle == nil {
		lifecycle = nopLifecycle{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		ctx:           ctx,
		cancel:        cancel,
		registry:      registry,
		presence:      presence,
		conversations: conversations,
		receipts:      receipts,
		identity:      provider,
		lifecycle:     lifecycle,
		clock:         clk,
		cfg:           cfg,
		log:           log.Named("gateway"),
	}
}

// Handle authenticates the request, upgrades it and serves the connection
// until it disconnects.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	id, err := g.identity.Authenticate(ctx, tokenFromRequest(c))
	if err != nil {
		span.End()
		g.log.Debug("websocket handshake rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	span.SetAttributes(attribute.Int64("user.id", id.UserID))

	if !g.admit() {
		span.End()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	defer g.wg.Done()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: g.clock.Now(),
	}
	span.End()

	// service calls started by this connection outlive it
	ctx = observability.WithRequestID(context.WithoutCancel(ctx), info.RequestID)
	cl := newClient(conn, info, g.cfg, g.log)
	cl.setState(StateAuthenticated)

	g.serve(ctx, cl)
}

// admit counts a new connection unless Shutdown has started.
func (g *Gateway) admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		return false
	}
	g.wg.Add(1)
	return true
}

// Shutdown closes every connection with a going-away frame and waits for
// their handlers to finish.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.cancel()
	g.mu.Unlock()
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) serve(ctx context.Context, cl *client) {
	if err := g.activate(ctx, cl); err != nil {
		g.log.Warn("websocket activation failed", zap.String("conn_id", cl.ID()), zap.Error(err))
		cl.closeFrame(websocket.ClosePolicyViolation, "activation failed")
		_ = cl.conn.Close()
		g.deactivate(ctx, cl, err)
		return
	}

	err := cl.run(g.ctx, func(raw []byte) {
		g.route(cl, g.dispatch(ctx, cl, raw))
	})
	g.deactivate(ctx, cl, err)
}

// activate registers the connection, joins its group rooms and delivers what
// was queued while the user was offline.
func (g *Gateway) activate(ctx context.Context, cl *client) error {
	if !g.registry.Connect(cl) {
		return errors.New("duplicate connection id")
	}
	cl.registered = true
	memberships, err := g.conversations.GetUserGroupMemberships(ctx, cl.UserID())
	if err != nil {
		return err
	}
	for _, m := range memberships {
		g.registry.JoinRoom(cl.ID(), m.GroupID)
	}
	cl.setState(StateActive)
	observability.IncWSActive()
	observability.IncWSEvent("in", observability.EventWSConnect)
	g.lifecycle.EmitWS(ctx, observability.EventWSConnect, cl.info.lifecyclePayload(observability.EventWSConnect, "", g.clock.Now()))

	delivered, err := g.receipts.MarkAllDeliveredForUser(ctx, cl.UserID())
	if err != nil {
		// the next connect retries
		g.log.Warn("bulk delivery failed", zap.Int64("user_id", cl.UserID()), zap.Error(err))
		return nil
	}
	for _, msg := range delivered {
		g.registry.Route(msg.SenderID, events.Delivered(msg))
	}
	return nil
}

func (g *Gateway) deactivate(ctx context.Context, cl *client, cause error) {
	wasActive := cl.State() == StateActive
	cl.setState(StateDisconnected)

	if cl.registered {
		userID, last, ok := g.registry.Disconnect(cl.ID())
		if ok && last {
			g.presence.ClearUser(userID)
		}
	}
	if !wasActive {
		return
	}

	observability.DecWSActive()
	now := g.clock.Now()
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		observability.IncWSEvent("in", observability.EventWSError)
		g.lifecycle.EmitWS(ctx, observability.EventWSError, cl.info.lifecyclePayload(observability.EventWSError, reason, now))
	}
	observability.IncWSEvent("in", observability.EventWSDisconnect)
	g.lifecycle.EmitWS(ctx, observability.EventWSDisconnect, cl.info.lifecyclePayload(observability.EventWSDisconnect, reason, now))
}

// MessageSent clears the sender's typing state and routes a message persisted
// outside the websocket path.
func (g *Gateway) MessageSent(msg models.Message) {
	g.presence.ClearConversation(msg.SenderID, msg.Conversation())
	for _, d := range messageDeliveries(msg) {
		g.deliver(d)
	}
}

// ReceiptUpdated tells the sender about a delivery or read transition.
func (g *Gateway) ReceiptUpdated(msg models.Message) {
	switch msg.DeliveryStatus {
	case models.DeliveryRead:
		g.registry.Route(msg.SenderID, events.Read(msg))
	case models.DeliveryDelivered:
		g.registry.Route(msg.SenderID, events.Delivered(msg))
	}
}

// MembershipGranted joins the new member's live connections to the group room.
func (g *Gateway) MembershipGranted(membership models.GroupMembership) {
	g.registry.JoinUserToRoom(membership.UserID, membership.GroupID)
}

func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}
