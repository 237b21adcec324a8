package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"messaging-service/internal/events"
	"messaging-service/internal/observability"
)

// State is the lifecycle position of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	default:
		return "disconnected"
	}
}

var errSlowConsumer = errors.New("send buffer full")

// client is a Session backed by a gorilla websocket. Outbound events go
// through a buffered channel drained by the write pump; inbound frames are
// handled one at a time by the read pump.
type client struct {
	conn  *websocket.Conn
	info  ConnInfo
	cfg   Config
	log   *zap.Logger
	state atomic.Int32
	// set by the gateway once the registry holds this client
	registered bool

	send      chan events.Event
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newClient(conn *websocket.Conn, info ConnInfo, cfg Config, log *zap.Logger) *client {
	c := &client{
		conn: conn,
		info: info,
		cfg:  cfg,
		log:  log.With(zap.String("conn_id", info.ConnID), zap.Int64("user_id", info.UserID)),
		send: make(chan events.Event, cfg.SendBuffer),
		done: make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *client) ID() string    { return c.info.ConnID }
func (c *client) UserID() int64 { return c.info.UserID }

func (c *client) State() State { return State(c.state.Load()) }

func (c *client) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	c.log.Debug("connection state", zap.Stringer("from", prev), zap.Stringer("to", s))
}

// Send queues event for the write pump. A full buffer closes the connection.
func (c *client) Send(event events.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- event:
		return true
	case <-c.done:
		return false
	default:
		c.close(errSlowConsumer)
		return false
	}
}

func (c *client) close(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.done)
	})
}

// run pumps frames until either side stops. handle is called sequentially for
// every inbound frame.
func (c *client) run(ctx context.Context, handle func(raw []byte)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := c.readPump(handle)
		c.close(err)
		return err
	})
	g.Go(func() error {
		err := c.writePump(gctx)
		c.close(err)
		return err
	})
	_ = g.Wait()
	// the first close records the cause; later pump errors are fallout from it
	return c.closeErr
}

func (c *client) readPump(handle func(raw []byte)) error {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(raw)
	}
}

func (c *client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case event := <-c.send:
			if err := c.write(event); err != nil {
				return err
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-c.done:
			c.closeFrame(websocket.CloseNormalClosure, "")
			return nil
		case <-ctx.Done():
			c.closeFrame(websocket.CloseGoingAway, "server shutting down")
			return nil
		}
	}
}

func (c *client) write(event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		c.log.Error("failed to encode event", zap.String("type", string(event.Type)), zap.Error(err))
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return err
	}
	observability.IncWSEvent("out", string(event.Type))
	return nil
}

func (c *client) closeFrame(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
}
