package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
)

// Client is a Connection backed by a gorilla websocket. Frames from one
// client are handled one at a time in arrival order by its read pump.
type Client struct {
	id     string
	relay  *Relay
	conn   *websocket.Conn
	send   chan []byte
	token  string
	logger *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closed    int32
	closeOnce sync.Once
}

func NewClient(relay *Relay, conn *websocket.Conn, token string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	return &Client{
		id:     id,
		relay:  relay,
		conn:   conn,
		send:   make(chan []byte, relay.opts.SendBufferSize),
		token:  token,
		logger: relay.logger.With("connID", id),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Credential() string {
	return c.token
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// Send queues data without blocking. A client whose buffer is full is too
// slow to keep up and gets closed.
func (c *Client) Send(data []byte) error {
	if c.isClosed() {
		return ErrClientDisconnected
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientDisconnected
	default:
		// Mark closed inline; the close frame is written off the caller's
		// goroutine since a stalled peer can hold the write lock.
		if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
			c.logger.Warn("send buffer full, closing client")
			c.cancel()
			go c.CloseWithReason(websocket.CloseTryAgainLater, "send buffer full")
		}
		return ErrSendBufferFull
	}
}

func (c *Client) Close() error {
	return c.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason sends a close frame carrying code and reason, then tears the
// connection down. Only the first call has any effect.
func (c *Client) CloseWithReason(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		c.cancel()
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = c.conn.Close()
		c.logger.Debug("client closed", "code", code, "reason", reason)
	})
	return err
}

func (c *Client) readPump() {
	defer func() {
		c.relay.Disconnect(context.Background(), c)
		_ = c.Close()
	}()

	c.conn.SetReadLimit(c.relay.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Closing the connection must not abandon a store write in flight.
	handleCtx := context.WithoutCancel(c.ctx)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			} else {
				c.logger.Debug("websocket connection closed", "error", err)
			}
			return
		}
		c.relay.Handle(handleCtx, c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("error writing message", "error", err)
				_ = c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("error sending ping", "error", err)
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ServeWS upgrades the request and attaches the connection to the relay. The
// token is verified after the upgrade so a rejected client receives a
// policy-violation close frame instead of an HTTP error.
func ServeWS(relay *Relay, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, token string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		relay.logger.Warn("failed to upgrade websocket connection", "error", err)
		return
	}

	client := NewClient(relay, conn, token)
	if _, err := relay.Connect(context.Background(), client, token); err != nil {
		return
	}

	go client.writePump()
	go client.readPump()
}
