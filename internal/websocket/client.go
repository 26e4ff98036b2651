// Package websocket streams server-side updates to a single peer. Each
// connection gets its own Client; there is no broadcast hub.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fontlens/internal/config"
	"fontlens/internal/infrastructure"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBuffer = 16
)

// Message is one frame sent to the peer.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Upgrader upgrades HTTP requests to streaming clients.
type Upgrader struct {
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
	pongWait   time.Duration
	logger     *slog.Logger
	metrics    *Metrics
}

// NewUpgrader creates an upgrader. Cross-origin upgrades are refused unless
// the origin is listed in allowedOrigins.
func NewUpgrader(cfg config.WebSocketConfig, allowedOrigins []string, logger *slog.Logger, metrics *Metrics) *Upgrader {
	pongWait := cfg.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	pingPeriod := cfg.PingPeriod
	if pingPeriod <= 0 || pingPeriod >= pongWait {
		pingPeriod = (pongWait * 9) / 10
	}
	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return checkOrigin(r, allowedOrigins) },
		},
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
		logger:     logger.With(slog.String("component", "websocket.client")),
		metrics:    metrics,
	}
}

func checkOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Upgrade takes over the connection. On failure the upgrader has already
// written an HTTP error.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Client, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		u.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return nil, err
	}
	id := uuid.NewString()
	return &Client{
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		id:          id,
		connectedAt: time.Now(),
		pingPeriod:  u.pingPeriod,
		pongWait:    u.pongWait,
		metrics:     u.metrics,
		logger: u.logger.With(
			slog.String("client_id", id),
			slog.String("remote_addr", conn.RemoteAddr().String())),
	}, nil
}

// Client is one upgraded connection.
type Client struct {
	conn        *websocket.Conn
	send        chan []byte
	id          string
	connectedAt time.Time
	pingPeriod  time.Duration
	pongWait    time.Duration
	logger      *slog.Logger
	metrics     *Metrics

	messagesSent atomic.Int64
}

// ID returns the client's connection id.
func (c *Client) ID() string { return c.id }

// Serve runs produce until it returns or the peer goes away, whichever comes
// first. The ctx handed to produce is cancelled when the peer disconnects.
// produce must only call send from its own goroutine.
func (c *Client) Serve(ctx context.Context, produce func(ctx context.Context, send func(Message) bool)) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.metrics.connected(ctx)
	defer c.metrics.disconnected(context.WithoutCancel(ctx))
	c.logger.InfoContext(ctx, "websocket client connected")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		c.readPump(ctx)
	}()
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		defer cancel()
		c.writePump(ctx)
	}()

	produce(ctx, func(m Message) bool { return c.enqueue(ctx, m) })
	close(c.send)
	<-writeDone
	_ = c.conn.Close()
	<-readDone

	c.logger.InfoContext(context.WithoutCancel(ctx), "websocket client disconnected",
		slog.Duration("connection_duration", time.Since(c.connectedAt)),
		slog.Int64("messages_sent", c.messagesSent.Load()))
}

func (c *Client) enqueue(ctx context.Context, m Message) bool {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(m)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to encode websocket message",
			slog.String("type", m.Type), slog.String("error", err.Error()))
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

// readPump only watches for disconnects and keeps the read deadline fresh.
// Peer messages are discarded.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				infrastructure.WithError(c.logger, err).DebugContext(ctx, "unexpected websocket close")
			}
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				infrastructure.WithError(c.logger, err).DebugContext(ctx, "websocket write failed")
				return
			}
			c.messagesSent.Add(1)
			c.metrics.sent(ctx, len(message))
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
