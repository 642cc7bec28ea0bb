package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectionConfig bounds buffering, deadlines and heartbeat for a connection.
type ConnectionConfig struct {
	BufferSize     int
	WriteTimeout   time.Duration
	EnqueueTimeout time.Duration
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// DefaultConnectionConfig returns the production connection settings.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		BufferSize:     100,
		WriteTimeout:   5 * time.Second,
		EnqueueTimeout: time.Second,
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 128 << 10,
	}
}

// withDefaults fills unset fields from DefaultConnectionConfig.
func (cfg ConnectionConfig) withDefaults() ConnectionConfig {
	d := DefaultConnectionConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = d.EnqueueTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = d.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = d.ReadTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = d.MaxMessageSize
	}
	return cfg
}

const closeGracePeriod = 250 * time.Millisecond

// Connection wraps a WebSocket with a single writer goroutine.
// ARCHITECTURAL DISCOVERY: gorilla connections allow one concurrent writer,
// so every frame and ping goes through writeLoop.
type Connection struct {
	conn      *websocket.Conn
	userID    string
	cfg       ConnectionConfig
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewConnection wraps conn for userID and starts its writer.
func NewConnection(conn *websocket.Conn, userID string, cfg ConnectionConfig, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		userID:  userID,
		cfg:     cfg,
		writeCh: make(chan []byte, cfg.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With("user_id", userID),
	}
	go c.writeLoop()
	return c
}

// UserID returns the identity bound at handshake.
func (c *Connection) UserID() string { return c.userID }

// Context is cancelled when the connection closes.
func (c *Connection) Context() context.Context { return c.ctx }

// Done is closed when the connection closes.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Send enqueues frame for the writer, waiting at most EnqueueTimeout for
// buffer space.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- frame:
		return nil
	default:
	}

	timer := time.NewTimer(c.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case c.writeCh <- frame:
		return nil
	case <-timer.C:
		return ErrSendBufferFull
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// writeLoop is the only goroutine that writes data frames and pings.
// The write channel is never closed; senders observe ctx instead.
func (c *Connection) writeLoop() {
	defer func() { _ = c.Close() }()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// ReadLoop hands each data frame, text or binary, to handle one at a time
// until the peer goes away or the read deadline lapses without a pong.
// Binary frames are not dropped; the handler decides whether they parse.
func (c *Connection) ReadLoop(handle func(data []byte)) error {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) &&
				!errors.Is(c.ctx.Err(), context.Canceled) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return err
		}
		handle(data)
	}
}

// Close sends a close frame and tears the connection down. Safe to call
// more than once and from any goroutine.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		err = c.conn.Close()
	})
	return err
}
