// Package wsconn adapts gorilla/websocket connections to the progress
// Channel interface: JSON text frames out, keepalive pings, and a read loop
// that only watches for the peer going away.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/sweep-progress/internal/progress"
)

const (
	defaultBufferSize   = 1024
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultWriteWait    = 10 * time.Second
	closeGrace          = time.Second
)

// Config tunes upgrades and keepalive.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	// PingInterval must be shorter than PongWait.
	PingInterval time.Duration
	PongWait     time.Duration
	// AllowedOrigins lists browser origins permitted to connect. "*" allows
	// any origin; requests without an Origin header are always allowed.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaultBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = defaultBufferSize
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	return c
}

// Upgrader accepts WebSocket handshakes.
type Upgrader struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewUpgrader builds an Upgrader enforcing cfg's origin allowlist.
func NewUpgrader(cfg Config, logger *zap.Logger) *Upgrader {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	u := &Upgrader{cfg: cfg, logger: logger}
	u.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     u.checkOrigin,
	}
	return u
}

func (u *Upgrader) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range u.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	u.logger.Debug("websocket origin rejected", zap.String("origin", origin))
	return false
}

// Upgrade completes the handshake. On failure gorilla has already written an
// HTTP error response.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return newConn(ws, u.cfg), nil
}

// Conn is one accepted WebSocket. It satisfies progress.Channel.
type Conn struct {
	ws  *websocket.Conn
	cfg Config

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, cfg Config) *Conn {
	return &Conn{ws: ws, cfg: cfg, closed: make(chan struct{})}
}

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("websocket closed")

// Send writes msg as one JSON text frame. The write deadline comes from ctx.
func (c *Conn) Send(ctx context.Context, msg progress.Message) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Wait reads until the peer goes away, pinging every PingInterval. Inbound
// frames are discarded. A close frame from the peer, or a local Close, yields
// nil; anything else is an abrupt disconnect.
func (c *Conn) Wait(ctx context.Context) error {
	if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go c.keepalive(ctx, stop)

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if c.isClosed() || websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("wait: %w", ctxErr)
			}
			return fmt.Errorf("read frame: %w", err)
		}
	}
}

func (c *Conn) keepalive(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.closed:
			return
		case <-ctx.Done():
			// Unblocks the read loop.
			_ = c.ws.Close()
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteWait)); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

// Close sends a normal close frame and releases the socket. Safe to call
// more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(closeGrace))
		if cerr := c.ws.Close(); cerr != nil {
			err = fmt.Errorf("close websocket: %w", cerr)
		}
	})
	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

var _ progress.Channel = (*Conn)(nil)
