package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/monitoring"
)

// ErrClosed is returned by Send on a channel that is not open.
var ErrClosed = errors.New("channel closed")

const defaultWriteTimeout = 10 * time.Second

// Options configures a Channel.
type Options struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// Origin is attached to every inbound event unless the frame names its
	// own scope.
	Origin  string
	Ingress *events.Ingress
	Header  http.Header

	WriteTimeout time.Duration
	// Keepalive is the ping interval; zero disables pings.
	Keepalive time.Duration

	// OnDisconnect is called when the connection drops without Close.
	OnDisconnect func(err error)

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// link is one established connection.
type link struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (l *link) shutdown() bool {
	first := false
	l.once.Do(func() {
		first = true
		close(l.done)
		_ = l.conn.Close()
	})
	return first
}

// Channel is a client push connection. Inbound frames are handed to the
// ingress on the read goroutine, so dispatch order matches arrival order.
type Channel struct {
	opts   Options
	dialer *websocket.Dialer
	logger *zap.Logger

	mu       sync.Mutex
	link     *link
	clientID string
	lastPong time.Time

	writeMu sync.Mutex
}

// New creates a channel. Nothing is dialed until Connect.
func New(opts Options) *Channel {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Channel{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			EnableCompression: true,
		},
		logger: logging.OrNop(opts.Logger).Named("channel").With(zap.String("origin", opts.Origin)),
	}
}

// Connect dials the endpoint. It returns nil at once when already open.
// The handshake is bounded by ctx.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link != nil {
		return nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		c.opts.Metrics.RecordChannelError("connect")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("dial %s: %w", c.opts.URL, ctxErr)
		}
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return fmt.Errorf("dial %s: %w", c.opts.URL, context.DeadlineExceeded)
		}
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	l := &link{conn: conn, done: make(chan struct{})}
	c.link = l
	c.opts.Metrics.ChannelOpened()

	go c.readLoop(l)
	if c.opts.Keepalive > 0 {
		go c.keepalive(l)
	}

	c.logger.Debug("Channel connected", zap.String("url", c.opts.URL))
	return nil
}

// IsOpen reports whether the channel is connected.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// ClientID returns the id assigned by the server's connected frame.
func (c *Channel) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// LastPong returns when the last pong frame arrived.
func (c *Channel) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// Send writes one frame.
func (c *Channel) Send(ctx context.Context, frame events.Frame) error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return ErrClosed
	}

	data, err := frame.Encode()
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = l.conn.SetWriteDeadline(deadline)
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.opts.Metrics.RecordChannelError("write")
		return fmt.Errorf("write %s frame: %w", frame.Type, err)
	}
	c.opts.Metrics.RecordFrame("outbound")
	return nil
}

// Close shuts the connection down. Closing a closed channel does nothing.
// Close does not wait for the read goroutine, so it is safe to call from
// an event handler.
func (c *Channel) Close() error {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.mu.Unlock()

	if l == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	if l.shutdown() {
		c.opts.Metrics.ChannelClosed()
	}
	c.logger.Debug("Channel closed")
	return nil
}

func (c *Channel) readLoop(l *link) {
	ctx := context.Background()
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			c.lost(l, err)
			return
		}
		c.deliver(ctx, data)
	}
}

func (c *Channel) deliver(ctx context.Context, data []byte) {
	frame, err := events.ParseFrame(data)
	if err != nil {
		// The ingress counts and logs the malformed frame.
		_, _ = c.opts.Ingress.Accept(ctx, c.opts.Origin, data)
		return
	}

	switch frame.Type {
	case events.TypeConnected:
		if payload, err := frame.Decode(); err == nil {
			c.mu.Lock()
			c.clientID = payload.(events.Connected).ClientID
			c.mu.Unlock()
		}
	case events.TypePong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
	}

	_, _ = c.opts.Ingress.AcceptFrame(ctx, c.opts.Origin, frame)
}

// lost handles a read failure. It is a normal exit after Close and a
// disconnect otherwise.
func (c *Channel) lost(l *link, err error) {
	c.mu.Lock()
	current := c.link == l
	if current {
		c.link = nil
	}
	c.mu.Unlock()

	if !current {
		return
	}

	if l.shutdown() {
		c.opts.Metrics.ChannelClosed()
	}
	c.opts.Metrics.RecordChannelError("read")
	c.logger.Warn("Channel disconnected", zap.Error(err))

	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(err)
	}
}

func (c *Channel) keepalive(l *link) {
	ticker := time.NewTicker(c.opts.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case now := <-ticker.C:
			ping, err := events.NewFrame(events.TypePing, map[string]int64{"timestamp": now.UnixMilli()})
			if err != nil {
				continue
			}
			if err := c.Send(context.Background(), ping); err != nil {
				c.logger.Debug("Keepalive ping failed", zap.Error(err))
			}
		}
	}
}

// URLFor turns the backend HTTP URL into the channel endpoint, switching
// the scheme to ws or wss and adding query parameters.
func URLFor(backendURL, path string, query map[string]string) (string, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	q := u.Query()
	for k, v := range query {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
