package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nexobay/courier/internal/bus"
	"github.com/nexobay/courier/internal/config"
	"github.com/nexobay/courier/internal/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrNotConnected is returned by Send when the connection is not in the
// Connected state. The transport never queues or retries; the caller owns
// the failed-message affordance.
var ErrNotConnected = errors.New("transport: not connected")

// ErrNoCredentials is returned by Connect when no bearer token is available.
var ErrNoCredentials = errors.New("transport: no credentials")

const writeTimeout = 10 * time.Second

// handshakeTimeout bounds the whole connection attempt: dial and upgrade,
// auth write, first-frame read. Variable so tests can shorten it.
var handshakeTimeout = 10 * time.Second

// Conn owns the single persistent connection to the messaging endpoint:
// auth handshake, heartbeat, reconnect-with-backoff. Inbound frames are
// decoded and published on the bus in socket order (message,
// presence, ack). Malformed frames are logged and dropped.
type Conn struct {
	cfg     config.Client
	bus     *bus.Bus
	logger  *zap.Logger
	machine *Machine
	recon   *reconnector

	mu         sync.Mutex
	ws         *websocket.Conn
	cancel     context.CancelFunc
	token      string
	activeChat string
	loggedOut  bool
	quit       chan struct{}
}

// New creates a transport connection. It stays Disconnected until Connect
// is called with a credential.
func New(cfg config.Client, b *bus.Bus, logger *zap.Logger) *Conn {
	return &Conn{
		cfg:     cfg,
		bus:     b,
		logger:  logger,
		machine: NewMachine(b),
		recon:   newReconnector(cfg.BackoffBase(), cfg.BackoffMax(), cfg.MaxReconnectAttempts),
		quit:    make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	return c.machine.Current()
}

// Connect opens the socket, performs the auth handshake and starts the read
// and heartbeat loops. A dial or handshake failure moves the connection to
// Reconnecting and retries in the background with backoff.
func (c *Conn) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrNoCredentials
	}

	c.mu.Lock()
	c.token = token
	if c.loggedOut {
		// Fresh credentials after a logout revive the connection.
		c.loggedOut = false
		c.quit = make(chan struct{})
	}
	c.mu.Unlock()
	c.recon.reset()

	if err := c.machine.Transition(Connecting); err != nil {
		return err
	}
	if err := c.dial(ctx); err != nil {
		c.logger.Warn("connect failed", zap.Error(err))
		_ = c.machine.Transition(Reconnecting)
		go c.reconnectLoop()
		return err
	}
	return nil
}

// dial opens the socket, sends the auth envelope and waits for the first
// inbound frame before declaring the connection live.
func (c *Conn) dial(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	hctx, hcancel := context.WithTimeout(ctx, handshakeTimeout)
	defer hcancel()

	// The deadline covers the dial too: a peer that accepts TCP but never
	// completes the upgrade must fall through to the reconnect path.
	ws, _, err := websocket.Dial(hctx, wsURL(c.cfg.Endpoint), nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	frame, err := protocol.EncodeAuth(token)
	if err != nil {
		_ = ws.Close(websocket.StatusInternalError, "encode auth")
		return err
	}
	if err := ws.Write(hctx, websocket.MessageText, frame); err != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("send auth: %w", err)
	}
	_ = c.machine.Transition(Authenticating)

	// The server answers a successful handshake with its first frame (an
	// auth ack, or the presence snapshot). Silence means rejection.
	_, first, err := ws.Read(hctx)
	if err != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("auth handshake: %w", err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.ws = ws
	c.cancel = loopCancel
	c.mu.Unlock()

	_ = c.machine.Transition(Connected)
	c.recon.markConnected()

	c.handleFrame(first)

	go c.readLoop(loopCtx, ws)
	go c.heartbeatLoop(loopCtx, ws)

	return nil
}

// Send encodes and writes a single envelope. It fails fast with
// ErrNotConnected when the connection is not live.
func (c *Conn) Send(t protocol.EnvelopeType, payload any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil || c.machine.Current() != Connected {
		return ErrNotConnected
	}

	frame, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, frame)
}

// SetActiveChat records the conversation the user is attending. The next
// heartbeat carries a cursor envelope for it; one is also sent immediately
// so the server can zero the unread counter without waiting a full interval.
func (c *Conn) SetActiveChat(otherUserID string) {
	c.mu.Lock()
	c.activeChat = otherUserID
	c.mu.Unlock()

	if otherUserID != "" {
		// Best effort; heartbeat repeats it anyway.
		_ = c.Send(protocol.TypeCursor, protocol.Cursor{ChatWith: otherUserID, Ts: time.Now().UnixMilli()})
	}
}

// ActiveChat returns the currently attended conversation, or "".
func (c *Conn) ActiveChat() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeChat
}

// Logout closes the socket, cancels any reconnect loop and moves the
// connection to Disconnected. Terminal until Connect is called with new
// credentials.
func (c *Conn) Logout() {
	c.mu.Lock()
	c.loggedOut = true
	c.token = ""
	c.activeChat = ""
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	ws := c.ws
	c.ws = nil
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "logout")
	}
	_ = c.machine.Transition(Disconnected)
	c.logger.Info("transport logged out")
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if c.isLoggedOut() || ctx.Err() != nil {
				return
			}
			c.logger.Warn("connection lost", zap.Error(err))
			c.dropSocket(ws)
			_ = c.machine.Transition(Reconnecting)
			go c.reconnectLoop()
			return
		}
		c.handleFrame(data)
	}
}

func (c *Conn) heartbeatLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.Heartbeat())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.machine.Current() != Connected {
				return
			}
			now := time.Now().UnixMilli()
			frame, _ := protocol.EncodeHeartbeat(now)
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(wctx, websocket.MessageText, frame)
			if err == nil {
				if chat := c.ActiveChat(); chat != "" {
					cursor, _ := protocol.EncodeCursor(chat, now)
					err = ws.Write(wctx, websocket.MessageText, cursor)
				}
			}
			cancel()
			if err != nil {
				// Heartbeat failure is a connection-health signal, not a
				// per-message error: force the socket down and let the read
				// loop drive the reconnect.
				c.logger.Warn("heartbeat failed", zap.Error(err))
				_ = ws.Close(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

// reconnectLoop retries the connection with jittered exponential backoff
// until it succeeds, the attempt budget is exhausted, or logout.
func (c *Conn) reconnectLoop() {
	for {
		if c.isLoggedOut() {
			return
		}
		if !c.recon.shouldReconnect() {
			c.logger.Warn("reconnect attempts exhausted")
			_ = c.machine.Transition(Disconnected)
			return
		}

		delay := c.recon.nextDelay()
		c.logger.Info("reconnecting", zap.Duration("delay", delay))
		select {
		case <-time.After(delay):
		case <-c.quitCh():
			return
		}
		if c.isLoggedOut() {
			return
		}

		if err := c.machine.Transition(Connecting); err != nil {
			// Logout raced us into Disconnected.
			return
		}
		if err := c.dial(context.Background()); err != nil {
			c.logger.Warn("reconnect attempt failed", zap.Error(err))
			_ = c.machine.Transition(Reconnecting)
			continue
		}
		return
	}
}

func (c *Conn) handleFrame(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}
	switch env.Type {
	case protocol.TypeMessage:
		c.bus.Emit(bus.KindInboundMessage, env.Message)
	case protocol.TypePresence:
		c.bus.Emit(bus.KindInboundPresence, env.Presence)
	case protocol.TypeAck:
		c.bus.Emit(bus.KindInboundAck, env.Ack)
	case protocol.TypeCursor:
		c.bus.Emit(bus.KindInboundCursor, env.Cursor)
	case protocol.TypeAuth:
		// The server never sends auth envelopes; ignore.
	}
}

func (c *Conn) dropSocket(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
	}
	c.mu.Unlock()
}

func (c *Conn) isLoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *Conn) quitCh() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quit
}

// wsURL derives the websocket endpoint from the configured HTTP base URL.
func wsURL(endpoint string) string {
	u := strings.Replace(endpoint, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimSuffix(u, "/") + "/ws"
}
