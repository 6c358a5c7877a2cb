// Package alpaca implements a WebSocket client for the Alpaca market-data
// streams. The same client type serves both the equity stream (v2) and the
// crypto stream (v1beta3); the feed adapter composes one instance per
// endpoint.
package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/etfbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// authWait bounds the auth handshake during Connect.
	authWait = 15 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// StreamClient is a WebSocket client for one Alpaca market-data stream. It
// manages the connection lifecycle, the auth handshake, trade subscriptions,
// and dispatches normalized trade events to registered handlers.
type StreamClient struct {
	name   string
	wsURL  string
	key    string
	secret string
	logger *slog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	closed    bool
	connected bool

	// Subscriptions to restore on reconnect.
	subscribed []string

	handlerMu     sync.RWMutex
	tradeHandlers []domain.TradeHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewStreamClient creates a client for the given stream endpoint. name labels
// log lines and metrics ("equity" or "crypto").
func NewStreamClient(name, wsURL, key, secret string, logger *slog.Logger) *StreamClient {
	return &StreamClient{
		name:   name,
		wsURL:  wsURL,
		key:    key,
		secret: secret,
		logger: logger.With(slog.String("component", "alpaca_stream"), slog.String("feed", name)),
		done:   make(chan struct{}),
	}
}

// Connect dials the stream endpoint and completes the auth handshake. It
// returns an error if the dial or authentication fails; the caller decides
// whether that is fatal (primary feed) or degraded (secondary feed).
func (c *StreamClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("alpaca/%s: %w", c.name, domain.ErrAdapterClosed)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("alpaca/%s: connect: %w", c.name, err)
	}

	if err := c.authenticate(conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("alpaca/%s: %w", c.name, err)
	}

	c.conn = conn
	c.connected = true

	// Set up pong handler for keep-alive.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Start the read loop and ping loop.
	go c.readLoop(conn)
	go c.pingLoop(conn)

	// Restore any previous subscriptions after reconnect.
	if len(c.subscribed) > 0 {
		if err := c.send(conn, wsCommand{Action: "subscribe", Trades: c.subscribed}); err != nil {
			return fmt.Errorf("alpaca/%s: restore subscriptions: %w", c.name, err)
		}
	}

	return nil
}

// authenticate performs the connected → auth → authenticated exchange. The
// caller must hold c.mu and owns closing conn on error.
func (c *StreamClient) authenticate(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(authWait))

	// The server greets with a "connected" control message.
	greeting, err := readEnvelopes(conn)
	if err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	if len(greeting) == 0 || greeting[0].Msg != msgConnected {
		return fmt.Errorf("unexpected greeting %+v", greeting)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(wsCommand{Action: "auth", Key: c.key, Secret: c.secret}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	reply, err := readEnvelopes(conn)
	if err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}
	for _, env := range reply {
		if env.Type == msgTypeError {
			return fmt.Errorf("auth rejected: %s (code %d)", env.Msg, env.Code)
		}
	}
	if len(reply) == 0 || reply[0].Msg != msgAuthenticated {
		return fmt.Errorf("unexpected auth reply %+v", reply)
	}

	return nil
}

// SubscribeTrades subscribes the given symbols in one batched control message.
func (c *StreamClient) SubscribeTrades(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("alpaca/%s: %w", c.name, domain.ErrAdapterClosed)
	}
	if c.conn == nil || !c.connected {
		return fmt.Errorf("alpaca/%s: %w", c.name, domain.ErrNotConnected)
	}

	if err := c.send(c.conn, wsCommand{Action: "subscribe", Trades: symbols}); err != nil {
		return fmt.Errorf("alpaca/%s: subscribe: %w", c.name, err)
	}

	// Track for reconnection, skipping symbols already recorded.
	for _, s := range symbols {
		if !slices.Contains(c.subscribed, s) {
			c.subscribed = append(c.subscribed, s)
		}
	}

	return nil
}

// OnTrade registers a handler that is called for every trade event.
func (c *StreamClient) OnTrade(handler domain.TradeHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.tradeHandlers = append(c.tradeHandlers, handler)
}

// Connected reports whether the stream currently has a live connection.
func (c *StreamClient) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Disconnect shuts down the connection and stops the read loop. It is
// idempotent and safe to call multiple times.
func (c *StreamClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.connected = false
	close(c.done)

	if c.conn != nil {
		// Send a close message to the server.
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return c.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// send writes a JSON control message. Caller must hold c.mu.
func (c *StreamClient) send(conn *websocket.Conn, cmd wsCommand) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(cmd)
}

// readEnvelopes reads one frame and decodes it as an array of envelopes.
func readEnvelopes(conn *websocket.Conn) ([]wsEnvelope, error) {
	_, message, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var envs []wsEnvelope
	if err := json.Unmarshal(message, &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

// readLoop continuously reads frames from the WebSocket and dispatches trade
// events to registered handlers. On disconnect it attempts to reconnect with
// exponential backoff.
func (c *StreamClient) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		envs, err := readEnvelopes(conn)
		if err != nil {
			// Check if we've been shut down.
			select {
			case <-c.done:
				return
			default:
			}

			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()

			c.logger.Warn("stream read failed, reconnecting", slog.String("error", err.Error()))
			c.reconnect()
			return // readLoop is restarted by reconnect → Connect
		}

		for _, env := range envs {
			c.handleEnvelope(env)
		}
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (c *StreamClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleEnvelope routes one decoded message. Trade events fan out to the
// registered handlers; control messages are logged.
func (c *StreamClient) handleEnvelope(env wsEnvelope) {
	switch env.Type {
	case msgTypeTrade:
		ev := domain.TradeEvent{
			Symbol:    env.Symbol,
			Price:     env.Price,
			Timestamp: env.Time.UTC(),
		}

		c.handlerMu.RLock()
		handlers := c.tradeHandlers
		c.handlerMu.RUnlock()

		for _, h := range handlers {
			c.dispatch(h, ev)
		}

	case msgTypeError:
		c.logger.Warn("stream error message",
			slog.String("msg", env.Msg),
			slog.Int("code", env.Code),
		)

	case msgTypeSubscription:
		c.logger.Info("subscription confirmed",
			slog.Any("trades", env.Trades),
		)
	}
}

// dispatch invokes one handler with panic isolation: a failure costs only this
// event, never the subscription.
func (c *StreamClient) dispatch(h domain.TradeHandler, ev domain.TradeEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("trade handler panicked, event dropped",
				slog.String("symbol", ev.Symbol),
				slog.Any("panic", r),
			)
		}
	}()
	h(ev)
}

// reconnect attempts to re-establish the connection with exponential backoff.
// It blocks until successful or the client is closed.
func (c *StreamClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-c.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		c.logger.Warn("reconnect failed", slog.String("error", err.Error()))

		// Exponential backoff.
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
