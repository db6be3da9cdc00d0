package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// QuoteHandler is called with the best bid/ask of every book message.
type QuoteHandler func(domain.Quote)

// StateHandler is called on every connection state transition, with true on
// (re)connect and false on disconnect.
type StateHandler func(connected bool)

// WSClient is a WebSocket client for the Polymarket CLOB market data feed,
// reduced to the "book" channel. It manages the connection lifecycle,
// subscriptions, and dispatches quotes to registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []WSCommand

	handlerMu     sync.RWMutex
	quoteHandlers []QuoteHandler
	stateHandlers []StateHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a new WebSocket client for the given WebSocket URL.
//
// wsURL is the CLOB WebSocket endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes a WebSocket connection to the CLOB feed.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Start the read loop and ping loop.
	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	for _, cmd := range w.subscriptions {
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("polymarket/ws: restore subscription: %w", err)
		}
	}

	w.notifyState(true)
	return nil
}

// Subscribe subscribes to book updates for the specified token IDs.
func (w *WSClient) Subscribe(ctx context.Context, tokenIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	cmd := WSCommand{
		Type:    "subscribe",
		Channel: "book",
		Assets:  tokenIDs,
	}

	if err := w.sendCommand(cmd); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}

	// Track subscription for reconnection.
	w.subscriptions = append(w.subscriptions, cmd)
	return nil
}

// Close shuts down the WebSocket connection and stops the read loop. No
// handler is invoked after Close returns.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		// Send a close message to the server.
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnQuote registers a handler called for every book message's best bid/ask.
func (w *WSClient) OnQuote(handler QuoteHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.quoteHandlers = append(w.quoteHandlers, handler)
}

// OnStateChange registers a handler called on connect and disconnect.
func (w *WSClient) OnStateChange(handler StateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.stateHandlers = append(w.stateHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// notifyState dispatches a connection state transition to state handlers.
func (w *WSClient) notifyState(connected bool) {
	w.handlerMu.RLock()
	handlers := w.stateHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(connected)
	}
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to the registered handlers. It runs in its own goroutine.
// On disconnect, it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			// Check if we've been shut down.
			select {
			case <-w.done:
				return
			default:
			}

			w.notifyState(false)

			// Attempt reconnection.
			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket message and routes book events to the
// quote handlers. The feed may batch messages into a JSON array.
func (w *WSClient) handleMessage(raw []byte) {
	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		batch = []json.RawMessage{raw}
	}

	for _, item := range batch {
		var envelope struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(item, &envelope); err != nil {
			continue // Silently drop unparseable messages.
		}
		if envelope.EventType != "book" {
			continue
		}

		var book BookMessage
		if err := json.Unmarshal(item, &book); err != nil {
			continue
		}
		quote := book.ToQuote()

		w.handlerMu.RLock()
		handlers := w.quoteHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(quote)
		}
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		// Exponential backoff.
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
