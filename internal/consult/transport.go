package consult

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"medlink/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Transport is the signaling channel to the relay. The concrete
// implementation is a WebSocket; tests substitute a fake.
type Transport interface {
	Connect(ctx context.Context) error
	Send(env *domain.Envelope) error
	// Incoming delivers relayed envelopes. The channel is closed when the
	// connection drops or Close is called.
	Incoming() <-chan *domain.Envelope
	Close() error
}

// WebSocketTransport manages the WebSocket connection to the relay.
type WebSocketTransport struct {
	serverURL string
	token     string

	conn     *websocket.Conn
	incoming chan *domain.Envelope
	outgoing chan *domain.Envelope
	done     chan struct{}
	closed   sync.Once

	logger *zap.SugaredLogger
}

func NewWebSocketTransport(serverURL, token string, logger *zap.Logger) *WebSocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketTransport{
		serverURL: serverURL,
		token:     token,
		incoming:  make(chan *domain.Envelope, 8),
		outgoing:  make(chan *domain.Envelope, 8),
		done:      make(chan struct{}),
		logger:    logger.Sugar(),
	}
}

// Connect establishes the WebSocket connection and starts the read/write
// pumps.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	u, err := url.Parse(t.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("token", t.token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	t.conn = conn
	t.conn.SetReadLimit(maxMessageSize)
	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go t.readPump()
	go t.writePump()

	return nil
}

func (t *WebSocketTransport) readPump() {
	defer func() {
		t.conn.Close()
		close(t.incoming)
	}()

	for {
		var env domain.Envelope
		if err := t.conn.ReadJSON(&env); err != nil {
			return
		}
		t.conn.SetReadDeadline(time.Now().Add(pongWait))

		select {
		case t.incoming <- &env:
		case <-t.done:
			return
		}
	}
}

func (t *WebSocketTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case env := <-t.outgoing:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-t.done:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (t *WebSocketTransport) Send(env *domain.Envelope) error {
	select {
	case t.outgoing <- env:
		return nil
	case <-t.done:
		return fmt.Errorf("transport is closed")
	}
}

func (t *WebSocketTransport) Incoming() <-chan *domain.Envelope {
	return t.incoming
}

// Close shuts the transport down. Safe to call more than once and before
// Connect.
func (t *WebSocketTransport) Close() error {
	t.closed.Do(func() {
		close(t.done)
		if t.conn == nil {
			close(t.incoming)
		}
	})
	return nil
}
