// Package ws is the WebSocket chat surface: JSON frames in both
// directions over a connection the runtime's HTTP server upgrades.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// sendBuffer is the per-connection outbound queue; a client that
	// cannot drain it is disconnected.
	sendBuffer = 64
)

// Inbound frame types.
const (
	FrameUserMessage  = "user_message"
	FrameUserApproval = "user_approval"
)

// Outbound frame types.
const (
	FrameChunk = "chunk"
	FrameError = "error"
)

// Frame is the JSON envelope on the wire, both directions.
type Frame struct {
	Type     string              `json:"type"`
	ChatID   string              `json:"chat_id"`
	Text     string              `json:"text,omitempty"`
	Approved bool                `json:"approved,omitempty"`
	Chunk    *models.StreamChunk `json:"chunk,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Config holds the WebSocket adapter settings.
type Config struct {
	// Path is where the runtime mounts the upgrade handler.
	Path string

	// Logger is optional.
	Logger *slog.Logger
}

// Adapter implements gateway.Adapter over WebSocket connections. The
// runtime mounts Handler() on its HTTP server; each connection may speak
// for any number of chat ids, and receives the streams for every chat it
// has sent a frame for.
type Adapter struct {
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	events   chan *models.Event

	mu      sync.Mutex
	clients map[*client]struct{}
	running bool
	cancel  context.CancelFunc
	baseCtx context.Context

	wg sync.WaitGroup
}

// New creates a WebSocket adapter.
func New(config Config) *Adapter {
	if config.Path == "" {
		config.Path = "/ws"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		config: config,
		logger: logger.With("gateway", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		events:  make(chan *models.Event, 100),
		clients: make(map[*client]struct{}),
	}
}

// Name implements gateway.Adapter.
func (a *Adapter) Name() string { return "websocket" }

// Path is where Handler should be mounted.
func (a *Adapter) Path() string { return a.config.Path }

// Events implements gateway.Adapter.
func (a *Adapter) Events() <-chan *models.Event { return a.events }

// Start implements gateway.Adapter. Connections arrive via Handler; Start
// only opens the accept window.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("websocket gateway already started")
	}
	a.baseCtx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.running = true
	a.logger.Info("websocket gateway started", "path", a.config.Path)
	return nil
}

// Stop closes every connection and waits for their pumps.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.cancel()
	for c := range a.clients {
		c.conn.Close()
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		close(a.events)
		a.logger.Info("websocket gateway stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("websocket: stop timeout: %w", ctx.Err())
	}
}

// Handler upgrades HTTP requests into tracked connections.
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		running := a.running
		a.mu.Unlock()
		if !running {
			http.Error(w, "gateway not running", http.StatusServiceUnavailable)
			return
		}

		conn, err := a.upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		a.register(conn)
	})
}

func (a *Adapter) register(conn *websocket.Conn) {
	c := &client{
		conn:  conn,
		send:  make(chan Frame, sendBuffer),
		chats: make(map[string]bool),
	}
	a.mu.Lock()
	a.clients[c] = struct{}{}
	a.mu.Unlock()

	a.wg.Add(2)
	go a.writePump(c)
	go a.readPump(c)
	a.logger.Debug("websocket client connected", "remote", conn.RemoteAddr())
}

func (a *Adapter) unregister(c *client) {
	a.mu.Lock()
	if _, ok := a.clients[c]; ok {
		delete(a.clients, c)
		close(c.send)
	}
	a.mu.Unlock()
	c.conn.Close()
}

// Render broadcasts each chunk to every connection that has spoken for
// chatID. Slow clients drop frames rather than stall the stream.
func (a *Adapter) Render(ctx context.Context, chatID string, chunks <-chan *models.StreamChunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			a.broadcast(chatID, Frame{Type: FrameChunk, ChatID: chatID, Chunk: chunk})
		}
	}
}

func (a *Adapter) broadcast(chatID string, frame Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for c := range a.clients {
		if !c.subscribed(chatID) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			a.logger.Warn("websocket client too slow, dropping frame", "chat_id", chatID)
		}
	}
}

// client is one upgraded connection with its outbound queue and the set
// of chat ids it has claimed.
type client struct {
	conn *websocket.Conn
	send chan Frame

	mu    sync.Mutex
	chats map[string]bool
}

func (c *client) claim(chatID string) {
	c.mu.Lock()
	c.chats[chatID] = true
	c.mu.Unlock()
}

func (c *client) subscribed(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chats[chatID]
}

// readPump parses inbound frames into bus events until the connection
// drops.
func (a *Adapter) readPump(c *client) {
	defer a.wg.Done()
	defer a.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		a.handleFrame(c, data)
	}
}

func (a *Adapter) handleFrame(c *client, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		a.sendError(c, fmt.Sprintf("malformed frame: %v", err))
		return
	}
	if frame.ChatID == "" {
		a.sendError(c, "chat_id is required")
		return
	}
	c.claim(frame.ChatID)

	var ev *models.Event
	switch frame.Type {
	case FrameUserMessage:
		ev = models.NewUserMessageEvent(frame.ChatID, frame.Text, a.Name())
	case FrameUserApproval:
		ev = models.NewUserApprovalEvent(frame.ChatID, frame.Approved, a.Name())
	default:
		a.sendError(c, fmt.Sprintf("unknown frame type %q", frame.Type))
		return
	}

	select {
	case a.events <- ev:
	default:
		a.logger.Warn("event buffer full, dropping frame", "type", frame.Type, "chat_id", frame.ChatID)
	}
}

func (a *Adapter) sendError(c *client, msg string) {
	select {
	case c.send <- Frame{Type: FrameError, Error: msg}:
	default:
	}
}

// writePump serializes all writes to one goroutine: queued frames plus the
// keepalive pings.
func (a *Adapter) writePump(c *client) {
	defer a.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
