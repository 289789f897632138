package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	reconnectAttempts = 5
	reconnectDelay    = time.Second
)

var (
	ErrNotConnected = errors.New("bridge: not connected")
	ErrNoURL        = errors.New("bridge: url is not configured")
)

// Frame is the JSON envelope spoken on the bridge socket, both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Chat is a WhatsApp conversation reported by the bridge.
type Chat struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	LastMessage string `json:"lastMessage"`
	Timestamp   int64  `json:"timestamp"`
	UnreadCount int    `json:"unreadCount"`
}

// ChatMessage is a single WhatsApp message within a chat.
type ChatMessage struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Body      string `json:"body"`
	FromMe    bool   `json:"fromMe"`
	Timestamp int64  `json:"timestamp"`
}

// State is a point-in-time snapshot of the mirrored bridge status.
type State struct {
	Connected bool
	QR        string
	Chats     []Chat
	ChatID    string
	Messages  []ChatMessage
	LastError string
}

// Client maintains a websocket session against the WhatsApp bridge and
// mirrors its state: connection flag, pairing QR code, chat directory and
// the selected chat's messages. Reads and commands are serialized through
// the connection; the mirror is safe for concurrent readers.
type Client struct {
	url    string
	logger *slog.Logger

	mu    sync.RWMutex
	conn  *websocket.Conn
	state State
}

func NewClient(url string, logger *slog.Logger) *Client {
	return &Client{url: url, logger: logger}
}

// Run dials the bridge and consumes events until the context is canceled.
// Dropped connections are redialed a bounded number of times before Run
// gives up.
func (c *Client) Run(ctx context.Context) error {
	if c.url == "" {
		return ErrNoURL
	}
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			attempts++
			if attempts >= reconnectAttempts {
				return err
			}
			c.log().Warn("bridge dial failed, retrying", "attempt", attempts, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
			continue
		}
		attempts = 0
		c.setConn(conn)
		c.requestInitialStatus()
		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log().Warn("bridge connection lost, reconnecting", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// State returns a snapshot of the mirrored bridge state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := c.state
	snapshot.Chats = append([]Chat(nil), c.state.Chats...)
	snapshot.Messages = append([]ChatMessage(nil), c.state.Messages...)
	return snapshot
}

func (c *Client) RequestChats() error {
	return c.send(Frame{Event: "get-chats"})
}

func (c *Client) RequestChatMessages(chatID string) error {
	data, err := json.Marshal(map[string]string{"chatId": chatID})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.state.ChatID = chatID
	c.state.Messages = nil
	c.mu.Unlock()
	return c.send(Frame{Event: "get-chat-messages", Data: data})
}

func (c *Client) SendMessage(chatID, text string) error {
	data, err := json.Marshal(map[string]string{"chatId": chatID, "message": text})
	if err != nil {
		return err
	}
	return c.send(Frame{Event: "send-message", Data: data})
}

func (c *Client) Logout() error {
	return c.send(Frame{Event: "logout"})
}

func (c *Client) requestInitialStatus() {
	if err := c.send(Frame{Event: "request-initial-status"}); err != nil {
		c.log().Warn("bridge initial status request failed", "error", err)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		c.apply(frame)
	}
}

func (c *Client) apply(frame Frame) {
	switch frame.Event {
	case "status", "initial-status":
		var data struct {
			Connected bool   `json:"connected"`
			QR        string `json:"qr"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		c.mu.Lock()
		c.state.Connected = data.Connected
		if data.Connected {
			c.state.QR = ""
		} else if data.QR != "" {
			c.state.QR = data.QR
		}
		c.mu.Unlock()
	case "qr":
		var data struct {
			QR string `json:"qr"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		c.mu.Lock()
		c.state.QR = data.QR
		c.state.Connected = false
		c.mu.Unlock()
	case "chats":
		var chats []Chat
		if err := json.Unmarshal(frame.Data, &chats); err != nil {
			return
		}
		c.mu.Lock()
		c.state.Chats = chats
		c.mu.Unlock()
	case "chat-messages":
		var data struct {
			ChatID   string        `json:"chatId"`
			Messages []ChatMessage `json:"messages"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		c.mu.Lock()
		if data.ChatID == c.state.ChatID {
			c.state.Messages = data.Messages
		}
		c.mu.Unlock()
	case "new_message":
		var message ChatMessage
		if err := json.Unmarshal(frame.Data, &message); err != nil {
			return
		}
		c.mu.Lock()
		if message.ChatID == c.state.ChatID {
			c.state.Messages = append(c.state.Messages, message)
		}
		c.mu.Unlock()
	case "error-message":
		var data struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		c.mu.Lock()
		c.state.LastError = data.Message
		c.mu.Unlock()
	}
}

func (c *Client) send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	if conn == nil {
		c.state.Connected = false
	}
	c.mu.Unlock()
}

func (c *Client) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}
