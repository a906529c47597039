package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"miovo-bridge/pkg/api"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("connection closed")

// Message is an inbound frame with its payload left undecoded.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestId string          `json:"requestId,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ReplyError is an error reply from the bridge.
type ReplyError struct {
	Message string
	Detail  api.ErrorDetail
}

func (e *ReplyError) Error() string {
	if e.Detail.StatusText != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Detail.StatusText)
	}
	return e.Message
}

// Client speaks the bridge protocol over one websocket. Replies are
// matched to requests by requestId; everything else is delivered on
// Events.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Message
	err     error

	events chan Message
	done   chan struct{}
}

func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan Message),
		events:  make(chan Message, 256),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}

		if msg.RequestId != "" {
			c.mu.Lock()
			reply, ok := c.pending[msg.RequestId]
			delete(c.pending, msg.RequestId)
			c.mu.Unlock()
			if ok {
				reply <- msg
				continue
			}
		}

		select {
		case c.events <- msg:
		default:
			slog.Warn("event buffer full, dropping message", "type", msg.Type)
		}
	}
}

// Events delivers pushes and uncorrelated replies. It is closed when the
// connection ends.
func (c *Client) Events() <-chan Message {
	return c.events
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Request sends msgType with data and waits for the correlated reply. An
// error reply is returned as a *ReplyError.
func (c *Client) Request(ctx context.Context, msgType string, data any) (Message, error) {
	requestId := uuid.NewString()
	reply := make(chan Message, 1)

	c.mu.Lock()
	c.pending[requestId] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, requestId)
		c.mu.Unlock()
	}()

	if err := c.Send(api.Message{Type: msgType, Data: data, RequestId: requestId}); err != nil {
		return Message{}, err
	}

	select {
	case msg := <-reply:
		if msg.Type == api.TypeError {
			rerr := &ReplyError{Message: msg.Error}
			if len(msg.Data) > 0 {
				_ = json.Unmarshal(msg.Data, &rerr.Detail)
			}
			return msg, rerr
		}
		return msg, nil
	case <-c.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *Client) Send(msg api.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// Decode unmarshals the payload of msg into T.
func Decode[T any](msg Message) (T, error) {
	var data T
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return data, fmt.Errorf("error decoding %s payload: %w", msg.Type, err)
	}
	return data, nil
}
