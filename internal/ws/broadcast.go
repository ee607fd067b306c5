package ws

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrTooManyConnections is returned by AddClient when the maximum number of
// concurrent WebSocket connections has been reached.
var ErrTooManyConnections = errors.New("too many WebSocket connections")

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans a single activity_update out to every connected
// /ws/activity client and answers ping with pong.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int
	log      *logrus.Entry
}

// NewBroadcaster constructs a Broadcaster. maxConns <= 0 means unbounded.
func NewBroadcaster(maxConns int, log *logrus.Entry) *Broadcaster {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Broadcaster{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
		log:      log,
	}
}

// AddClient registers a new connection and starts its write pump.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		conn.Close()
		return nil, ErrTooManyConnections
	}

	c := newClient(conn)
	b.clients[c] = true
	b.mu.Unlock()
	return c, nil
}

// RemoveClient unregisters a connection and stops its write pump.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// Publish broadcasts an activity_update to every connected client. Slow
// clients that cannot keep up are disconnected rather than blocking the
// Monitor Loop's publish call.
func (b *Broadcaster) Publish(update ActivityUpdate) {
	b.broadcast(Message{Type: MsgActivityUpdate, Data: update})
}

// Pong replies to a client's ping frame.
func (b *Broadcaster) Pong(c *client) {
	data, err := json.Marshal(Message{Type: MsgPong})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (b *Broadcaster) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.WithError(err).Error("broadcast marshal error")
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			b.log.Warn("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
