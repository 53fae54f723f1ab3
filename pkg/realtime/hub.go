package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
	finalWait      = 2 * time.Second
)

// Message is the frame written to subscribers.
type Message struct {
	Type    string      `json:"type"`
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload,omitempty"`
}

type outbound struct {
	topic string
	data  []byte
	final bool
}

// Client is one websocket subscribed to a topic.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	topic string
	send  chan []byte
}

// Hub fans messages out to websocket clients grouped by topic.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	done       chan struct{}

	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}

	logger    *zap.Logger
	finalWait time.Duration
}

// NewHub constructs an idle hub; call Run to start dispatching.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 256),
		done:       make(chan struct{}),
		topics:     make(map[string]map[*Client]struct{}),
		logger:     logger.Named("realtime"),
		finalWait:  finalWait,
	}
}

// Run dispatches registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for topic, clients := range h.topics {
				for c := range clients {
					close(c.send)
				}
				delete(h.topics, topic)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.topics[c.topic] == nil {
				h.topics[c.topic] = make(map[*Client]struct{})
			}
			h.topics[c.topic][c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", zap.String("topic", c.topic))
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.topics[c.topic]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.topics, c.topic)
	}
}

func (h *Hub) deliver(msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.topics[msg.topic]
	for c := range clients {
		select {
		case c.send <- msg.data:
			if !msg.final {
				continue
			}
		default:
		}
		delete(clients, c)
		close(c.send)
	}
	if msg.final || len(clients) == 0 {
		delete(h.topics, msg.topic)
	}
}

// Publish sends a message to every subscriber of topic. Slow subscribers are
// dropped rather than blocking the publisher.
func (h *Hub) Publish(topic, msgType string, payload interface{}) error {
	return h.enqueue(topic, msgType, payload, false)
}

// PublishFinal sends a last message and disconnects the topic's subscribers.
// When the broadcast buffer is full it waits briefly for room instead of
// dropping the message.
func (h *Hub) PublishFinal(topic, msgType string, payload interface{}) error {
	return h.enqueue(topic, msgType, payload, true)
}

func (h *Hub) enqueue(topic, msgType string, payload interface{}, final bool) error {
	if h == nil {
		return nil
	}
	data, err := json.Marshal(Message{Type: msgType, Topic: topic, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal realtime message: %w", err)
	}
	msg := outbound{topic: topic, data: data, final: final}
	select {
	case h.broadcast <- msg:
		return nil
	default:
	}
	if !final {
		h.logger.Warn("broadcast buffer full, message dropped", zap.String("topic", topic), zap.String("type", msgType))
		return nil
	}

	timer := time.NewTimer(h.finalWait)
	defer timer.Stop()
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return nil
	case <-timer.C:
		h.logger.Warn("broadcast buffer full, final message dropped", zap.String("topic", topic), zap.String("type", msgType))
		return fmt.Errorf("realtime final message for %s dropped after %s", topic, h.finalWait)
	}
}

// Subscribers returns the number of clients on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Attach registers an upgraded connection on topic and starts its pumps. The
// optional greeting is written before any broadcast.
func (h *Hub) Attach(conn *websocket.Conn, topic string, greeting *Message) {
	c := &Client{hub: h, conn: conn, topic: topic, send: make(chan []byte, sendBuffer)}
	if greeting != nil {
		greeting.Topic = topic
		if data, err := json.Marshal(greeting); err == nil {
			c.send <- data
		}
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump only consumes control frames; subscribers never send data.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("unexpected websocket close", zap.String("topic", c.topic), zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
