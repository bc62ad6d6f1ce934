// Package websocket is the push channel. Clients connect to /ws, send
// subscribe/unsubscribe control frames, and receive the event stream for
// the auctions they follow.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/allabud/auction-backend/internal/infrastructure/events"
	"github.com/allabud/auction-backend/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

// controlFrame is what clients send.
type controlFrame struct {
	Type      string    `json:"type"`
	AuctionID uuid.UUID `json:"auction_id,omitempty"`
}

// client is one connected subscriber and its bus subscriptions.
type client struct {
	conn   *websocket.Conn
	bus    *events.Bus
	logger *zap.Logger
	userID *uuid.UUID

	send chan events.Event
	done chan struct{}

	mu     sync.Mutex
	topics map[uuid.UUID]*events.Subscription
	global *events.Subscription
}

func newClient(conn *websocket.Conn, bus *events.Bus, userID *uuid.UUID, logger *zap.Logger) *client {
	return &client{
		conn:   conn,
		bus:    bus,
		logger: logger,
		userID: userID,
		send:   make(chan events.Event, sendBuffer),
		done:   make(chan struct{}),
		topics: make(map[uuid.UUID]*events.Subscription),
	}
}

func (c *client) run() {
	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()
	go c.writePump()
	c.readPump()
}

// readPump consumes control frames until the connection drops.
func (c *client) readPump() {
	defer c.teardown()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		var frame controlFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Debug("ignoring malformed control frame", zap.Error(err))
			continue
		}
		c.handleControl(frame)
	}
}

func (c *client) handleControl(frame controlFrame) {
	switch frame.Type {
	case "subscribe_auction":
		if frame.AuctionID == uuid.Nil {
			return
		}
		c.mu.Lock()
		if _, ok := c.topics[frame.AuctionID]; !ok {
			sub := c.bus.Subscribe(frame.AuctionID)
			c.topics[frame.AuctionID] = sub
			go c.forward(sub)
		}
		c.mu.Unlock()
	case "unsubscribe_auction":
		c.mu.Lock()
		if sub, ok := c.topics[frame.AuctionID]; ok {
			delete(c.topics, frame.AuctionID)
			c.bus.Unsubscribe(frame.AuctionID, sub)
		}
		c.mu.Unlock()
	case "subscribe_global":
		c.mu.Lock()
		if c.global == nil {
			sub := c.bus.SubscribeGlobal()
			c.global = sub
			go c.forward(sub)
		}
		c.mu.Unlock()
	case "unsubscribe_global":
		c.mu.Lock()
		if c.global != nil {
			c.bus.UnsubscribeGlobal(c.global)
			c.global = nil
		}
		c.mu.Unlock()
	default:
		c.logger.Debug("unknown control frame", zap.String("type", frame.Type))
	}
}

// forward drains one subscription into the shared send channel, dropping
// events when the client cannot keep up.
func (c *client) forward(sub *events.Subscription) {
	for ev := range sub.C {
		if ev.TargetUserID != nil && (c.userID == nil || *c.userID != *ev.TargetUserID) {
			continue
		}
		select {
		case c.send <- ev:
		case <-c.done:
			return
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

// writePump serializes all writes to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
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

func (c *client) teardown() {
	close(c.done)
	c.mu.Lock()
	for id, sub := range c.topics {
		c.bus.Unsubscribe(id, sub)
	}
	c.topics = map[uuid.UUID]*events.Subscription{}
	if c.global != nil {
		c.bus.UnsubscribeGlobal(c.global)
		c.global = nil
	}
	c.mu.Unlock()
	_ = c.conn.Close()
}
