// Package events implements the in-process fan-out bus. Topics are keyed by
// auction id, with an additional global firehose topic. Delivery is
// best-effort, at-most-once: a subscriber whose buffer is full misses the
// event.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/allabud/auction-backend/internal/metrics"
)

// Type names an event on the wire.
type Type string

const (
	TypeBidPlaced         Type = "BID_PLACED"
	TypeBidRetracted      Type = "BID_RETRACTED"
	TypeAuctionCreated    Type = "AUCTION_CREATED"
	TypeAuctionStarted    Type = "AUCTION_STARTED"
	TypeAuctionEnded      Type = "AUCTION_ENDED"
	TypeAuctionEndingSoon Type = "AUCTION_ENDING_SOON"
	TypeAuctionUpdated    Type = "AUCTION_UPDATED"
	TypeYouWereOutbid     Type = "YOU_WERE_OUTBID"
)

// globalTypes lists the events mirrored onto the global topic; targeted and
// per-auction advisory events stay on their auction topic only.
var globalTypes = map[Type]bool{
	TypeBidPlaced:      true,
	TypeBidRetracted:   true,
	TypeAuctionCreated: true,
	TypeAuctionStarted: true,
	TypeAuctionEnded:   true,
	TypeAuctionUpdated: true,
}

// Event is the unit of fan-out. Payload is marshalled as-is; Timestamp is
// RFC 3339 on the wire.
type Event struct {
	Type         Type           `json:"type"`
	AuctionID    uuid.UUID      `json:"auction_id"`
	Timestamp    time.Time      `json:"timestamp"`
	TargetUserID *uuid.UUID     `json:"target_user_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Publisher is the producer-side surface services depend on.
type Publisher interface {
	Publish(ev Event)
}

// Subscription is a live feed of events. Close it via the Bus to stop
// delivery and release the buffer.
type Subscription struct {
	C  <-chan Event
	ch chan Event
	id uint64
}

// Bus is the process-wide event router.
type Bus struct {
	logger  *zap.Logger
	bufSize int

	mu     sync.RWMutex
	nextID uint64
	topics map[uuid.UUID]map[uint64]*Subscription
	global map[uint64]*Subscription
	closed bool
}

const defaultBufSize = 64

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger:  logger,
		bufSize: defaultBufSize,
		topics:  make(map[uuid.UUID]map[uint64]*Subscription),
		global:  make(map[uint64]*Subscription),
	}
}

// Subscribe attaches a listener to one auction's topic.
func (b *Bus) Subscribe(auctionID uuid.UUID) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := b.newSubLocked()
	topic, ok := b.topics[auctionID]
	if !ok {
		topic = make(map[uint64]*Subscription)
		b.topics[auctionID] = topic
	}
	topic[sub.id] = sub
	return sub
}

// SubscribeGlobal attaches a firehose listener.
func (b *Bus) SubscribeGlobal() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := b.newSubLocked()
	b.global[sub.id] = sub
	return sub
}

// Unsubscribe detaches the subscription from auctionID's topic and closes
// its channel.
func (b *Bus) Unsubscribe(auctionID uuid.UUID, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic, ok := b.topics[auctionID]; ok {
		if _, ok := topic[sub.id]; ok {
			delete(topic, sub.id)
			close(sub.ch)
		}
		if len(topic) == 0 {
			delete(b.topics, auctionID)
		}
	}
}

// UnsubscribeGlobal detaches a firehose subscription.
func (b *Bus) UnsubscribeGlobal(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.global[sub.id]; ok {
		delete(b.global, sub.id)
		close(sub.ch)
	}
}

// Publish fans the event out to the auction topic and, for broadcastable
// types, the global topic. Never blocks: full subscribers are skipped.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.topics[ev.AuctionID] {
		b.deliver(sub, ev)
	}
	if globalTypes[ev.Type] {
		for _, sub := range b.global {
			b.deliver(sub, ev)
		}
	}
}

// Close shuts the bus; all subscriber channels are closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, topic := range b.topics {
		for _, sub := range topic {
			close(sub.ch)
		}
		delete(b.topics, id)
	}
	for id, sub := range b.global {
		close(sub.ch)
		delete(b.global, id)
	}
}

func (b *Bus) newSubLocked() *Subscription {
	b.nextID++
	ch := make(chan Event, b.bufSize)
	return &Subscription{C: ch, ch: ch, id: b.nextID}
}

func (b *Bus) deliver(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
	default:
		metrics.EventsDropped.Inc()
		b.logger.Warn("dropping event for slow subscriber",
			zap.String("type", string(ev.Type)),
			zap.String("auction_id", ev.AuctionID.String()))
	}
}
