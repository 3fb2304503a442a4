// Package notify pushes progress events to a user's live connections.
package notify

import (
	"encoding/json"
	"sync"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
)

// Message is an event serialized once and shared by every recipient.
type Message struct {
	Event string
	Data  []byte
}

// Conn is a live push connection. Send must not block.
type Conn interface {
	ID() string
	Open() bool
	// Send queues msg and reports false if the connection cannot take it.
	Send(msg Message) bool
	// Close ends the connection. It must be idempotent.
	Close()
}

// Publisher is the side of the bus the runners depend on.
type Publisher interface {
	Publish(userID string, event domain.Event) int
}

// Bus is the subscriber registry keyed by user id. One mutex covers
// registration, removal and publish iteration.
type Bus struct {
	mu      sync.Mutex
	buckets map[string]map[string]Conn
	owners  map[string]map[string]struct{}
	log     logger.Logger
}

// NewBus returns an empty registry.
func NewBus(log logger.Logger) *Bus {
	return &Bus{
		buckets: make(map[string]map[string]Conn),
		owners:  make(map[string]map[string]struct{}),
		log:     log,
	}
}

// Subscribe registers conn under userID. A user may hold many connections and
// a connection may be registered under more than one user.
func (b *Bus) Subscribe(userID string, conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.buckets[userID]
	if !ok {
		bucket = make(map[string]Conn)
		b.buckets[userID] = bucket
	}
	bucket[conn.ID()] = conn

	users, ok := b.owners[conn.ID()]
	if !ok {
		users = make(map[string]struct{})
		b.owners[conn.ID()] = users
	}
	users[userID] = struct{}{}
}

// Unsubscribe removes conn from every bucket and drops buckets left empty.
func (b *Bus) Unsubscribe(conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(conn.ID())
}

func (b *Bus) removeLocked(connID string) {
	for userID := range b.owners[connID] {
		bucket := b.buckets[userID]
		delete(bucket, connID)
		if len(bucket) == 0 {
			delete(b.buckets, userID)
		}
	}
	delete(b.owners, connID)
}

// Publish serializes event once and offers it to each open connection of
// userID. It returns how many connections accepted it. Closed connections are
// skipped. A connection whose buffer is full is dropped from the registry and
// closed, so its stream ends instead of idling on heartbeats.
func (b *Bus) Publish(userID string, event domain.Event) int {
	data, err := json.Marshal(event)
	if err != nil {
		b.log.Error("Failed to serialize event",
			logger.UserID(userID),
			logger.String("event_type", event.EventType()),
			logger.Error(err),
		)
		return 0
	}

	msg := Message{Event: event.EventType(), Data: data}

	b.mu.Lock()
	delivered := 0
	var slow []Conn

	for _, conn := range b.buckets[userID] {
		if !conn.Open() {
			continue
		}
		if conn.Send(msg) {
			delivered++
			continue
		}
		slow = append(slow, conn)
	}

	for _, conn := range slow {
		b.removeLocked(conn.ID())
	}
	b.mu.Unlock()

	for _, conn := range slow {
		b.log.Warn("Connection buffer full, dropping slow subscriber",
			logger.UserID(userID),
			logger.String("conn_id", conn.ID()),
			logger.String("event_type", msg.Event),
		)
		conn.Close()
	}

	return delivered
}

// CloseAll closes every registered connection, empties the registry and
// returns how many connections it closed. Streams waiting on their connection
// return, so the HTTP server can shut down without waiting on them.
func (b *Bus) CloseAll() int {
	b.mu.Lock()
	conns := make(map[string]Conn, len(b.owners))
	for _, bucket := range b.buckets {
		for id, conn := range bucket {
			conns[id] = conn
		}
	}
	b.buckets = make(map[string]map[string]Conn)
	b.owners = make(map[string]map[string]struct{})
	b.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	return len(conns)
}
