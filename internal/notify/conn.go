package notify

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const defaultConnBuffer = 64

var connIDCounter atomic.Int64

// StreamConn is a buffered connection drained by an SSE handler.
type StreamConn struct {
	id       string
	messages chan Message
	closed   atomic.Bool
	closeMu  sync.Mutex
}

// NewStreamConn returns an open connection with the given buffer size.
func NewStreamConn(bufferSize int) *StreamConn {
	if bufferSize <= 0 {
		bufferSize = defaultConnBuffer
	}

	return &StreamConn{
		id:       fmt.Sprintf("sse-%d-%d", time.Now().UnixNano(), connIDCounter.Add(1)),
		messages: make(chan Message, bufferSize),
	}
}

func (c *StreamConn) ID() string { return c.id }

func (c *StreamConn) Open() bool { return !c.closed.Load() }

// Messages is closed once Close has been called.
func (c *StreamConn) Messages() <-chan Message { return c.messages }

func (c *StreamConn) Send(msg Message) bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return false
	}

	select {
	case c.messages <- msg:
		return true
	default:
		return false
	}
}

// Close is idempotent.
func (c *StreamConn) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Swap(true) {
		return
	}
	close(c.messages)
}
