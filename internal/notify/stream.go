package notify

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
)

const (
	// DefaultHeartbeatInterval keeps proxies from closing idle streams.
	DefaultHeartbeatInterval = 15 * time.Second

	eventConnected = "connected"
)

// StreamConfig configures the SSE endpoint.
type StreamConfig struct {
	HeartbeatInterval time.Duration
	BufferSize        int
	// UserID resolves the authenticated caller. The stream trusts whatever
	// established the request.
	UserID func(c *gin.Context) (string, bool)
}

// StreamHandler serves a user's events as Server-Sent Events. The connection
// is registered on the bus for the lifetime of the request.
func StreamHandler(bus *Bus, log logger.Logger, cfg StreamConfig) gin.HandlerFunc {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	return func(c *gin.Context) {
		userID, ok := cfg.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		setSSEHeaders(c.Writer)

		conn := NewStreamConn(cfg.BufferSize)
		bus.Subscribe(userID, conn)
		defer func() {
			bus.Unsubscribe(conn)
			conn.Close()
		}()

		connected := fmt.Sprintf(`{"timestamp":%q}`, time.Now().UTC().Format(time.RFC3339))
		if err := writeFrame(c.Writer, Message{Event: eventConnected, Data: []byte(connected)}); err != nil {
			log.Debug("SSE connect write failed", logger.Error(err))
			return
		}
		c.Writer.Flush()

		log.Debug("SSE client connected",
			logger.UserID(userID),
			logger.String("conn_id", conn.ID()),
		)

		ticker := time.NewTicker(cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case msg, open := <-conn.Messages():
				if !open {
					return
				}
				if err := writeFrame(c.Writer, msg); err != nil {
					log.Debug("SSE write failed", logger.UserID(userID), logger.Error(err))
					return
				}
				c.Writer.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprintf(c.Writer, ": heartbeat %d\n\n", time.Now().Unix()); err != nil {
					return
				}
				c.Writer.Flush()
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}

func setSSEHeaders(w gin.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeFrame(w io.Writer, msg Message) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	return nil
}
