package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
)

const (
	asyncPublishTimeout = 5 * time.Second
	connectTimeout      = 5 * time.Second
	// streamMaxLen caps the stream with approximate trimming.
	streamMaxLen = 10000
)

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

// Emitter is what the runners and handlers depend on.
type Emitter interface {
	PublishAsync(event LifecycleEvent)
}

// NewRedisClient connects and pings.
func NewRedisClient(address, password string, db int) (*redis.Client, error) {
	if address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// Publisher appends lifecycle events to StreamName. A nil *Publisher is a no-op.
type Publisher struct {
	client *redis.Client
	log    logger.Logger
	now    func() time.Time
}

// NewPublisher returns nil when client is nil, so callers can pass the result
// straight through when Redis is disabled.
func NewPublisher(client *redis.Client, log logger.Logger) *Publisher {
	if client == nil {
		return nil
	}
	return &Publisher{client: client, log: log, now: time.Now}
}

// Publish appends event and returns the stream entry id.
func (p *Publisher) Publish(ctx context.Context, event LifecycleEvent) (string, error) {
	if p == nil || p.client == nil {
		return "", nil
	}

	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"event_type": string(event.EventType),
			"event":      string(payload),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to stream: %w", err)
	}

	p.log.Debug("Published lifecycle event",
		logger.String("event_type", string(event.EventType)),
		logger.UserID(event.UserID),
		logger.String("stream_id", id),
	)

	return id, nil
}

// PublishAsync publishes in the background. Failures are logged only.
func (p *Publisher) PublishAsync(event LifecycleEvent) {
	if p == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncPublishTimeout)
		defer cancel()

		if _, err := p.Publish(ctx, event); err != nil {
			p.log.Warn("Async lifecycle publish failed",
				logger.String("event_type", string(event.EventType)),
				logger.UserID(event.UserID),
				logger.Error(err),
			)
		}
	}()
}
