// Package notifier publishes execution results to the notification bus
// (Redis pub/sub) and persists them under a short-lived key, per §4.D.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/softbank-final/nanogrid-agent/internal/domain"
	"github.com/softbank-final/nanogrid-agent/internal/logging"
)

// resultTTL is the TTL applied to the job:<requestId> key, fixed at
// 600 seconds per §4.D and §6.
const resultTTL = 600 * time.Second

// PublishError wraps a notification-bus failure. Per §7, publish
// failures are logged and swallowed by the dispatcher — they never
// affect the queue ack decision — so this type exists for logging
// context only, not for classification.
type PublishError struct {
	RequestID string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish result for %s: %v", e.RequestID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publisher emits ExecutionResults to Redis.
type Publisher struct {
	client *redis.Client
	prefix string
}

// NewPublisher constructs a Publisher. The client is constructed once
// and shared for the process lifetime, per §5's "lazily initialized
// once per process" resource model.
func NewPublisher(addr, password string, db int, resultPrefix string) *Publisher {
	if resultPrefix == "" {
		resultPrefix = "result:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Publisher{client: client, prefix: resultPrefix}
}

// Publish implements §4.D: it builds the channel name <prefix><requestId>,
// publishes the serialized result, and separately SETEXes the same
// payload under job:<requestId> with a 600s TTL. A zero subscriber
// count is logged as a warning, not an error. A failed channel publish
// is logged here and not returned; a marshal or SETEX failure is
// returned wrapped in *PublishError for the caller to log and swallow.
func (p *Publisher) Publish(ctx context.Context, result *domain.ExecutionResult) error {
	payload, err := json.Marshal(result.Wire())
	if err != nil {
		return &PublishError{RequestID: result.RequestID, Err: fmt.Errorf("marshal result: %w", err)}
	}

	channel := p.prefix + result.RequestID
	n, err := p.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		logging.Op().Warn("notification bus publish failed", "request_id", result.RequestID, "error", err)
	} else if n == 0 {
		logging.Op().Warn("no subscribers for result channel", "request_id", result.RequestID, "channel", channel)
	}

	key := "job:" + result.RequestID
	if err := p.client.SetEX(ctx, key, payload, resultTTL).Err(); err != nil {
		return &PublishError{RequestID: result.RequestID, Err: fmt.Errorf("setex %s: %w", key, err)}
	}
	return nil
}

// Close releases the underlying Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
