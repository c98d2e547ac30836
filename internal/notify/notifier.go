//go:generate go run go.uber.org/mock/mockgen -source=notifier.go -destination=../mocks/mock_notifier.go -package=mocks

// Package notify hands offline-receiver notifications to the push pipeline.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskOfflineMessage is the task type consumed by the push worker.
const TaskOfflineMessage = "chat:offline_message"

// OfflineNotification describes a message whose receiver had no live connection.
type OfflineNotification struct {
	UserID         string    `json:"user_id"`
	SenderID       string    `json:"sender_id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Preview        string    `json:"preview"`
	UnreadCount    int       `json:"unread_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notifier delivers offline notifications. Implementations must not block
// on the push provider itself.
type Notifier interface {
	NotifyOffline(ctx context.Context, n OfflineNotification) error
	Close() error
}

// NewOfflineTask builds the asynq task for n.
func NewOfflineTask(n OfflineNotification) (*asynq.Task, error) {
	if n.UserID == "" {
		return nil, errors.New("notify: user_id is required")
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("notify: marshal payload: %w", err)
	}
	return asynq.NewTask(TaskOfflineMessage, payload), nil
}

// AsynqNotifier enqueues offline notifications on a Redis-backed asynq queue.
type AsynqNotifier struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

var _ Notifier = (*AsynqNotifier)(nil)

// NewAsynqNotifier connects to the Redis instance at redisURL.
func NewAsynqNotifier(redisURL, queue string, maxRetry int) (*AsynqNotifier, error) {
	if redisURL == "" {
		return nil, errors.New("notify: redis url is required")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis url: %w", err)
	}
	return &AsynqNotifier{
		client:   asynq.NewClient(opt),
		queue:    queue,
		maxRetry: maxRetry,
	}, nil
}

func (a *AsynqNotifier) NotifyOffline(ctx context.Context, n OfflineNotification) error {
	task, err := NewOfflineTask(n)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.MaxRetry(a.maxRetry), asynq.Timeout(30 * time.Second)}
	if a.queue != "" {
		opts = append(opts, asynq.Queue(a.queue))
	}
	if _, err := a.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}

func (a *AsynqNotifier) Close() error {
	return a.client.Close()
}

// NopNotifier drops every notification. Used when no queue is configured.
type NopNotifier struct{}

func (NopNotifier) NotifyOffline(context.Context, OfflineNotification) error { return nil }

func (NopNotifier) Close() error { return nil }
