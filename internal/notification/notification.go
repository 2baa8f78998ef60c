// Package notification delivers operational alerts raised by the cashbox, such as
// reconciliation mismatches.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidroute/cashbox/internal/logging"
)

const (
	// KindLedgerMismatch reports a reconciliation run that found disagreements.
	KindLedgerMismatch = "ledger_mismatch"

	// DefaultChannel is the Redis channel alerts are published on.
	DefaultChannel = "cashbox:alerts"
)

// Message describes a notification payload.
type Message struct {
	Kind        string    `json:"kind"`
	Destination string    `json:"destination"`
	Body        string    `json:"body"`
	Details     []string  `json:"details,omitempty"`
	RaisedAt    time.Time `json:"raised_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *logging.Logger
}

func NewLoggerNotifier(logger *logging.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	ctx = n.logger.WithFields(ctx, map[string]any{
		"kind":        message.Kind,
		"destination": message.Destination,
		"details":     message.Details,
	})
	n.logger.Warn(ctx, message.Body, nil)
	return nil
}

// RedisNotifier publishes notifications as JSON on a Redis channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Fanout sends to every notifier and returns the first error after trying all.
type Fanout []Notifier

func (f Fanout) Send(ctx context.Context, message Message) error {
	var first error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
