// Package redisbus publishes raffle events over Redis pub/sub and keeps a
// bounded list of recent events for late subscribers.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/raffle_engine/pkg/logger"
	"github.com/R3E-Network/raffle_engine/services/raffle"
)

const (
	defaultPrefix  = "raffle"
	defaultHistory = 500
)

// Options configures a Publisher.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces channel and key names.
	Prefix string
	// History caps the recent-events list. Zero uses the default.
	History int64
}

// Publisher implements raffle.EventPublisher.
type Publisher struct {
	client  *redis.Client
	prefix  string
	history int64
	log     *logger.Logger
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, opts Options, log *logger.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return NewPublisher(client, opts, log), nil
}

// NewPublisher wraps an existing client.
func NewPublisher(client *redis.Client, opts Options, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.NewDefault("raffle-redis")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	history := opts.History
	if history <= 0 {
		history = defaultHistory
	}
	return &Publisher{client: client, prefix: prefix, history: history, log: log}
}

// Channel returns the pub/sub channel for topic.
func (p *Publisher) Channel(topic string) string {
	return p.prefix + ":events:" + topic
}

func (p *Publisher) recentKey() string {
	return p.prefix + ":events:recent"
}

// Publish sends the event on its topic channel and records it in the recent list.
func (p *Publisher) Publish(ctx context.Context, event raffle.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, p.Channel(event.Topic), body)
	pipe.LPush(ctx, p.recentKey(), body)
	pipe.LTrim(ctx, p.recentKey(), 0, p.history-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}

	p.log.WithContext(ctx).
		WithField("event_id", event.ID).
		WithField("topic", event.Topic).
		Debug("event published to redis")
	return nil
}

// Recent returns up to n of the newest events, newest first.
func (p *Publisher) Recent(ctx context.Context, n int64) ([]raffle.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := p.client.LRange(ctx, p.recentKey(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent events: %w", err)
	}
	out := make([]raffle.Event, 0, len(raw))
	for _, item := range raw {
		var event raffle.Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			p.log.WithError(err).Warn("skipping malformed event in recent list")
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

// Subscribe returns a subscription to the given topics.
func (p *Publisher) Subscribe(ctx context.Context, topics ...string) *redis.PubSub {
	channels := make([]string, 0, len(topics))
	for _, t := range topics {
		channels = append(channels, p.Channel(t))
	}
	return p.client.Subscribe(ctx, channels...)
}

// Close releases the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
