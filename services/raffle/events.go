package raffle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/raffle_engine/pkg/logger"
)

// Event topics.
const (
	EventGameStarted         = "game.started"
	EventDepositRecorded     = "deposit.recorded"
	EventDrawRequested       = "draw.requested"
	EventRandomnessFulfilled = "randomness.fulfilled"
	EventGameSettled         = "game.settled"
	EventClaimPaid           = "claim.paid"
)

// Event is a notification emitted after a committed transition.
type Event struct {
	ID         string         `json:"id"`
	Topic      string         `json:"topic"`
	GameID     uint64         `json:"game_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent builds an event with a fresh id.
func NewEvent(topic string, gameID uint64, payload map[string]any, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		GameID:     gameID,
		Payload:    payload,
		OccurredAt: at.UTC(),
	}
}

// LogPublisher writes events to the service log.
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher returns a publisher backed by log.
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	if log == nil {
		log = logger.NewDefault("raffle-events")
	}
	return &LogPublisher{log: log}
}

// Publish logs the event at info level.
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.log.WithContext(ctx).
		WithField("event_id", event.ID).
		WithField("topic", event.Topic).
		WithField("game_id", event.GameID).
		WithFields(event.Payload).
		Info("raffle event")
	return nil
}

// MultiPublisher fans an event out to several publishers and returns the first error.
type MultiPublisher []EventPublisher

// Publish delivers to every publisher even if an earlier one fails.
func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
