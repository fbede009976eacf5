package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/riteshkumar/booking-escrow/internal/models"
)

// BookingEvent is published after a booking change has been committed.
type BookingEvent struct {
	Type       string               `json:"type"`
	BookingID  string               `json:"booking_id"`
	CustomerID string               `json:"customer_id"`
	ModelID    string               `json:"model_id"`
	Action     string               `json:"action"`
	FromStatus models.BookingStatus `json:"from_status,omitempty"`
	Status     models.BookingStatus `json:"status"`
	ActorID    string               `json:"actor_id"`
	OccurredAt time.Time            `json:"occurred_at"`
}

const (
	TypeBookingCreated       = "booking.created"
	TypeBookingStatusChanged = "booking.status_changed"
	TypeBookingCheckedIn     = "booking.checked_in"
)

type Publisher interface {
	Publish(ctx context.Context, event BookingEvent) error
}

// RedisPublisher publishes JSON events on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event BookingEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal booking event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish booking event: %w", err)
	}
	return nil
}

// NopPublisher drops every event. Used when no Redis URL is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, BookingEvent) error { return nil }

// NewRedisClient parses url (redis://... or host:port) into a client.
func NewRedisClient(url string) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		// Fall back to simple connection
		opts = &redis.Options{
			Addr: url,
		}
	}
	opts.MaxRetries = 3
	return redis.NewClient(opts)
}
