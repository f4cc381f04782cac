// Package notifier delivers structured outcome events. The engine hands
// events over without waiting for delivery.
package notifier

import (
	"context"
	"errors"
	"log/slog"

	"autobuy/internal/domain/entity"
	"autobuy/pkg/logx"
)

var ErrQueueFull = errors.New("notification queue is full")

// Channel queues events for an asynchronous consumer such as TelegramBot.
type Channel struct {
	events chan entity.OutcomeEvent
}

func NewChannel(size int) *Channel {
	return &Channel{events: make(chan entity.OutcomeEvent, size)}
}

// Notify never blocks the purchase path; a full queue drops the event.
func (c *Channel) Notify(_ context.Context, event entity.OutcomeEvent) error {
	select {
	case c.events <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Channel) Events() <-chan entity.OutcomeEvent {
	return c.events
}

func (c *Channel) Close() {
	close(c.events)
}

// Log only writes the event to the log. Used when no delivery channel is
// configured.
type Log struct{}

func (Log) Notify(ctx context.Context, event entity.OutcomeEvent) error {
	logger(ctx).Info("purchase outcome",
		slog.String("event-type", string(event.Type)),
		slog.String("urgency", string(event.Urgency)),
		slog.String(logx.FieldConfigurationID, event.ConfigurationID),
		slog.Int64(logx.FieldOwnerID, event.OwnerID),
		slog.String(logx.FieldAttemptID, event.AttemptID),
		slog.String(logx.FieldSource, event.Source),
		slog.String("total-paid", event.TotalPaid.String()),
		slog.Any("reasons", event.Reasons),
	)
	return nil
}
