package push

import (
	"context"
	"encoding/json"
	"log/slog"

	"bizyou-chat/internal/notify"
)

// Consumer drains the dispatch queue and hands commands to the
// Deliverer. Commands are acknowledged regardless of delivery outcome;
// push is never retried.
type Consumer struct {
	notifier  *notify.AMQPNotifier
	deliverer *Deliverer
}

// NewConsumer creates a dispatch consumer.
func NewConsumer(notifier *notify.AMQPNotifier, deliverer *Deliverer) *Consumer {
	return &Consumer{
		notifier:  notifier,
		deliverer: deliverer,
	}
}

// Start begins consuming until the context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.notifier.ConsumeDispatches()
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("push consumer stopping")
				return
			case d, ok := <-deliveries:
				if !ok {
					slog.Warn("dispatch channel closed")
					return
				}

				var cmd notify.DispatchCommand
				if err := json.Unmarshal(d.Body, &cmd); err != nil {
					slog.Warn("invalid dispatch command",
						slog.String("error", err.Error()))
					_ = d.Ack(false)
					continue
				}

				if err := c.deliverer.Deliver(ctx, cmd); err != nil {
					slog.Warn("push delivery failed",
						slog.String("room_id", cmd.RoomID),
						slog.String("error", err.Error()))
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}
