package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"bizyou-chat/internal/domain"
)

const (
	notificationsExchange = "chat.notifications"
	dispatchQueue         = "push.dispatch"
	dispatchRoutingKey    = "push.message"
)

// DispatchCommand is one push delivery request placed on the queue.
type DispatchCommand struct {
	RoomID     string `json:"room_id"`
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Preview    string `json:"preview"`
	HasImage   bool   `json:"has_image"`
	Timestamp  int64  `json:"timestamp"`
}

// AMQPNotifier publishes push dispatch commands. Delivery is
// best-effort by contract: callers log and swallow errors.
type AMQPNotifier struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPNotifier connects to the broker and declares the dispatch
// topology.
func NewAMQPNotifier(url string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	n := &AMQPNotifier{
		conn:    conn,
		channel: ch,
	}

	if err := n.setup(); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

func (n *AMQPNotifier) setup() error {
	if err := n.channel.ExchangeDeclare(
		notificationsExchange, // name
		"topic",               // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	); err != nil {
		return fmt.Errorf("failed to declare notifications exchange: %w", err)
	}

	if _, err := n.channel.QueueDeclare(
		dispatchQueue, // name
		true,          // durable
		false,         // delete when unused
		false,         // exclusive
		false,         // no-wait
		nil,           // arguments
	); err != nil {
		return fmt.Errorf("failed to declare dispatch queue: %w", err)
	}

	if err := n.channel.QueueBind(
		dispatchQueue,
		dispatchRoutingKey,
		notificationsExchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind dispatch queue: %w", err)
	}

	slog.Info("notification topology declared",
		slog.String("exchange", notificationsExchange),
		slog.String("queue", dispatchQueue))
	return nil
}

// NotifyMessage publishes a dispatch command for a persisted message.
func (n *AMQPNotifier) NotifyMessage(ctx context.Context, roomID string, msg domain.Message) error {
	cmd := &DispatchCommand{
		RoomID:     roomID,
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Preview:    preview(msg),
		HasImage:   msg.HasImage(),
		Timestamp:  time.Now().Unix(),
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch command: %w", err)
	}

	err = n.channel.PublishWithContext(
		ctx,
		notificationsExchange,
		dispatchRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish dispatch command: %w", err)
	}

	slog.Debug("published push dispatch",
		slog.String("room_id", roomID),
		slog.String("message_id", msg.ID))
	return nil
}

// ConsumeDispatches registers a consumer on the dispatch queue.
func (n *AMQPNotifier) ConsumeDispatches() (<-chan amqp.Delivery, error) {
	msgs, err := n.channel.Consume(
		dispatchQueue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("started consuming push dispatches",
		slog.String("queue", dispatchQueue))
	return msgs, nil
}

// IsClosed reports whether the broker connection is gone.
func (n *AMQPNotifier) IsClosed() bool {
	return n.conn == nil || n.conn.IsClosed()
}

// Close releases the channel and connection.
func (n *AMQPNotifier) Close() error {
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

// preview trims the notification body the way the mobile client
// renders it.
func preview(msg domain.Message) string {
	if msg.Text == "" && msg.HasImage() {
		return "📷 Photo"
	}
	if len(msg.Text) > 120 {
		return msg.Text[:120] + "…"
	}
	return msg.Text
}

// NewAMQPNotifierWithRetry dials the broker with backoff until the
// context expires.
func NewAMQPNotifierWithRetry(ctx context.Context, url string) (*AMQPNotifier, error) {
	backoff := time.Second
	for {
		n, err := NewAMQPNotifier(url)
		if err == nil {
			return n, nil
		}

		slog.Warn("broker connection failed, retrying",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up connecting to broker: %w", err)
		case <-time.After(backoff):
		}

		if backoff < 16*time.Second {
			backoff *= 2
		}
	}
}
