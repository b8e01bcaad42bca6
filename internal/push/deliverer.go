package push

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	webpush "github.com/SherClockHolmes/webpush-go"

	"bizyou-chat/internal/notify"
)

// Deliverer sends Web Push notifications for dispatch commands.
// Delivery is strictly best-effort: failures are logged and never
// retried.
type Deliverer struct {
	db              *sql.DB
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string
}

// subscriptionRow is a stored Web Push subscription.
type subscriptionRow struct {
	Endpoint  string
	KeyP256dh string
	KeyAuth   string
}

// payload is the JSON body carried inside the push notification.
type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Room  string `json:"room"`
}

// NewDeliverer creates a push Deliverer. Returns nil when VAPID keys
// are not configured, which callers treat as push disabled.
func NewDeliverer(db *sql.DB, vapidPublicKey, vapidPrivateKey string) *Deliverer {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	return &Deliverer{
		db:              db,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      "mailto:push@bizyou.app",
	}
}

// VAPIDPublicKey returns the public key clients subscribe with.
func (d *Deliverer) VAPIDPublicKey() string {
	return d.vapidPublicKey
}

// Deliver pushes the command to every subscription of the room's
// recipients, skipping the sender's own devices.
func (d *Deliverer) Deliver(ctx context.Context, cmd notify.DispatchCommand) error {
	if d == nil {
		return nil
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT s.endpoint, s.p256dh, s.auth
		FROM push_subscriptions s
		JOIN room_subscriptions r ON r.user_id = s.user_id
		WHERE r.room_id = $1 AND s.user_id <> $2 AND s.revoked_at IS NULL
	`, cmd.RoomID, cmd.SenderID)
	if err != nil {
		return fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []subscriptionRow
	for rows.Next() {
		var sub subscriptionRow
		if err := rows.Scan(&sub.Endpoint, &sub.KeyP256dh, &sub.KeyAuth); err != nil {
			continue
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating subscriptions: %w", err)
	}

	if len(subs) == 0 {
		slog.Debug("no active subscriptions for room",
			slog.String("room_id", cmd.RoomID))
		return nil
	}

	body, err := json.Marshal(payload{
		Title: cmd.SenderName,
		Body:  cmd.Preview,
		Room:  cmd.RoomID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	for _, sub := range subs {
		d.sendToSubscription(sub, body)
	}

	slog.Info("push delivered",
		slog.String("room_id", cmd.RoomID),
		slog.Int("subscriptions", len(subs)))
	return nil
}

func (d *Deliverer) sendToSubscription(sub subscriptionRow, body []byte) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}

	resp, err := webpush.SendNotification(body, s, &webpush.Options{
		VAPIDPublicKey:  d.vapidPublicKey,
		VAPIDPrivateKey: d.vapidPrivateKey,
		Subscriber:      d.subscriber,
		TTL:             86400,
	})
	if err != nil {
		slog.Warn("push send failed",
			slog.String("endpoint", sub.Endpoint),
			slog.String("error", err.Error()))
		return
	}
	resp.Body.Close()
}
