// README: Fire-and-forget notification channel over RabbitMQ. The SMS/email
// workers consume from the exchange; a publish failure is the caller's
// problem only to the extent of a warning log.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"mesa/internal/modules/order"
	"mesa/internal/types"
)

type AMQPNotifier struct {
	conn     *amqp.Connection
	exchange string
}

var _ order.Notifier = (*AMQPNotifier)(nil)

func NewAMQPNotifier(conn *amqp.Connection, exchange string) (*AMQPNotifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPNotifier{conn: conn, exchange: exchange}, nil
}

// message is the payload handed to the notification workers. The OTP rides
// along only on placement, for delivery to the customer.
type message struct {
	Kind      string    `json:"kind"`
	OrderID   types.ID  `json:"order_id"`
	UserID    types.ID  `json:"user_id"`
	PartnerID *types.ID `json:"partner_id,omitempty"`
	Status    string    `json:"status"`
	OTP       string    `json:"otp,omitempty"`
	At        time.Time `json:"at"`
}

func (n *AMQPNotifier) Notify(ctx context.Context, notif order.Notification) error {
	msg := message{
		Kind:      notif.Kind,
		OrderID:   notif.Order.ID,
		UserID:    notif.Order.UserID,
		PartnerID: notif.PartnerID,
		Status:    string(notif.Order.Status),
		At:        time.Now(),
	}
	if notif.Kind == order.NotifyOrderPlaced {
		msg.OTP = notif.Order.OTP
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ch, err := n.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	return ch.Publish(
		n.exchange,
		"order."+notif.Kind, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}
