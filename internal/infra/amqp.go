// README: RabbitMQ connection with bounded retry, used by the notification channel.
package infra

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"
)

const amqpDialAttempts = 5

func NewAMQP(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < amqpDialAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		if i < amqpDialAttempts-1 {
			slog.Warn("amqp dial failed, retrying", "attempt", i+1, "error", err)
			time.Sleep(2 * time.Second)
		}
	}
	return nil, fmt.Errorf("amqp dial after %d attempts: %w", amqpDialAttempts, err)
}
