// README: Lifecycle event mirror onto Kafka for downstream analytics.
// Transitions are already journaled durably in Postgres; this stream is
// best effort.
package stream

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	"mesa/internal/modules/order"
)

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

var _ order.StreamPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(_ context.Context, e order.StreamEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		// Keying by order id keeps one order's events in one partition.
		Key:   sarama.StringEncoder(e.OrderID),
		Value: sarama.ByteEncoder(body),
	})
	return err
}
