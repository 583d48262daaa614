package kafka

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxPublisher доставляет outbox-сообщения в Kafka: топик и ключ берутся
// из записи, payload уходит без обёртки.
type OutboxPublisher struct {
	producer *Producer
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer) *OutboxPublisher {
	return &OutboxPublisher{producer: producer}
}

func (p *OutboxPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	topic := msg.Topic
	if topic == "" {
		topic = domain.TopicFor(msg.EventType)
	}
	key := msg.Key
	if key == "" {
		key = msg.AggregateID
	}
	if key == "" {
		key = msg.ID
	}

	return p.producer.Send(context.Background(), Message{
		Topic: topic,
		Key:   key,
		Value: msg.Payload,
		Headers: map[string]string{
			HeaderOutboxID:    msg.ID,
			HeaderEventType:   msg.EventType,
			HeaderAggregateID: msg.AggregateID,
		},
	})
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
