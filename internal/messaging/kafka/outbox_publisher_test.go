package kafka

import (
	"fmt"
	"testing"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newTestProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != domain.TopicStockUpdates {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "P-1" {
			return fmt.Errorf("unexpected key %s", key)
		}
		value, _ := msg.Value.Encode()
		if string(value) != `{"type":"StockUpdated","productId":"P-1"}` {
			return fmt.Errorf("unexpected value %s", value)
		}
		if headerValue(msg.Headers, HeaderOutboxID) != "outbox-1" || headerValue(msg.Headers, HeaderAggregateID) != "P-1" {
			return fmt.Errorf("missing outbox headers")
		}
		return nil
	})

	err := NewOutboxPublisher(producer).Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: string(domain.PartitionProduct),
		AggregateID:   "P-1",
		EventType:     domain.EventTypeStockUpdated,
		Topic:         domain.TopicStockUpdates,
		Key:           "P-1",
		Payload:       []byte(`{"type":"StockUpdated","productId":"P-1"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_DefaultsTopicAndKey(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newTestProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != domain.TopicOrderNotifications {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "order-123" {
			return fmt.Errorf("unexpected key %s", key)
		}
		return nil
	})

	err := NewOutboxPublisher(producer).Publish(domain.OutboxMessage{
		ID:          "outbox-2",
		AggregateID: "order-123",
		EventType:   domain.EventTypeOrderCreated,
		Payload:     []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newTestProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := NewOutboxPublisher(producer).Publish(domain.OutboxMessage{
		ID:          "outbox-3",
		AggregateID: "order-234",
		EventType:   domain.EventTypeOrderUpdated,
		Payload:     []byte(`{}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	if err := NewOutboxPublisher(nil).Publish(domain.OutboxMessage{ID: "outbox-4"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}
