package kafka

import (
	"context"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func newTestProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	return &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}, mockProducer
}

func headerValue(headers []sarama.RecordHeader, key string) string {
	for _, header := range headers {
		if string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}

func TestProducer_Send(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newTestProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "stock-updates" {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "P-1" {
			return fmt.Errorf("unexpected key %s", key)
		}
		value, _ := msg.Value.Encode()
		if string(value) != `{"type":"StockUpdated"}` {
			return fmt.Errorf("value must be sent as is, got %s", value)
		}
		if headerValue(msg.Headers, HeaderEventType) != "StockUpdated" {
			return fmt.Errorf("missing event type header")
		}
		return nil
	})

	err := producer.Send(context.Background(), Message{
		Topic:   "stock-updates",
		Key:     "P-1",
		Value:   []byte(`{"type":"StockUpdated"}`),
		Headers: map[string]string{HeaderEventType: "StockUpdated"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_Send_Error(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newTestProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	if err := producer.Send(context.Background(), Message{Topic: "stock-updates", Value: []byte("{}")}); err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_Send_Validation(t *testing.T) {
	t.Parallel()

	var nilProducer *Producer
	if err := nilProducer.Send(context.Background(), Message{Topic: "t"}); err == nil {
		t.Fatal("expected error for nil producer")
	}

	producer, mockProducer := newTestProducer(t)
	if err := producer.Send(context.Background(), Message{Value: []byte("{}")}); err == nil {
		t.Fatal("expected error for empty topic")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishJSON(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newTestProducer(t)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		if string(value) != `{"a":1}` {
			return fmt.Errorf("unexpected value %s", value)
		}
		return nil
	})

	if err := producer.PublishJSON(context.Background(), "t", "k", map[string]int{"a": 1}, nil); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}
	if err := producer.PublishJSON(context.Background(), "t", "k", make(chan int), nil); err == nil {
		t.Fatal("expected marshal error")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestHeaderCarrier(t *testing.T) {
	t.Parallel()

	carrier := &headerCarrier{}
	carrier.Set("traceparent", "a")
	carrier.Set("traceparent", "b")
	carrier.Set(HeaderOutboxID, "o-1")

	if got := carrier.Get("traceparent"); got != "b" {
		t.Fatalf("unexpected value %q", got)
	}
	if len(carrier.Keys()) != 2 {
		t.Fatalf("unexpected keys %v", carrier.Keys())
	}

	fromMessage := carrierFromMessage(&sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{
		{Key: []byte(HeaderRetryCount), Value: []byte("2")},
		nil,
	}})
	if fromMessage.Get(HeaderRetryCount) != "2" {
		t.Fatal("header not copied from consumer message")
	}
}

func TestParseDeadLetter(t *testing.T) {
	t.Parallel()

	letter, err := ParseDeadLetter([]byte(`{"source":"outbox","original_topic":"stock-updates","original_key":"P","original_value":"{}"}`))
	if err != nil {
		t.Fatalf("ParseDeadLetter failed: %v", err)
	}
	if letter.OriginalTopic != "stock-updates" || letter.Source != DeadLetterSourceOutbox {
		t.Fatalf("unexpected letter %+v", letter)
	}

	if _, err := ParseDeadLetter([]byte(`{"original_key":"P"}`)); err == nil {
		t.Fatal("expected error without original topic")
	}
	if _, err := ParseDeadLetter([]byte(`{`)); err == nil {
		t.Fatal("expected unmarshal error")
	}
}
