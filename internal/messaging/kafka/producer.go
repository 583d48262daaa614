package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

// Message — запись для отправки: значение уходит в Kafka как есть.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Producer представляет Kafka producer для публикации событий
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer создает новый Kafka producer
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	// идемпотентный producer сохраняет порядок внутри партиции при ретраях
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	// один ключ (productId / orderId) — одна партиция
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// Send отправляет сообщение и дописывает в headers контекст трассировки.
func (p *Producer) Send(ctx context.Context, msg Message) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}
	if msg.Topic == "" {
		return fmt.Errorf("topic is required")
	}

	carrier := headerCarrier{}
	for key, value := range msg.Headers {
		carrier.Set(key, value)
	}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	record := &sarama.ProducerMessage{
		Topic:     msg.Topic,
		Value:     sarama.ByteEncoder(msg.Value),
		Headers:   carrier.headers,
		Timestamp: time.Now(),
	}
	if msg.Key != "" {
		record.Key = sarama.StringEncoder(msg.Key)
	}

	partition, offset, err := p.producer.SendMessage(record)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": msg.Topic,
			"key":   msg.Key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     msg.Topic,
		"key":       msg.Key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// PublishJSON сериализует value в JSON и отправляет его.
func (p *Producer) PublishJSON(ctx context.Context, topic, key string, value any, headers map[string]string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.Send(ctx, Message{Topic: topic, Key: key, Value: data, Headers: headers})
}

// Close закрывает producer
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

// headerCarrier адаптирует headers sarama к propagation.TextMapCarrier.
type headerCarrier struct {
	headers []sarama.RecordHeader
}

func carrierFromMessage(msg *sarama.ConsumerMessage) *headerCarrier {
	carrier := &headerCarrier{headers: make([]sarama.RecordHeader, 0, len(msg.Headers))}
	for _, header := range msg.Headers {
		if header == nil {
			continue
		}
		carrier.headers = append(carrier.headers, *header)
	}
	return carrier
}

func (c *headerCarrier) Get(key string) string {
	for _, header := range c.headers {
		if string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, header := range c.headers {
		if string(header.Key) == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, header := range c.headers {
		keys = append(keys, string(header.Key))
	}
	return keys
}
