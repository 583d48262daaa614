package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/service/resilience"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

const defaultRetryDelay = 200 * time.Millisecond

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer читает топики в consumer group. Каждая партиция обрабатывается
// последовательно: сообщение ретраится на месте, затем уходит в DLQ.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	maxRetries  int
	retryDelay  time.Duration
	permanent   func(error) bool
	tracer      trace.Tracer
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithRetryDelay задаёт начальную задержку между повторами обработки.
func WithRetryDelay(delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.retryDelay = delay
	}
}

// WithPermanentErrors — ошибки, для которых повтор бессмысленен: сообщение сразу уходит в DLQ.
func WithPermanentErrors(isPermanent func(error) bool) ConsumerOption {
	return func(c *Consumer) {
		c.permanent = isPermanent
	}
}

// NewConsumer создает новый Kafka consumer
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler) (*Consumer, error) {
	return NewConsumerWithDLQ(brokers, groupID, topics, handler, nil, 3)
}

// NewConsumerWithDLQ создает consumer с поддержкой Dead Letter Queue
func NewConsumerWithDLQ(brokers []string, groupID string, topics []string, handler MessageHandler, dlqProducer *Producer, maxRetries int, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	c := &Consumer{
		consumer:    group,
		topics:      topics,
		handler:     handler,
		logger:      log.WithField("component", "kafka-consumer"),
		dlqProducer: dlqProducer,
		maxRetries:  maxRetries,
		retryDelay:  defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// при rebalance Consume завершается, вызываем снова
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries")
				// не маркируем: сообщение будет перечитано после рестарта
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry обрабатывает сообщение с повторами и отправкой в DLQ.
// Уже сделанные попытки берутся из заголовка x-retry-count.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrierFromMessage(message))
	ctx, span := c.startSpan(ctx, message)
	defer span.End()

	retryCount := c.getRetryCount(message)
	attempts := c.maxRetries - retryCount
	if attempts < 1 {
		attempts = 1
	}

	cfg := resilience.RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  c.retryDelay,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
	}
	performed := 0
	err := resilience.Do(ctx, cfg, c.logger, "kafka.consume", c.shouldRetry, func(ctx context.Context) error {
		performed++
		return c.handler(ctx, message)
	})
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if ctx.Err() != nil {
		return err
	}

	total := retryCount + performed
	if total < c.maxRetries && c.shouldRetry(err) {
		c.logger.WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": total,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")
		return err
	}

	if c.dlqProducer != nil {
		if dlqErr := c.sendToDLQ(ctx, message, err, total); dlqErr != nil {
			c.logger.WithError(dlqErr).Error("failed to send message to DLQ")
			return fmt.Errorf("failed to send to DLQ: %w", errors.Join(dlqErr, err))
		}
		c.logger.WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": total,
		}).Info("message sent to DLQ after max retries")
		return nil
	}

	return err
}

func (c *Consumer) shouldRetry(err error) bool {
	return c.permanent == nil || !c.permanent(err)
}

func (c *Consumer) startSpan(ctx context.Context, message *sarama.ConsumerMessage) (context.Context, trace.Span) {
	tracer := c.tracer
	if tracer == nil {
		tracer = tracing.Tracer("kafka")
	}
	return tracer.Start(ctx, "kafka.consume "+message.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", message.Topic),
			attribute.Int64("messaging.kafka.offset", message.Offset),
			attribute.Int("messaging.kafka.partition", int(message.Partition)),
		),
	)
}

// getRetryCount извлекает retry count из headers сообщения
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == HeaderRetryCount {
			count, err := strconv.Atoi(string(header.Value))
			if err == nil {
				return count
			}
		}
	}
	return 0
}

// sendToDLQ отправляет сообщение в Dead Letter Queue
func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, processingErr error, retries int) error {
	now := time.Now().UTC()
	letter := DeadLetter{
		Source:            DeadLetterSourceConsumer,
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		Error:             processingErr.Error(),
		RetryCount:        retries,
		FailedAt:          now,
	}

	return c.dlqProducer.PublishJSON(ctx, TopicDeadLetterQueue, string(message.Key), letter, map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  processingErr.Error(),
		HeaderFailedAt:      now.Format(time.RFC3339),
		HeaderRetryCount:    strconv.Itoa(retries),
	})
}
