package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DLQTopic — топик для сообщений, которые не удалось доставить.
const DLQTopic = "storefront.dlq"

// Publisher ставит доменные события в transactional outbox.
// Вызывающий не ждёт брокер: доставку выполняет Worker.
type Publisher struct {
	repo domain.OutboxRepository
	now  func() time.Time
}

// NewPublisher создаёт publisher поверх outbox-репозитория.
func NewPublisher(repo domain.OutboxRepository) *Publisher {
	return &Publisher{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Publish сериализует событие в JSON и сохраняет его со статусом pending.
// Ключ сообщения — идентификатор агрегата, чтобы события одного товара шли в одну партицию.
func (p *Publisher) Publish(ctx context.Context, topic string, event domain.Event) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", domain.ErrPublishFailure)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}
	if topic == "" {
		topic = domain.TopicFor(event.EventType())
	}

	_, err = p.repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: string(event.AggregateType()),
		AggregateID:   event.AggregateID(),
		EventType:     event.EventType(),
		Topic:         topic,
		Key:           event.AggregateID(),
		Payload:       payload,
		CreatedAt:     p.now(),
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", event.EventType(), err)
	}
	return nil
}

var _ domain.EventPublisher = (*Publisher)(nil)
