package domain

import (
	"context"
	"time"
)

// ProductRepository хранит каталог. Остаток меняется только через UpdateStock.
type ProductRepository interface {
	// Create сохраняет товар с версией 1.
	Create(ctx context.Context, product Product) (Product, error)
	Get(ctx context.Context, id string) (Product, error)
	List(ctx context.Context) ([]Product, error)
	// UpdateStock записывает остаток, только если версия не изменилась (compare-and-set).
	// Возвращает товар с новой версией или ErrProductVersionConflict.
	UpdateStock(ctx context.Context, id string, expectedVersion int64, newStock int) (Product, error)
}

// OrderRepository хранит заказы с оптимистичной блокировкой.
type OrderRepository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента; пустой customerID — все заказы.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// Save перезаписывает заказ, если order.Version совпадает с сохранённой,
	// и возвращает заказ с увеличенной версией.
	Save(ctx context.Context, order Order) (Order, error)
	// Delete удаляет заказ с проверкой версии.
	Delete(ctx context.Context, id string, expectedVersion int64) error
}

// EventPublisher ставит событие в очередь на доставку подписчикам (at-least-once).
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// OutboxPublisher доставляет сообщение из transactional outbox в брокер.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(msg OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullPending возвращает сообщения в порядке постановки в очередь.
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, statusCode int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, statusCode int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// CustomerDirectory — внешний справочник клиентов.
type CustomerDirectory interface {
	Lookup(ctx context.Context, customerID string) (Customer, error)
}

// Customer — карточка клиента из внешнего справочника.
type Customer struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Surname         string `json:"surname"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	ShippingAddress string `json:"shippingAddress"`
}

// DisplayName возвращает имя для уведомлений.
func (c Customer) DisplayName() string {
	switch {
	case c.Name != "" && c.Surname != "":
		return c.Name + " " + c.Surname
	case c.Name != "":
		return c.Name
	default:
		return c.Username
	}
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	Key           string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
