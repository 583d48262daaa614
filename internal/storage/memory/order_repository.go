package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[entityKey]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[entityKey]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey(order.ID)
	if _, exists := r.items[key]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.items[key] = order
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[orderKey(id)]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListByCustomer возвращает заказы клиента (новые первыми), ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if customerID != "" && order.CustomerID != customerID {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey(order.ID)
	current, ok := r.items[key]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}
	order.Version++
	r.items[key] = order
	return order, nil
}

// Delete удаляет заказ, если версия совпадает.
func (r *orderRepositoryInMemory) Delete(_ context.Context, id string, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey(id)
	current, ok := r.items[key]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrOrderVersionConflict
	}
	delete(r.items, key)
	return nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
