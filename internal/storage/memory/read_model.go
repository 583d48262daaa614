package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ReadModel — in-memory проекция остатков и заказов для обработчика уведомлений.
type ReadModel struct {
	mu       sync.RWMutex
	products map[string]domain.ProductStockView
	orders   map[string]domain.OrderView
}

// NewReadModel создаёт пустую проекцию.
func NewReadModel() *ReadModel {
	return &ReadModel{
		products: make(map[string]domain.ProductStockView),
		orders:   make(map[string]domain.OrderView),
	}
}

// ApplyStock применяет запись, если её Sequence новее сохранённой.
func (m *ReadModel) ApplyStock(_ context.Context, view domain.ProductStockView) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.products[view.ProductID]; ok && current.Sequence >= view.Sequence {
		return false, nil
	}
	m.products[view.ProductID] = view
	return true, nil
}

// ApplyOrder применяет запись или надгробие, если Sequence новее сохранённой.
func (m *ReadModel) ApplyOrder(_ context.Context, view domain.OrderView) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.orders[view.OrderID]; ok && current.Sequence >= view.Sequence {
		return false, nil
	}
	m.orders[view.OrderID] = view
	return true, nil
}

func (m *ReadModel) ProductStock(_ context.Context, productID string) (domain.ProductStockView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	view, ok := m.products[productID]
	if !ok {
		return domain.ProductStockView{}, domain.ErrProductNotFound
	}
	return view, nil
}

// Order возвращает проекцию заказа; удалённый заказ считается отсутствующим.
func (m *ReadModel) Order(_ context.Context, orderID string) (domain.OrderView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	view, ok := m.orders[orderID]
	if !ok || view.Deleted {
		return domain.OrderView{}, domain.ErrOrderNotFound
	}
	return view, nil
}

func (m *ReadModel) CustomerOrders(_ context.Context, customerID string) ([]domain.OrderView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.OrderView, 0)
	for _, view := range m.orders {
		if view.Deleted || view.CustomerID != customerID {
			continue
		}
		result = append(result, view)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].OrderDate.Equal(result[j].OrderDate) {
			return result[i].OrderDate.After(result[j].OrderDate)
		}
		return result[i].OrderID > result[j].OrderID
	})
	return result, nil
}

var _ domain.ReadModel = (*ReadModel)(nil)
