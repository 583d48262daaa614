package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultKeyPrefix = "storefront:"

// applyIfNewerScript записывает проекцию, только если переданный sequence больше сохранённого.
// Скрипт трогает один ключ, поэтому работает и в Redis Cluster.
// KEYS[1] — hash проекции; ARGV: sequence, JSON проекции.
var applyIfNewerScript = redis.NewScript(`
local key = KEYS[1]
local seq = tonumber(ARGV[1])

local current = redis.call('HGET', key, 'seq')
if current and tonumber(current) >= seq then
	return 0
end

redis.call('HSET', key, 'seq', ARGV[1], 'data', ARGV[2])
return 1
`)

// ReadModel хранит проекции витрины в Redis. Сравнение sequence и запись
// выполняются одним Lua-скриптом, поэтому параллельные обработчики не откатывают
// проекцию на старое событие.
type ReadModel struct {
	client redis.UniversalClient
	prefix string
}

// Option настраивает ReadModel.
type Option func(*ReadModel)

// WithKeyPrefix задаёт префикс ключей (по умолчанию "storefront:").
func WithKeyPrefix(prefix string) Option {
	return func(m *ReadModel) {
		if prefix != "" {
			m.prefix = prefix
		}
	}
}

// NewReadModel создаёт проекцию поверх готового клиента.
func NewReadModel(client redis.UniversalClient, opts ...Option) *ReadModel {
	m := &ReadModel{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *ReadModel) ApplyStock(ctx context.Context, view domain.ProductStockView) (bool, error) {
	data, err := json.Marshal(view)
	if err != nil {
		return false, fmt.Errorf("marshal stock view %s: %w", view.ProductID, err)
	}
	applied, err := applyIfNewerScript.Run(ctx, m.client, []string{m.stockKey(view.ProductID)}, view.Sequence, data).Int()
	if err != nil {
		return false, fmt.Errorf("apply stock view %s: %w", view.ProductID, err)
	}
	return applied == 1, nil
}

func (m *ReadModel) ApplyOrder(ctx context.Context, view domain.OrderView) (bool, error) {
	data, err := json.Marshal(view)
	if err != nil {
		return false, fmt.Errorf("marshal order view %s: %w", view.OrderID, err)
	}
	applied, err := applyIfNewerScript.Run(ctx, m.client, []string{m.orderKey(view.OrderID)}, view.Sequence, data).Int()
	if err != nil {
		return false, fmt.Errorf("apply order view %s: %w", view.OrderID, err)
	}
	if err := m.indexOrder(ctx, view); err != nil {
		return applied == 1, err
	}
	return applied == 1, nil
}

// indexOrder обновляет индекс заказов клиента отдельной командой: ключ индекса
// может лежать в другом слоте кластера. Индекс допускает лишние id, CustomerOrders
// отбрасывает надгробия и отсутствующие заказы.
func (m *ReadModel) indexOrder(ctx context.Context, view domain.OrderView) error {
	key := m.customerKey(view.CustomerID)
	var err error
	if view.Deleted {
		err = m.client.SRem(ctx, key, view.OrderID).Err()
	} else {
		err = m.client.SAdd(ctx, key, view.OrderID).Err()
	}
	if err != nil {
		return fmt.Errorf("index order %s for customer %s: %w", view.OrderID, view.CustomerID, err)
	}
	return nil
}

func (m *ReadModel) ProductStock(ctx context.Context, productID string) (domain.ProductStockView, error) {
	var view domain.ProductStockView
	if err := m.load(ctx, m.stockKey(productID), &view); err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ProductStockView{}, domain.ErrProductNotFound
		}
		return domain.ProductStockView{}, fmt.Errorf("load stock view %s: %w", productID, err)
	}
	return view, nil
}

// Order возвращает проекцию заказа; надгробие считается отсутствующим заказом.
func (m *ReadModel) Order(ctx context.Context, orderID string) (domain.OrderView, error) {
	var view domain.OrderView
	if err := m.load(ctx, m.orderKey(orderID), &view); err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderView{}, domain.ErrOrderNotFound
		}
		return domain.OrderView{}, fmt.Errorf("load order view %s: %w", orderID, err)
	}
	if view.Deleted {
		return domain.OrderView{}, domain.ErrOrderNotFound
	}
	return view, nil
}

func (m *ReadModel) CustomerOrders(ctx context.Context, customerID string) ([]domain.OrderView, error) {
	ids, err := m.client.SMembers(ctx, m.customerKey(customerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list customer %s orders: %w", customerID, err)
	}

	result := make([]domain.OrderView, 0, len(ids))
	for _, id := range ids {
		view, err := m.Order(ctx, id)
		if errors.Is(err, domain.ErrOrderNotFound) {
			continue
		}
		if err != nil {
			return nil, err
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

// Ping проверяет доступность Redis (health-check).
func (m *ReadModel) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *ReadModel) load(ctx context.Context, key string, dst any) error {
	data, err := m.client.HGet(ctx, key, "data").Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func (m *ReadModel) stockKey(productID string) string {
	return m.prefix + "stock:" + productID
}

func (m *ReadModel) orderKey(orderID string) string {
	return m.prefix + "order:" + orderID
}

func (m *ReadModel) customerKey(customerID string) string {
	return m.prefix + "customer:" + customerID + ":orders"
}

var _ domain.ReadModel = (*ReadModel)(nil)
