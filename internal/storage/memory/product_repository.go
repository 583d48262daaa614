package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// productRepositoryInMemory хранит каталог в памяти; UpdateStock сравнивает версию под мьютексом.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[entityKey]domain.Product
}

// NewProductRepository возвращает in-memory репозиторий товаров.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{items: make(map[entityKey]domain.Product)}
}

func (r *productRepositoryInMemory) Create(_ context.Context, product domain.Product) (domain.Product, error) {
	if errs := product.ValidateInvariants(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := productKey(product.ID)
	if _, exists := r.items[key]; exists {
		return domain.Product{}, domain.ErrProductAlreadyExists
	}

	now := time.Now().UTC()
	product.Version = 1
	product.CreatedAt = now
	product.UpdatedAt = now
	r.items[key] = product
	return product, nil
}

func (r *productRepositoryInMemory) Get(_ context.Context, id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[productKey(id)]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *productRepositoryInMemory) List(_ context.Context) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, product := range r.items {
		result = append(result, product)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateStock записывает остаток, только если версия совпадает с ожидаемой.
func (r *productRepositoryInMemory) UpdateStock(_ context.Context, id string, expectedVersion int64, newStock int) (domain.Product, error) {
	if newStock < 0 {
		return domain.Product{}, domain.ErrStockNegative
	}
	if newStock > domain.MaxQuantity {
		return domain.Product{}, domain.ErrStockTooLarge
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := productKey(id)
	product, ok := r.items[key]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if product.Version != expectedVersion {
		return domain.Product{}, domain.ErrProductVersionConflict
	}

	product.StockAvailable = newStock
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	r.items[key] = product
	return product, nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
