package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// GetOrder возвращает заказ по ID.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.load(ctx, orderID, 0)
}

// ListOrders возвращает заказы клиента (все заказы при пустом customerID).
func (s *Service) ListOrders(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	orders, err := s.orders.ListByCustomer(ctx, strings.TrimSpace(customerID), limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// OrderTimeline возвращает историю заказа, в том числе удалённого.
func (s *Service) OrderTimeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrOrderIDRequired
	}
	events, err := s.timeline.List(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline %s: %w", orderID, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("timeline %s: %w", orderID, domain.ErrOrderNotFound)
	}
	return events, nil
}

// CreateProductRequest — заведение товара в каталог.
type CreateProductRequest struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Stock    int
	ImageURL string
}

// CreateProduct добавляет товар с начальным остатком. Дальше остаток меняет только журнал.
func (s *Service) CreateProduct(ctx context.Context, req CreateProductRequest) (domain.Product, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()
	product := domain.Product{
		ID:             id,
		Name:           strings.TrimSpace(req.Name),
		Price:          req.Price,
		StockAvailable: req.Stock,
		ImageURL:       strings.TrimSpace(req.ImageURL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, err := s.products.Create(ctx, product)
	if err != nil {
		return domain.Product{}, fmt.Errorf("create product: %w", err)
	}
	s.logger.WithField("product_id", created.ID).Info("product created")
	return created, nil
}

// GetProduct возвращает товар по ID.
func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, domain.ErrProductRequired
	}
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, fmt.Errorf("load product %s: %w", productID, err)
	}
	return product, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.products.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}
