package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

const defaultListLimit = 100

// Reconciler — движок сверки остатков.
type Reconciler interface {
	Reconcile(ctx context.Context, m reconcile.Mutation) ([]domain.StockDelta, error)
}

// Dependencies — зависимости сервиса заказов. Customers и Metrics опциональны.
type Dependencies struct {
	Products  domain.ProductRepository
	Orders    domain.OrderRepository
	Timeline  domain.TimelineRepository
	Engine    Reconciler
	Publisher domain.EventPublisher
	Customers domain.CustomerDirectory
	Metrics   *metrics.ReconciliationMetrics
	Logger    *log.Entry
}

// Service — единственная точка входа для мутаций заказов.
// Порядок шагов: запись заказа, сверка остатков, уведомление, таймлайн.
type Service struct {
	products  domain.ProductRepository
	orders    domain.OrderRepository
	timeline  domain.TimelineRepository
	engine    Reconciler
	publisher domain.EventPublisher
	customers domain.CustomerDirectory
	metrics   *metrics.ReconciliationMetrics
	logger    *log.Entry
	tracer    trace.Tracer

	now   func() time.Time
	newID func() string
}

// MutationResult — заказ после записи и применённые дельты остатков.
type MutationResult struct {
	Order  domain.Order
	Deltas []domain.StockDelta
}

// NewService собирает сервис и проверяет обязательные зависимости.
func NewService(deps Dependencies) (*Service, error) {
	switch {
	case deps.Products == nil:
		return nil, errors.New("product repository is required")
	case deps.Orders == nil:
		return nil, errors.New("order repository is required")
	case deps.Timeline == nil:
		return nil, errors.New("timeline repository is required")
	case deps.Engine == nil:
		return nil, errors.New("reconciliation engine is required")
	case deps.Publisher == nil:
		return nil, errors.New("event publisher is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}

	return &Service{
		products:  deps.Products,
		orders:    deps.Orders,
		timeline:  deps.Timeline,
		engine:    deps.Engine,
		publisher: deps.Publisher,
		customers: deps.Customers,
		metrics:   deps.Metrics,
		logger:    logger,
		tracer:    tracing.Tracer("orders"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}, nil
}

type CartItem struct {
	ProductID string
	Quantity  int
}

// CheckoutRequest — оформление корзины клиентом.
type CheckoutRequest struct {
	CustomerID   string
	CustomerName string
	Items        []CartItem
}

// CheckoutCart создаёт по заказу Submitted на каждую позицию. Наличие на складе
// проверяется для всей корзины до первой записи.
func (s *Service) CheckoutCart(ctx context.Context, req CheckoutRequest) ([]MutationResult, error) {
	ctx, span := s.startSpan(ctx, "orders.CheckoutCart", attribute.String("customer.id", req.CustomerID))
	defer span.End()

	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return nil, domain.ErrCustomerRequired
	}
	if len(req.Items) == 0 {
		return nil, domain.ErrItemsRequired
	}

	requested := make(map[string]int, len(req.Items))
	products := make(map[string]domain.Product, len(req.Items))
	for idx, item := range req.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("item[%d]: %w", idx, domain.ErrProductRequired)
		}
		if !domain.ValidQuantity(item.Quantity) {
			return nil, fmt.Errorf("item[%d]: %w", idx, domain.ErrQuantityInvalid)
		}
		requested[productID] += item.Quantity
		if _, ok := products[productID]; ok {
			continue
		}
		product, err := s.products.Get(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("item[%d] %s: %w", idx, productID, err)
		}
		products[productID] = product
	}
	for productID, qty := range requested {
		product := products[productID]
		if product.StockAvailable < qty {
			return nil, fmt.Errorf("%w: %s has %d, requested %d", domain.ErrInsufficientStock, product.Name, product.StockAvailable, qty)
		}
	}

	customerName := s.resolveCustomerName(ctx, customerID, req.CustomerName)

	results := make([]MutationResult, 0, len(req.Items))
	var errs []error
	for _, item := range req.Items {
		product := products[strings.TrimSpace(item.ProductID)]
		order := s.newOrder(customerID, customerName, product, item.Quantity, domain.OrderStatusSubmitted)

		result, err := s.create(ctx, order, reconcile.CauseCart)
		if err != nil && result.Order.ID == "" {
			// заказ не записан: остальные позиции не оформляем
			errs = append(errs, err)
			break
		}
		results = append(results, result)
		if err != nil {
			errs = append(errs, err)
		}
	}

	span.SetAttributes(attribute.Int("orders.created", len(results)))
	return results, errors.Join(errs...)
}

// CreateOrderRequest описывает создание заказа администратором.
type CreateOrderRequest struct {
	CustomerID   string
	CustomerName string
	ProductID    string
	Quantity     int
	// Status по умолчанию Submitted; Cancelled создаёт заказ без списания.
	Status domain.OrderStatus
}

// CreateOrder создаёт заказ в заданном статусе. Для статусов, удерживающих товар,
// остаток должен покрывать количество.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (MutationResult, error) {
	ctx, span := s.startSpan(ctx, "orders.CreateOrder", attribute.String("customer.id", req.CustomerID))
	defer span.End()

	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return MutationResult{}, domain.ErrCustomerRequired
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return MutationResult{}, domain.ErrProductRequired
	}
	if !domain.ValidQuantity(req.Quantity) {
		return MutationResult{}, domain.ErrQuantityInvalid
	}
	status := req.Status
	if status == "" {
		status = domain.OrderStatusSubmitted
	}
	if !status.Valid() {
		return MutationResult{}, fmt.Errorf("%w: %q", domain.ErrStatusInvalid, status)
	}

	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return MutationResult{}, fmt.Errorf("load product %s: %w", productID, err)
	}
	if status.HoldsStock() && product.StockAvailable < req.Quantity {
		return MutationResult{}, fmt.Errorf("%w: %s has %d, requested %d", domain.ErrInsufficientStock, product.Name, product.StockAvailable, req.Quantity)
	}

	customerName := s.resolveCustomerName(ctx, customerID, req.CustomerName)
	order := s.newOrder(customerID, customerName, product, req.Quantity, status)
	return s.create(ctx, order, reconcile.CauseAdminCreate)
}

func (s *Service) newOrder(customerID, customerName string, product domain.Product, qty int, status domain.OrderStatus) domain.Order {
	now := s.now()
	order := domain.Order{
		ID:           s.newID(),
		CustomerID:   customerID,
		CustomerName: customerName,
		ProductID:    product.ID,
		ProductName:  product.Name,
		Quantity:     qty,
		UnitPrice:    product.Price,
		Status:       status,
		OrderDate:    now,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	order.RecalculateTotal()
	return order
}

func (s *Service) create(ctx context.Context, order domain.Order, cause reconcile.Cause) (MutationResult, error) {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return MutationResult{}, errors.Join(errs...)
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return MutationResult{}, fmt.Errorf("create order: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"product_id": order.ProductID,
		"quantity":   order.Quantity,
		"status":     order.Status,
		"cause":      cause,
	}).Info("order created")

	return s.afterWrite(ctx, postWrite{
		mutation: reconcile.Mutation{
			OrderID: order.ID,
			After:   reconcile.SnapshotOf(order),
			Cause:   cause,
		},
		order:        order,
		eventType:    domain.EventTypeOrderCreated,
		timelineType: domain.TimelineOrderCreated,
		timelineNote: string(order.Status),
	})
}

// resolveCustomerName берёт имя из запроса, иначе из справочника клиентов.
// Ошибки справочника не прерывают оформление.
func (s *Service) resolveCustomerName(ctx context.Context, customerID, provided string) string {
	if name := strings.TrimSpace(provided); name != "" {
		return name
	}
	if s.customers == nil {
		return ""
	}

	customer, err := s.customers.Lookup(ctx, customerID)
	if err != nil {
		s.logger.WithFields(log.Fields{
			"customer_id": customerID,
			"error":       err,
		}).Warn("customer lookup failed, continuing without name")
		return ""
	}
	return customer.DisplayName()
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
