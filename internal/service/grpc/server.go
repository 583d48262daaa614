package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

const idempotencyKeyHeader = "idempotency-key"

// Server реализует StorefrontServer поверх сервиса заказов.
// Мутации, создающие заказы или принимающие оплату, требуют idempotency-key.
type Server struct {
	service *orders.Service
	guard   *idempotency.Guard
	logger  *log.Entry
}

// NewServer конструирует gRPC-сервер. guard == nil отключает идемпотентность.
func NewServer(service *orders.Service, guard *idempotency.Guard, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "grpc")
	}
	return &Server{service: service, guard: guard, logger: logger}
}

var _ StorefrontServer = (*Server)(nil)

func (s *Server) CheckoutCart(ctx context.Context, req *CheckoutCartRequest) (*CheckoutCartResponse, error) {
	return withIdempotency(s, ctx, MethodCheckoutCart, req, func(ctx context.Context) (*CheckoutCartResponse, error) {
		items := make([]orders.CartItem, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, orders.CartItem{ProductID: item.ProductID, Quantity: item.Quantity})
		}

		results, err := s.service.CheckoutCart(ctx, orders.CheckoutRequest{
			CustomerID:   req.CustomerID,
			CustomerName: req.CustomerName,
			Items:        items,
		})
		if len(results) == 0 {
			return nil, err
		}

		resp := &CheckoutCartResponse{Orders: make([]MutationResponse, 0, len(results))}
		for _, result := range results {
			resp.Orders = append(resp.Orders, *toMutationResponse(result, nil))
		}
		if err != nil {
			s.logger.WithError(err).WithField("customer_id", req.CustomerID).Warn("checkout finished with reconciliation warnings")
			resp.ReconciliationWarning = err.Error()
		}
		return resp, nil
	})
}

func (s *Server) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*MutationResponse, error) {
	return withIdempotency(s, ctx, MethodCreateOrder, req, func(ctx context.Context) (*MutationResponse, error) {
		orderStatus, err := parseOptionalStatus(req.Status)
		if err != nil {
			return nil, err
		}
		result, err := s.service.CreateOrder(ctx, orders.CreateOrderRequest{
			CustomerID:   req.CustomerID,
			CustomerName: req.CustomerName,
			ProductID:    req.ProductID,
			Quantity:     req.Quantity,
			Status:       orderStatus,
		})
		return s.mutationResponse(result, err)
	})
}

func (s *Server) EditOrder(ctx context.Context, req *EditOrderRequest) (*MutationResponse, error) {
	orderStatus, err := parseOptionalStatus(req.Status)
	if err != nil {
		return nil, s.toStatus(err)
	}
	result, err := s.service.EditOrder(ctx, orders.EditOrderRequest{
		OrderID:         req.OrderID,
		ExpectedVersion: req.ExpectedVersion,
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		Status:          orderStatus,
	})
	resp, err := s.mutationResponse(result, err)
	return resp, s.toStatus(err)
}

func (s *Server) UpdateOrderStatus(ctx context.Context, req *UpdateStatusRequest) (*MutationResponse, error) {
	orderStatus, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		return nil, s.toStatus(err)
	}
	result, err := s.service.UpdateStatus(ctx, req.OrderID, req.ExpectedVersion, orderStatus)
	resp, err := s.mutationResponse(result, err)
	return resp, s.toStatus(err)
}

func (s *Server) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*MutationResponse, error) {
	result, err := s.service.CancelOrder(ctx, req.OrderID, req.ExpectedVersion)
	resp, err := s.mutationResponse(result, err)
	return resp, s.toStatus(err)
}

func (s *Server) ConfirmPayment(ctx context.Context, req *ConfirmPaymentRequest) (*MutationResponse, error) {
	return withIdempotency(s, ctx, MethodConfirmPayment, req, func(ctx context.Context) (*MutationResponse, error) {
		result, err := s.service.ConfirmPayment(ctx, req.OrderID, req.PaymentProof)
		return s.mutationResponse(result, err)
	})
}

func (s *Server) DeleteOrder(ctx context.Context, req *DeleteOrderRequest) (*MutationResponse, error) {
	result, err := s.service.DeleteOrder(ctx, req.OrderID, req.ExpectedVersion)
	resp, err := s.mutationResponse(result, err)
	return resp, s.toStatus(err)
}

func (s *Server) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	order, err := s.service.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &GetOrderResponse{Order: toOrder(order)}, nil
}

func (s *Server) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	list, err := s.service.ListOrders(ctx, req.CustomerID, req.Limit)
	if err != nil {
		return nil, s.toStatus(err)
	}
	resp := &ListOrdersResponse{Orders: make([]Order, 0, len(list))}
	for _, order := range list {
		resp.Orders = append(resp.Orders, *toOrder(order))
	}
	return resp, nil
}

func (s *Server) GetOrderTimeline(ctx context.Context, req *OrderTimelineRequest) (*OrderTimelineResponse, error) {
	events, err := s.service.OrderTimeline(ctx, req.OrderID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	resp := &OrderTimelineResponse{Events: make([]TimelineEvent, 0, len(events))}
	for _, event := range events {
		resp.Events = append(resp.Events, TimelineEvent{Type: event.Type, Reason: event.Reason, Occurred: event.Occurred})
	}
	return resp, nil
}

func (s *Server) CreateProduct(ctx context.Context, req *CreateProductRequest) (*ProductResponse, error) {
	price := decimal.Zero
	if raw := strings.TrimSpace(req.Price); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "price %q is not a decimal number", req.Price)
		}
		price = parsed
	}

	product, err := s.service.CreateProduct(ctx, orders.CreateProductRequest{
		ID:       req.ID,
		Name:     req.Name,
		Price:    price,
		Stock:    req.Stock,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &ProductResponse{Product: toProduct(product)}, nil
}

func (s *Server) GetProduct(ctx context.Context, req *GetProductRequest) (*ProductResponse, error) {
	product, err := s.service.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &ProductResponse{Product: toProduct(product)}, nil
}

func (s *Server) ListProducts(ctx context.Context, _ *ListProductsRequest) (*ListProductsResponse, error) {
	products, err := s.service.ListProducts(ctx)
	if err != nil {
		return nil, s.toStatus(err)
	}
	resp := &ListProductsResponse{Products: make([]Product, 0, len(products))}
	for _, product := range products {
		resp.Products = append(resp.Products, *toProduct(product))
	}
	return resp, nil
}

// mutationResponse превращает частичный сбой сверки в успешный ответ с предупреждением:
// заказ уже записан, повтор запроса создал бы дубль.
func (s *Server) mutationResponse(result orders.MutationResult, err error) (*MutationResponse, error) {
	if err == nil {
		return toMutationResponse(result, nil), nil
	}
	var partial *domain.PartialReconciliationError
	if errors.As(err, &partial) && result.Order.ID != "" {
		s.logger.WithFields(log.Fields{
			"order_id": partial.OrderID,
			"stage":    partial.Stage,
		}).Warn("order written with reconciliation warning")
		return toMutationResponse(result, err), nil
	}
	return nil, err
}

// withIdempotency выполняет handler один раз на idempotency-key и повторяет
// сохранённый ответ или ошибку для повторных запросов.
func withIdempotency[Resp any](
	s *Server,
	ctx context.Context,
	method string,
	req any,
	handler func(context.Context) (*Resp, error),
) (*Resp, error) {
	if s.guard == nil {
		resp, err := handler(ctx)
		return resp, s.toStatus(err)
	}

	key, err := readIdempotencyKey(ctx)
	if err != nil {
		return nil, err
	}

	requestHash, err := idempotency.RequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	var fresh *Resp
	body, replayed, err := s.guard.Do(ctx, key, requestHash, s.classify, func(ctx context.Context) ([]byte, error) {
		resp, err := handler(ctx)
		if err != nil {
			return nil, err
		}
		fresh = resp
		return json.Marshal(resp)
	})
	if err != nil {
		return nil, s.idempotencyStatus(err)
	}
	if !replayed {
		return fresh, nil
	}

	cached := new(Resp)
	if err := json.Unmarshal(body, cached); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to decode cached idempotency response")
		return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
	}
	s.logger.WithFields(log.Fields{"method": method, "idempotency_key": key}).Debug("idempotent response replayed")
	return cached, nil
}

func (s *Server) classify(err error) (int, string) {
	st := status.Convert(s.toStatus(err))
	if st.Code() == codes.OK {
		return int(codes.Internal), st.Message()
	}
	return int(st.Code()), st.Message()
}

func (s *Server) idempotencyStatus(err error) error {
	var failure *idempotency.Failure
	switch {
	case errors.Is(err, idempotency.ErrInProgress):
		return status.Error(codes.Aborted, "request with the same idempotency key is already processing")
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.As(err, &failure):
		code := codes.Code(uint32(failure.Code))
		if failure.Code <= int(codes.OK) || failure.Code > int(codes.Unauthenticated) {
			code = codes.Internal
		}
		message := failure.Message
		if message == "" {
			message = "previous request with the same idempotency key failed"
		}
		return status.Error(code, message)
	default:
		return s.toStatus(err)
	}
}

// toStatus переводит доменную ошибку в gRPC-статус.
func (s *Server) toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case domain.IsValidation(err), errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, err.Error())
	case domain.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case domain.IsVersionConflict(err):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrProductAlreadyExists), errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrReconciliationFailed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		s.logger.WithError(err).Error("unhandled storefront error")
		return status.Error(codes.Internal, "internal error")
	}
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}
	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

func parseOptionalStatus(raw string) (domain.OrderStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return domain.ParseOrderStatus(raw)
}

func toMutationResponse(result orders.MutationResult, warning error) *MutationResponse {
	resp := &MutationResponse{}
	if result.Order.ID != "" {
		resp.Order = toOrder(result.Order)
	}
	for _, delta := range result.Deltas {
		resp.Deltas = append(resp.Deltas, StockDelta{
			ProductID:     delta.ProductID,
			ProductName:   delta.ProductName,
			PreviousStock: delta.PreviousStock,
			NewStock:      delta.NewStock,
			Reason:        string(delta.Reason),
			Sequence:      delta.Sequence,
			Timestamp:     delta.Timestamp,
		})
	}
	if warning != nil {
		resp.ReconciliationWarning = warning.Error()
	}
	return resp
}

func toOrder(order domain.Order) *Order {
	return &Order{
		ID:           order.ID,
		CustomerID:   order.CustomerID,
		CustomerName: order.CustomerName,
		ProductID:    order.ProductID,
		ProductName:  order.ProductName,
		Quantity:     order.Quantity,
		UnitPrice:    order.UnitPrice.StringFixed(2),
		TotalPrice:   order.TotalPrice.StringFixed(2),
		Status:       string(order.Status),
		PaymentProof: order.PaymentProof,
		OrderDate:    order.OrderDate,
		UpdatedAt:    order.UpdatedAt,
		Version:      order.Version,
	}
}

func toProduct(product domain.Product) *Product {
	return &Product{
		ID:       product.ID,
		Name:     product.Name,
		Price:    product.Price.StringFixed(2),
		Stock:    product.StockAvailable,
		ImageURL: product.ImageURL,
		Version:  product.Version,
	}
}
