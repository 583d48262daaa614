package grpcsvc

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

// ServiceName — полное имя gRPC-сервиса витрины.
const ServiceName = "storefront.v1.StorefrontService"

const (
	MethodCheckoutCart   = "/" + ServiceName + "/CheckoutCart"
	MethodCreateOrder    = "/" + ServiceName + "/CreateOrder"
	MethodEditOrder      = "/" + ServiceName + "/EditOrder"
	MethodUpdateStatus   = "/" + ServiceName + "/UpdateOrderStatus"
	MethodCancelOrder    = "/" + ServiceName + "/CancelOrder"
	MethodConfirmPayment = "/" + ServiceName + "/ConfirmPayment"
	MethodDeleteOrder    = "/" + ServiceName + "/DeleteOrder"
	MethodGetOrder       = "/" + ServiceName + "/GetOrder"
	MethodListOrders     = "/" + ServiceName + "/ListOrders"
	MethodOrderTimeline  = "/" + ServiceName + "/GetOrderTimeline"
	MethodCreateProduct  = "/" + ServiceName + "/CreateProduct"
	MethodGetProduct     = "/" + ServiceName + "/GetProduct"
	MethodListProducts   = "/" + ServiceName + "/ListProducts"
)

// Product — товар каталога. Цена передаётся десятичной строкой.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Stock    int    `json:"stock"`
	ImageURL string `json:"imageUrl,omitempty"`
	Version  int64  `json:"version"`
}

type Order struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customerId"`
	CustomerName string    `json:"customerName,omitempty"`
	ProductID    string    `json:"productId"`
	ProductName  string    `json:"productName"`
	Quantity     int       `json:"quantity"`
	UnitPrice    string    `json:"unitPrice"`
	TotalPrice   string    `json:"totalPrice"`
	Status       string    `json:"status"`
	PaymentProof string    `json:"paymentProof,omitempty"`
	OrderDate    time.Time `json:"orderDate"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Version      int64     `json:"version"`
}

type StockDelta struct {
	ProductID     string    `json:"productId"`
	ProductName   string    `json:"productName"`
	PreviousStock int       `json:"previousStock"`
	NewStock      int       `json:"newStock"`
	Reason        string    `json:"reason"`
	Sequence      int64     `json:"sequence"`
	Timestamp     time.Time `json:"timestamp"`
}

// MutationResponse — результат изменения заказа. ReconciliationWarning заполнен,
// если заказ записан, а остатки или уведомления требуют ручной сверки.
type MutationResponse struct {
	Order                 *Order       `json:"order,omitempty"`
	Deltas                []StockDelta `json:"deltas,omitempty"`
	ReconciliationWarning string       `json:"reconciliationWarning,omitempty"`
}

type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CheckoutCartRequest struct {
	CustomerID   string     `json:"customerId"`
	CustomerName string     `json:"customerName,omitempty"`
	Items        []CartItem `json:"items"`
}

type CheckoutCartResponse struct {
	Orders                []MutationResponse `json:"orders"`
	ReconciliationWarning string             `json:"reconciliationWarning,omitempty"`
}

type CreateOrderRequest struct {
	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName,omitempty"`
	ProductID    string `json:"productId"`
	Quantity     int    `json:"quantity"`
	Status       string `json:"status,omitempty"`
}

type EditOrderRequest struct {
	OrderID         string `json:"orderId"`
	ExpectedVersion int64  `json:"expectedVersion,omitempty"`
	ProductID       string `json:"productId,omitempty"`
	Quantity        int    `json:"quantity"`
	Status          string `json:"status,omitempty"`
}

type UpdateStatusRequest struct {
	OrderID         string `json:"orderId"`
	ExpectedVersion int64  `json:"expectedVersion,omitempty"`
	Status          string `json:"status"`
}

type CancelOrderRequest struct {
	OrderID         string `json:"orderId"`
	ExpectedVersion int64  `json:"expectedVersion,omitempty"`
}

type ConfirmPaymentRequest struct {
	OrderID      string `json:"orderId"`
	PaymentProof string `json:"paymentProof"`
}

type DeleteOrderRequest struct {
	OrderID         string `json:"orderId"`
	ExpectedVersion int64  `json:"expectedVersion,omitempty"`
}

type GetOrderRequest struct {
	OrderID string `json:"orderId"`
}

type GetOrderResponse struct {
	Order *Order `json:"order"`
}

type ListOrdersRequest struct {
	CustomerID string `json:"customerId,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type ListOrdersResponse struct {
	Orders []Order `json:"orders"`
}

type OrderTimelineRequest struct {
	OrderID string `json:"orderId"`
}

type TimelineEvent struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type OrderTimelineResponse struct {
	Events []TimelineEvent `json:"events"`
}

type CreateProductRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Stock    int    `json:"stock"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type GetProductRequest struct {
	ProductID string `json:"productId"`
}

type ProductResponse struct {
	Product *Product `json:"product"`
}

type ListProductsRequest struct{}

type ListProductsResponse struct {
	Products []Product `json:"products"`
}

// StorefrontServer — серверная часть API витрины.
type StorefrontServer interface {
	CheckoutCart(context.Context, *CheckoutCartRequest) (*CheckoutCartResponse, error)
	CreateOrder(context.Context, *CreateOrderRequest) (*MutationResponse, error)
	EditOrder(context.Context, *EditOrderRequest) (*MutationResponse, error)
	UpdateOrderStatus(context.Context, *UpdateStatusRequest) (*MutationResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*MutationResponse, error)
	ConfirmPayment(context.Context, *ConfirmPaymentRequest) (*MutationResponse, error)
	DeleteOrder(context.Context, *DeleteOrderRequest) (*MutationResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	GetOrderTimeline(context.Context, *OrderTimelineRequest) (*OrderTimelineResponse, error)
	CreateProduct(context.Context, *CreateProductRequest) (*ProductResponse, error)
	GetProduct(context.Context, *GetProductRequest) (*ProductResponse, error)
	ListProducts(context.Context, *ListProductsRequest) (*ListProductsResponse, error)
}

// RegisterStorefrontServer регистрирует реализацию API на gRPC-сервере.
func RegisterStorefrontServer(registrar grpc.ServiceRegistrar, srv StorefrontServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc описывает методы StorefrontService для grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StorefrontServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckoutCart", Handler: unaryHandler(MethodCheckoutCart, StorefrontServer.CheckoutCart)},
		{MethodName: "CreateOrder", Handler: unaryHandler(MethodCreateOrder, StorefrontServer.CreateOrder)},
		{MethodName: "EditOrder", Handler: unaryHandler(MethodEditOrder, StorefrontServer.EditOrder)},
		{MethodName: "UpdateOrderStatus", Handler: unaryHandler(MethodUpdateStatus, StorefrontServer.UpdateOrderStatus)},
		{MethodName: "CancelOrder", Handler: unaryHandler(MethodCancelOrder, StorefrontServer.CancelOrder)},
		{MethodName: "ConfirmPayment", Handler: unaryHandler(MethodConfirmPayment, StorefrontServer.ConfirmPayment)},
		{MethodName: "DeleteOrder", Handler: unaryHandler(MethodDeleteOrder, StorefrontServer.DeleteOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler(MethodGetOrder, StorefrontServer.GetOrder)},
		{MethodName: "ListOrders", Handler: unaryHandler(MethodListOrders, StorefrontServer.ListOrders)},
		{MethodName: "GetOrderTimeline", Handler: unaryHandler(MethodOrderTimeline, StorefrontServer.GetOrderTimeline)},
		{MethodName: "CreateProduct", Handler: unaryHandler(MethodCreateProduct, StorefrontServer.CreateProduct)},
		{MethodName: "GetProduct", Handler: unaryHandler(MethodGetProduct, StorefrontServer.GetProduct)},
		{MethodName: "ListProducts", Handler: unaryHandler(MethodListProducts, StorefrontServer.ListProducts)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/storefront.json",
}

// unaryHandler строит grpc.MethodHandler для метода с JSON-запросом Req.
func unaryHandler[Req, Resp any](
	fullMethod string,
	call func(StorefrontServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StorefrontServer), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, in any) (any, error) {
			return call(srv.(StorefrontServer), ctx, in.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}
