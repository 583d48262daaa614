package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client — типизированный клиент StorefrontService поверх JSON-кодека.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient оборачивает готовое соединение.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// WithIdempotencyKey добавляет idempotency-key в исходящие metadata.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, idempotencyKeyHeader, key)
}

func invoke[Req, Resp any](ctx context.Context, c *Client, method string, req *Req, opts ...grpc.CallOption) (*Resp, error) {
	resp := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, method, req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) CheckoutCart(ctx context.Context, req *CheckoutCartRequest, opts ...grpc.CallOption) (*CheckoutCartResponse, error) {
	return invoke[CheckoutCartRequest, CheckoutCartResponse](ctx, c, MethodCheckoutCart, req, opts...)
}

func (c *Client) CreateOrder(ctx context.Context, req *CreateOrderRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[CreateOrderRequest, MutationResponse](ctx, c, MethodCreateOrder, req, opts...)
}

func (c *Client) EditOrder(ctx context.Context, req *EditOrderRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[EditOrderRequest, MutationResponse](ctx, c, MethodEditOrder, req, opts...)
}

func (c *Client) UpdateOrderStatus(ctx context.Context, req *UpdateStatusRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[UpdateStatusRequest, MutationResponse](ctx, c, MethodUpdateStatus, req, opts...)
}

func (c *Client) CancelOrder(ctx context.Context, req *CancelOrderRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[CancelOrderRequest, MutationResponse](ctx, c, MethodCancelOrder, req, opts...)
}

func (c *Client) ConfirmPayment(ctx context.Context, req *ConfirmPaymentRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[ConfirmPaymentRequest, MutationResponse](ctx, c, MethodConfirmPayment, req, opts...)
}

func (c *Client) DeleteOrder(ctx context.Context, req *DeleteOrderRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[DeleteOrderRequest, MutationResponse](ctx, c, MethodDeleteOrder, req, opts...)
}

func (c *Client) GetOrder(ctx context.Context, req *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	return invoke[GetOrderRequest, GetOrderResponse](ctx, c, MethodGetOrder, req, opts...)
}

func (c *Client) ListOrders(ctx context.Context, req *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return invoke[ListOrdersRequest, ListOrdersResponse](ctx, c, MethodListOrders, req, opts...)
}

func (c *Client) GetOrderTimeline(ctx context.Context, req *OrderTimelineRequest, opts ...grpc.CallOption) (*OrderTimelineResponse, error) {
	return invoke[OrderTimelineRequest, OrderTimelineResponse](ctx, c, MethodOrderTimeline, req, opts...)
}

func (c *Client) CreateProduct(ctx context.Context, req *CreateProductRequest, opts ...grpc.CallOption) (*ProductResponse, error) {
	return invoke[CreateProductRequest, ProductResponse](ctx, c, MethodCreateProduct, req, opts...)
}

func (c *Client) GetProduct(ctx context.Context, req *GetProductRequest, opts ...grpc.CallOption) (*ProductResponse, error) {
	return invoke[GetProductRequest, ProductResponse](ctx, c, MethodGetProduct, req, opts...)
}

func (c *Client) ListProducts(ctx context.Context, opts ...grpc.CallOption) (*ListProductsResponse, error) {
	return invoke[ListProductsRequest, ListProductsResponse](ctx, c, MethodListProducts, &ListProductsRequest{}, opts...)
}
