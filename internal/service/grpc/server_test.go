package grpcsvc_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const bufSize = 1024 * 1024

// topicGate отказывает в публикации в выбранные топики.
type topicGate struct {
	next domain.EventPublisher

	mu     sync.Mutex
	closed map[string]bool
}

func (g *topicGate) Publish(ctx context.Context, topic string, event domain.Event) error {
	g.mu.Lock()
	closed := g.closed[topic]
	g.mu.Unlock()
	if closed {
		return errors.New("queue unavailable")
	}
	return g.next.Publish(ctx, topic, event)
}

func (g *topicGate) close(topic string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed[topic] = true
}

type testEnv struct {
	client *grpcsvc.Client
	gate   *topicGate
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := loggerForTests()
	products := memory.NewProductRepository()
	gate := &topicGate{next: outbox.NewPublisher(memory.NewOutboxRepository()), closed: map[string]bool{}}
	m := metrics.NewReconciliationMetricsWithRegisterer(prometheus.NewRegistry())
	engine := reconcile.NewEngine(ledger.New(products, ledger.WithMetrics(m)), gate, reconcile.WithMetrics(m), reconcile.WithLogger(logger))

	service, err := orders.NewService(orders.Dependencies{
		Products:  products,
		Orders:    memory.NewOrderRepository(),
		Timeline:  memory.NewTimelineRepository(),
		Engine:    engine,
		Publisher: gate,
		Metrics:   m,
		Logger:    logger,
	})
	require.NoError(t, err)

	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), idempotency.WithLogger(logger))

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	grpcsvc.RegisterStorefrontServer(server, grpcsvc.NewServer(service, guard, logger))
	go func() {
		_ = server.Serve(listener)
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}
	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		server.Stop()
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})

	env := &testEnv{client: grpcsvc.NewClient(conn), gate: gate}
	env.seedProduct(t, "P", 10, "12.50")
	env.seedProduct(t, "Q", 5, "3")
	return env
}

func (e *testEnv) seedProduct(t *testing.T, id string, stock int, price string) {
	t.Helper()
	_, err := e.client.CreateProduct(context.Background(), &grpcsvc.CreateProductRequest{
		ID:    id,
		Name:  "Product " + id,
		Price: price,
		Stock: stock,
	})
	require.NoError(t, err)
}

func (e *testEnv) stock(t *testing.T, id string) int {
	t.Helper()
	resp, err := e.client.GetProduct(context.Background(), &grpcsvc.GetProductRequest{ProductID: id})
	require.NoError(t, err)
	return resp.Product.Stock
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: false, DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	return logger.WithField("component", "test")
}

func idemCtx(key string) context.Context {
	return grpcsvc.WithIdempotencyKey(context.Background(), key)
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok, "expected grpc status, got %v", err)
	require.Equal(t, want, st.Code(), st.Message())
}

func TestStorefront_OrderLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestServer(t)
	ctx := context.Background()

	created, err := env.client.CreateOrder(idemCtx("create-1"), &grpcsvc.CreateOrderRequest{
		CustomerID:   "c-1",
		CustomerName: "Ada Lovelace",
		ProductID:    "P",
		Quantity:     4,
	})
	require.NoError(t, err)
	require.Empty(t, created.ReconciliationWarning)
	require.Equal(t, string(domain.OrderStatusSubmitted), created.Order.Status)
	require.Equal(t, "50.00", created.Order.TotalPrice)
	require.Len(t, created.Deltas, 1)
	require.Equal(t, string(domain.ReasonOrderCreatedSubmitted), created.Deltas[0].Reason)
	require.Equal(t, 6, env.stock(t, "P"))

	edited, err := env.client.EditOrder(ctx, &grpcsvc.EditOrderRequest{
		OrderID:         created.Order.ID,
		ExpectedVersion: created.Order.Version,
		Quantity:        2,
	})
	require.NoError(t, err)
	require.Equal(t, "25.00", edited.Order.TotalPrice)
	require.Equal(t, 8, env.stock(t, "P"))

	cancelled, err := env.client.CancelOrder(ctx, &grpcsvc.CancelOrderRequest{OrderID: created.Order.ID})
	require.NoError(t, err)
	require.Equal(t, string(domain.OrderStatusCancelled), cancelled.Order.Status)
	require.Equal(t, 10, env.stock(t, "P"))

	paid, err := env.client.ConfirmPayment(idemCtx("pay-1"), &grpcsvc.ConfirmPaymentRequest{
		OrderID:      created.Order.ID,
		PaymentProof: "receipt-42",
	})
	require.NoError(t, err)
	require.Equal(t, string(domain.OrderStatusProcessing), paid.Order.Status)
	require.Equal(t, "receipt-42", paid.Order.PaymentProof)
	require.Equal(t, 8, env.stock(t, "P"))

	listed, err := env.client.ListOrders(ctx, &grpcsvc.ListOrdersRequest{CustomerID: "c-1"})
	require.NoError(t, err)
	require.Len(t, listed.Orders, 1)

	deleted, err := env.client.DeleteOrder(ctx, &grpcsvc.DeleteOrderRequest{OrderID: created.Order.ID})
	require.NoError(t, err)
	require.Len(t, deleted.Deltas, 1)
	require.Equal(t, 10, env.stock(t, "P"))

	_, err = env.client.GetOrder(ctx, &grpcsvc.GetOrderRequest{OrderID: created.Order.ID})
	requireCode(t, err, codes.NotFound)

	timeline, err := env.client.GetOrderTimeline(ctx, &grpcsvc.OrderTimelineRequest{OrderID: created.Order.ID})
	require.NoError(t, err)
	require.Equal(t, domain.TimelineOrderCreated, timeline.Events[0].Type)
	require.Equal(t, domain.TimelineOrderDeleted, timeline.Events[len(timeline.Events)-2].Type)
}

func TestStorefront_CheckoutCart(t *testing.T) {
	t.Parallel()

	env := newTestServer(t)

	resp, err := env.client.CheckoutCart(idemCtx("cart-1"), &grpcsvc.CheckoutCartRequest{
		CustomerID: "c-2",
		Items: []grpcsvc.CartItem{
			{ProductID: "P", Quantity: 3},
			{ProductID: "Q", Quantity: 5},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Orders, 2)
	require.Equal(t, string(domain.ReasonOrderCreatedFromCart), resp.Orders[0].Deltas[0].Reason)
	require.Equal(t, 7, env.stock(t, "P"))
	require.Equal(t, 0, env.stock(t, "Q"))

	_, err = env.client.CheckoutCart(idemCtx("cart-2"), &grpcsvc.CheckoutCartRequest{
		CustomerID: "c-2",
		Items:      []grpcsvc.CartItem{{ProductID: "Q", Quantity: 1}},
	})
	requireCode(t, err, codes.FailedPrecondition)
}

func TestStorefront_IdempotentReplay(t *testing.T) {
	t.Parallel()

	env := newTestServer(t)
	req := &grpcsvc.CreateOrderRequest{CustomerID: "c-1", ProductID: "Q", Quantity: 2}

	first, err := env.client.CreateOrder(idemCtx("same-key"), req)
	require.NoError(t, err)
	second, err := env.client.CreateOrder(idemCtx("same-key"), req)
	require.NoError(t, err)

	require.Equal(t, first.Order.ID, second.Order.ID)
	require.Equal(t, 3, env.stock(t, "Q"), "replay must not deduct twice")

	listed, err := env.client.ListOrders(context.Background(), &grpcsvc.ListOrdersRequest{CustomerID: "c-1"})
	require.NoError(t, err)
	require.Len(t, listed.Orders, 1)

	_, err = env.client.CreateOrder(idemCtx("same-key"), &grpcsvc.CreateOrderRequest{CustomerID: "c-1", ProductID: "Q", Quantity: 1})
	requireCode(t, err, codes.AlreadyExists)
}

func TestStorefront_FailureIsReplayed(t *testing.T) {
	t.Parallel()

	env := newTestServer(t)
	req := &grpcsvc.CreateOrderRequest{CustomerID: "c-1", ProductID: "missing", Quantity: 1}

	_, err := env.client.CreateOrder(idemCtx("bad-product"), req)
	requireCode(t, err, codes.NotFound)

	env.seedProduct(t, "missing", 3, "1")

	_, err = env.client.CreateOrder(idemCtx("bad-product"), req)
	requireCode(t, err, codes.NotFound)
	require.Equal(t, 3, env.stock(t, "missing"))
}

func TestStorefront_RequiresIdempotencyKey(t *testing.T) {
	t.Parallel()

	env := newTestServer(t)
	ctx := context.Background()

	_, err := env.client.CreateOrder(ctx, &grpcsvc.CreateOrderRequest{CustomerID: "c-1", ProductID: "P", Quantity: 1})
	requireCode(t, err, codes.InvalidArgument)

	_, err = env.client.CheckoutCart(ctx, &grpcsvc.CheckoutCartRequest{CustomerID: "c-1", Items: []grpcsvc.CartItem{{ProductID: "P", Quantity: 1}}})
	requireCode(t, err, codes.InvalidArgument)

	_, err = env.client.ConfirmPayment(ctx, &grpcsvc.ConfirmPaymentRequest{OrderID: "o-1", PaymentProof: "r"})
	requireCode(t, err, codes.InvalidArgument)
	require.Equal(t, 10, env.stock(t, "P"))
}

func TestStorefront_ErrorCodes(t *testing.T) {
	t.Parallel()

	env := newTestServer(t)
	ctx := context.Background()

	order, err := env.client.CreateOrder(idemCtx("seed"), &grpcsvc.CreateOrderRequest{CustomerID: "c-1", ProductID: "P", Quantity: 1})
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{
			name: "empty order id",
			call: func() error {
				_, err := env.client.GetOrder(ctx, &grpcsvc.GetOrderRequest{})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "unknown order",
			call: func() error {
				_, err := env.client.GetOrder(ctx, &grpcsvc.GetOrderRequest{OrderID: "nope"})
				return err
			},
			want: codes.NotFound,
		},
		{
			name: "unknown status",
			call: func() error {
				_, err := env.client.UpdateOrderStatus(ctx, &grpcsvc.UpdateStatusRequest{OrderID: order.Order.ID, Status: "Lost"})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "stale version",
			call: func() error {
				_, err := env.client.EditOrder(ctx, &grpcsvc.EditOrderRequest{OrderID: order.Order.ID, ExpectedVersion: order.Order.Version + 5, Quantity: 2})
				return err
			},
			want: codes.Aborted,
		},
		{
			name: "zero quantity edit",
			call: func() error {
				_, err := env.client.EditOrder(ctx, &grpcsvc.EditOrderRequest{OrderID: order.Order.ID})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "missing payment proof",
			call: func() error {
				_, err := env.client.ConfirmPayment(idemCtx("no-proof"), &grpcsvc.ConfirmPaymentRequest{OrderID: order.Order.ID})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "bad price",
			call: func() error {
				_, err := env.client.CreateProduct(ctx, &grpcsvc.CreateProductRequest{Name: "X", Price: "ten"})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "duplicate product",
			call: func() error {
				_, err := env.client.CreateProduct(ctx, &grpcsvc.CreateProductRequest{ID: "P", Name: "Again", Price: "1"})
				return err
			},
			want: codes.AlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireCode(t, tt.call(), tt.want)
		})
	}
}

func TestStorefront_PartialReconciliationIsWarning(t *testing.T) {
	t.Parallel()

	env := newTestServer(t)
	env.gate.close(domain.TopicOrderNotifications)

	resp, err := env.client.CreateOrder(idemCtx("partial"), &grpcsvc.CreateOrderRequest{CustomerID: "c-1", ProductID: "P", Quantity: 3})
	require.NoError(t, err)
	require.NotNil(t, resp.Order)
	require.Contains(t, resp.ReconciliationWarning, string(domain.StageOrderEvent))
	require.Equal(t, 7, env.stock(t, "P"))

	products, err := env.client.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products.Products, 2)
}
