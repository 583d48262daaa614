package projection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func stockPayload(t *testing.T, newStock int, sequence int64) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.NewStockUpdatedEvent(domain.StockDelta{
		ProductID:     "P",
		ProductName:   "Teapot",
		PreviousStock: newStock + 1,
		NewStock:      newStock,
		Reason:        domain.ReasonOrderCreatedSubmitted,
		Timestamp:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Sequence:      sequence,
	}))
	require.NoError(t, err)
	return payload
}

func orderPayload(t *testing.T, eventType string, status domain.OrderStatus, version int64) []byte {
	t.Helper()
	order := domain.Order{
		ID:          "O",
		CustomerID:  "c-1",
		ProductID:   "P",
		ProductName: "Teapot",
		Quantity:    2,
		UnitPrice:   decimal.NewFromInt(5),
		Status:      status,
		Version:     version,
	}
	order.RecalculateTotal()
	payload, err := json.Marshal(domain.NewOrderNotification(eventType, order, nil))
	require.NoError(t, err)
	return payload
}

func counterValue(t *testing.T, reg *prometheus.Registry, eventType, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "storefront_projection_events_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, eventType, result) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, eventType, result string) bool {
	labels := map[string]string{}
	for _, pair := range metric.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	return labels["event_type"] == eventType && labels["result"] == result
}

func TestProcessor_StockRedeliveryAndReordering(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	model := memory.NewReadModel()
	processor := NewProcessor(model, WithMetrics(metrics.NewProjectionMetricsWithRegisterer(reg)))
	ctx := context.Background()

	require.NoError(t, processor.Handle(ctx, stockPayload(t, 6, 2)))
	require.NoError(t, processor.Handle(ctx, stockPayload(t, 8, 3)))
	// повтор и устаревшее событие
	require.NoError(t, processor.Handle(ctx, stockPayload(t, 8, 3)))
	require.NoError(t, processor.Handle(ctx, stockPayload(t, 6, 2)))

	view, err := model.ProductStock(ctx, "P")
	require.NoError(t, err)
	require.Equal(t, 8, view.Stock)
	require.Equal(t, int64(3), view.Sequence)
	require.Equal(t, string(domain.ReasonOrderCreatedSubmitted), view.UpdatedBy)

	require.Equal(t, float64(2), counterValue(t, reg, domain.EventTypeStockUpdated, metrics.ProjectionApplied))
	require.Equal(t, float64(2), counterValue(t, reg, domain.EventTypeStockUpdated, metrics.ProjectionDuplicate))
}

func TestProcessor_OrderTombstoneWins(t *testing.T) {
	t.Parallel()

	model := memory.NewReadModel()
	processor := NewProcessor(model)
	ctx := context.Background()

	require.NoError(t, processor.Handle(ctx, orderPayload(t, domain.EventTypeOrderCreated, domain.OrderStatusSubmitted, 1)))
	require.NoError(t, processor.Handle(ctx, orderPayload(t, domain.EventTypeOrderDeleted, domain.OrderStatusSubmitted, 3)))
	// опоздавшее обновление не воскрешает заказ
	require.NoError(t, processor.Handle(ctx, orderPayload(t, domain.EventTypeOrderStatusUpdated, domain.OrderStatusShipped, 2)))

	_, err := model.Order(ctx, "O")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	orders, err := model.CustomerOrders(ctx, "c-1")
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestProcessor_OrderHistory(t *testing.T) {
	t.Parallel()

	model := memory.NewReadModel()
	processor := NewProcessor(model)
	ctx := context.Background()

	require.NoError(t, processor.HandleMessage(ctx, &sarama.ConsumerMessage{
		Topic: domain.TopicOrderNotifications,
		Value: orderPayload(t, domain.EventTypeOrderCreated, domain.OrderStatusSubmitted, 1),
	}))
	require.NoError(t, processor.Handle(ctx, orderPayload(t, domain.EventTypeOrderStatusUpdated, domain.OrderStatusShipped, 2)))

	view, err := model.Order(ctx, "O")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusShipped, view.Status)
	require.True(t, view.TotalAmount.Equal(decimal.NewFromInt(10)))
}

func TestProcessor_InvalidEvents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "broken json", payload: []byte(`{"type":`)},
		{name: "unknown type", payload: []byte(`{"type":"ProductRenamed"}`)},
		{name: "stock without sequence", payload: []byte(`{"type":"StockUpdated","productId":"P","newStock":3}`)},
		{name: "order without id", payload: []byte(`{"type":"OrderCreated","sequence":1}`)},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			processor := NewProcessor(memory.NewReadModel())
			err := processor.Handle(context.Background(), tc.payload)
			require.True(t, errors.Is(err, ErrInvalidEvent), "unexpected error %v", err)
		})
	}
}

type failingModel struct {
	domain.ReadModel
}

func (failingModel) ApplyStock(context.Context, domain.ProductStockView) (bool, error) {
	return false, errors.New("redis unavailable")
}

func TestProcessor_StoreErrorIsRetryable(t *testing.T) {
	t.Parallel()

	processor := NewProcessor(failingModel{})
	err := processor.Handle(context.Background(), stockPayload(t, 1, 1))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrInvalidEvent))
}
