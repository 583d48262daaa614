package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestPublisher_EnqueuesRawEventJSON(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	publisher := NewPublisher(repo)
	updatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	event := domain.NewStockUpdatedEvent(domain.StockDelta{
		ProductID:     "p-1",
		ProductName:   "Teapot",
		PreviousStock: 10,
		NewStock:      6,
		Reason:        domain.ReasonOrderCreatedSubmitted,
		Timestamp:     updatedAt,
		Sequence:      2,
	})
	require.NoError(t, publisher.Publish(context.Background(), domain.TopicStockUpdates, event))

	pending := repo.AllPending()
	require.Len(t, pending, 1)
	msg := pending[0]
	require.Equal(t, domain.TopicStockUpdates, msg.Topic)
	require.Equal(t, "p-1", msg.Key)
	require.Equal(t, "Product", msg.AggregateType)
	require.Equal(t, domain.EventTypeStockUpdated, msg.EventType)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	require.Equal(t, "StockUpdated", decoded["type"])
	require.Equal(t, "p-1", decoded["productId"])
	require.Equal(t, "Teapot", decoded["productName"])
	require.EqualValues(t, 10, decoded["previousStock"])
	require.EqualValues(t, 6, decoded["newStock"])
	require.Equal(t, "2026-03-01T12:00:00Z", decoded["updatedAtUtc"])
	require.Equal(t, "order-created-Submitted", decoded["updatedBy"])
	require.EqualValues(t, 2, decoded["sequence"])
}

func TestPublisher_DefaultsTopicFromEventType(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	order := domain.Order{ID: "o-1", CustomerID: "c-1", Status: domain.OrderStatusSubmitted, Version: 1}
	require.NoError(t, NewPublisher(repo).Publish(context.Background(), "", domain.NewOrderNotification(domain.EventTypeOrderCreated, order, nil)))

	pending := repo.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.TopicOrderNotifications, pending[0].Topic)
	require.Equal(t, "o-1", pending[0].Key)
	require.NotContains(t, string(pending[0].Payload), "previousStatus")
}

func TestPublisherAndWorker_DeliverInOrder(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	publisher := NewPublisher(repo)
	for seq := int64(2); seq <= 6; seq++ {
		event := domain.NewStockUpdatedEvent(domain.StockDelta{ProductID: "p-1", Sequence: seq, Reason: domain.ReasonQuantityChange})
		require.NoError(t, publisher.Publish(context.Background(), domain.TopicStockUpdates, event))
	}

	broker := &stubPublisher{}
	NewWorker(repo, broker, WithRetryBaseDelay(0), WithBatchSize(2)).ProcessOnce(context.Background())
	NewWorker(repo, broker, WithRetryBaseDelay(0), WithBatchSize(10)).ProcessOnce(context.Background())

	require.Len(t, broker.published, 5)
	for i, msg := range broker.published {
		var event domain.StockUpdatedEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		require.Equal(t, int64(i+2), event.Sequence)
	}
	require.Empty(t, repo.AllPending())
}
