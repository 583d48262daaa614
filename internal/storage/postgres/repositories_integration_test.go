package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestProductRepository_PostgresStockCompareAndSet(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewProductRepository(store)
	ctx := context.Background()

	created := seedProduct(t, repo, "P", 10)
	require.Equal(t, int64(1), created.Version)
	require.Equal(t, "9.99", created.Price.StringFixed(2))

	_, err := repo.Create(ctx, created)
	require.ErrorIs(t, err, domain.ErrProductAlreadyExists)

	updated, err := repo.UpdateStock(ctx, "P", 1, 7)
	require.NoError(t, err)
	require.Equal(t, 7, updated.StockAvailable)
	require.Equal(t, int64(2), updated.Version)

	_, err = repo.UpdateStock(ctx, "P", 1, 3)
	require.ErrorIs(t, err, domain.ErrProductVersionConflict)

	_, err = repo.UpdateStock(ctx, "missing", 1, 3)
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = repo.UpdateStock(ctx, "P", 2, -1)
	require.ErrorIs(t, err, domain.ErrStockNegative)

	seedProduct(t, repo, "A", 1)
	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "A", list[0].ID)
}

func TestOrderRepository_PostgresLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	first := sampleOrder("order-1", "customer-1", now.Add(-2*time.Minute))
	second := sampleOrder("order-2", "customer-1", now.Add(-time.Minute))
	other := sampleOrder("order-3", "customer-2", now)

	for _, order := range []domain.Order{first, second, other} {
		require.NoError(t, repo.Create(ctx, order))
	}
	require.ErrorIs(t, repo.Create(ctx, first), domain.ErrOrderVersionConflict)

	got, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, first.CustomerID, got.CustomerID)
	require.True(t, first.TotalPrice.Equal(got.TotalPrice))

	listed, err := repo.ListByCustomer(ctx, "customer-1", 1)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, second.ID, listed[0].ID)

	all, err := repo.ListByCustomer(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	got.Status = domain.OrderStatusShipped
	got.UpdatedAt = now.Add(time.Minute)
	saved, err := repo.Save(ctx, got)
	require.NoError(t, err)
	require.Equal(t, got.Version+1, saved.Version)
	require.Equal(t, domain.OrderStatusShipped, saved.Status)

	_, err = repo.Save(ctx, got)
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)

	missing := got
	missing.ID = "missing"
	_, err = repo.Save(ctx, missing)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	require.ErrorIs(t, repo.Delete(ctx, first.ID, 1), domain.ErrOrderVersionConflict)
	require.NoError(t, repo.Delete(ctx, first.ID, saved.Version))
	_, err = repo.Get(ctx, first.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.ErrorIs(t, repo.Delete(ctx, first.ID, saved.Version), domain.ErrOrderNotFound)
}

func TestOutboxRepository_PostgresQueueOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	// created_at намеренно убывает: порядок задаёт seq
	base := time.Now().UTC()
	ids := make([]string, 0, 3)
	for i, productID := range []string{"p-1", "p-2", "p-1"} {
		msg, err := repo.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: string(domain.PartitionProduct),
			AggregateID:   productID,
			EventType:     domain.EventTypeStockUpdated,
			Topic:         domain.TopicStockUpdates,
			Key:           productID,
			Payload:       []byte(`{"type":"StockUpdated"}`),
			CreatedAt:     base.Add(-time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, msg := range pending {
		require.Equal(t, ids[i], msg.ID)
		require.Equal(t, domain.TopicStockUpdates, msg.Topic)
	}
	require.Equal(t, "p-2", pending[1].Key)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repo.MarkSent(ctx, ids[0]))
	require.NoError(t, repo.MarkFailed(ctx, ids[1]))
	require.ErrorIs(t, repo.MarkSent(ctx, "missing"), domain.ErrOutboxPublish)

	pending, err = repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, ids[2], pending[0].ID)
}

func TestTimelineRepository_PostgresAppendAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewTimelineRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o-1", Type: domain.TimelineOrderDeleted, Occurred: now.Add(time.Second)}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o-1", Type: domain.TimelineOrderCreated, Reason: "Submitted", Occurred: now}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o-2", Type: domain.TimelineOrderCreated}))

	events, err := repo.List(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.TimelineOrderCreated, events[0].Type)
	require.Equal(t, "Submitted", events[0].Reason)
	require.Equal(t, domain.TimelineOrderDeleted, events[1].Type)

	empty, err := repo.List(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestIdempotencyRepository_PostgresLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	ttl := time.Now().UTC().Add(time.Hour)
	record, err := repo.CreateProcessing(ctx, "key-1", "hash-1", ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, record.Status)

	_, err = repo.CreateProcessing(ctx, "key-1", "hash-1", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	_, err = repo.CreateProcessing(ctx, "key-1", "hash-2", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	require.NoError(t, repo.MarkDone(ctx, "key-1", []byte(`{"ok":true}`), 0))
	done, err := repo.Get(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, done.Status)
	require.JSONEq(t, `{"ok":true}`, string(done.ResponseBody))

	require.ErrorIs(t, repo.MarkFailed(ctx, "missing", nil, 13), domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	_, err = repo.CreateProcessing(ctx, " ", "hash", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.CreateProcessing(ctx, "key-2", "", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
}

func TestIdempotencyRepository_PostgresExpiry(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	for _, key := range []string{"old-1", "old-2", "old-3"} {
		_, err := repo.CreateProcessing(ctx, key, "hash", past)
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "fresh", "hash", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	// просроченный ключ можно занять заново, даже с другим запросом
	reclaimed, err := repo.CreateProcessing(ctx, "old-3", "other-hash", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "other-hash", reclaimed.RequestHash)

	deleted, err := repo.DeleteExpired(ctx, time.Now().UTC(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	deleted, err = repo.DeleteExpired(ctx, time.Now().UTC(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = repo.Get(ctx, "fresh")
	require.NoError(t, err)
	_, err = repo.Get(ctx, "old-1")
	require.True(t, errors.Is(err, domain.ErrIdempotencyKeyNotFound))
}
