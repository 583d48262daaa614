package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	topics []string
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) stockEvents() []domain.StockUpdatedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.StockUpdatedEvent, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.(domain.StockUpdatedEvent))
	}
	return out
}

// scriptedAdjuster возвращает заранее заданные ошибки, затем делегирует журналу.
type scriptedAdjuster struct {
	next  StockAdjuster
	errs  []error
	calls int
}

func (a *scriptedAdjuster) Adjust(ctx context.Context, productID string, delta int) (ledger.Adjustment, error) {
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return ledger.Adjustment{}, err
		}
	}
	return a.next.Adjust(ctx, productID, delta)
}

func newFixture(t *testing.T, stocks map[string]int) (domain.ProductRepository, *ledger.Ledger) {
	t.Helper()
	repo := memory.NewProductRepository()
	for id, stock := range stocks {
		_, err := repo.Create(context.Background(), domain.Product{ID: id, Name: "Product " + id, Price: decimal.NewFromInt(1), StockAvailable: stock})
		require.NoError(t, err)
	}
	return repo, ledger.New(repo)
}

func stockOf(t *testing.T, repo domain.ProductRepository, id string) int {
	t.Helper()
	p, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	return p.StockAvailable
}

func TestEngineOrderLifecycleScenario(t *testing.T) {
	repo, l := newFixture(t, map[string]int{"P": 10})
	pub := &recordingPublisher{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	engine := NewEngine(l, pub,
		WithMetrics(metrics.NewReconciliationMetricsWithRegisterer(prometheus.NewRegistry())),
		WithClock(func() time.Time { return fixed }),
	)
	ctx := context.Background()

	created := snap("P", 4, domain.OrderStatusSubmitted)
	_, err := engine.Reconcile(ctx, Mutation{OrderID: "O", After: created, Cause: CauseAdminCreate})
	require.NoError(t, err)
	require.Equal(t, 6, stockOf(t, repo, "P"))

	edited := snap("P", 2, domain.OrderStatusSubmitted)
	_, err = engine.Reconcile(ctx, Mutation{OrderID: "O", Before: created, After: edited, Cause: CauseEdit})
	require.NoError(t, err)
	require.Equal(t, 8, stockOf(t, repo, "P"))

	cancelled := snap("P", 2, domain.OrderStatusCancelled)
	deltas, err := engine.Reconcile(ctx, Mutation{OrderID: "O", Before: edited, After: cancelled, Cause: CauseCancel})
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	require.Equal(t, 10, stockOf(t, repo, "P"))

	deltas, err = engine.Reconcile(ctx, Mutation{OrderID: "O", Before: cancelled, Cause: CauseDelete})
	require.NoError(t, err)
	require.Empty(t, deltas)
	require.Equal(t, 10, stockOf(t, repo, "P"))

	events := pub.stockEvents()
	require.Len(t, events, 3)
	expected := []struct {
		prev, next int
		reason     domain.StockReason
	}{
		{10, 6, domain.ReasonOrderCreatedSubmitted},
		{6, 8, domain.ReasonQuantityChange},
		{8, 10, domain.ReasonOrderCancelled},
	}
	for i, want := range expected {
		require.Equal(t, domain.EventTypeStockUpdated, events[i].Type)
		require.Equal(t, want.prev, events[i].PreviousStock)
		require.Equal(t, want.next, events[i].NewStock)
		require.Equal(t, string(want.reason), events[i].UpdatedBy)
		require.Equal(t, "Product P", events[i].ProductName)
		require.Equal(t, fixed, events[i].UpdatedAtUTC)
		require.Equal(t, int64(i+2), events[i].Sequence)
	}
	for _, topic := range pub.topics {
		require.Equal(t, domain.TopicStockUpdates, topic)
	}
}

func TestEngineProductSwapPublishesTwoEvents(t *testing.T) {
	repo, l := newFixture(t, map[string]int{"A": 5, "B": 5})
	pub := &recordingPublisher{}
	engine := NewEngine(l, pub)

	deltas, err := engine.Reconcile(context.Background(), Mutation{
		OrderID: "O",
		Before:  snap("A", 2, domain.OrderStatusShipped),
		After:   snap("B", 3, domain.OrderStatusShipped),
		Cause:   CauseEdit,
	})
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	require.Equal(t, 7, stockOf(t, repo, "A"))
	require.Equal(t, 2, stockOf(t, repo, "B"))
	require.Equal(t, domain.ReasonProductChangeRestore, deltas[0].Reason)
	require.Equal(t, domain.ReasonProductChangeDeduct, deltas[1].Reason)
	require.Len(t, pub.stockEvents(), 2)
}

func TestEngineRetriesRemainingPlanOnce(t *testing.T) {
	repo, l := newFixture(t, map[string]int{"A": 5, "B": 5})
	adjuster := &scriptedAdjuster{next: l, errs: []error{nil, domain.ErrConcurrencyConflict}}
	pub := &recordingPublisher{}
	engine := NewEngine(adjuster, pub)

	deltas, err := engine.Reconcile(context.Background(), Mutation{
		OrderID: "O",
		Before:  snap("A", 2, domain.OrderStatusSubmitted),
		After:   snap("B", 3, domain.OrderStatusSubmitted),
		Cause:   CauseEdit,
	})
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	require.Equal(t, 3, adjuster.calls)
	require.Equal(t, 7, stockOf(t, repo, "A"))
	require.Equal(t, 2, stockOf(t, repo, "B"))
}

func TestEngineFailsAfterSecondConflict(t *testing.T) {
	repo, l := newFixture(t, map[string]int{"A": 5, "B": 5})
	adjuster := &scriptedAdjuster{next: l, errs: []error{nil, domain.ErrConcurrencyConflict, domain.ErrConcurrencyConflict}}
	engine := NewEngine(adjuster, &recordingPublisher{})

	deltas, err := engine.Reconcile(context.Background(), Mutation{
		OrderID: "O",
		Before:  snap("A", 2, domain.OrderStatusSubmitted),
		After:   snap("B", 3, domain.OrderStatusSubmitted),
		Cause:   CauseEdit,
	})
	require.ErrorIs(t, err, domain.ErrReconciliationFailed)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	require.Len(t, deltas, 1, "restore of the old product was applied before the failure")
	require.Equal(t, 7, stockOf(t, repo, "A"))
	require.Equal(t, 5, stockOf(t, repo, "B"))
}

func TestEngineNonConflictErrorIsNotRetried(t *testing.T) {
	_, l := newFixture(t, map[string]int{})
	adjuster := &scriptedAdjuster{next: l}
	engine := NewEngine(adjuster, &recordingPublisher{})

	_, err := engine.Reconcile(context.Background(), Mutation{OrderID: "O", After: snap("missing", 1, domain.OrderStatusSubmitted), Cause: CauseCart})
	require.ErrorIs(t, err, domain.ErrReconciliationFailed)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	require.Equal(t, 1, adjuster.calls)
}

func TestEnginePublishFailureKeepsApplying(t *testing.T) {
	repo, l := newFixture(t, map[string]int{"A": 5, "B": 5})
	broker := errors.New("outbox unavailable")
	engine := NewEngine(l, &recordingPublisher{err: broker})

	deltas, err := engine.Reconcile(context.Background(), Mutation{
		OrderID: "O",
		Before:  snap("A", 1, domain.OrderStatusSubmitted),
		After:   snap("B", 1, domain.OrderStatusSubmitted),
		Cause:   CauseEdit,
	})
	require.ErrorIs(t, err, domain.ErrPublishFailure)
	require.ErrorIs(t, err, broker)
	require.NotErrorIs(t, err, domain.ErrReconciliationFailed)
	require.Len(t, deltas, 2)
	require.Equal(t, 6, stockOf(t, repo, "A"))
	require.Equal(t, 4, stockOf(t, repo, "B"))
}

func TestEngineClampsOversell(t *testing.T) {
	repo, l := newFixture(t, map[string]int{"P": 2})
	engine := NewEngine(l, &recordingPublisher{})

	deltas, err := engine.Reconcile(context.Background(), Mutation{OrderID: "O", After: snap("P", 5, domain.OrderStatusSubmitted), Cause: CauseAdminCreate})
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	require.Equal(t, 0, deltas[0].NewStock)
	require.Equal(t, 0, stockOf(t, repo, "P"))
}
